package shellcache

import (
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shellcache/shellcache/cache"
	cachekey "github.com/shellcache/shellcache/pkg/cache-key"
	cacheupdate "github.com/shellcache/shellcache/pkg/cache-update"
	tracker "github.com/shellcache/shellcache/pkg/task-tracker"
	"github.com/shellcache/shellcache/rfc9211"

	"github.com/rs/zerolog"
)

const (
	defaultMaxAge    = 7 * 24 * time.Hour
	defaultAPIMarker = "/api/"
	defaultShellPath = "/"
	defaultSyncTag   = "content-sync"
)

type Config struct {
	// Storage for cache entries.
	Cache cache.Provider
	// URL of the origin serving the site.
	OriginURL url.URL
	// Version tag embedded in namespace names. Bumping it is the only
	// supported upgrade mechanism.
	Version string
	// Absolute paths pre-warmed into the static namespace at install time.
	// Install fails as a whole if any of them cannot be fetched.
	StaticAssets []string
	// Pages re-fetched by the periodic refresh.
	Pages []string
	// Path of the site shell served as document fallback. Defaults to "/".
	ShellPath string
	// Path segment marking API requests. Defaults to "/api/".
	APIMarker string
	// Age threshold after which cached entries are revalidated and swept.
	// Defaults to seven days.
	MaxAge time.Duration
	// Interval of the periodic content refresh. Zero disables it.
	RefreshInterval time.Duration
	// Interval of the dynamic-namespace staleness sweep. Zero disables it.
	SweepInterval time.Duration
	// Tag recognized by the sync-queue replay trigger.
	SyncTag string
	// Notification sink. A logging notifier is used if nil.
	Notifier Notifier
	// Open-page registry for notification click routing.
	Clients PageClients
	// External collaborator performing queued-sync replay.
	Replayer Replayer
	// Called when this version claims control of open pages.
	OnClaim func()
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

// Worker intercepts every request for the site and decides, per request
// class, whether to serve from the cache, refresh in the background, or
// fall back to a canned offline response. It also runs the install and
// activate lifecycle and the background task processor.
type Worker struct {
	cache      cache.Provider
	guard      cache.QuotaGuard
	keyer      cachekey.Keyer
	log        zerolog.Logger
	httpClient http.Client
	tracker    *tracker.Tracker
	notifier   Notifier
	clients    PageClients
	replayer   Replayer
	onClaim    func()

	originURL       url.URL
	version         string
	staticAssets    []string
	pages           []string
	shellPath       string
	apiMarker       string
	maxAge          time.Duration
	refreshInterval time.Duration
	sweepInterval   time.Duration
	syncTag         string

	stateMu     sync.Mutex
	state       State
	skipWaiting bool
}

// New initializes the worker. It does not start any background processes;
// call Install, Activate and Start to bring the worker into service.
func New(config Config) *Worker {
	if config.Version == "" {
		config.Version = "v1"
	}

	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}
	logger = logger.With().
		Str("version", config.Version).
		Logger()

	if config.ShellPath == "" {
		config.ShellPath = defaultShellPath
	}
	if config.APIMarker == "" {
		config.APIMarker = defaultAPIMarker
	}
	if config.MaxAge == 0 {
		config.MaxAge = defaultMaxAge
	}
	if config.SyncTag == "" {
		config.SyncTag = defaultSyncTag
	}
	if config.Notifier == nil {
		config.Notifier = LogNotifier{Log: logger}
	}
	if config.Clients == nil {
		config.Clients = noopClients{}
	}

	w := &Worker{
		cache:           config.Cache,
		guard:           cache.NewQuotaGuard(config.Cache, logger),
		keyer:           cachekey.NewKeyer(),
		log:             logger,
		tracker:         tracker.New(),
		notifier:        config.Notifier,
		clients:         config.Clients,
		replayer:        config.Replayer,
		onClaim:         config.OnClaim,
		originURL:       config.OriginURL,
		version:         config.Version,
		staticAssets:    config.StaticAssets,
		pages:           config.Pages,
		shellPath:       config.ShellPath,
		apiMarker:       config.APIMarker,
		maxAge:          config.MaxAge,
		refreshInterval: config.RefreshInterval,
		sweepInterval:   config.SweepInterval,
		syncTag:         config.SyncTag,
		state:           StateNew,
		httpClient: http.Client{
			// do not follow redirects
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	return w
}

// staticNS, dynamicNS and siteNS are the three current namespaces.
// Everything else is garbage after activation completes.
func (w *Worker) staticNS() string  { return "static-" + w.version }
func (w *Worker) dynamicNS() string { return "dynamic-" + w.version }
func (w *Worker) siteNS() string    { return "site-" + w.version }

func (w *Worker) currentNamespaces() []string {
	return []string{w.staticNS(), w.dynamicNS(), w.siteNS()}
}

// ServeHTTP implements the http.Handler interface.
// Each request is classified and dispatched to a retrieval strategy.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	switch w.Classify(r) {
	case ClassBypass:
		w.passThrough(rw, r)
	case ClassAsset:
		w.cacheFirst(rw, r)
	default:
		w.networkFirst(rw, r)
	}
}

// Wait blocks until all registered background tasks have settled.
// It is the worker's external readiness signal.
func (w *Worker) Wait() {
	w.tracker.Wait()
}

// passThrough forwards the request to the origin untouched.
// Requests outside the engine's scope never touch the cache.
func (w *Worker) passThrough(rw http.ResponseWriter, r *http.Request) {
	res, err := w.fetch(r)
	if err != nil {
		w.log.Error().Err(err).Str("url", r.URL.String()).Msg("Could not connect to origin")
		http.Error(rw, "Could not connect to origin", http.StatusBadGateway)
		return
	}
	defer res.Body.Close()
	w.scheduleUpdates(r, res)
	status := rfc9211.NewCacheStatus(cacheStatusName)
	status.Forward(rfc9211.FwdBypass)
	copyHeader(rw.Header(), res.Header)
	rw.Header().Set("Cache-Status", status.String())
	rw.WriteHeader(res.StatusCode)
	if _, err := io.Copy(rw, res.Body); err != nil {
		w.log.Error().Err(err).Msg("Error writing to client")
	}
}

// scheduleUpdates refreshes cached pages the origin marked as changed by
// a write. The Cache-Update response header lists the affected paths,
// optionally with a per-path delay.
func (w *Worker) scheduleUpdates(r *http.Request, res *http.Response) {
	for _, update := range cacheupdate.GetCacheUpdates(r, res) {
		key, err := w.keyer.KeyForPath(http.MethodGet, update.Path)
		if err != nil {
			w.log.Error().Err(err).Str("path", update.Path).Msg("Could not derive key for update")
			continue
		}
		w.log.Debug().Str("key", key).Dur("delay", update.Delay).Msg("Origin requested content update")
		path, delay := update.Path, update.Delay
		w.tracker.Go(func() {
			if delay > 0 {
				time.Sleep(delay)
			}
			w.refreshEntry(w.dynamicNS(), key, path)
		})
	}
}

// fetch requests the resource specified in the incoming request from the origin.
func (w *Worker) fetch(r *http.Request) (*http.Response, error) {
	uri := w.originURL.String() + r.URL.RequestURI()
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequest(r.Method, uri, body)
	if err != nil {
		return nil, err
	}
	copyHeader(req.Header, r.Header)
	// do not forward connection header, this causes trouble
	req.Header.Del("Connection")
	return w.httpClient.Do(req)
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
