package shellcache

import (
	"fmt"
	"net/http"
	"time"

	"github.com/shellcache/shellcache/cache"
	serializer "github.com/shellcache/shellcache/pkg/response-serializer"
)

// State of the worker lifecycle.
type State string

const (
	StateNew        State = "new"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	// StateRedundant means this version failed to install or has been
	// superseded; it never serves requests.
	StateRedundant State = "redundant"
)

// versionMarkerKey is the single entry kept in the umbrella namespace.
const versionMarkerKey = "version"

func (w *Worker) State() State {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.stateMu.Lock()
	w.state = s
	w.stateMu.Unlock()
	w.log.Info().Str("state", string(s)).Msg("Lifecycle transition")
}

// Install pre-warms the static namespace with every asset of the static
// asset list as a single all-or-nothing batch. Any single fetch failure
// aborts the whole install and leaves prior caches untouched. Install
// also signals the intent to skip the waiting period.
//
// A failed install is fatal for this version: the state goes redundant
// and the old version's namespaces stay in place.
func (w *Worker) Install() error {
	w.setState(StateInstalling)

	// fetch everything before writing anything, so a failure cannot
	// leave a half-populated shell
	entries := make([]cache.Entry, 0, len(w.staticAssets))
	for _, path := range w.staticAssets {
		entry, err := w.fetchAsset(path)
		if err != nil {
			w.setState(StateRedundant)
			return fmt.Errorf("install: %s: %w", path, err)
		}
		entries = append(entries, entry)
	}

	for _, entry := range entries {
		if err := w.cache.Put(w.staticNS(), entry); err != nil {
			w.setState(StateRedundant)
			return fmt.Errorf("install: write %s: %w", entry.Key, err)
		}
	}
	marker := cache.Entry{
		Key:       versionMarkerKey,
		FetchedAt: time.Now(),
		Bytes:     []byte(w.version),
	}
	if err := w.cache.Put(w.siteNS(), marker); err != nil {
		w.setState(StateRedundant)
		return fmt.Errorf("install: version marker: %w", err)
	}

	w.SkipWaiting()
	w.setState(StateInstalled)
	w.log.Info().Int("assets", len(entries)).Msg("Static shell installed")
	return nil
}

func (w *Worker) fetchAsset(path string) (cache.Entry, error) {
	req, err := http.NewRequest(http.MethodGet, path, nil)
	if err != nil {
		return cache.Entry{}, err
	}
	res, err := w.fetch(req)
	if err != nil {
		return cache.Entry{}, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return cache.Entry{}, fmt.Errorf("unexpected status %d", res.StatusCode)
	}
	fetchedAt := time.Now()
	bts, err := serializer.Encode(res, fetchedAt)
	if err != nil {
		return cache.Entry{}, err
	}
	key, err := w.keyer.KeyForPath(http.MethodGet, path)
	if err != nil {
		return cache.Entry{}, err
	}
	return cache.Entry{Key: key, FetchedAt: fetchedAt, Bytes: bts}, nil
}

// Activate deletes every namespace from superseded versions and claims
// control of open pages. Both sub-steps complete before activation is
// reported done. An individual deletion failure is logged and does not
// block claiming control.
func (w *Worker) Activate() error {
	w.setState(StateActivating)

	current := make(map[string]bool, 3)
	for _, ns := range w.currentNamespaces() {
		current[ns] = true
	}
	namespaces, err := w.cache.Namespaces()
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	for _, ns := range namespaces {
		if current[ns] {
			continue
		}
		if err := w.cache.DropNamespace(ns); err != nil {
			w.log.Warn().Err(err).Str("ns", ns).Msg("Could not delete superseded namespace")
			continue
		}
		w.log.Info().Str("ns", ns).Msg("Deleted superseded namespace")
	}

	if w.onClaim != nil {
		w.onClaim()
	}
	w.log.Info().Msg("Claimed open pages")

	w.setState(StateActivated)
	return nil
}

// SkipWaiting requests that the waiting lifecycle state be skipped so the
// new version activates without all open pages closing first.
func (w *Worker) SkipWaiting() {
	w.stateMu.Lock()
	w.skipWaiting = true
	w.stateMu.Unlock()
	w.log.Debug().Msg("Skip waiting requested")
}
