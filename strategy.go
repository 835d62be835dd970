package shellcache

import (
	"io"
	"net/http"
	"time"

	"github.com/shellcache/shellcache/cache"
	serializer "github.com/shellcache/shellcache/pkg/response-serializer"
	"github.com/shellcache/shellcache/rfc9211"
)

// cacheStatusName identifies this cache in Cache-Status headers.
const cacheStatusName = "shellcache"

const offlineHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Offline</title>
<style>
body { font-family: sans-serif; text-align: center; padding: 3em 1em; }
button { font-size: 1em; padding: 0.5em 1.5em; }
</style>
</head>
<body>
<h1>You are offline</h1>
<p>This page is not available without a network connection.</p>
<button onclick="location.reload()">Retry</button>
</body>
</html>
`

// cacheFirst serves assets: a fresh stored response is returned without
// touching the network, a stale one is returned immediately while a
// background refresh overwrites it, and a miss goes to the network.
func (w *Worker) cacheFirst(rw http.ResponseWriter, r *http.Request) {
	key := w.keyer.Key(r)
	log := w.log.With().Str("key", key).Logger()

	status := rfc9211.NewCacheStatus(cacheStatusName)

	if entry, ns, found := w.lookup(key); found {
		res, err := w.decode(entry)
		if err == nil {
			status.Hit()
			age := time.Since(entry.FetchedAt)
			if age <= w.maxAge {
				log.Debug().Dur("age", age).Msg("Serving fresh entry")
				w.send(rw, res, status)
				return
			}
			// stale-while-revalidate: respond now, refresh concurrently
			log.Debug().Dur("age", age).Msg("Serving stale entry, revalidating")
			w.revalidate(ns, key, r.URL.RequestURI())
			status.Detail("stale")
			w.send(rw, res, status)
			return
		}
		log.Warn().Err(err).Msg("Could not decode stored entry")
	}

	status.Forward(rfc9211.FwdUriMiss)
	res, err := w.fetch(r)
	if err != nil {
		log.Warn().Err(err).Msg("Network miss for asset")
		w.sendSynthetic(rw, http.StatusBadGateway, "fetch failed")
		return
	}
	if stored, err := w.store(w.dynamicNS(), key, res); err != nil {
		log.Error().Err(err).Msg("Could not write to cache")
	} else if stored {
		log.Trace().Msg("Cache write")
	}
	w.send(rw, res, status)
}

// networkFirst serves documents and API calls: the live response wins,
// the dynamic namespace is the fallback, the shell and a synthesized
// offline response are the last resorts.
func (w *Worker) networkFirst(rw http.ResponseWriter, r *http.Request) {
	key := w.keyer.Key(r)
	log := w.log.With().Str("key", key).Logger()

	status := rfc9211.NewCacheStatus(cacheStatusName)

	res, err := w.fetch(r)
	if err == nil {
		// the write is awaited so an immediately following offline
		// request for the same URL finds the entry
		if stored, err := w.store(w.dynamicNS(), key, res); err != nil {
			log.Error().Err(err).Msg("Could not write to cache")
		} else if stored {
			log.Trace().Msg("Cache write")
		}
		status.Forward(rfc9211.FwdMiss)
		w.send(rw, res, status)
		return
	}
	log.Debug().Err(err).Msg("Network unreachable, falling back to cache")

	if entry, ok, err := w.cache.Get(w.dynamicNS(), key); err == nil && ok {
		if res, err := w.decode(entry); err == nil {
			status.Hit()
			status.Detail("offline")
			w.send(rw, res, status)
			return
		}
	}

	isDocument := w.Classify(r) == ClassDocument
	if isDocument {
		if shellKey, err := w.keyer.KeyForPath(http.MethodGet, w.shellPath); err == nil {
			if entry, ns, found := w.lookup(shellKey); found {
				if res, err := w.decode(entry); err == nil {
					log.Debug().Str("ns", ns).Msg("Serving shell as degraded page")
					status.Hit()
					status.Detail("shell")
					w.send(rw, res, status)
					return
				}
			}
		}
		w.sendOfflinePage(rw)
		return
	}
	w.sendSynthetic(rw, http.StatusServiceUnavailable, "offline")
}

// revalidate refreshes a stale entry in the background without blocking
// the response. A failed refresh leaves the stale entry intact.
func (w *Worker) revalidate(ns, key, uri string) {
	w.tracker.Go(func() {
		w.refreshEntry(ns, key, uri)
	})
}

// refreshEntry re-fetches a resource and overwrites its stored entry.
// A failed fetch leaves the previous entry intact.
func (w *Worker) refreshEntry(ns, key, uri string) {
	req, err := http.NewRequest(http.MethodGet, uri, nil)
	if err != nil {
		w.log.Error().Err(err).Str("key", key).Msg("Could not create request for refresh")
		return
	}
	res, err := w.fetch(req)
	if err != nil {
		w.log.Debug().Err(err).Str("key", key).Msg("Background refresh failed, keeping previous entry")
		return
	}
	defer res.Body.Close()
	if stored, err := w.store(ns, key, res); err != nil {
		w.log.Warn().Err(err).Str("key", key).Msg("Could not store refreshed entry")
	} else if stored {
		w.log.Trace().Str("key", key).Msg("Refreshed entry")
	}
}

// lookup finds the entry for a key, consulting the static namespace
// first and the dynamic one second.
func (w *Worker) lookup(key string) (cache.Entry, string, bool) {
	for _, ns := range []string{w.staticNS(), w.dynamicNS()} {
		entry, ok, err := w.cache.Get(ns, key)
		if err != nil {
			w.log.Warn().Err(err).Str("ns", ns).Str("key", key).Msg("Error reading from cache")
			continue
		}
		if ok {
			return entry, ns, true
		}
	}
	return cache.Entry{}, "", false
}

// store persists a response under the given key. Only successful
// responses to GET requests are persisted; everything else reports
// (false, nil). Writes to the dynamic namespace consult the quota guard.
func (w *Worker) store(ns, key string, res *http.Response) (bool, error) {
	if !isCacheable(key, res) {
		return false, nil
	}
	fetchedAt := time.Now()
	bts, err := serializer.Encode(res, fetchedAt)
	if err != nil {
		return false, err
	}
	if ns == w.dynamicNS() {
		w.guard.EnsureHeadroom(ns)
	}
	err = w.cache.Put(ns, cache.Entry{Key: key, FetchedAt: fetchedAt, Bytes: bts})
	return err == nil, err
}

func isCacheable(key string, res *http.Response) bool {
	if len(key) < 4 || key[:4] != "GET:" {
		return false
	}
	return res.StatusCode >= 200 && res.StatusCode < 300
}

func (w *Worker) decode(entry cache.Entry) (*http.Response, error) {
	res, _, err := serializer.Decode(entry.Bytes)
	return res, err
}

func (w *Worker) send(rw http.ResponseWriter, res *http.Response, status rfc9211.CacheStatus) {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(rw.Header(), res.Header)
	rw.Header().Set("Cache-Status", status.String())
	rw.WriteHeader(res.StatusCode)
	bytesWritten, err := io.Copy(rw, res.Body)
	if err != nil {
		w.log.Error().Err(err).Msg("Could not write response body to client")
	}
	w.log.Trace().Msgf("Wrote body (%d bytes)", bytesWritten)
}

// sendSynthetic answers with a deliberate plain-text fallback instead of
// propagating a raw network failure.
func (w *Worker) sendSynthetic(rw http.ResponseWriter, statusCode int, body string) {
	status := rfc9211.NewCacheStatus(cacheStatusName)
	status.Forward(rfc9211.FwdMiss)
	status.Detail("synthetic")
	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.Header().Set("Cache-Status", status.String())
	rw.WriteHeader(statusCode)
	io.WriteString(rw, body)
}

// sendOfflinePage answers a document request with a minimal
// self-contained page carrying a manual retry control.
func (w *Worker) sendOfflinePage(rw http.ResponseWriter) {
	status := rfc9211.NewCacheStatus(cacheStatusName)
	status.Forward(rfc9211.FwdMiss)
	status.Detail("synthetic")
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.Header().Set("Cache-Status", status.String())
	rw.WriteHeader(http.StatusOK)
	io.WriteString(rw, offlineHTML)
}
