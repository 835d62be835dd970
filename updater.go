package shellcache

import (
	"context"
	"net/http"
	"time"
)

// Start launches the background task processor: the periodic content
// refresh and the staleness sweep. Loops stop when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	if w.refreshInterval > 0 {
		w.tracker.Go(func() { w.refreshLoop(ctx) })
	}
	if w.sweepInterval > 0 {
		w.tracker.Go(func() { w.sweepLoop(ctx) })
	}
}

func (w *Worker) refreshLoop(ctx context.Context) {
	w.log.Info().Msgf("Starting content refresh loop with interval %s", w.refreshInterval)
	ticker := time.NewTicker(w.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RefreshPages()
		}
	}
}

func (w *Worker) sweepLoop(ctx context.Context) {
	w.log.Info().Msgf("Starting staleness sweep loop with interval %s", w.sweepInterval)
	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.SweepStale()
		}
	}
}

// RefreshPages sequentially re-fetches every page in the known page list
// and overwrites its dynamic-namespace entry on success. Fetch failures
// for individual pages are logged and do not abort the batch. A "content
// updated" notification is presented on completion.
func (w *Worker) RefreshPages() {
	refreshed := 0
	for _, page := range w.pages {
		key, err := w.keyer.KeyForPath(http.MethodGet, page)
		if err != nil {
			w.log.Error().Err(err).Str("page", page).Msg("Could not derive key for page")
			continue
		}
		req, err := http.NewRequest(http.MethodGet, page, nil)
		if err != nil {
			w.log.Error().Err(err).Str("page", page).Msg("Could not create request for refresh")
			continue
		}
		res, err := w.fetch(req)
		if err != nil {
			w.log.Warn().Err(err).Str("page", page).Msg("Could not refresh page")
			continue
		}
		stored, err := w.store(w.dynamicNS(), key, res)
		res.Body.Close()
		if err != nil {
			w.log.Warn().Err(err).Str("page", page).Msg("Could not store refreshed page")
			continue
		}
		if stored {
			refreshed++
		}
	}
	w.log.Info().Int("pages", refreshed).Msg("Periodic content refresh done")

	n := w.defaultNotification()
	n.Body = "Content has been refreshed in the background."
	n.Tag = "content-update"
	w.show(n)
}

// SweepStale scans the dynamic namespace and deletes every entry older
// than the max-age threshold. It bounds cache growth from entries that
// are never re-requested and therefore never revalidated.
func (w *Worker) SweepStale() {
	keys, err := w.cache.Keys(w.dynamicNS())
	if err != nil {
		w.log.Error().Err(err).Msg("Could not list dynamic entries for sweep")
		return
	}
	swept := 0
	for _, key := range keys {
		entry, ok, err := w.cache.Get(w.dynamicNS(), key)
		if err != nil || !ok {
			continue
		}
		if time.Since(entry.FetchedAt) <= w.maxAge {
			continue
		}
		if err := w.cache.Delete(w.dynamicNS(), key); err != nil {
			w.log.Warn().Err(err).Str("key", key).Msg("Could not delete stale entry")
			continue
		}
		swept++
	}
	if swept > 0 {
		w.log.Info().Int("entries", swept).Msg("Swept stale dynamic entries")
	}
}

// HandleSync performs queued-sync replay for a recognized tag. The queued
// actions themselves live behind the Replayer collaborator; the worker
// only triggers, logs and notifies.
func (w *Worker) HandleSync(ctx context.Context, tag string) {
	if tag != w.syncTag {
		w.log.Debug().Str("tag", tag).Msg("Ignoring sync trigger with unknown tag")
		return
	}
	w.log.Info().Str("tag", tag).Msg("Replaying queued sync actions")
	if w.replayer != nil {
		if err := w.replayer.Replay(ctx); err != nil {
			w.log.Warn().Err(err).Str("tag", tag).Msg("Sync replay failed")
		}
	}
	n := w.defaultNotification()
	n.Body = "Queued actions have been synced."
	n.Tag = "sync-complete"
	w.show(n)
}
