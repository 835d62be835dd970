package shellcache

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Notifier presents notifications on whatever surface the deployment has.
type Notifier interface {
	Show(n Notification) error
	// Close dismisses the presented notification carrying the given tag.
	Close(tag string)
}

// PageClients is the registry of open pages used for notification click
// routing.
type PageClients interface {
	// Focus brings an already-open page at the URL to the front.
	// It reports whether such a page existed.
	Focus(url string) bool
	// Open opens a new page at the URL.
	Open(url string) error
}

// Replayer performs queued-sync replay. The actual queued actions are an
// external collaborator contract; the worker never inspects them.
type Replayer interface {
	Replay(ctx context.Context) error
}

// LogNotifier writes notifications to the log. It is the default sink
// for deployments without a real notification surface.
type LogNotifier struct {
	Log zerolog.Logger
}

func (l LogNotifier) Show(n Notification) error {
	l.Log.Info().
		Str("id", uuid.NewString()).
		Str("title", n.Title).
		Str("body", n.Body).
		Str("tag", n.Tag).
		Str("url", n.Data.URL).
		Msg("Notification")
	return nil
}

func (l LogNotifier) Close(tag string) {
	l.Log.Debug().Str("tag", tag).Msg("Notification closed")
}

type noopClients struct{}

func (noopClients) Focus(string) bool { return false }

func (noopClients) Open(string) error { return nil }
