package shellcache

import (
	"encoding/json"
)

const (
	defaultNotificationTitle = "Site update"
	defaultNotificationIcon  = "/icons/icon-192.png"
	defaultNotificationBadge = "/icons/badge-72.png"
	defaultNotificationTag   = "site-notification"
)

// Notification is the shape presented to the platform notifier.
type Notification struct {
	Title string           `json:"title"`
	Body  string           `json:"body"`
	Icon  string           `json:"icon"`
	Badge string           `json:"badge"`
	Tag   string           `json:"tag"`
	Data  NotificationData `json:"data"`
}

type NotificationData struct {
	URL string `json:"url"`
}

func (w *Worker) defaultNotification() Notification {
	return Notification{
		Title: defaultNotificationTitle,
		Body:  "Something new is available.",
		Icon:  defaultNotificationIcon,
		Badge: defaultNotificationBadge,
		Tag:   defaultNotificationTag,
		Data:  NotificationData{URL: w.shellPath},
	}
}

// HandlePush parses a push payload as structured data if possible,
// merging it over the default notification shape. A payload that is not
// a JSON object degrades to plain body text. A notification is always
// presented; a push event is never silently dropped.
func (w *Worker) HandlePush(payload []byte) Notification {
	n := w.defaultNotification()
	if len(payload) > 0 {
		// unmarshalling over the defaults keeps them for absent fields
		if err := json.Unmarshal(payload, &n); err != nil {
			w.log.Debug().Err(err).Msg("Push payload is not JSON, using it as body")
			n = w.defaultNotification()
			n.Body = string(payload)
		}
	}
	w.show(n)
	return n
}

// HandleNotificationClick closes the notification and routes to its
// target URL: an already-open page is focused, otherwise a new page is
// opened.
func (w *Worker) HandleNotificationClick(n Notification) {
	w.notifier.Close(n.Tag)
	target := n.Data.URL
	if target == "" {
		target = w.shellPath
	}
	if w.clients.Focus(target) {
		w.log.Debug().Str("url", target).Msg("Focused open page")
		return
	}
	if err := w.clients.Open(target); err != nil {
		w.log.Warn().Err(err).Str("url", target).Msg("Could not open page")
		return
	}
	w.log.Debug().Str("url", target).Msg("Opened new page")
}

func (w *Worker) show(n Notification) {
	if err := w.notifier.Show(n); err != nil {
		w.log.Warn().Err(err).Str("tag", n.Tag).Msg("Could not present notification")
	}
}
