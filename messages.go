package shellcache

// Cross-context control messages understood by the worker.
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageGetVersion  = "GET_VERSION"
)

type Message struct {
	Type string `json:"type"`
}

type VersionReply struct {
	Version   string `json:"version"`
	CacheName string `json:"cacheName"`
}

// HandleMessage answers a control message synchronously. SKIP_WAITING has
// no reply; GET_VERSION replies with the current version identifier and
// umbrella cache name. Unknown message types are logged and ignored.
func (w *Worker) HandleMessage(msg Message) *VersionReply {
	switch msg.Type {
	case MessageSkipWaiting:
		w.SkipWaiting()
		return nil
	case MessageGetVersion:
		return &VersionReply{
			Version:   w.version,
			CacheName: w.siteNS(),
		}
	default:
		w.log.Debug().Str("type", msg.Type).Msg("Ignoring unknown message")
		return nil
	}
}
