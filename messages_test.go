package shellcache

import "testing"

func TestGetVersionMessage(t *testing.T) {
	worker, _ := startTestWorker(t, siteHandler(), func(c *Config) {
		c.Version = "v3"
	})

	reply := worker.HandleMessage(Message{Type: MessageGetVersion})

	if reply == nil {
		t.Fatal("No reply to GET_VERSION")
	}
	if reply.Version != "v3" {
		t.Fatalf("Version is %s", reply.Version)
	}
	if reply.CacheName != "site-v3" {
		t.Fatalf("CacheName is %s", reply.CacheName)
	}
}

func TestSkipWaitingMessage(t *testing.T) {
	worker, _ := startTestWorker(t, siteHandler(), nil)

	if reply := worker.HandleMessage(Message{Type: MessageSkipWaiting}); reply != nil {
		t.Fatalf("SKIP_WAITING replied with %+v", reply)
	}
	worker.stateMu.Lock()
	skipped := worker.skipWaiting
	worker.stateMu.Unlock()
	if !skipped {
		t.Fatal("Skip waiting was not recorded")
	}
}

func TestUnknownMessageIsIgnored(t *testing.T) {
	worker, _ := startTestWorker(t, siteHandler(), nil)

	if reply := worker.HandleMessage(Message{Type: "REBOOT"}); reply != nil {
		t.Fatalf("Unknown message replied with %+v", reply)
	}
}
