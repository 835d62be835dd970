package shellcache

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/shellcache/shellcache/cache"
)

func siteHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("shell"))
	})
	mux.HandleFunc("/pages/algebra.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("algebra"))
	})
	mux.HandleFunc("/styles.css", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("body{}"))
	})
	return mux
}

func TestInstallPreWarmsStaticNamespace(t *testing.T) {
	worker, _ := startTestWorker(t, siteHandler(), func(c *Config) {
		c.StaticAssets = []string{"/", "/pages/algebra.html", "/styles.css"}
	})

	if err := worker.Install(); err != nil {
		t.Fatal(err)
	}
	if worker.State() != StateInstalled {
		t.Fatalf("State is %s", worker.State())
	}

	keys, err := worker.cache.Keys(worker.staticNS())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"GET:/", "GET:/pages/algebra.html", "GET:/styles.css"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("Static keys are %v", keys)
	}
}

func TestInstallIsAllOrNothing(t *testing.T) {
	worker, _ := startTestWorker(t, siteHandler(), func(c *Config) {
		c.StaticAssets = []string{"/", "/styles.css", "/no-such-asset.css"}
	})

	if err := worker.Install(); err == nil {
		t.Fatal("Install succeeded with an unfetchable asset")
	}
	if worker.State() != StateRedundant {
		t.Fatalf("State is %s, expected redundant", worker.State())
	}

	// a failed install leaves no half-populated shell behind
	keys, err := worker.cache.Keys(worker.staticNS())
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Fatalf("Static namespace has %v after failed install", keys)
	}
}

func TestInstallIsIdempotent(t *testing.T) {
	worker, _ := startTestWorker(t, siteHandler(), func(c *Config) {
		c.StaticAssets = []string{"/", "/styles.css"}
	})

	if err := worker.Install(); err != nil {
		t.Fatal(err)
	}
	first, err := worker.cache.Keys(worker.staticNS())
	if err != nil {
		t.Fatal(err)
	}

	if err := worker.Install(); err != nil {
		t.Fatal(err)
	}
	second, err := worker.cache.Keys(worker.staticNS())
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("Repeated install changed contents: %v vs %v", first, second)
	}
}

func TestActivateDeletesSupersededNamespaces(t *testing.T) {
	provider := cache.NewMemCache(0)
	// leftovers from a previous version
	for _, ns := range []string{"static-v1", "dynamic-v1", "site-v1"} {
		if err := provider.Put(ns, cache.Entry{Key: "GET:/", FetchedAt: time.Now(), Bytes: []byte("old")}); err != nil {
			t.Fatal(err)
		}
	}

	worker, _ := startTestWorker(t, siteHandler(), func(c *Config) {
		c.Cache = provider
		c.Version = "v2"
		c.StaticAssets = []string{"/"}
	})

	if err := worker.Install(); err != nil {
		t.Fatal(err)
	}
	claimed := false
	worker.onClaim = func() { claimed = true }
	if err := worker.Activate(); err != nil {
		t.Fatal(err)
	}
	if worker.State() != StateActivated {
		t.Fatalf("State is %s", worker.State())
	}
	if !claimed {
		t.Fatal("Open pages were not claimed")
	}

	namespaces, err := provider.Namespaces()
	if err != nil {
		t.Fatal(err)
	}
	// dynamic-v2 is empty until the first runtime write, so exactly the
	// populated current namespaces remain
	for _, ns := range namespaces {
		switch ns {
		case "static-v2", "dynamic-v2", "site-v2":
		default:
			t.Fatalf("Namespace %s survived activation", ns)
		}
	}
}

func TestVersionCutoverLeavesOnlyCurrentNamespaces(t *testing.T) {
	provider := cache.NewMemCache(0)
	server := httptest.NewServer(siteHandler())
	t.Cleanup(server.Close)

	run := func(version string) *Worker {
		worker, _ := startTestWorker(t, siteHandler(), func(c *Config) {
			c.Cache = provider
			c.Version = version
			c.StaticAssets = []string{"/", "/styles.css"}
		})
		if err := worker.Install(); err != nil {
			t.Fatal(err)
		}
		if err := worker.Activate(); err != nil {
			t.Fatal(err)
		}
		return worker
	}

	v1 := run("v1")
	// populate dynamic-v1 with a runtime response
	v1.ServeHTTP(httptest.NewRecorder(), getDocument("/pages/algebra.html"))

	run("v2")

	namespaces, err := provider.Namespaces()
	if err != nil {
		t.Fatal(err)
	}
	for _, ns := range namespaces {
		switch ns {
		case "static-v2", "dynamic-v2", "site-v2":
		default:
			t.Fatalf("Namespace %s bears a prior version tag", ns)
		}
	}
}
