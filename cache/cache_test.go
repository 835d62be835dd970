package cache

import (
	"fmt"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// providers returns one instance of every Provider implementation,
// each backed by fresh storage.
func providers(t *testing.T, quota int64) map[string]Provider {
	t.Helper()
	level, err := NewLevelDBCache(filepath.Join(t.TempDir(), "ldb"), quota)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { level.Close() })
	return map[string]Provider{
		"memory":  NewMemCache(quota),
		"sqlite":  NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"), quota),
		"leveldb": level,
	}
}

func entry(key, body string) Entry {
	return Entry{Key: key, FetchedAt: time.Now(), Bytes: []byte(body)}
}

func TestPutGetRoundtrip(t *testing.T) {
	for name, p := range providers(t, 0) {
		t.Run(name, func(t *testing.T) {
			fetchedAt := time.Now().Add(-time.Hour)
			err := p.Put("static-v1", Entry{
				Key:       "GET:/styles.css",
				FetchedAt: fetchedAt,
				Bytes:     []byte("body{}"),
			})
			if err != nil {
				t.Fatal(err)
			}

			got, ok, err := p.Get("static-v1", "GET:/styles.css")
			if err != nil {
				t.Fatal(err)
			}
			if !ok {
				t.Fatal("Entry not found after put")
			}
			if string(got.Bytes) != "body{}" {
				t.Fatalf("Bytes are %q", got.Bytes)
			}
			// timestamps survive with second resolution
			if got.FetchedAt.Unix() != fetchedAt.Unix() {
				t.Fatalf("FetchedAt is %v, stored %v", got.FetchedAt, fetchedAt)
			}

			if _, ok, err := p.Get("static-v1", "GET:/no-such"); err != nil || ok {
				t.Fatalf("Lookup of missing key: ok=%v err=%v", ok, err)
			}
			if _, ok, err := p.Get("static-v2", "GET:/styles.css"); err != nil || ok {
				t.Fatal("Entry leaked into another namespace")
			}
		})
	}
}

func TestKeysInInsertionOrder(t *testing.T) {
	for name, p := range providers(t, 0) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"GET:/c", "GET:/a", "GET:/b"} {
				if err := p.Put("dynamic-v1", entry(key, "x")); err != nil {
					t.Fatal(err)
				}
			}

			keys, err := p.Keys("dynamic-v1")
			if err != nil {
				t.Fatal(err)
			}
			if want := []string{"GET:/c", "GET:/a", "GET:/b"}; !reflect.DeepEqual(keys, want) {
				t.Fatalf("Keys are %v, want %v", keys, want)
			}

			// replacing an entry moves it to the back of the order
			if err := p.Put("dynamic-v1", entry("GET:/c", "y")); err != nil {
				t.Fatal(err)
			}
			keys, err = p.Keys("dynamic-v1")
			if err != nil {
				t.Fatal(err)
			}
			if want := []string{"GET:/a", "GET:/b", "GET:/c"}; !reflect.DeepEqual(keys, want) {
				t.Fatalf("Keys after replace are %v, want %v", keys, want)
			}
		})
	}
}

func TestDeleteRemovesEntry(t *testing.T) {
	for name, p := range providers(t, 0) {
		t.Run(name, func(t *testing.T) {
			if err := p.Put("dynamic-v1", entry("GET:/a", "aaa")); err != nil {
				t.Fatal(err)
			}
			if err := p.Delete("dynamic-v1", "GET:/a"); err != nil {
				t.Fatal(err)
			}
			if _, ok, _ := p.Get("dynamic-v1", "GET:/a"); ok {
				t.Fatal("Entry found after delete")
			}
			// deleting a missing key is not an error
			if err := p.Delete("dynamic-v1", "GET:/a"); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestNamespacesAndDrop(t *testing.T) {
	for name, p := range providers(t, 0) {
		t.Run(name, func(t *testing.T) {
			for _, ns := range []string{"static-v1", "dynamic-v1", "site-v1"} {
				if err := p.Put(ns, entry("GET:/", "x")); err != nil {
					t.Fatal(err)
				}
			}

			names, err := p.Namespaces()
			if err != nil {
				t.Fatal(err)
			}
			if want := []string{"dynamic-v1", "site-v1", "static-v1"}; !reflect.DeepEqual(names, want) {
				t.Fatalf("Namespaces are %v", names)
			}

			if err := p.DropNamespace("dynamic-v1"); err != nil {
				t.Fatal(err)
			}
			names, err = p.Namespaces()
			if err != nil {
				t.Fatal(err)
			}
			if want := []string{"site-v1", "static-v1"}; !reflect.DeepEqual(names, want) {
				t.Fatalf("Namespaces after drop are %v", names)
			}
			if _, ok, _ := p.Get("dynamic-v1", "GET:/"); ok {
				t.Fatal("Entry survived namespace drop")
			}
		})
	}
}

func TestUsageAccounting(t *testing.T) {
	for name, p := range providers(t, 1000) {
		t.Run(name, func(t *testing.T) {
			if err := p.Put("dynamic-v1", entry("GET:/a", "0123456789")); err != nil {
				t.Fatal(err)
			}
			if err := p.Put("dynamic-v1", entry("GET:/b", "01234")); err != nil {
				t.Fatal(err)
			}

			usage, err := p.Usage()
			if err != nil {
				t.Fatal(err)
			}
			if usage.Used != 15 {
				t.Fatalf("Used is %d, want 15", usage.Used)
			}
			if usage.Quota != 1000 {
				t.Fatalf("Quota is %d", usage.Quota)
			}

			// replacement must not double-count
			if err := p.Put("dynamic-v1", entry("GET:/a", "01")); err != nil {
				t.Fatal(err)
			}
			usage, err = p.Usage()
			if err != nil {
				t.Fatal(err)
			}
			if usage.Used != 7 {
				t.Fatalf("Used after replace is %d, want 7", usage.Used)
			}

			if err := p.Delete("dynamic-v1", "GET:/b"); err != nil {
				t.Fatal(err)
			}
			usage, err = p.Usage()
			if err != nil {
				t.Fatal(err)
			}
			if usage.Used != 2 {
				t.Fatalf("Used after delete is %d, want 2", usage.Used)
			}
		})
	}
}

func TestQuotaGuardEvictsOldestAboveHighWater(t *testing.T) {
	p := NewMemCache(100)
	guard := NewQuotaGuard(p, zerolog.Nop())

	// 95 of 100 bytes used, above the 90% mark
	if err := p.Put("dynamic-v1", entry("GET:/first", string(make([]byte, 50)))); err != nil {
		t.Fatal(err)
	}
	if err := p.Put("dynamic-v1", entry("GET:/second", string(make([]byte, 45)))); err != nil {
		t.Fatal(err)
	}

	guard.EnsureHeadroom("dynamic-v1")

	keys, err := p.Keys("dynamic-v1")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(keys, []string{"GET:/second"}) {
		t.Fatalf("Keys after eviction are %v", keys)
	}
}

func TestQuotaGuardEvictsExactlyOne(t *testing.T) {
	p := NewMemCache(100)
	guard := NewQuotaGuard(p, zerolog.Nop())

	// many tiny entries; even after one eviction utilization stays high,
	// but a single call still removes only a single entry
	for i := 0; i < 10; i++ {
		if err := p.Put("dynamic-v1", entry(fmt.Sprintf("GET:/e%d", i), string(make([]byte, 10)))); err != nil {
			t.Fatal(err)
		}
	}

	guard.EnsureHeadroom("dynamic-v1")

	keys, err := p.Keys("dynamic-v1")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 9 {
		t.Fatalf("%d keys remain, want 9", len(keys))
	}
	if keys[0] != "GET:/e1" {
		t.Fatalf("Oldest remaining key is %s", keys[0])
	}
}

func TestQuotaGuardNoopBelowHighWater(t *testing.T) {
	p := NewMemCache(100)
	guard := NewQuotaGuard(p, zerolog.Nop())

	if err := p.Put("dynamic-v1", entry("GET:/a", string(make([]byte, 80)))); err != nil {
		t.Fatal(err)
	}

	guard.EnsureHeadroom("dynamic-v1")

	if _, ok, _ := p.Get("dynamic-v1", "GET:/a"); !ok {
		t.Fatal("Entry evicted below the high-water mark")
	}
}

func TestQuotaGuardIgnoresUnlimitedQuota(t *testing.T) {
	p := NewMemCache(0)
	guard := NewQuotaGuard(p, zerolog.Nop())

	if err := p.Put("dynamic-v1", entry("GET:/a", string(make([]byte, 1<<20)))); err != nil {
		t.Fatal(err)
	}

	guard.EnsureHeadroom("dynamic-v1")

	if _, ok, _ := p.Get("dynamic-v1", "GET:/a"); !ok {
		t.Fatal("Entry evicted with no quota configured")
	}
}
