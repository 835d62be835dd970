package cache

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	entryPrefix = "e:"
	metaPrefix  = "m:"
	// namespace and key are joined with a byte that cannot appear in either
	nsSeparator = "\x00"
)

type levelMeta struct {
	FetchedAt int64 `json:"fetchedAt"`
	Seq       int64 `json:"seq"`
	Size      int64 `json:"size"`
}

// LevelDBCache is a cache provider backed by a LevelDB database.
// Insertion order is kept with a persistent sequence counter; aggregate
// size is tracked in an in-memory index rebuilt at open.
type LevelDBCache struct {
	db    *leveldb.DB
	quota int64

	mu    sync.Mutex
	seq   int64
	sizes map[string]int64
	used  int64
}

func NewLevelDBCache(path string, quota int64) (*LevelDBCache, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	l := &LevelDBCache{
		db:    db,
		quota: quota,
		sizes: make(map[string]int64),
	}
	if err := l.loadIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

func (l *LevelDBCache) Close() error {
	return l.db.Close()
}

func (l *LevelDBCache) loadIndex() error {
	it := l.db.NewIterator(util.BytesPrefix([]byte(metaPrefix)), nil)
	defer it.Release()
	for it.Next() {
		var meta levelMeta
		if err := json.Unmarshal(it.Value(), &meta); err != nil {
			continue
		}
		nsKey := strings.TrimPrefix(string(it.Key()), metaPrefix)
		l.sizes[nsKey] = meta.Size
		l.used += meta.Size
		if meta.Seq > l.seq {
			l.seq = meta.Seq
		}
	}
	return it.Error()
}

func (l *LevelDBCache) Get(ns, key string) (Entry, bool, error) {
	nsKey := ns + nsSeparator + key
	mb, err := l.db.Get([]byte(metaPrefix+nsKey), nil)
	if err == leveldb.ErrNotFound {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var meta levelMeta
	if err := json.Unmarshal(mb, &meta); err != nil {
		return Entry{}, false, err
	}
	bytes, err := l.db.Get([]byte(entryPrefix+nsKey), nil)
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{Key: key, FetchedAt: time.Unix(meta.FetchedAt, 0), Bytes: bytes}, true, nil
}

func (l *LevelDBCache) Put(ns string, e Entry) error {
	nsKey := ns + nsSeparator + e.Key

	l.mu.Lock()
	l.seq++
	meta := levelMeta{
		FetchedAt: e.FetchedAt.Unix(),
		Seq:       l.seq,
		Size:      int64(len(e.Bytes)),
	}
	l.mu.Unlock()

	mb, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Put([]byte(entryPrefix+nsKey), e.Bytes)
	batch.Put([]byte(metaPrefix+nsKey), mb)
	if err := l.db.Write(batch, nil); err != nil {
		return err
	}

	l.mu.Lock()
	l.used -= l.sizes[nsKey]
	l.sizes[nsKey] = meta.Size
	l.used += meta.Size
	l.mu.Unlock()
	return nil
}

func (l *LevelDBCache) Delete(ns, key string) error {
	nsKey := ns + nsSeparator + key
	batch := new(leveldb.Batch)
	batch.Delete([]byte(entryPrefix + nsKey))
	batch.Delete([]byte(metaPrefix + nsKey))
	if err := l.db.Write(batch, nil); err != nil {
		return err
	}
	l.mu.Lock()
	if size, ok := l.sizes[nsKey]; ok {
		l.used -= size
		delete(l.sizes, nsKey)
	}
	l.mu.Unlock()
	return nil
}

func (l *LevelDBCache) Keys(ns string) ([]string, error) {
	type keyed struct {
		key string
		seq int64
	}
	prefix := metaPrefix + ns + nsSeparator
	it := l.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()
	entries := make([]keyed, 0)
	for it.Next() {
		var meta levelMeta
		if err := json.Unmarshal(it.Value(), &meta); err != nil {
			continue
		}
		entries = append(entries, keyed{
			key: strings.TrimPrefix(string(it.Key()), prefix),
			seq: meta.Seq,
		})
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.key
	}
	return keys, nil
}

func (l *LevelDBCache) Namespaces() ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte(metaPrefix)), nil)
	defer it.Release()
	seen := make(map[string]struct{})
	for it.Next() {
		nsKey := strings.TrimPrefix(string(it.Key()), metaPrefix)
		if ns, _, found := strings.Cut(nsKey, nsSeparator); found {
			seen[ns] = struct{}{}
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(seen))
	for ns := range seen {
		names = append(names, ns)
	}
	sort.Strings(names)
	return names, nil
}

func (l *LevelDBCache) DropNamespace(ns string) error {
	keys, err := l.Keys(ns)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := l.Delete(ns, key); err != nil {
			return err
		}
	}
	return nil
}

func (l *LevelDBCache) Usage() (Usage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Usage{Used: l.used, Quota: l.quota}, nil
}
