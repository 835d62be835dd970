package cache

import (
	"database/sql"
	"sort"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Provider is an interface for a namespaced cache store.
// It stores and retrieves []byte values, which represent HTTP responses,
// keyed by a canonical request key inside a named namespace.
// Key enumeration is in insertion order, oldest first.
//
// Implementations must be thread-safe!
type Provider interface {
	// Get returns the entry for the given key, if it exists.
	Get(ns, key string) (Entry, bool, error)
	// Put stores the given entry, replacing any previous entry for its key.
	// A replaced entry counts as newly inserted for enumeration order.
	Put(ns string, e Entry) error
	// Delete removes the entry for the given key.
	Delete(ns, key string) error
	// Keys returns all keys in the namespace in insertion order.
	Keys(ns string) ([]string, error)
	// Namespaces returns the names of all non-empty namespaces.
	Namespaces() ([]string, error)
	// DropNamespace removes a namespace and all its entries.
	DropNamespace(ns string) error
	// Usage reports aggregate storage use against the configured quota.
	// A zero quota means unlimited.
	Usage() (Usage, error)
}

type Entry struct {
	Key string
	// FetchedAt is set when the response was captured and never mutated
	// afterwards, except by full replacement of the entry.
	FetchedAt time.Time
	Bytes     []byte
}

type Usage struct {
	Used  int64
	Quota int64
}

type memEntry struct {
	fetchedAt time.Time
	bytes     []byte
	seq       int64
}

type MemCache struct {
	mutex *sync.RWMutex
	db    map[string]map[string]memEntry
	seq   *int64
	used  *int64
	quota int64
}

func NewMemCache(quota int64) MemCache {
	var seq, used int64
	return MemCache{
		mutex: &sync.RWMutex{},
		db:    make(map[string]map[string]memEntry),
		seq:   &seq,
		used:  &used,
		quota: quota,
	}
}

func (m MemCache) Get(ns, key string) (Entry, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	entry, ok := m.db[ns][key]
	if !ok {
		return Entry{}, false, nil
	}
	return Entry{Key: key, FetchedAt: entry.fetchedAt, Bytes: entry.bytes}, true, nil
}

func (m MemCache) Put(ns string, e Entry) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.db[ns] == nil {
		m.db[ns] = make(map[string]memEntry)
	}
	if old, ok := m.db[ns][e.Key]; ok {
		*m.used -= int64(len(old.bytes))
	}
	*m.seq++
	m.db[ns][e.Key] = memEntry{fetchedAt: e.FetchedAt, bytes: e.Bytes, seq: *m.seq}
	*m.used += int64(len(e.Bytes))
	return nil
}

func (m MemCache) Delete(ns, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if entry, ok := m.db[ns][key]; ok {
		*m.used -= int64(len(entry.bytes))
		delete(m.db[ns], key)
	}
	return nil
}

func (m MemCache) Keys(ns string) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	type keyed struct {
		key string
		seq int64
	}
	entries := make([]keyed, 0, len(m.db[ns]))
	for key, entry := range m.db[ns] {
		entries = append(entries, keyed{key, entry.seq})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.key
	}
	return keys, nil
}

func (m MemCache) Namespaces() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.db))
	for ns, entries := range m.db {
		if len(entries) > 0 {
			names = append(names, ns)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m MemCache) DropNamespace(ns string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, entry := range m.db[ns] {
		*m.used -= int64(len(entry.bytes))
	}
	delete(m.db, ns)
	return nil
}

func (m MemCache) Usage() (Usage, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return Usage{Used: *m.used, Quota: m.quota}, nil
}

type SQLiteCache struct {
	db         *sql.DB
	writeMutex *sync.Mutex
	quota      int64
}

// NewSQLiteCache creates a new cache with the given filename as the db.
// If the file name is empty, a new in-memory db is opened.
func NewSQLiteCache(filename string, quota int64) SQLiteCache {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS cache (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		ns TEXT NOT NULL,
		key TEXT NOT NULL,
		fetched_at INTEGER NOT NULL,
		bytes BLOB NOT NULL,
		UNIQUE (ns, key)
	)`)
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("CREATE INDEX IF NOT EXISTS ns_idx ON cache (ns)")
	if err != nil {
		panic(err)
	}
	_, err = db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		panic(err)
	}
	return SQLiteCache{
		db:         db,
		writeMutex: &sync.Mutex{},
		quota:      quota,
	}
}

func (s SQLiteCache) Get(ns, key string) (Entry, bool, error) {
	var fetchedAt int64
	var bytes []byte
	err := s.db.QueryRow(
		"SELECT fetched_at, bytes FROM cache WHERE ns = ? AND key = ?", ns, key,
	).Scan(&fetchedAt, &bytes)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return Entry{Key: key, FetchedAt: time.Unix(fetchedAt, 0), Bytes: bytes}, true, nil
}

func (s SQLiteCache) Put(ns string, e Entry) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	// OR REPLACE assigns a fresh seq, so a replaced entry moves to the
	// back of the insertion order
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO cache (ns, key, fetched_at, bytes) VALUES (?, ?, ?, ?)",
		ns, e.Key, e.FetchedAt.Unix(), e.Bytes)
	return err
}

func (s SQLiteCache) Delete(ns, key string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE ns = ? AND key = ?", ns, key)
	return err
}

func (s SQLiteCache) Keys(ns string) ([]string, error) {
	rows, err := s.db.Query("SELECT key FROM cache WHERE ns = ? ORDER BY seq ASC", ns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s SQLiteCache) Namespaces() ([]string, error) {
	rows, err := s.db.Query("SELECT DISTINCT ns FROM cache ORDER BY ns ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return names, err
		}
		names = append(names, ns)
	}
	return names, rows.Err()
}

func (s SQLiteCache) DropNamespace(ns string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("DELETE FROM cache WHERE ns = ?", ns)
	return err
}

func (s SQLiteCache) Usage() (Usage, error) {
	var used sql.NullInt64
	err := s.db.QueryRow("SELECT SUM(LENGTH(bytes)) FROM cache").Scan(&used)
	if err != nil {
		return Usage{}, err
	}
	return Usage{Used: used.Int64, Quota: s.quota}, nil
}
