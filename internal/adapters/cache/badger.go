package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// BadgerConfig holds configuration for the persistent cache store.
type BadgerConfig struct {
	// Dir is the BadgerDB directory. Ignored when InMemory is true.
	Dir string

	// InMemory disables disk persistence. Useful for tests.
	InMemory bool

	// SyncWrites trades write latency for durability. Cached results are
	// recomputable, so the default is false.
	SyncWrites bool
}

// BadgerStore is the persistent Store implementation. Entries are
// msgpack-encoded; Badger's native TTL backstops the entry-level expiry.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) the cache database.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Put publishes an entry. An already expired entry is still written; Get
// filters it out, which keeps ttl=0 semantics identical across stores.
func (s *BadgerStore) Put(_ context.Context, e Entry) error {
	b, err := msgpack.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(e.Key), b)
		if ttl := time.Until(e.ExpiresAt); ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

// Get returns the entry for key.
func (s *BadgerStore) Get(_ context.Context, key string) (Entry, bool, error) {
	var e Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, &e)
		})
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return Entry{}, false, nil
	case err != nil:
		return Entry{}, false, fmt.Errorf("read cache entry: %w", err)
	}
	if e.Expired(time.Now()) {
		return Entry{}, false, nil
	}
	return e, true, nil
}

// Delete removes a single key.
func (s *BadgerStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// DeletePrefix removes every key with the given prefix.
func (s *BadgerStore) DeletePrefix(_ context.Context, prefix string) (int, error) {
	keys := make([][]byte, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(prefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan cache prefix: %w", err)
	}
	for _, k := range keys {
		if err := s.db.Update(func(txn *badger.Txn) error { return txn.Delete(k) }); err != nil {
			return 0, fmt.Errorf("delete cache key: %w", err)
		}
	}
	return len(keys), nil
}

// Sweep triggers value-log garbage collection. Badger expires entries by
// TTL on its own; the sweep only reclaims space.
func (s *BadgerStore) Sweep(_ context.Context, _ time.Time) (int, error) {
	err := s.db.RunValueLogGC(0.5)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return 0, fmt.Errorf("cache store gc: %w", err)
	}
	return 0, nil
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
