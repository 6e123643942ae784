package fastfair

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"

	"fastfair/internal/base"
	"fastfair/internal/pmem"
	"fastfair/internal/pool"
)

// arena is what the DB drives beyond the tree's view of its pool.
type arena interface {
	base.RootArena
	Sync() error
	Close() error
}

// DB wraps a BTree with its backing pool, options, and an optional
// read-through lookup cache.
type DB struct {
	tree   *BTree
	arena  arena
	cache  *freelru.SyncedLRU[int64, uint64]
	log    Logger
	closed atomic.Bool
}

// Open creates or reopens a database. An empty path builds a volatile
// in-memory tree; otherwise path names a persistent pool file whose
// anchored root, if any, the tree adopts.
func Open(path string, opts ...Option) (*DB, error) {
	o := DefaultDBOptions()
	for _, opt := range opts {
		opt(&o)
	}

	rt := pmem.New(pmem.Config{WriteLatency: o.writeLatency})

	var a arena
	if path == "" {
		a = pool.NewVolatile(rt)
	} else {
		p, err := pool.OpenPool(path, rt)
		if err != nil {
			return nil, err
		}
		a = p
	}

	db := &DB{
		arena: a,
		log:   o.logger,
	}
	db.tree = newBTree(a, o.logger)

	if o.cacheSize > 0 {
		lru, err := freelru.NewSynced[int64, uint64](uint32(o.cacheSize), hashKey)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		db.cache = lru
	}

	return db, nil
}

func hashKey(k int64) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(k))
	return uint32(xxhash.Sum64(b[:]))
}

// Insert stores (key, value). Value zero is reserved as the empty-slot
// sentinel and rejected.
func (db *DB) Insert(key int64, value uint64) error {
	if db.closed.Load() {
		return ErrDatabaseClosed
	}
	if value == 0 {
		return ErrValueReserved
	}
	if db.cache != nil {
		db.cache.Remove(key)
	}
	db.tree.Insert(key, value)
	return nil
}

// Search returns the value stored at key, or ErrKeyNotFound.
func (db *DB) Search(key int64) (uint64, error) {
	if db.closed.Load() {
		return 0, ErrDatabaseClosed
	}
	if db.cache != nil {
		if v, ok := db.cache.Get(key); ok {
			return v, nil
		}
	}
	v, ok := db.tree.Search(key)
	if !ok {
		return 0, ErrKeyNotFound
	}
	if db.cache != nil {
		db.cache.Add(key, v)
	}
	return v, nil
}

// Delete removes key; absent keys are a silent no-op.
func (db *DB) Delete(key int64) error {
	if db.closed.Load() {
		return ErrDatabaseClosed
	}
	if db.cache != nil {
		db.cache.Remove(key)
	}
	db.tree.Delete(key)
	return nil
}

// Scan fills out with values whose key lies strictly between min and max,
// in ascending key order, and returns the count written.
func (db *DB) Scan(min, max int64, out []uint64) (int, error) {
	if db.closed.Load() {
		return 0, ErrDatabaseClosed
	}
	return db.tree.Scan(min, max, out), nil
}

// Tree exposes the underlying BTree for callers that want the lock-free
// surface without the cache or closed checks.
func (db *DB) Tree() *BTree {
	return db.tree
}

// Sync forces the pool to stable storage.
func (db *DB) Sync() error {
	if db.closed.Load() {
		return ErrDatabaseClosed
	}
	return db.arena.Sync()
}

// Close syncs and releases the pool. Further calls on the DB return
// ErrDatabaseClosed.
func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return nil
	}
	if db.cache != nil {
		db.cache.Purge()
	}
	return db.arena.Close()
}
