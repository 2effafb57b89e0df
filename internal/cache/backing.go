package cache

import (
	"database/sql"
	"sync"
	"time"

	"github.com/hpungsan/kaia/internal/db"
)

// SQLBacking stores entries in the cache_entries table.
type SQLBacking struct {
	db *sql.DB
}

// NewSQLBacking wraps an initialized database.
func NewSQLBacking(database *sql.DB) *SQLBacking {
	return &SQLBacking{db: database}
}

func (b *SQLBacking) Get(key string) (*Entry, error) {
	row, err := db.GetCacheEntry(b.db, key)
	if err != nil || row == nil {
		return nil, err
	}
	return &Entry{
		Key:      row.Key,
		Value:    row.Payload,
		StoredAt: time.UnixMilli(row.StoredAt),
	}, nil
}

func (b *SQLBacking) Put(e Entry) error {
	return db.PutCacheEntry(b.db, db.CacheRow{
		Key:      e.Key,
		Payload:  e.Value,
		StoredAt: e.StoredAt.UnixMilli(),
	})
}

// MemoryBacking keeps entries in a map.
type MemoryBacking struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryBacking() *MemoryBacking {
	return &MemoryBacking{entries: map[string]Entry{}}
}

func (b *MemoryBacking) Get(key string) (*Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (b *MemoryBacking) Put(e Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[e.Key] = e
	return nil
}
