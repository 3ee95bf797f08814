// Package memorydb keeps the store contents in a plain map. It is meant
// for tests and single-process tooling, not durable operation.
package memorydb

import (
	"sync"

	"github.com/neva-network/gneva/nevadb"
)

// Database is an ephemeral nevadb.Store backed by a map.
type Database struct {
	mu sync.RWMutex
	db map[string][]byte
}

// New returns an empty in-memory store.
func New() *Database {
	return &Database{db: make(map[string][]byte)}
}

func (d *Database) Put(column string, key, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nevadb.ErrClosed
	}
	d.db[rowKey(column, key)] = append([]byte(nil), value...)
	return nil
}

func (d *Database) Get(column string, key []byte) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, nevadb.ErrClosed
	}
	value, ok := d.db[rowKey(column, key)]
	if !ok {
		return nil, nevadb.ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (d *Database) Delete(column string, key []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nevadb.ErrClosed
	}
	delete(d.db, rowKey(column, key))
	return nil
}

// Close releases the backing map. Further access returns ErrClosed.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.db = nil
	return nil
}

// Len returns the number of stored rows.
func (d *Database) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.db)
}

// rowKey namespaces key under column. The zero byte cannot appear in a
// column name, so the mapping is collision-free.
func rowKey(column string, key []byte) string {
	return column + "\x00" + string(key)
}
