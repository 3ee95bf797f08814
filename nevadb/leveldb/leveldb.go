// Package leveldb implements nevadb.Store on top of goleveldb. Columns
// are mapped to key prefixes within a single leveldb instance.
package leveldb

import (
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/neva-network/gneva/nevadb"
)

// Database wraps a goleveldb instance behind the nevadb.Store contract.
type Database struct {
	db *leveldb.DB

	closeOnce sync.Once
	closeErr  error
}

// New opens (or creates) a leveldb-backed store at path.
func New(path string) (*Database, error) {
	db, err := leveldb.OpenFile(path, nil)
	if errors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("nevadb: open leveldb %q: %w", path, err)
	}
	return &Database{db: db}, nil
}

// NewInMemory opens a store on top of leveldb's memory storage. Used by
// the conformance suite.
func NewInMemory() (*Database, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("nevadb: open in-memory leveldb: %w", err)
	}
	return &Database{db: db}, nil
}

func (d *Database) Put(column string, key, value []byte) error {
	if err := d.db.Put(rowKey(column, key), value, nil); err != nil {
		return fmt.Errorf("nevadb: put: %w", err)
	}
	return nil
}

func (d *Database) Get(column string, key []byte) ([]byte, error) {
	value, err := d.db.Get(rowKey(column, key), nil)
	switch {
	case err == leveldb.ErrNotFound:
		return nil, nevadb.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("nevadb: get: %w", err)
	}
	return value, nil
}

func (d *Database) Delete(column string, key []byte) error {
	if err := d.db.Delete(rowKey(column, key), nil); err != nil {
		return fmt.Errorf("nevadb: delete: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.db.Close()
	})
	return d.closeErr
}

func rowKey(column string, key []byte) []byte {
	row := make([]byte, 0, len(column)+1+len(key))
	row = append(row, column...)
	row = append(row, 0x00)
	row = append(row, key...)
	return row
}
