// Package nevadb defines the column-keyed byte store consumed by the
// persistence layer. Implementations live in the subpackages; callers
// treat the store as a flat (column, key) -> value map with full-row
// replacement semantics.
package nevadb

import "errors"

// ErrNotFound is returned by Get when the (column, key) pair is absent.
var ErrNotFound = errors.New("nevadb: not found")

// ErrClosed is returned on any access to a closed store.
var ErrClosed = errors.New("nevadb: closed")

// Store is the minimal column-keyed persistence contract. Put fully
// replaces any prior value for the same (column, key).
type Store interface {
	Put(column string, key, value []byte) error
	Get(column string, key []byte) ([]byte, error)
	Delete(column string, key []byte) error
	Close() error
}
