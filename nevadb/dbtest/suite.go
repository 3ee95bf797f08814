// Package dbtest holds the conformance suite every nevadb.Store backend
// must pass.
package dbtest

import (
	"bytes"
	"errors"
	"testing"

	"github.com/neva-network/gneva/nevadb"
)

// TestStoreSuite runs the shared backend tests against stores produced
// by the factory. Each subtest receives a fresh store.
func TestStoreSuite(t *testing.T, newStore func() nevadb.Store) {
	t.Run("GetMissing", func(t *testing.T) {
		db := newStore()
		defer db.Close()

		if _, err := db.Get("snapshots", []byte("absent")); !errors.Is(err, nevadb.ErrNotFound) {
			t.Fatalf("missing key: have %v want %v", err, nevadb.ErrNotFound)
		}
	})

	t.Run("PutGet", func(t *testing.T) {
		db := newStore()
		defer db.Close()

		if err := db.Put("snapshots", []byte("k"), []byte("v1")); err != nil {
			t.Fatalf("put: %v", err)
		}
		got, err := db.Get("snapshots", []byte("k"))
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !bytes.Equal(got, []byte("v1")) {
			t.Fatalf("value: have %q want %q", got, "v1")
		}
	})

	t.Run("PutReplaces", func(t *testing.T) {
		db := newStore()
		defer db.Close()

		if err := db.Put("snapshots", []byte("k"), []byte("v1")); err != nil {
			t.Fatalf("put: %v", err)
		}
		if err := db.Put("snapshots", []byte("k"), []byte("v2")); err != nil {
			t.Fatalf("replace: %v", err)
		}
		got, err := db.Get("snapshots", []byte("k"))
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !bytes.Equal(got, []byte("v2")) {
			t.Fatalf("value after replace: have %q want %q", got, "v2")
		}
	})

	t.Run("ColumnsAreDisjoint", func(t *testing.T) {
		db := newStore()
		defer db.Close()

		if err := db.Put("a", []byte("k"), []byte("in-a")); err != nil {
			t.Fatalf("put: %v", err)
		}
		if _, err := db.Get("b", []byte("k")); !errors.Is(err, nevadb.ErrNotFound) {
			t.Fatalf("cross-column read: have %v want %v", err, nevadb.ErrNotFound)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		db := newStore()
		defer db.Close()

		if err := db.Put("snapshots", []byte("k"), []byte("v")); err != nil {
			t.Fatalf("put: %v", err)
		}
		if err := db.Delete("snapshots", []byte("k")); err != nil {
			t.Fatalf("delete: %v", err)
		}
		if _, err := db.Get("snapshots", []byte("k")); !errors.Is(err, nevadb.ErrNotFound) {
			t.Fatalf("deleted key: have %v want %v", err, nevadb.ErrNotFound)
		}
		// Deleting an absent key is not an error.
		if err := db.Delete("snapshots", []byte("k")); err != nil {
			t.Fatalf("delete absent: %v", err)
		}
	})

	t.Run("ValueIsCopied", func(t *testing.T) {
		db := newStore()
		defer db.Close()

		value := []byte("original")
		if err := db.Put("snapshots", []byte("k"), value); err != nil {
			t.Fatalf("put: %v", err)
		}
		value[0] = 'X'
		got, err := db.Get("snapshots", []byte("k"))
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !bytes.Equal(got, []byte("original")) {
			t.Fatalf("stored value aliased caller buffer: have %q", got)
		}
	})
}
