package dbft

import (
	"encoding/binary"
	"errors"

	"github.com/neva-network/gneva/nevadb"
)

// SnapshotColumn is the store column holding consensus snapshots.
const SnapshotColumn = "consensus.snapshot"

// SnapshotKey identifies the persisted snapshot row: one per network id,
// so engines for independent chains in the same process never collide.
type SnapshotKey struct {
	Network uint32
}

func (k SnapshotKey) bytes() []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], k.Network)
	return buf[:]
}

// PersistEngine writes the engine's current state under the key, fully
// replacing any prior row. A snapshot is self-sufficient for resuming
// mid-view; there is no log to replay. Call only at quiescent points,
// never concurrently with ProcessMessage on the same engine.
func PersistEngine(store nevadb.Store, key SnapshotKey, engine *Engine) error {
	data, err := MarshalSnapshot(engine.Snapshot())
	if err != nil {
		return &SnapshotError{Op: "encode", Err: err}
	}
	if err := store.Put(SnapshotColumn, key.bytes(), data); err != nil {
		return &SnapshotError{Op: "write", Err: err}
	}
	return nil
}

// LoadEngine restores the engine persisted under the key, rebuilding the
// state against the supplied roster. A missing row returns (nil, nil):
// there is nothing to resume. Any other failure, store, codec or roster
// mismatch, is a SnapshotError; at boot the caller must treat it as
// fatal rather than start from a default.
func LoadEngine(store nevadb.Store, key SnapshotKey, validators *ValidatorSet) (*Engine, error) {
	data, err := store.Get(SnapshotColumn, key.bytes())
	if errors.Is(err, nevadb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &SnapshotError{Op: "read", Err: err}
	}
	snap, err := UnmarshalSnapshot(data)
	if err != nil {
		return nil, &SnapshotError{Op: "decode", Err: err}
	}
	engine, err := EngineFromSnapshot(validators, snap)
	if err != nil {
		return nil, &SnapshotError{Op: "restore", Err: err}
	}
	return engine, nil
}

// ClearSnapshot removes the persisted row, used after a height advance
// when the finalized round no longer needs recovery state.
func ClearSnapshot(store nevadb.Store, key SnapshotKey) error {
	if err := store.Delete(SnapshotColumn, key.bytes()); err != nil {
		return &SnapshotError{Op: "delete", Err: err}
	}
	return nil
}
