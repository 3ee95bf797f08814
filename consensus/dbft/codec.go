package dbft

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/neva-network/gneva/common"
)

// The wire codec. Field order and variant tags are frozen: the same
// bytes feed both SignedMessage.Digest and network transport, so any
// change here is a protocol break. Integers are little-endian; variable
// data is length-prefixed with the compact varint used across the
// protocol (0xFD/0xFE/0xFF escapes).

var (
	errTruncated   = errors.New("dbft: truncated message")
	errOversize    = errors.New("dbft: length prefix exceeds limit")
	errTrailing    = errors.New("dbft: trailing bytes after message")
	errUnknownKind = errors.New("dbft: unknown message kind")
)

// maxVarBytes bounds any single length-prefixed field. Signatures and
// invocation data are far below this.
const maxVarBytes = 1024

type encoder struct {
	buf []byte
}

func (e *encoder) bytes() []byte { return e.buf }

func (e *encoder) writeByte(b byte) {
	e.buf = append(e.buf, b)
}

func (e *encoder) writeUint16(v uint16) {
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
}

func (e *encoder) writeUint32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *encoder) writeUint64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

func (e *encoder) writeBool(v bool) {
	if v {
		e.writeByte(1)
	} else {
		e.writeByte(0)
	}
}

func (e *encoder) writeHash(h common.Hash) {
	e.buf = append(e.buf, h[:]...)
}

func (e *encoder) writeVarInt(v uint64) {
	switch {
	case v < 0xFD:
		e.writeByte(byte(v))
	case v <= 0xFFFF:
		e.writeByte(0xFD)
		e.writeUint16(uint16(v))
	case v <= 0xFFFFFFFF:
		e.writeByte(0xFE)
		e.writeUint32(uint32(v))
	default:
		e.writeByte(0xFF)
		e.writeUint64(v)
	}
}

func (e *encoder) writeVarBytes(b []byte) {
	e.writeVarInt(uint64(len(b)))
	e.buf = append(e.buf, b...)
}

type decoder struct {
	buf []byte
	off int
}

func newDecoder(b []byte) *decoder { return &decoder{buf: b} }

func (d *decoder) remaining() int { return len(d.buf) - d.off }

func (d *decoder) readByte() (byte, error) {
	if d.remaining() < 1 {
		return 0, errTruncated
	}
	b := d.buf[d.off]
	d.off++
	return b, nil
}

func (d *decoder) readUint16() (uint16, error) {
	if d.remaining() < 2 {
		return 0, errTruncated
	}
	v := binary.LittleEndian.Uint16(d.buf[d.off:])
	d.off += 2
	return v, nil
}

func (d *decoder) readUint32() (uint32, error) {
	if d.remaining() < 4 {
		return 0, errTruncated
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) readUint64() (uint64, error) {
	if d.remaining() < 8 {
		return 0, errTruncated
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

func (d *decoder) readBool() (bool, error) {
	b, err := d.readByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (d *decoder) readHash() (common.Hash, error) {
	var h common.Hash
	if d.remaining() < common.HashLength {
		return h, errTruncated
	}
	copy(h[:], d.buf[d.off:])
	d.off += common.HashLength
	return h, nil
}

func (d *decoder) readVarInt(max uint64) (uint64, error) {
	prefix, err := d.readByte()
	if err != nil {
		return 0, err
	}
	var v uint64
	switch prefix {
	case 0xFD:
		u, err := d.readUint16()
		if err != nil {
			return 0, err
		}
		v = uint64(u)
	case 0xFE:
		u, err := d.readUint32()
		if err != nil {
			return 0, err
		}
		v = uint64(u)
	case 0xFF:
		v, err = d.readUint64()
		if err != nil {
			return 0, err
		}
	default:
		v = uint64(prefix)
	}
	if v > max {
		return 0, fmt.Errorf("%w: %d > %d", errOversize, v, max)
	}
	return v, nil
}

func (d *decoder) readVarBytes(max uint64) ([]byte, error) {
	n, err := d.readVarInt(max)
	if err != nil {
		return nil, err
	}
	if uint64(d.remaining()) < n {
		return nil, errTruncated
	}
	out := make([]byte, n)
	copy(out, d.buf[d.off:])
	d.off += int(n)
	return out, nil
}
