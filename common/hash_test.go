package common

import (
	"bytes"
	"fmt"
	"testing"
)

func TestBytesToHash(t *testing.T) {
	exact := bytes.Repeat([]byte{0xAB}, HashLength)
	h := BytesToHash(exact)
	if !bytes.Equal(h.Bytes(), exact) {
		t.Fatalf("exact input: have %x want %x", h.Bytes(), exact)
	}

	short := []byte{0x01, 0x02}
	h = BytesToHash(short)
	if h[HashLength-1] != 0x02 || h[HashLength-2] != 0x01 || h[0] != 0 {
		t.Fatalf("short input not right-aligned: %x", h.Bytes())
	}

	long := bytes.Repeat([]byte{0xCD}, HashLength+4)
	long[4] = 0x7F
	h = BytesToHash(long)
	if h[0] != 0x7F {
		t.Fatalf("long input not cropped from the left: %x", h.Bytes())
	}
}

func TestHexToHash(t *testing.T) {
	want := "0x00000000000000000000000000000000000000000000000000000000000000ff"
	for _, in := range []string{"ff", "0xff", "0XFF"} {
		if got := HexToHash(in).Hex(); got != want {
			t.Errorf("HexToHash(%q): have %s want %s", in, got, want)
		}
	}
}

func TestHashIsZero(t *testing.T) {
	var h Hash
	if !h.IsZero() {
		t.Fatalf("zero hash reported non-zero")
	}
	h[31] = 1
	if h.IsZero() {
		t.Fatalf("non-zero hash reported zero")
	}
}

func TestHashFormat(t *testing.T) {
	h := HexToHash("0xff")
	if got := fmt.Sprintf("%v", h); got != h.Hex() {
		t.Errorf("%%v: have %s want %s", got, h.Hex())
	}
	if got := fmt.Sprintf("%s", h); got != h.Hex() {
		t.Errorf("%%s: have %s want %s", got, h.Hex())
	}
}
