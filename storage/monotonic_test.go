// USB trace storage primitives
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package storage

import (
	"testing"
)

func TestMonotonicIndexRegularStride(t *testing.T) {
	idx := NewMonotonicIndex(0)
	defer idx.Close()

	for i := uint64(0); i < 1000; i++ {
		if err := idx.Push(i * 3); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	if got := idx.Len(); got != 1000 {
		t.Fatalf("Len() = %d, want 1000", got)
	}

	if got := idx.EntryCount(); got != 1 {
		t.Fatalf("EntryCount() = %d, want 1 for a single regular run", got)
	}

	for i := uint64(0); i < 1000; i++ {
		v, err := idx.Get(i)
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if v != i*3 {
			t.Fatalf("Get(%d) = %d, want %d", i, v, i*3)
		}
	}
}

func TestMonotonicIndexIrregular(t *testing.T) {
	idx := NewMonotonicIndex(0)
	defer idx.Close()

	values := []uint64{0, 1, 1, 2, 10, 10, 10, 11, 100}
	for _, v := range values {
		if err := idx.Push(v); err != nil {
			t.Fatalf("push %d: %v", v, err)
		}
	}

	if got := idx.Len(); got != uint64(len(values)) {
		t.Fatalf("Len() = %d, want %d", got, len(values))
	}

	got, err := idx.GetRange(0, uint64(len(values)))
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	for i, want := range values {
		if got[i] != want {
			t.Fatalf("GetRange()[%d] = %d, want %d", i, got[i], want)
		}
	}
}

func TestMonotonicIndexOutOfBounds(t *testing.T) {
	idx := NewMonotonicIndex(0)
	defer idx.Close()

	idx.Push(1)
	idx.Push(2)

	if _, err := idx.Get(5); err == nil {
		t.Fatal("Get(5) on a 2-entry index should fail")
	}
}

func TestMonotonicIndexSpill(t *testing.T) {
	idx := NewMonotonicIndex(8) // force spill almost immediately
	defer idx.Close()

	for i := uint64(0); i < 5000; i++ {
		if err := idx.Push(i); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	v, err := idx.Get(4999)
	if err != nil {
		t.Fatalf("Get(4999): %v", err)
	}
	if v != 4999 {
		t.Fatalf("Get(4999) = %d, want 4999", v)
	}
}
