// USB trace storage primitives
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package storage

import "testing"

func TestDigestVerifyClean(t *testing.T) {
	d := NewDigest(NewByteVec(0))
	defer d.Close()

	if err := d.Append([]byte("hello ")); err != nil {
		t.Fatal(err)
	}
	if err := d.Append([]byte("world")); err != nil {
		t.Fatal(err)
	}

	if err := d.Verify(); err != nil {
		t.Fatalf("Verify on untouched digest: %v", err)
	}
}

func TestDigestVerifyDetectsTamper(t *testing.T) {
	inner := NewByteVec(0)
	d := NewDigest(inner)
	defer d.Close()

	if err := d.Append([]byte("hello world")); err != nil {
		t.Fatal(err)
	}

	// Append directly to the wrapped vector, bypassing the digest, to
	// simulate bytes reaching storage without being hashed.
	if err := inner.Append([]byte("!")); err != nil {
		t.Fatal(err)
	}

	if err := d.Verify(); err == nil {
		t.Fatal("Verify succeeded after an unhashed append, want error")
	}
}

func TestDigestSpill(t *testing.T) {
	d := NewDigest(NewByteVec(16))
	defer d.Close()

	var want []byte
	for i := 0; i < 8; i++ {
		chunk := []byte{byte(i), byte(i + 1), byte(i + 2), byte(i + 3)}
		if err := d.Append(chunk); err != nil {
			t.Fatal(err)
		}
		want = append(want, chunk...)
	}

	if err := d.Verify(); err != nil {
		t.Fatalf("Verify after spill: %v", err)
	}

	got, err := d.GetRange(0, d.Len())
	if err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], want[i])
		}
	}
}
