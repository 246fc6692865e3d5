// USB trace storage primitives
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package storage

import (
	"bytes"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Digest wraps a ByteVec with a running BLAKE2b-256 hash over every byte
// appended through it, so Verify can detect backing bytes that were lost,
// altered or added without passing through the digest. Corruption must
// be reported, never absorbed. The running hash is held in memory only:
// it does not outlive the process, and nothing here reopens an existing
// spill file. The hash is fed incrementally, so Append never holds more
// than the current chunk in memory.
type Digest struct {
	ByteVec
	h hash.Hash
}

// NewDigest wraps vec, tracking a running digest of everything appended
// through the returned Digest. Data already present in vec before
// wrapping is not covered; wrap at construction time.
func NewDigest(vec ByteVec) *Digest {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only fails for an oversized key, and nil
		// is always accepted.
		panic(err)
	}
	return &Digest{ByteVec: vec, h: h}
}

func (d *Digest) Append(p []byte) error {
	if err := d.ByteVec.Append(p); err != nil {
		return err
	}
	d.h.Write(p)
	return nil
}

// Sum returns the digest over everything appended so far.
func (d *Digest) Sum() [32]byte {
	var out [32]byte
	copy(out[:], d.h.Sum(nil))
	return out
}

// Verify recomputes the digest from the full backing contents and
// compares it against the running hash recorded during Append. A
// mismatch means bytes were lost or altered between writes and reads,
// and must be treated as a fatal storage failure by the caller.
func (d *Digest) Verify() error {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err)
	}

	const chunk = 1 << 20
	total := d.ByteVec.Len()

	for off := uint64(0); off < total; off += chunk {
		end := off + chunk
		if end > total {
			end = total
		}
		p, err := d.ByteVec.GetRange(off, end)
		if err != nil {
			return fmt.Errorf("storage: digest verify: %w", err)
		}
		h.Write(p)
	}

	if !bytes.Equal(h.Sum(nil), d.h.Sum(nil)) {
		return fmt.Errorf("storage: digest mismatch, spilled storage is corrupt")
	}
	return nil
}
