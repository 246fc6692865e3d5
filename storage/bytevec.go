// USB trace storage primitives
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package storage provides the append-only backing structures consumed by
// package capture: a byte vector and a monotonic integer index, both of
// which may spill to disk so that a capture many times the size of RAM can
// still be randomly accessed.
package storage

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ByteVec is an append-only byte sequence. Implementations may hold the
// whole vector in memory, spill to disk, or both; callers must not assume
// either.
type ByteVec interface {
	// Append copies p onto the end of the vector.
	Append(p []byte) error

	// Get returns the byte at offset i.
	Get(i uint64) (byte, error)

	// GetRange returns a copy of the bytes in [start, end).
	GetRange(start, end uint64) ([]byte, error)

	// Len returns the number of bytes appended so far.
	Len() uint64

	// Size returns the number of bytes of backing storage consumed,
	// which may exceed Len() due to mapping granularity.
	Size() uint64

	// Close releases any backing file or mapping.
	Close() error
}

// defaultSpillThreshold is the in-memory size above which a fileByteVec
// spills its contents to a temporary file and serves reads from a memory
// mapping instead of its Go slice.
const defaultSpillThreshold = 4 << 20

// fileByteVec is the concrete ByteVec: in-memory until it outgrows
// spillThreshold, then backed by a growable mmap over a temporary file.
type fileByteVec struct {
	threshold int

	mem []byte

	file    *os.File
	mapped  []byte
	mapSize int64
	length  uint64
}

// NewByteVec returns a ByteVec that spills to a temporary file once it
// exceeds threshold bytes. A threshold of 0 selects a 4MiB default.
func NewByteVec(threshold int) ByteVec {
	if threshold <= 0 {
		threshold = defaultSpillThreshold
	}
	return &fileByteVec{threshold: threshold}
}

func (v *fileByteVec) Append(p []byte) error {
	if v.file == nil {
		if len(v.mem)+len(p) <= v.threshold {
			v.mem = append(v.mem, p...)
			v.length += uint64(len(p))
			return nil
		}
		if err := v.spill(); err != nil {
			return err
		}
	}
	return v.appendMapped(p)
}

// spill flushes the in-memory buffer to a temporary file and switches to
// mmap-backed storage for all subsequent reads and writes.
func (v *fileByteVec) spill() error {
	f, err := os.CreateTemp("", "usbtrace-bytevec-*")
	if err != nil {
		return fmt.Errorf("storage: create spill file: %w", err)
	}
	if len(v.mem) > 0 {
		if _, err := f.Write(v.mem); err != nil {
			f.Close()
			return fmt.Errorf("storage: spill initial buffer: %w", err)
		}
	}
	v.file = f
	v.mem = nil
	return v.growMap(int64(v.length))
}

// growMap ensures the mmap mapping covers at least size bytes of file,
// doubling the mapped region (like a Go slice) to amortize remap cost.
func (v *fileByteVec) growMap(size int64) error {
	if size <= v.mapSize {
		return nil
	}
	newSize := v.mapSize
	if newSize == 0 {
		newSize = int64(v.threshold)
	}
	for newSize < size {
		newSize *= 2
	}
	if v.mapped != nil {
		if err := unix.Munmap(v.mapped); err != nil {
			return fmt.Errorf("storage: munmap: %w", err)
		}
		v.mapped = nil
	}
	if err := v.file.Truncate(newSize); err != nil {
		return fmt.Errorf("storage: truncate spill file: %w", err)
	}
	mapped, err := unix.Mmap(int(v.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("storage: mmap: %w", err)
	}
	v.mapped = mapped
	v.mapSize = newSize
	return nil
}

func (v *fileByteVec) appendMapped(p []byte) error {
	end := int64(v.length) + int64(len(p))
	if err := v.growMap(end); err != nil {
		return err
	}
	copy(v.mapped[v.length:], p)
	v.length += uint64(len(p))
	return nil
}

func (v *fileByteVec) Get(i uint64) (byte, error) {
	b, err := v.GetRange(i, i+1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (v *fileByteVec) GetRange(start, end uint64) ([]byte, error) {
	if start > end || end > v.length {
		return nil, fmt.Errorf("storage: range [%d,%d) out of bounds for length %d", start, end, v.length)
	}
	out := make([]byte, end-start)
	if v.file == nil {
		copy(out, v.mem[start:end])
		return out, nil
	}
	copy(out, v.mapped[start:end])
	return out, nil
}

func (v *fileByteVec) Len() uint64 {
	return v.length
}

func (v *fileByteVec) Size() uint64 {
	if v.file == nil {
		return uint64(len(v.mem))
	}
	return uint64(v.mapSize)
}

func (v *fileByteVec) Close() error {
	if v.mapped != nil {
		if err := unix.Munmap(v.mapped); err != nil {
			return fmt.Errorf("storage: munmap on close: %w", err)
		}
		v.mapped = nil
	}
	if v.file != nil {
		name := v.file.Name()
		if err := v.file.Close(); err != nil {
			return fmt.Errorf("storage: close spill file: %w", err)
		}
		return os.Remove(name)
	}
	return nil
}
