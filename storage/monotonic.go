// USB trace storage primitives
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package storage

import (
	"encoding/binary"
	"fmt"
)

// MonotonicIndex is an append-only non-decreasing sequence of uint64
// values. Implementations may delta-encode runs of regularly-spaced
// values; callers must not depend on the encoding, only on Push/Get
// ordering.
type MonotonicIndex interface {
	// Push appends a value. The caller guarantees v >= the previous
	// pushed value.
	Push(v uint64) error

	// Get returns the value previously pushed at position i.
	Get(i uint64) (uint64, error)

	// GetRange returns the values pushed at positions [start, end).
	GetRange(start, end uint64) ([]uint64, error)

	// Len returns the number of values pushed.
	Len() uint64

	// EntryCount returns the number of internal runs used to encode
	// the pushed values — always <= Len(), often far smaller for
	// sequential id streams.
	EntryCount() uint64

	// Size returns the number of backing bytes consumed.
	Size() uint64

	// Close releases backing storage.
	Close() error
}

// run-encoding tags, one byte each, written to the backing ByteVec.
const (
	tagNewRun  = 0x00 // followed by uvarint(first value)
	tagStride  = 0x01 // followed by zigzag varint(stride); defines run's step
	tagExtend  = 0x02 // extends the current run by one more step, no payload
)

// run is the in-memory directory entry for one compressed run: count
// consecutive values starting at first and advancing by stride each step
// (stride is 0 and meaningless when count == 1).
type run struct {
	first      uint64
	stride     int64
	count      uint64
	cumulative uint64 // number of values in all preceding runs
}

// hybridIndex is the concrete MonotonicIndex: a small in-memory run
// directory, scanned linearly for random access, backed by an append-only encoded
// log so Size() reports real bytes consumed and the encoding survives a
// spill to disk via the underlying ByteVec.
type hybridIndex struct {
	log       ByteVec
	runs      []run
	lastValue uint64
	total     uint64
}

// NewMonotonicIndex returns a MonotonicIndex backed by a fresh ByteVec
// with the given spill threshold (0 selects the ByteVec default).
func NewMonotonicIndex(spillThreshold int) MonotonicIndex {
	return &hybridIndex{log: NewByteVec(spillThreshold)}
}

func (h *hybridIndex) Push(v uint64) error {
	if len(h.runs) == 0 {
		if err := h.appendTag(tagNewRun, v); err != nil {
			return err
		}
		h.runs = append(h.runs, run{first: v, count: 1})
		h.lastValue = v
		h.total++
		return nil
	}

	last := &h.runs[len(h.runs)-1]

	switch {
	case last.count == 1:
		stride := int64(v) - int64(last.first)
		if err := h.appendTag(tagStride, zigzagEncode(stride)); err != nil {
			return err
		}
		last.stride = stride
		last.count = 2
	case int64(h.lastValue)+last.stride == int64(v):
		if err := h.appendByte(tagExtend); err != nil {
			return err
		}
		last.count++
	default:
		if err := h.appendTag(tagNewRun, v); err != nil {
			return err
		}
		h.runs = append(h.runs, run{first: v, count: 1, cumulative: h.total})
	}

	h.lastValue = v
	h.total++
	return nil
}

func (h *hybridIndex) appendByte(tag byte) error {
	return h.log.Append([]byte{tag})
}

func (h *hybridIndex) appendTag(tag byte, value uint64) error {
	buf := make([]byte, 1+binary.MaxVarintLen64)
	buf[0] = tag
	n := binary.PutUvarint(buf[1:], value)
	return h.log.Append(buf[:1+n])
}

func zigzagEncode(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func (h *hybridIndex) findRun(i uint64) (*run, uint64, error) {
	// Linear scan is adequate: EntryCount() is tiny for the monotonic
	// id streams this index is used for (one run per contiguous
	// append), and binary search would complicate cumulative-count
	// bookkeeping for no measurable benefit at this module's scale.
	for idx := range h.runs {
		r := &h.runs[idx]
		if i < r.cumulative+r.count {
			return r, i - r.cumulative, nil
		}
	}
	return nil, 0, fmt.Errorf("storage: index %d out of bounds for length %d", i, h.total)
}

func (h *hybridIndex) Get(i uint64) (uint64, error) {
	r, offset, err := h.findRun(i)
	if err != nil {
		return 0, err
	}
	if r.count == 1 {
		return r.first, nil
	}
	return uint64(int64(r.first) + r.stride*int64(offset)), nil
}

func (h *hybridIndex) GetRange(start, end uint64) ([]uint64, error) {
	if start > end || end > h.total {
		return nil, fmt.Errorf("storage: range [%d,%d) out of bounds for length %d", start, end, h.total)
	}
	out := make([]uint64, 0, end-start)
	for i := start; i < end; i++ {
		v, err := h.Get(i)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (h *hybridIndex) Len() uint64 {
	return h.total
}

func (h *hybridIndex) EntryCount() uint64 {
	return uint64(len(h.runs))
}

func (h *hybridIndex) Size() uint64 {
	return h.log.Size()
}

func (h *hybridIndex) Close() error {
	return h.log.Close()
}
