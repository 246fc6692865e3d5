// USB traffic decoder
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package capture implements a streaming USB trace ingest pipeline: raw
// USB packets, fed in one at a time, build a hierarchical transfer/
// transaction/packet index and a per-endpoint activity timeline without
// ever holding the whole trace in memory. Callers drive it with
// HandleRawPacket and read it back with GetItem/ItemCount/GetSummary/
// GetConnectors.
package capture

import (
	"fmt"
	"io"

	"github.com/usbarmory/usbtrace/storage"
)

// Capture owns every index and byte vector backing one decoded trace.
// Nothing here is safe for concurrent use: a Capture has exactly one
// writer.
type Capture struct {
	// itemIndex holds, in order, the transfer-entry ids exposed as
	// top-level items.
	itemIndex storage.MonotonicIndex

	// packetIndex[i] is the byte offset into packetData where the i-th
	// ingested packet's bytes begin. packetData is wrapped in a running
	// digest so a spill file that outlives a crash can be checked for
	// silent corruption before it is trusted again.
	packetIndex storage.MonotonicIndex
	packetData  *storage.Digest

	// transactionIndex[i] is the global packet id of the first packet
	// in the i-th completed transaction.
	transactionIndex storage.MonotonicIndex

	// transferIndex is the flat stream of packed TransferIndexEntry
	// records, two per transfer (start, end).
	transferIndex      storage.ByteVec
	transferEntryCount uint64

	endpoints *endpointRegistry

	endpointStates     storage.ByteVec
	endpointStateIndex storage.MonotonicIndex
	lastEndpointState  []EndpointState

	// lastItemEndpoint is the endpoint id of the most recently opened
	// or closed top-level item, used to decide whether a transfer's end
	// needs its own top-level item or can share the one its start used.
	lastItemEndpoint int32

	txn transactionState

	spillThreshold int
}

// NewCapture returns an empty Capture. spillThreshold bounds the in-memory
// size of each backing byte vector before it spills to disk; 0 selects the
// package default.
func NewCapture(spillThreshold int) *Capture {
	c := &Capture{
		itemIndex:          storage.NewMonotonicIndex(spillThreshold),
		packetIndex:        storage.NewMonotonicIndex(spillThreshold),
		packetData:         storage.NewDigest(storage.NewByteVec(spillThreshold)),
		transactionIndex:   storage.NewMonotonicIndex(spillThreshold),
		transferIndex:      storage.NewByteVec(spillThreshold),
		endpoints:          newEndpointRegistry(spillThreshold),
		endpointStates:     storage.NewByteVec(spillThreshold),
		endpointStateIndex: storage.NewMonotonicIndex(spillThreshold),
		txn:                transactionState{first: PIDMalformed, last: PIDMalformed},
		spillThreshold:     spillThreshold,
	}
	for i := 0; i < c.endpoints.count(); i++ {
		c.growEndpointStates()
	}
	return c
}

// Close releases every backing file and mapping. The Capture must not be
// used afterwards.
func (c *Capture) Close() error {
	if err := c.itemIndex.Close(); err != nil {
		return err
	}
	if err := c.packetIndex.Close(); err != nil {
		return err
	}
	if err := c.packetData.Close(); err != nil {
		return err
	}
	if err := c.transactionIndex.Close(); err != nil {
		return err
	}
	if err := c.transferIndex.Close(); err != nil {
		return err
	}
	if err := c.endpointStates.Close(); err != nil {
		return err
	}
	if err := c.endpointStateIndex.Close(); err != nil {
		return err
	}
	return c.endpoints.Close()
}

// HandleRawPacket ingests one raw USB packet: its first byte is the PID,
// the rest is PID-dependent payload. Packets are processed strictly in
// capture order; there is no lookahead.
func (c *Capture) HandleRawPacket(packet []byte) error {
	if len(packet) == 0 {
		return fmt.Errorf("capture: empty packet")
	}

	offset := c.packetData.Len()
	if err := c.packetData.Append(packet); err != nil {
		return err
	}
	packetID := c.packetIndex.Len()
	if err := c.packetIndex.Push(offset); err != nil {
		return err
	}

	return c.transactionUpdate(packet, packetID)
}

// lookupEndpoint resolves (addr, num) to an endpoint id, extending the
// resident endpoint-state vector when the lookup allocates a new
// endpoint.
func (c *Capture) lookupEndpoint(addr, num uint8) (uint16, error) {
	before := uint16(c.endpoints.count())
	id, err := c.endpoints.lookup(addr, num)
	if err != nil {
		return 0, err
	}
	if id == before {
		c.growEndpointStates()
	}
	return id, nil
}

// transactionUpdate runs the transaction-level FSM: classify the
// incoming PID against the transaction in progress and either extend it,
// close it and start a new one, or close it out as a single-packet
// invalid transaction.
func (c *Capture) transactionUpdate(packet []byte, packetID uint64) error {
	next := pidFromByte(packet[0])

	switch c.txn.status(next) {
	case statusNew:
		if err := c.transactionEnd(); err != nil {
			return err
		}
		return c.transactionStart(packet, packetID)
	case statusContinue:
		c.transactionAppend(next)
		return nil
	case statusDone:
		c.transactionAppend(next)
		return c.transactionEnd()
	case statusInvalid:
		if err := c.transactionEnd(); err != nil {
			return err
		}
		if err := c.transactionStart(packet, packetID); err != nil {
			return err
		}
		return c.transactionEnd()
	}
	return nil
}

// transactionStart opens a new transaction on packet, resolving its
// endpoint id from the token fields (SETUP/IN/OUT), the synthetic Framing
// endpoint (SOF), or the synthetic Invalid endpoint (anything else).
func (c *Capture) transactionStart(packet []byte, packetID uint64) error {
	pid := pidFromByte(packet[0])

	var endpointID uint16
	switch pid {
	case PIDSOF:
		endpointID = endpointIDFraming
	case PIDSetup, PIDIn, PIDOut:
		tok := TokenFields{raw: le16(packet)}
		id, err := c.lookupEndpoint(tok.DeviceAddress(), tok.EndpointNumber())
		if err != nil {
			return err
		}
		endpointID = id
	default:
		endpointID = endpointIDInvalid
	}

	c.txn = transactionState{
		first:      pid,
		last:       pid,
		start:      packetID,
		count:      1,
		endpointID: endpointID,
	}
	return nil
}

// transactionAppend extends the transaction in progress with one more
// packet already known (by status) to belong to it.
func (c *Capture) transactionAppend(next PID) {
	c.txn.last = next
	c.txn.count++
}

// transactionEnd closes the transaction in progress, if one is open,
// driving the transfer-level FSM with it and recording it in the global
// transaction index. The transfer-level update must run before this
// transaction's global id is published: transferAppend reads
// c.transactionIndex.Len() as this transaction's about-to-be-assigned
// id.
func (c *Capture) transactionEnd() error {
	if c.txn.count == 0 {
		return nil
	}
	if err := c.transferUpdate(); err != nil {
		return err
	}
	if err := c.transactionIndex.Push(c.txn.start); err != nil {
		return err
	}
	c.txn = transactionState{first: PIDMalformed, last: PIDMalformed}
	return nil
}

// StorageSummary reports the backing-storage footprint of a Capture, for
// diagnostics and the report the CLI prints when run without -listen.
type StorageSummary struct {
	Packets           uint64
	PacketBytes       uint64
	Transactions      uint64
	TransferEntries   uint64
	Endpoints         int
	TotalBackingBytes uint64
}

// Summary computes a StorageSummary snapshot.
func (c *Capture) Summary() StorageSummary {
	total := c.itemIndex.Size() + c.packetIndex.Size() + c.packetData.Size() +
		c.transactionIndex.Size() + c.transferIndex.Size() +
		c.endpointStates.Size() + c.endpointStateIndex.Size()

	return StorageSummary{
		Packets:           c.packetIndex.Len(),
		PacketBytes:       c.packetData.Len(),
		Transactions:      c.transactionIndex.Len(),
		TransferEntries:   c.transferEntryCount,
		Endpoints:         c.endpoints.count(),
		TotalBackingBytes: total,
	}
}

// VerifyIntegrity recomputes the digest over the raw packet bytes recorded
// so far and compares it against the one accumulated during ingest. A
// mismatch means the packet byte vector was silently truncated or altered,
// most likely by a crash between a spill and its next read, and the
// Capture must be discarded rather than queried further.
func (c *Capture) VerifyIntegrity() error {
	return c.packetData.Verify()
}

// PrintStorageSummary writes a plain-text storage diagnostic report to w.
func (c *Capture) PrintStorageSummary(w io.Writer) error {
	s := c.Summary()
	_, err := fmt.Fprintf(w,
		"packets: %d (%d bytes)\ntransactions: %d\ntransfer entries: %d\nendpoints: %d\nbacking storage: %d bytes\n",
		s.Packets, s.PacketBytes, s.Transactions, s.TransferEntries, s.Endpoints, s.TotalBackingBytes)
	return err
}
