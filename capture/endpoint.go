// USB traffic decoder
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package capture

import "github.com/usbarmory/usbtrace/storage"

// Endpoint address space: device address in [0,128), endpoint number
// in [0,16).
const (
	maxDeviceAddresses = 128
	maxEndpointNumbers = 16
)

// Synthetic endpoint ids pre-registered before any packet is seen.
const (
	endpointIDInvalid = 0
	endpointIDFraming = 1
)

// EndpointType is derived from an endpoint's number: 0 is the control
// endpoint, 0xFE and 0xFF are the synthetic Framing and Invalid
// endpoints, anything else is a normal (bulk) endpoint.
type EndpointType uint8

const (
	EndpointControl EndpointType = 0
	EndpointNormal  EndpointType = 1
	EndpointFraming EndpointType = 0xFE
	EndpointInvalid EndpointType = 0xFF
)

func endpointTypeFromNumber(num uint8) EndpointType {
	switch num {
	case 0:
		return EndpointControl
	case 0xFE:
		return EndpointFraming
	case 0xFF:
		return EndpointInvalid
	default:
		return EndpointNormal
	}
}

// EndpointState is one of the four connector-rendering states tracked
// per endpoint on every transfer boundary.
type EndpointState uint8

const (
	StateIdle EndpointState = iota
	StateStarting
	StateOngoing
	StateEnding
)

// endpointData is the per-endpoint mutable state driving the transfer
// FSM and its index bookkeeping.
type endpointData struct {
	epType EndpointType

	// transactionIDs holds, in order, the global transaction-ids
	// belonging to this endpoint.
	transactionIDs storage.MonotonicIndex

	// transferIndex holds positions into transactionIDs marking the
	// start of each of this endpoint's transfers.
	transferIndex storage.MonotonicIndex

	transactionStart uint64
	transactionCount uint64
	last             PID
}

func newEndpointData(epType EndpointType, spillThreshold int) *endpointData {
	return &endpointData{
		epType:         epType,
		transactionIDs: storage.NewMonotonicIndex(spillThreshold),
		transferIndex:  storage.NewMonotonicIndex(spillThreshold),
		last:           PIDMalformed,
	}
}

func (e *endpointData) Close() error {
	if err := e.transactionIDs.Close(); err != nil {
		return err
	}
	return e.transferIndex.Close()
}

// status implements the transfer-level status table: given this
// endpoint's type, the PID of its last successful transaction, and the
// first PID of the transaction under consideration, classify how it
// affects the endpoint's transfer.
func (e *endpointData) status(next PID) decodeStatus {
	switch e.epType {
	case EndpointControl:
		switch {
		case next == PIDSetup:
			return statusNew
		case e.last == PIDSetup && (next == PIDIn || next == PIDOut):
			return statusContinue
		case e.last == PIDIn && next == PIDIn:
			return statusContinue
		case e.last == PIDOut && next == PIDOut:
			return statusContinue
		case e.last == PIDIn && next == PIDOut:
			return statusDone
		case e.last == PIDOut && next == PIDIn:
			return statusDone
		}
	case EndpointNormal:
		switch {
		case e.last == PIDMalformed && (next == PIDIn || next == PIDOut):
			return statusNew
		case e.last == PIDIn && next == PIDIn:
			return statusContinue
		case e.last == PIDOut && next == PIDOut:
			return statusContinue
		}
	case EndpointFraming:
		switch {
		case e.last == PIDMalformed && next == PIDSOF:
			return statusNew
		case e.last == PIDSOF && next == PIDSOF:
			return statusContinue
		}
	}
	return statusInvalid
}

// endpointRegistry owns endpoint id allocation and the per-device,
// per-endpoint-number lookup table.
type endpointRegistry struct {
	// index[addr][num] caches the allocated endpoint id, or -1 if
	// that (address, number) pair has not appeared yet.
	index [maxDeviceAddresses][maxEndpointNumbers]int32

	endpoints storage.ByteVec // packed two-byte Endpoint records
	data      []*endpointData

	spillThreshold int
}

func newEndpointRegistry(spillThreshold int) *endpointRegistry {
	r := &endpointRegistry{
		endpoints:      storage.NewByteVec(spillThreshold),
		spillThreshold: spillThreshold,
	}
	for a := range r.index {
		for n := range r.index[a] {
			r.index[a][n] = -1
		}
	}
	// Pre-allocate the two synthetic endpoints: id 0 is Invalid, id 1
	// is Framing.
	r.add(0, uint8(EndpointInvalid))
	r.add(0, uint8(EndpointFraming))
	return r
}

func (r *endpointRegistry) add(addr, num uint8) (uint16, error) {
	id := uint16(len(r.data))
	ep := Endpoint{DeviceAddress: addr, EndpointNumber: num}
	if err := r.endpoints.Append(ep.Bytes()); err != nil {
		return 0, err
	}
	r.data = append(r.data, newEndpointData(endpointTypeFromNumber(num), r.spillThreshold))
	return id, nil
}

// lookup returns the endpoint id for (addr, num), allocating it on first
// sight.
func (r *endpointRegistry) lookup(addr, num uint8) (uint16, error) {
	if id := r.index[addr][num]; id >= 0 {
		return uint16(id), nil
	}
	id, err := r.add(addr, num)
	if err != nil {
		return 0, err
	}
	r.index[addr][num] = int32(id)
	return id, nil
}

func (r *endpointRegistry) count() int {
	return len(r.data)
}

func (r *endpointRegistry) get(id uint16) *endpointData {
	return r.data[id]
}

func (r *endpointRegistry) endpoint(id uint16) (Endpoint, error) {
	b, err := r.endpoints.GetRange(uint64(id)*2, uint64(id)*2+2)
	if err != nil {
		return Endpoint{}, err
	}
	return endpointFromBytes(b), nil
}

func (r *endpointRegistry) Close() error {
	for _, d := range r.data {
		if err := d.Close(); err != nil {
			return err
		}
	}
	return r.endpoints.Close()
}
