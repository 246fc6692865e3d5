// USB traffic decoder
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package capture

import (
	"encoding/binary"

	"github.com/usbarmory/usbtrace/bits"
)

// TransferIndexEntry is the packed 64-bit little-endian transfer index
// record: bits 0..52 transfer_id (an index into the owning endpoint's
// own transfer_index), bits 52..63 endpoint_id (11 bits), bit 63
// is_start. Two of these are appended per transfer, one at its start
// and one at its end.
type TransferIndexEntry uint64

const (
	transferIDBits = 52
	transferIDMask = (1 << transferIDBits) - 1
	endpointIDBits = 11
	endpointIDMask = (1 << endpointIDBits) - 1

	// MaxTransferID and MaxEndpointID are the largest values the packed
	// layout can hold; callers constructing entries beyond these have
	// exceeded what the on-disk format can represent.
	MaxTransferID = transferIDMask
	MaxEndpointID = endpointIDMask
)

func newTransferIndexEntry(endpointID uint16, transferID uint64, isStart bool) TransferIndexEntry {
	var v uint64
	bits.SetN64(&v, 0, transferIDMask, transferID&transferIDMask)
	bits.SetN64(&v, transferIDBits, endpointIDMask, uint64(endpointID)&endpointIDMask)
	bits.SetTo64(&v, 63, isStart)
	return TransferIndexEntry(v)
}

// TransferID is the index into the owning endpoint's transfer_index.
func (e TransferIndexEntry) TransferID() uint64 {
	v := uint64(e)
	return bits.Get64(&v, 0, transferIDMask)
}

// EndpointID is the endpoint this transfer entry belongs to.
func (e TransferIndexEntry) EndpointID() uint16 {
	v := uint64(e)
	return uint16(bits.Get64(&v, transferIDBits, endpointIDMask))
}

// IsStart reports whether this entry opens (true) or closes (false) a
// transfer.
func (e TransferIndexEntry) IsStart() bool {
	v := uint64(e)
	return bits.Get64(&v, 63, 1) != 0
}

// Bytes encodes the entry as its canonical 8-byte little-endian word.
func (e TransferIndexEntry) Bytes() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(e))
	return b
}

// transferIndexEntryFromBytes decodes an entry previously produced by
// Bytes.
func transferIndexEntryFromBytes(b []byte) TransferIndexEntry {
	return TransferIndexEntry(binary.LittleEndian.Uint64(b))
}

// Endpoint is the packed two-byte record identifying one logical
// (device, endpoint-number) pair: {device_address, endpoint_number}.
type Endpoint struct {
	DeviceAddress  uint8
	EndpointNumber uint8
}

func (e Endpoint) Bytes() []byte {
	return []byte{e.DeviceAddress, e.EndpointNumber}
}

func endpointFromBytes(b []byte) Endpoint {
	return Endpoint{DeviceAddress: b[0], EndpointNumber: b[1]}
}
