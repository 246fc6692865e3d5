// USB traffic decoder
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package capture

import "encoding/binary"

// SOFFields is the packed 16-bit little-endian layout of a Start-of-Frame
// packet's two payload bytes: bits 0..11 frame number, bits 11..16 CRC.
type SOFFields struct {
	raw uint16
}

func (f SOFFields) FrameNumber() uint16 { return f.raw & 0x07FF }
func (f SOFFields) CRC() uint8          { return uint8(f.raw >> 11) }

// TokenFields is the packed 16-bit little-endian layout of a
// SETUP/IN/OUT token's two payload bytes: bits 0..7 device address,
// bits 7..11 endpoint number, bits 11..16 CRC.
type TokenFields struct {
	raw uint16
}

func (f TokenFields) DeviceAddress() uint8  { return uint8(f.raw & 0x7F) }
func (f TokenFields) EndpointNumber() uint8 { return uint8((f.raw >> 7) & 0x0F) }
func (f TokenFields) CRC() uint8            { return uint8(f.raw >> 11) }

// DataFields holds the 16-bit CRC trailing a DATA0/DATA1 packet.
type DataFields struct {
	CRC uint16
}

// PacketKind distinguishes the packed-field shape available for a packet.
type PacketKind uint8

const (
	PacketKindNone PacketKind = iota
	PacketKindSOF
	PacketKindToken
	PacketKindData
)

// PacketFields is a tagged union over the field layout decoded from a
// packet's PID, matching exactly one of SOF, Token, Data or None.
// DATA2/MDATA packets are classified as None by design: this decoder
// only targets full/low/high-speed traffic, not high-speed split
// transactions.
type PacketFields struct {
	Kind  PacketKind
	SOF   SOFFields
	Token TokenFields
	Data  DataFields
}

// packetFieldsFromPacket decodes packet's PID-dependent payload fields.
// packet must be non-empty; callers enforce that contract. A packet
// shorter than the 3 bytes every field layout needs decodes as None.
func packetFieldsFromPacket(packet []byte) PacketFields {
	pid := pidFromByte(packet[0])
	if len(packet) < 3 {
		return PacketFields{Kind: PacketKindNone}
	}
	switch pid {
	case PIDSOF:
		return PacketFields{Kind: PacketKindSOF, SOF: SOFFields{raw: le16(packet)}}
	case PIDSetup, PIDIn, PIDOut:
		return PacketFields{Kind: PacketKindToken, Token: TokenFields{raw: le16(packet)}}
	case PIDData0, PIDData1:
		end := len(packet)
		return PacketFields{Kind: PacketKindData, Data: DataFields{
			CRC: binary.LittleEndian.Uint16(packet[end-2 : end]),
		}}
	default:
		return PacketFields{Kind: PacketKindNone}
	}
}

// le16 reads the two bytes following the PID byte (packet[1], packet[2])
// as a little-endian uint16, the shared layout of SOF and token packets.
func le16(packet []byte) uint16 {
	return binary.LittleEndian.Uint16(packet[1:3])
}

// RequestRecipient is the 5-bit recipient field of a setup packet's
// bmRequestType byte.
type RequestRecipient uint8

const (
	RecipientDevice RequestRecipient = iota
	RecipientInterface
	RecipientEndpoint
	RecipientOther
	RecipientReserved
)

// RequestType is the 2-bit type field of a setup packet's bmRequestType
// byte.
type RequestType uint8

const (
	RequestTypeStandard RequestType = iota
	RequestTypeClass
	RequestTypeVendor
	RequestTypeReserved
)

func (t RequestType) String() string {
	switch t {
	case RequestTypeStandard:
		return "Standard"
	case RequestTypeClass:
		return "Class"
	case RequestTypeVendor:
		return "Vendor"
	default:
		return "Reserved"
	}
}

// RequestDirection is the top bit of bmRequestType.
type RequestDirection uint8

const (
	DirectionOut RequestDirection = iota
	DirectionIn
)

// RequestTypeFields decodes a setup packet's single bmRequestType byte:
// bits 0..5 recipient, bits 5..7 type, bit 7 direction.
type RequestTypeFields struct {
	raw uint8
}

func (f RequestTypeFields) Recipient() RequestRecipient {
	switch f.raw & 0x1F {
	case 0:
		return RecipientDevice
	case 1:
		return RecipientInterface
	case 2:
		return RecipientEndpoint
	case 3:
		return RecipientOther
	default:
		return RecipientReserved
	}
}

func (f RequestTypeFields) Type() RequestType {
	return RequestType((f.raw >> 5) & 0x03)
}

func (f RequestTypeFields) Direction() RequestDirection {
	if f.raw&0x80 != 0 {
		return DirectionIn
	}
	return DirectionOut
}

// SetupFields is parsed from the DATA0 packet following a SETUP token,
// i.e. from packet[1:9] of that data packet (packet[0] is its own PID).
type SetupFields struct {
	Type    RequestTypeFields
	Request uint8
	Value   uint16
	Index   uint16
	Length  uint16
}

// setupFieldsFromDataPacket decodes a setup stage's eight-byte payload.
// dataPacket must be at least 9 bytes (PID + 8 payload bytes); callers
// check that before calling.
func setupFieldsFromDataPacket(dataPacket []byte) SetupFields {
	return SetupFields{
		Type:    RequestTypeFields{raw: dataPacket[1]},
		Request: dataPacket[2],
		Value:   binary.LittleEndian.Uint16(dataPacket[3:5]),
		Index:   binary.LittleEndian.Uint16(dataPacket[5:7]),
		Length:  binary.LittleEndian.Uint16(dataPacket[7:9]),
	}
}
