// USB traffic decoder
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package capture implements the ingest pipeline (packet → transaction →
// transfer), the hierarchical transfer/transaction/packet index, the
// per-endpoint activity timeline, and the query API used to navigate and
// summarize a decoded USB capture.
package capture

// PID is the one-byte USB Packet Identifier carried in byte 0 of every
// packet. Any byte not in the sixteen defined values decodes as
// PIDMalformed.
type PID uint8

// Token, data, handshake and special packet identifiers, USB2.0 Table 8-1.
const (
	PIDReserved  PID = 0xF0
	PIDOut       PID = 0xE1
	PIDAck       PID = 0xD2
	PIDData0     PID = 0xC3
	PIDPing      PID = 0xB4
	PIDSOF       PID = 0xA5
	PIDNyet      PID = 0x96
	PIDData2     PID = 0x87
	PIDSplit     PID = 0x78
	PIDIn        PID = 0x69
	PIDNak       PID = 0x5A
	PIDData1     PID = 0x4B
	PIDErr       PID = 0x3C
	PIDSetup     PID = 0x2D
	PIDStall     PID = 0x1E
	PIDMData     PID = 0x0F
	PIDMalformed PID = 0x00
)

var pidNames = map[PID]string{
	PIDReserved: "RSVD",
	PIDOut:      "OUT",
	PIDAck:      "ACK",
	PIDData0:    "DATA0",
	PIDPing:     "PING",
	PIDSOF:      "SOF",
	PIDNyet:     "NYET",
	PIDData2:    "DATA2",
	PIDSplit:    "SPLIT",
	PIDIn:       "IN",
	PIDNak:      "NAK",
	PIDData1:    "DATA1",
	PIDErr:      "ERR",
	PIDSetup:    "SETUP",
	PIDStall:    "STALL",
	PIDMData:    "MDATA",
}

// pidFromByte classifies b into one of the sixteen named PIDs, or
// PIDMalformed for anything else.
func pidFromByte(b byte) PID {
	if _, ok := pidNames[PID(b)]; ok {
		return PID(b)
	}
	return PIDMalformed
}

// String renders the PID as its bare name, or "Malformed" for anything
// unrecognized.
func (p PID) String() string {
	if name, ok := pidNames[p]; ok {
		return name
	}
	return "Malformed"
}
