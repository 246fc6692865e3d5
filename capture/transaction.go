// USB traffic decoder
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package capture

// decodeStatus is the shared result type of both the transaction-level
// and transfer-level status tables.
type decodeStatus uint8

const (
	statusNew decodeStatus = iota
	statusContinue
	statusDone
	statusInvalid
)

// transactionState is the single mutable link-layer FSM state: the
// running (first, last) PID pair, the position of the transaction's
// first packet, its packet count so far, and the endpoint it targets.
type transactionState struct {
	first      PID
	last       PID
	start      uint64
	count      uint64
	endpointID uint16
}

// status implements the transaction status table: given the packets seen
// so far for this link-layer transaction, classify how the next PID
// extends or closes it.
func (s *transactionState) status(next PID) decodeStatus {
	switch {
	case next == PIDSetup || next == PIDIn || next == PIDOut:
		return statusNew
	case s.last == PIDMalformed && next == PIDSOF:
		return statusNew
	case s.last == PIDSOF && next == PIDSOF:
		return statusContinue
	case s.last == PIDSetup && next == PIDData0:
		return statusContinue
	case s.first == PIDSetup && s.last == PIDData0 && next == PIDAck:
		return statusDone
	case s.last == PIDIn && (next == PIDNak || next == PIDStall):
		return statusDone
	case (s.last == PIDIn || s.last == PIDOut) && (next == PIDData0 || next == PIDData1):
		return statusContinue
	case (s.first == PIDIn || s.first == PIDOut) && (s.last == PIDData0 || s.last == PIDData1) && next == PIDAck:
		return statusDone
	case s.first == PIDOut && (s.last == PIDData0 || s.last == PIDData1) && (next == PIDNak || next == PIDStall):
		return statusDone
	default:
		return statusInvalid
	}
}
