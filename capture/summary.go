// USB traffic decoder
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package capture

import (
	"encoding/hex"
	"fmt"
)

// packetBytes returns a copy of the id-th ingested packet's raw bytes.
func (c *Capture) packetBytes(id uint64) ([]byte, error) {
	start, err := c.packetIndex.Get(id)
	if err != nil {
		return nil, err
	}
	end := c.packetData.Len()
	if id+1 < c.packetIndex.Len() {
		end, err = c.packetIndex.Get(id + 1)
		if err != nil {
			return nil, err
		}
	}
	return c.packetData.GetRange(start, end)
}

// GetSummary answers get_summary(item): a one-line human-readable
// description of item.
func (c *Capture) GetSummary(item Item) (string, error) {
	switch item.Kind {
	case KindPacket:
		return c.packetSummary(item.PacketID)
	case KindTransaction:
		return c.transactionSummary(item.TransactionID)
	case KindTransfer:
		return c.transferSummary(item.TransferEntryID)
	}
	return "", fmt.Errorf("capture: GetSummary: unknown item kind %d", item.Kind)
}

func (c *Capture) packetSummary(id uint64) (string, error) {
	b, err := c.packetBytes(id)
	if err != nil {
		return "", err
	}

	pid := pidFromByte(b[0])
	fields := packetFieldsFromPacket(b)

	var suffix string
	switch fields.Kind {
	case PacketKindSOF:
		suffix = fmt.Sprintf(" with frame number %d, CRC 0x%x", fields.SOF.FrameNumber(), fields.SOF.CRC())
	case PacketKindToken:
		suffix = fmt.Sprintf(" on %d.%d, CRC 0x%x", fields.Token.DeviceAddress(), fields.Token.EndpointNumber(), fields.Token.CRC())
	case PacketKindData:
		suffix = fmt.Sprintf(" with %d data bytes and CRC 0x%04x", len(b)-3, fields.Data.CRC)
	}

	return fmt.Sprintf("%s packet%s: %s", pid, suffix, hex.EncodeToString(b)), nil
}

// transactionPacketRange returns the [start,end) global packet-id range
// belonging to transaction v.
func (c *Capture) transactionPacketRange(v uint64) (start, end uint64, err error) {
	return indexRange(c.transactionIndex, c.packetIndex.Len(), v)
}

func (c *Capture) transactionSummary(v uint64) (string, error) {
	start, end, err := c.transactionPacketRange(v)
	if err != nil {
		return "", err
	}
	count := end - start

	first, err := c.packetBytes(start)
	if err != nil {
		return "", err
	}
	pid := pidFromByte(first[0])

	hasPayload := false
	payloadSize := 0
	if count >= 2 {
		second, err := c.packetBytes(start + 1)
		if err != nil {
			return "", err
		}
		if p := pidFromByte(second[0]); p == PIDData0 || p == PIDData1 {
			hasPayload = true
			payloadSize = len(second) - 3
		}
	}

	switch {
	case pid == PIDSOF:
		return fmt.Sprintf("%d SOF packets", count), nil
	case hasPayload:
		return fmt.Sprintf("%s transaction, %d packets with %d data bytes", pid, count, payloadSize), nil
	default:
		return fmt.Sprintf("%s transaction, %d packets", pid, count), nil
	}
}

func (c *Capture) transferKindName(epType EndpointType, addr, num uint8) string {
	switch epType {
	case EndpointInvalid:
		return "invalid groups"
	case EndpointFraming:
		return "SOF groups"
	case EndpointControl:
		return fmt.Sprintf("control transfer on device %d", addr)
	default:
		return fmt.Sprintf("bulk transfer on endpoint %d.%d", addr, num)
	}
}

func (c *Capture) transferSummary(transferEntryID uint64) (string, error) {
	entry, err := c.transferEntry(transferEntryID)
	if err != nil {
		return "", err
	}
	ep := c.endpoints.get(entry.EndpointID())
	rec, err := c.endpoints.endpoint(entry.EndpointID())
	if err != nil {
		return "", err
	}

	if !entry.IsStart() {
		return "End of " + c.transferKindName(ep.epType, rec.DeviceAddress, rec.EndpointNumber), nil
	}

	item := TransferItem(transferEntryID)
	count, err := c.ItemCount(&item)
	if err != nil {
		return "", err
	}

	switch ep.epType {
	case EndpointInvalid:
		return fmt.Sprintf("%d invalid groups", count), nil
	case EndpointFraming:
		return fmt.Sprintf("%d SOF groups", count), nil
	case EndpointNormal:
		return fmt.Sprintf("Bulk transfer with %d transactions on endpoint %d.%d", count, rec.DeviceAddress, rec.EndpointNumber), nil
	case EndpointControl:
		return c.controlTransferSummary(item, count, rec.DeviceAddress)
	}
	return "", fmt.Errorf("capture: transferSummary: unknown endpoint type %d", ep.epType)
}

// controlTransferSummary builds the summary for a control transfer:
// decode the setup stage from the first transaction's second packet, sum
// data bytes across direction-matching transactions, and render the
// three clauses.
func (c *Capture) controlTransferSummary(transfer Item, transactionCount uint64, addr uint8) (string, error) {
	firstTxn, err := c.GetItem(&transfer, 0)
	if err != nil {
		return "", err
	}
	start, end, err := c.transactionPacketRange(firstTxn.TransactionID)
	if err != nil {
		return "", err
	}
	if end-start < 2 {
		return "", fmt.Errorf("capture: control transfer has no setup data packet")
	}
	setupPacket, err := c.packetBytes(start + 1)
	if err != nil {
		return "", err
	}
	if len(setupPacket) < 9 {
		return "", fmt.Errorf("capture: setup data packet is %d bytes, want at least 9", len(setupPacket))
	}
	setup := setupFieldsFromDataPacket(setupPacket)

	wantPID := PIDOut
	dir := setup.Type.Direction()
	if dir == DirectionIn {
		wantPID = PIDIn
	}

	var dataSize uint16
	for i := uint64(0); i < transactionCount; i++ {
		txn, err := c.GetItem(&transfer, i)
		if err != nil {
			return "", err
		}
		tStart, tEnd, err := c.transactionPacketRange(txn.TransactionID)
		if err != nil {
			return "", err
		}
		first, err := c.packetBytes(tStart)
		if err != nil {
			return "", err
		}
		if pidFromByte(first[0]) != wantPID {
			continue
		}
		if tEnd-tStart < 2 {
			continue
		}
		second, err := c.packetBytes(tStart + 1)
		if err != nil {
			return "", err
		}
		if p := pidFromByte(second[0]); p == PIDData0 || p == PIDData1 {
			dataSize += uint16(len(second) - 3)
		}
	}

	action := actionClause(setup.Type.Type(), setup.Request, setup.Value, setup.Index, setup.Length)
	recipient := recipientClause(setup.Type.Recipient(), addr, setup.Index)
	length := lengthClause(dir, setup.Length, dataSize)

	return fmt.Sprintf("%s for %s%s", action, recipient, length), nil
}
