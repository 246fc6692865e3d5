// USB traffic decoder
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package capture

import "fmt"

// endpointStateSnapshot returns the endpoint-state vector recorded at
// transfer-entry index k.
func (c *Capture) endpointStateSnapshot(k uint64) ([]EndpointState, error) {
	start, err := c.endpointStateIndex.Get(k)
	if err != nil {
		return nil, err
	}
	end := c.endpointStates.Len()
	if k+1 < c.endpointStateIndex.Len() {
		end, err = c.endpointStateIndex.Get(k + 1)
		if err != nil {
			return nil, err
		}
	}
	b, err := c.endpointStates.GetRange(start, end)
	if err != nil {
		return nil, err
	}
	states := make([]EndpointState, len(b))
	for i, v := range b {
		states[i] = EndpointState(v)
	}
	return states, nil
}

// GetConnectors answers get_connectors(item): the fixed-width per-endpoint
// swimlane glyph string for item.
func (c *Capture) GetConnectors(item Item) (string, error) {
	switch item.Kind {
	case KindTransfer:
		return c.transferConnectors(item.TransferEntryID)
	case KindTransaction:
		return c.transactionConnectors(item)
	case KindPacket:
		return c.packetConnectors(item)
	}
	return "", fmt.Errorf("capture: GetConnectors: unknown item kind %d", item.Kind)
}

// transferExtended reports whether the transfer at entry k continues into
// the next transfer entry: the next snapshot still shows its endpoint
// Ongoing.
func (c *Capture) transferExtended(k uint64, ep uint16) (bool, error) {
	if k+1 >= c.endpointStateIndex.Len() {
		return false, nil
	}
	next, err := c.endpointStateSnapshot(k + 1)
	if err != nil {
		return false, err
	}
	if int(ep) >= len(next) {
		return false, nil
	}
	return next[ep] == StateOngoing, nil
}

func (c *Capture) transferConnectors(transferEntryID uint64) (string, error) {
	entry, err := c.transferEntry(transferEntryID)
	if err != nil {
		return "", err
	}

	snapshot, err := c.endpointStateSnapshot(transferEntryID)
	if err != nil {
		return "", err
	}
	n := c.endpoints.count()
	s := len(snapshot)

	glyphs := make([]rune, 0, n)
	thru := false
	for i := 0; i < s; i++ {
		st := snapshot[i]
		if st == StateStarting || st == StateEnding {
			thru = true
		}
		var g rune
		switch st {
		case StateIdle:
			g = ' '
		case StateStarting:
			g = '○'
		case StateEnding:
			g = '└'
		case StateOngoing:
			if thru {
				g = '┼'
			} else {
				g = '│'
			}
		}
		glyphs = append(glyphs, g)
	}
	for i := s; i < n; i++ {
		glyphs = append(glyphs, '─')
	}

	suffix := "──□ "
	if entry.IsStart() {
		suffix = "─"
	}

	return string(glyphs) + suffix, nil
}

func (c *Capture) transactionConnectors(item Item) (string, error) {
	entry, err := c.transferEntry(item.TransferEntryID)
	if err != nil {
		return "", err
	}
	ep := entry.EndpointID()

	transferItem := TransferItem(item.TransferEntryID)
	count, err := c.ItemCount(&transferItem)
	if err != nil {
		return "", err
	}
	extended, err := c.transferExtended(item.TransferEntryID, ep)
	if err != nil {
		return "", err
	}

	index, err := c.transactionIndexWithinTransfer(transferItem, item.TransactionID, count)
	if err != nil {
		return "", err
	}
	isLast := index == count-1 && !extended

	snapshot, err := c.endpointStateSnapshot(item.TransferEntryID)
	if err != nil {
		return "", err
	}
	n := c.endpoints.count()
	s := len(snapshot)

	glyphs := make([]rune, 0, n)
	thru := false
	for i := 0; i < s; i++ {
		onEP := uint16(i) == ep
		if onEP {
			thru = true
		}
		var g rune
		switch {
		case onEP && !isLast:
			g = '├'
		case onEP && isLast:
			g = '└'
		default:
			active := snapshot[i] == StateOngoing || snapshot[i] == StateStarting || snapshot[i] == StateEnding
			switch {
			case !active && !thru:
				g = ' '
			case !active && thru:
				g = '─'
			case active && !thru:
				g = '│'
			default:
				g = '┼'
			}
		}
		glyphs = append(glyphs, g)
	}
	for i := s; i < n; i++ {
		glyphs = append(glyphs, '─')
	}

	return string(glyphs) + "───", nil
}

// transactionIndexWithinTransfer returns the 0-based position of
// transactionID among transfer's children.
func (c *Capture) transactionIndexWithinTransfer(transfer Item, transactionID, count uint64) (uint64, error) {
	for i := uint64(0); i < count; i++ {
		child, err := c.GetItem(&transfer, i)
		if err != nil {
			return 0, err
		}
		if child.TransactionID == transactionID {
			return i, nil
		}
	}
	return count, nil
}

func (c *Capture) packetConnectors(item Item) (string, error) {
	entry, err := c.transferEntry(item.TransferEntryID)
	if err != nil {
		return "", err
	}
	ep := entry.EndpointID()

	transferItem := TransferItem(item.TransferEntryID)
	txnCount, err := c.ItemCount(&transferItem)
	if err != nil {
		return "", err
	}
	extended, err := c.transferExtended(item.TransferEntryID, ep)
	if err != nil {
		return "", err
	}
	txnIndex, err := c.transactionIndexWithinTransfer(transferItem, item.TransactionID, txnCount)
	if err != nil {
		return "", err
	}
	isLastTransaction := txnIndex == txnCount-1 && !extended

	txnItem := TransactionItem(item.TransferEntryID, item.TransactionID)
	pktCount, err := c.ItemCount(&txnItem)
	if err != nil {
		return "", err
	}
	start, _, err := c.transactionPacketRange(item.TransactionID)
	if err != nil {
		return "", err
	}
	isLastPacket := item.PacketID == start+pktCount-1 && isLastTransaction

	snapshot, err := c.endpointStateSnapshot(item.TransferEntryID)
	if err != nil {
		return "", err
	}
	n := c.endpoints.count()
	s := len(snapshot)

	glyphs := make([]rune, 0, n)
	for i := 0; i < s; i++ {
		onEP := uint16(i) == ep
		switch {
		case onEP && isLastTransaction:
			glyphs = append(glyphs, ' ')
		case onEP:
			glyphs = append(glyphs, '│')
		default:
			active := snapshot[i] == StateOngoing || snapshot[i] == StateStarting || snapshot[i] == StateEnding
			if active {
				glyphs = append(glyphs, '│')
			} else {
				glyphs = append(glyphs, ' ')
			}
		}
	}
	for i := s; i < n; i++ {
		glyphs = append(glyphs, ' ')
	}

	suffix := "    ├──"
	if isLastPacket {
		suffix = "    └──"
	}
	return string(glyphs) + suffix, nil
}
