// USB traffic decoder
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package capture

import "fmt"

// ItemKind distinguishes the three levels of the hierarchical view.
type ItemKind uint8

const (
	KindTransfer ItemKind = iota
	KindTransaction
	KindPacket
)

// Item is the tagged union over the three levels of the hierarchy: a
// transfer is identified by its global transfer-entry id, a transaction
// additionally carries the global transaction id, and a packet
// additionally carries the global packet id.
type Item struct {
	Kind            ItemKind
	TransferEntryID uint64
	TransactionID   uint64
	PacketID        uint64
}

// TransferItem constructs a transfer-level Item for transfer-index
// entry u.
func TransferItem(u uint64) Item {
	return Item{Kind: KindTransfer, TransferEntryID: u}
}

// TransactionItem constructs a transaction-level Item: u is the
// transfer-entry id it belongs to, v the global transaction id.
func TransactionItem(u, v uint64) Item {
	return Item{Kind: KindTransaction, TransferEntryID: u, TransactionID: v}
}

// PacketItem constructs a packet-level Item: u and v identify the
// owning transfer entry and transaction, w is the global packet id.
func PacketItem(u, v, w uint64) Item {
	return Item{Kind: KindPacket, TransferEntryID: u, TransactionID: v, PacketID: w}
}

// indexRange reads idx[id] and either idx[id+1] or length when id+1 is
// past the end, giving the [start,end) span of the id-th element — the
// same index-arithmetic trick that recovers the "last" item's end bound
// without a stored length anywhere.
func indexRange(idx interface {
	Len() uint64
	Get(uint64) (uint64, error)
}, length, id uint64) (start, end uint64, err error) {
	start, err = idx.Get(id)
	if err != nil {
		return 0, 0, err
	}
	if id+2 > idx.Len() {
		return start, length, nil
	}
	end, err = idx.Get(id + 1)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// transferEntry returns the decoded TransferIndexEntry at id.
func (c *Capture) transferEntry(id uint64) (TransferIndexEntry, error) {
	b, err := c.transferIndex.GetRange(id*8, id*8+8)
	if err != nil {
		return 0, err
	}
	return transferIndexEntryFromBytes(b), nil
}

// itemRange returns the [start,end) span of children an item has: a
// transaction range for a transfer, a packet range for a transaction, a
// packet-byte range for a packet.
func (c *Capture) itemRange(item Item) (start, end uint64, err error) {
	switch item.Kind {
	case KindTransfer:
		entry, err := c.transferEntry(item.TransferEntryID)
		if err != nil {
			return 0, 0, err
		}
		ep := c.endpoints.get(entry.EndpointID())
		return indexRange(ep.transferIndex, ep.transactionIDs.Len(), entry.TransferID())
	case KindTransaction:
		return indexRange(c.transactionIndex, c.packetIndex.Len(), item.TransactionID)
	case KindPacket:
		return indexRange(c.packetIndex, c.packetData.Len(), item.PacketID)
	}
	return 0, 0, fmt.Errorf("capture: itemRange: unknown item kind %d", item.Kind)
}

// ItemCount answers item_count(parent): the number of children parent
// has. A nil parent asks for the top-level item count.
func (c *Capture) ItemCount(parent *Item) (uint64, error) {
	if parent == nil {
		return c.itemIndex.Len(), nil
	}

	switch parent.Kind {
	case KindTransfer:
		entry, err := c.transferEntry(parent.TransferEntryID)
		if err != nil {
			return 0, err
		}
		if !entry.IsStart() {
			return 0, nil
		}
		start, end, err := c.itemRange(*parent)
		if err != nil {
			return 0, err
		}
		return end - start, nil
	case KindTransaction:
		start, end, err := c.itemRange(*parent)
		if err != nil {
			return 0, err
		}
		return end - start, nil
	case KindPacket:
		return 0, nil
	}
	return 0, fmt.Errorf("capture: ItemCount: unknown item kind %d", parent.Kind)
}

// GetItem answers get_item(parent, index). Calling it with a Packet
// parent is a contract violation — packets have no children — and panics
// rather than returning a zero Item, so the bug surfaces immediately
// instead of propagating a meaningless result.
func (c *Capture) GetItem(parent *Item, index uint64) (Item, error) {
	if parent == nil {
		id, err := c.itemIndex.Get(index)
		if err != nil {
			return Item{}, err
		}
		return TransferItem(id), nil
	}

	switch parent.Kind {
	case KindTransfer:
		entry, err := c.transferEntry(parent.TransferEntryID)
		if err != nil {
			return Item{}, err
		}
		ep := c.endpoints.get(entry.EndpointID())
		offset, err := ep.transferIndex.Get(entry.TransferID())
		if err != nil {
			return Item{}, err
		}
		transactionID, err := ep.transactionIDs.Get(offset + index)
		if err != nil {
			return Item{}, err
		}
		return TransactionItem(parent.TransferEntryID, transactionID), nil
	case KindTransaction:
		start, err := c.transactionIndex.Get(parent.TransactionID)
		if err != nil {
			return Item{}, err
		}
		return PacketItem(parent.TransferEntryID, parent.TransactionID, start+index), nil
	case KindPacket:
		panic("capture: GetItem: packets do not have children")
	}
	return Item{}, fmt.Errorf("capture: GetItem: unknown item kind %d", parent.Kind)
}
