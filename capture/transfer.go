// USB traffic decoder
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package capture

// transferUpdate runs the transfer-level FSM for the transaction just
// completed by the transaction FSM, including the retry guard: a
// transaction that did not complete cleanly (exactly 3 packets ending
// ACK) is folded into the in-progress transfer as a failed attempt
// rather than starting or ending anything.
func (c *Capture) transferUpdate() error {
	endpointID := c.txn.endpointID
	ep := c.endpoints.get(endpointID)

	status := ep.status(c.txn.first)
	completed := c.txn.count == 3 && c.txn.last == PIDAck
	retryNeeded := ep.transactionCount > 0 && status != statusInvalid && !completed

	if retryNeeded {
		return c.transferAppend(false)
	}

	switch status {
	case statusNew:
		if err := c.transferEnd(); err != nil {
			return err
		}
		if err := c.transferStart(); err != nil {
			return err
		}
		return c.transferAppend(true)
	case statusContinue:
		return c.transferAppend(true)
	case statusDone:
		if err := c.transferAppend(true); err != nil {
			return err
		}
		return c.transferEnd()
	case statusInvalid:
		if err := c.transferEnd(); err != nil {
			return err
		}
		if err := c.transferStart(); err != nil {
			return err
		}
		if err := c.transferAppend(false); err != nil {
			return err
		}
		return c.transferEnd()
	}
	return nil
}

// transferStart opens a new transfer on the current transaction's
// endpoint.
func (c *Capture) transferStart() error {
	if err := c.itemIndex.Push(c.transferEntryCount); err != nil {
		return err
	}
	endpointID := c.txn.endpointID
	c.lastItemEndpoint = int32(endpointID)
	if err := c.addTransferEntry(endpointID, true); err != nil {
		return err
	}
	ep := c.endpoints.get(endpointID)
	ep.transactionStart = ep.transactionIDs.Len()
	ep.transactionCount = 0
	return ep.transferIndex.Push(ep.transactionStart)
}

// transferAppend records the current transaction onto the endpoint's
// open transfer. ep.last only advances on success, so a failed retry
// attempt (success == false) leaves the endpoint's transfer-level state
// exactly as it was before the retry.
func (c *Capture) transferAppend(success bool) error {
	endpointID := c.txn.endpointID
	ep := c.endpoints.get(endpointID)
	if err := ep.transactionIDs.Push(c.transactionIndex.Len()); err != nil {
		return err
	}
	ep.transactionCount++
	if success {
		ep.last = c.txn.first
	}
	return nil
}

// transferEnd closes the current transaction's endpoint's open transfer,
// if one is open. A second top-level item is pushed only when this
// transfer's end is separated from its start by activity recorded
// against a different endpoint in between — an uninterrupted transfer
// gets exactly one top-level item covering both ends.
func (c *Capture) transferEnd() error {
	endpointID := c.txn.endpointID
	ep := c.endpoints.get(endpointID)
	if ep.transactionCount > 0 {
		if c.lastItemEndpoint != int32(endpointID) {
			if err := c.itemIndex.Push(c.transferEntryCount); err != nil {
				return err
			}
			c.lastItemEndpoint = int32(endpointID)
		}
		if err := c.addTransferEntry(endpointID, false); err != nil {
			return err
		}
	}
	ep.transactionCount = 0
	ep.last = PIDMalformed
	return nil
}

// addTransferEntry appends one packed TransferIndexEntry to the global
// transfer index and snapshots the endpoint-state timeline.
func (c *Capture) addTransferEntry(endpointID uint16, isStart bool) error {
	ep := c.endpoints.get(endpointID)
	entry := newTransferIndexEntry(endpointID, ep.transferIndex.Len(), isStart)
	if err := c.transferIndex.Append(entry.Bytes()); err != nil {
		return err
	}
	c.transferEntryCount++
	return c.snapshotEndpointStates(endpointID, isStart)
}
