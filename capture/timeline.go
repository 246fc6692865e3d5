// USB traffic decoder
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package capture

// snapshotEndpointStates runs on every transfer-entry append: it
// transitions every endpoint's rendering state, then appends the full
// state vector to the flat endpoint_states byte array and records its
// start offset.
func (c *Capture) snapshotEndpointStates(endpointID uint16, isStart bool) error {
	for i := range c.lastEndpointState {
		same := uint16(i) == endpointID
		last := c.lastEndpointState[i]

		switch {
		case same && isStart:
			c.lastEndpointState[i] = StateStarting
		case same && !isStart:
			c.lastEndpointState[i] = StateEnding
		case !same && (last == StateStarting || last == StateOngoing):
			c.lastEndpointState[i] = StateOngoing
		case !same:
			c.lastEndpointState[i] = StateIdle
		}
	}

	raw := make([]byte, len(c.lastEndpointState))
	for i, s := range c.lastEndpointState {
		raw[i] = byte(s)
	}

	offset := c.endpointStates.Len()
	if err := c.endpointStates.Append(raw); err != nil {
		return err
	}
	return c.endpointStateIndex.Push(offset)
}

// growEndpointStates extends the resident state vector to cover a newly
// allocated endpoint, starting it Idle. Later snapshots are never
// shorter than earlier ones.
func (c *Capture) growEndpointStates() {
	c.lastEndpointState = append(c.lastEndpointState, StateIdle)
}
