// USB traffic decoder
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/usbarmory/usbtrace/capture"
)

func encodeRecord(buf *bytes.Buffer, packet []byte) {
	binary.Write(buf, binary.LittleEndian, uint32(len(packet)))
	buf.Write(packet)
}

func TestReplay(t *testing.T) {
	var buf bytes.Buffer
	encodeRecord(&buf, []byte{0xA5, 0xDE, 0x1E})
	encodeRecord(&buf, []byte{0x2D, 0x01, 0x00})

	c := capture.NewCapture(0)
	defer c.Close()

	if err := replay(&buf, c, 0); err != nil {
		t.Fatalf("replay: %v", err)
	}

	summary := c.Summary()
	if summary.Packets != 2 {
		t.Errorf("Packets = %d, want 2", summary.Packets)
	}
}

func TestReplayTruncatedRecord(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(10))
	buf.Write([]byte{0x01, 0x02})

	c := capture.NewCapture(0)
	defer c.Close()

	if err := replay(&buf, c, 0); err == nil {
		t.Fatal("replay succeeded on a truncated record, want error")
	}
}
