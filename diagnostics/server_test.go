// USB traffic decoder
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package diagnostics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/usbarmory/usbtrace/capture"
)

func TestHandleSummary(t *testing.T) {
	c := capture.NewCapture(0)
	defer c.Close()

	if err := c.HandleRawPacket([]byte{0xA5, 0xDE, 0x1E}); err != nil {
		t.Fatalf("HandleRawPacket: %v", err)
	}

	srv := httptest.NewServer(New(c))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/summary")
	if err != nil {
		t.Fatalf("GET /summary: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var summary capture.StorageSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if summary.Packets != 1 {
		t.Errorf("Packets = %d, want 1", summary.Packets)
	}
}

func TestHandleItemTopLevel(t *testing.T) {
	c := capture.NewCapture(0)
	defer c.Close()

	for frame := uint16(0); frame < 3; frame++ {
		packet := []byte{0xA5, byte(frame), 0}
		if err := c.HandleRawPacket(packet); err != nil {
			t.Fatalf("HandleRawPacket: %v", err)
		}
	}
	if err := c.HandleRawPacket([]byte{0x2D, 0x01, 0x00}); err != nil {
		t.Fatalf("HandleRawPacket: %v", err)
	}

	srv := httptest.NewServer(New(c))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/item?index=0")
	if err != nil {
		t.Fatalf("GET /item: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var item itemResponse
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if item.Kind != capture.KindTransfer {
		t.Errorf("Kind = %v, want Transfer", item.Kind)
	}
	if item.ChildCount != 1 {
		t.Errorf("ChildCount = %d, want 1", item.ChildCount)
	}
}

func TestHandleItemBadIndex(t *testing.T) {
	c := capture.NewCapture(0)
	defer c.Close()

	srv := httptest.NewServer(New(c))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/item?index=notanumber")
	if err != nil {
		t.Fatalf("GET /item: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}
