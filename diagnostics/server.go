// USB traffic decoder
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package diagnostics exposes a running capture.Capture over HTTP: its
// storage summary, one-step item navigation, and (via debugcharts) live
// Go runtime charts, for inspecting a capture without a native UI.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	// Registers /debug/charts and friends on http.DefaultServeMux as a
	// side effect of being imported; there is no direct API surface to
	// call.
	_ "github.com/mkevac/debugcharts"

	"github.com/usbarmory/usbtrace/capture"
)

// Server exposes a capture.Capture's diagnostics over HTTP.
type Server struct {
	capture *capture.Capture
	mux     *http.ServeMux
}

// New builds a Server over c, registering its handlers on a fresh mux
// alongside whatever debugcharts installed into http.DefaultServeMux.
func New(c *capture.Capture) *Server {
	s := &Server{capture: c, mux: http.NewServeMux()}
	s.mux.HandleFunc("/summary", s.handleSummary)
	s.mux.HandleFunc("/item", s.handleItem)
	s.mux.Handle("/debug/", http.DefaultServeMux)
	return s
}

// Serve starts an HTTP server on addr exposing c's diagnostics. It blocks
// until the listener fails or the server is shut down.
func Serve(addr string, c *capture.Capture) error {
	return http.ListenAndServe(addr, New(c))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.capture.Summary()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// itemResponse is the JSON shape returned by GET /item.
type itemResponse struct {
	Kind            capture.ItemKind `json:"kind"`
	TransferEntryID uint64           `json:"transfer_entry_id"`
	TransactionID   uint64           `json:"transaction_id,omitempty"`
	PacketID        uint64           `json:"packet_id,omitempty"`
	Summary         string           `json:"summary"`
	Connectors      string           `json:"connectors"`
	ChildCount      uint64           `json:"child_count"`
}

// handleItem answers GET /item?index=N to navigate the top level, or
// GET /item?parent=<kind>,<transfer>,<transaction>,<packet>&index=N to
// step into a previously returned item's children.
func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(r.URL.Query().Get("index"), 10, 64)
	if err != nil {
		http.Error(w, fmt.Sprintf("bad index: %v", err), http.StatusBadRequest)
		return
	}

	var parent *capture.Item
	if raw := r.URL.Query().Get("parent"); raw != "" {
		p, err := parseItem(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("bad parent: %v", err), http.StatusBadRequest)
			return
		}
		parent = &p
	}

	item, err := s.capture.GetItem(parent, index)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	summary, err := s.capture.GetSummary(item)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	connectors, err := s.capture.GetConnectors(item)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	childCount, err := s.capture.ItemCount(&item)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(itemResponse{
		Kind:            item.Kind,
		TransferEntryID: item.TransferEntryID,
		TransactionID:   item.TransactionID,
		PacketID:        item.PacketID,
		Summary:         summary,
		Connectors:      connectors,
		ChildCount:      childCount,
	})
}

// parseItem decodes the "kind,transfer,transaction,packet" encoding
// handleItem uses to round-trip an Item through a query parameter.
func parseItem(raw string) (capture.Item, error) {
	var kind uint8
	var transfer, transaction, packet uint64
	n, err := fmt.Sscanf(raw, "%d,%d,%d,%d", &kind, &transfer, &transaction, &packet)
	if err != nil || n != 4 {
		return capture.Item{}, fmt.Errorf("diagnostics: malformed item %q", raw)
	}
	switch capture.ItemKind(kind) {
	case capture.KindTransfer:
		return capture.TransferItem(transfer), nil
	case capture.KindTransaction:
		return capture.TransactionItem(transfer, transaction), nil
	case capture.KindPacket:
		return capture.PacketItem(transfer, transaction, packet), nil
	}
	return capture.Item{}, fmt.Errorf("diagnostics: unknown item kind %d", kind)
}
