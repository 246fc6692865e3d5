// USB traffic decoder
// https://github.com/usbarmory/usbtrace
//
// Copyright (c) The USB armory Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// The usbtrace command replays a length-prefixed packet dump through
// capture.Capture and either prints its storage summary or serves it over
// HTTP for inspection.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"golang.org/x/time/rate"

	"github.com/usbarmory/usbtrace/capture"
	"github.com/usbarmory/usbtrace/diagnostics"
)

func main() {
	log.SetFlags(0)

	var (
		replayRate = flag.Float64("replay-rate", 0, "packets per second, 0 for unthrottled")
		listenAddr = flag.String("listen", "", "serve diagnostics on this address instead of exiting")
		spill      = flag.Int("spill-threshold", 0, "bytes held in memory before a storage vector spills to disk, 0 for default")
		verify     = flag.Bool("verify", false, "verify the packet byte vector digest before reporting")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <capture file>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		log.Fatalf("usbtrace: %v", err)
	}
	defer f.Close()

	c := capture.NewCapture(*spill)
	defer c.Close()

	if err := replay(f, c, *replayRate); err != nil {
		log.Fatalf("usbtrace: %v", err)
	}

	if *verify {
		if err := c.VerifyIntegrity(); err != nil {
			log.Fatalf("usbtrace: %v", err)
		}
	}

	if *listenAddr != "" {
		log.Printf("usbtrace: serving diagnostics on %s", *listenAddr)
		if err := diagnostics.Serve(*listenAddr, c); err != nil {
			log.Fatalf("usbtrace: %v", err)
		}
		return
	}

	if err := c.PrintStorageSummary(os.Stdout); err != nil {
		log.Fatalf("usbtrace: %v", err)
	}
}

// replay feeds every length-prefixed packet in r through c, optionally
// throttled to packetsPerSecond (0 disables throttling). Each record is a
// little-endian uint32 byte length followed by that many raw packet
// bytes.
func replay(r io.Reader, c *capture.Capture, packetsPerSecond float64) error {
	var limiter *rate.Limiter
	if packetsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(packetsPerSecond), 1)
	}

	ctx := context.Background()
	var length uint32
	for {
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read packet length: %w", err)
		}

		packet := make([]byte, length)
		if _, err := io.ReadFull(r, packet); err != nil {
			return fmt.Errorf("read packet body: %w", err)
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return fmt.Errorf("replay rate limiter: %w", err)
			}
		}

		if err := c.HandleRawPacket(packet); err != nil {
			return fmt.Errorf("handle packet: %w", err)
		}
	}
}
