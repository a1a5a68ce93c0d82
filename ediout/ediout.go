// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ediout produces the downstream EDI stream: AF framing of TAG
// payloads, optional PFT fragmentation with Reed-Solomon protection and
// fragment spreading, and fan-out to UDP and TCP destinations.
package ediout // import "github.com/go-dab/edirelay/ediout"

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultTagAlign is the byte alignment of emitted TAG packets.
	DefaultTagAlign = 8

	// DefaultMTU bounds the size of one PFT fragment datagram.
	DefaultMTU = 1400

	frameDuration = 24 * time.Millisecond
)

// PFTSettings selects the PFT layer of the output.
type PFTSettings struct {
	Enable bool
	// Explicit records whether the operator chose Enable; a mix of
	// UDP and TCP destinations is refused without an explicit choice.
	Explicit bool
	// FEC is the number of Reed-Solomon parity fragments per AF
	// packet (0..5). Zero disables FEC.
	FEC int
	// FragmentSpreading spreads the emission of one fragment group
	// over this fraction of the 24 ms frame duration. Zero emits
	// back-to-back; values above 1 interleave consecutive groups.
	FragmentSpreading float64
	MTU               int
}

// UDPDestination describes one UDP output.
type UDPDestination struct {
	Addr       string
	Port       int
	SourceAddr string
	SourcePort int
	TTL        int
}

func (d UDPDestination) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "udp://%s:%d", d.Addr, d.Port)
	if d.SourceAddr != "" || d.SourcePort != 0 {
		fmt.Fprintf(&b, " src=%s:%d", d.SourceAddr, d.SourcePort)
	}
	if d.TTL != 0 {
		fmt.Fprintf(&b, " ttl=%d", d.TTL)
	}
	return b.String()
}

// TCPServer describes one TCP listen output.
type TCPServer struct {
	Port int
}

func (d TCPServer) String() string {
	return fmt.Sprintf("tcp listen on :%d", d.Port)
}

// Configuration describes the complete output side.
type Configuration struct {
	UDP []UDPDestination
	TCP []TCPServer
	PFT PFTSettings

	// TagAlign pads emitted TAG packets with *dmy to a multiple of
	// this many bytes. Zero selects DefaultTagAlign.
	TagAlign int
}

// Enabled reports whether at least one destination is configured.
func (cfg Configuration) Enabled() bool {
	return len(cfg.UDP)+len(cfg.TCP) > 0
}

func (cfg Configuration) validate() error {
	if len(cfg.UDP) > 0 && len(cfg.TCP) > 0 && !cfg.PFT.Explicit {
		return fmt.Errorf("ediout: mixed UDP and TCP destinations need an explicit PFT choice")
	}
	if cfg.PFT.FEC < 0 || cfg.PFT.FEC > 5 {
		return fmt.Errorf("ediout: FEC out of range (got=%d, want=0..5)", cfg.PFT.FEC)
	}
	if cfg.PFT.FragmentSpreading < 0 {
		return fmt.Errorf("ediout: negative fragment spreading factor")
	}
	return nil
}

// destination is one fan-out target.
type destination interface {
	send(p []byte)
	close() error
	String() string
}
