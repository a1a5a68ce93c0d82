// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ediout

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-daq/tdaq/log"
)

// Sender fans one logical AF packet per frame out to all configured
// destinations, as a raw AF bytestream or as PFT fragments.
type Sender struct {
	msg log.MsgStream
	cfg Configuration

	dests []destination
	il    *interleaver

	mu        sync.Mutex
	afSeq     uint16
	pseq      uint16
	afSeqOvr  bool
	afSeqNext uint16
	pseqOvr   bool
	pseqNext  uint16
}

// NewSender validates the configuration and opens all destinations.
func NewSender(cfg Configuration, msg log.MsgStream) (*Sender, error) {
	err := cfg.validate()
	if err != nil {
		return nil, err
	}

	s := &Sender{msg: msg, cfg: cfg}
	for _, d := range cfg.UDP {
		dest, err := newUDPDest(d, msg)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.dests = append(s.dests, dest)
	}
	for _, d := range cfg.TCP {
		dest, err := newTCPServer(d, msg)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.dests = append(s.dests, dest)
	}

	if cfg.PFT.Enable && cfg.PFT.FragmentSpreading > 0 {
		s.il = newInterleaver(s.fanout)
	}
	return s, nil
}

// OverrideAFSequence sets the AF SEQ field of the next packet.
func (s *Sender) OverrideAFSequence(seq uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afSeqOvr = true
	s.afSeqNext = seq
}

// OverridePFTSequence sets the PFT PSEQ of the next packet.
func (s *Sender) OverridePFTSequence(pseq uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pseqOvr = true
	s.pseqNext = pseq
}

// Write emits one TAG packet to all destinations.
func (s *Sender) Write(tagpacket []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	afOvr := s.afSeqOvr
	seq := s.afSeq
	if afOvr {
		seq = s.afSeqNext
		s.afSeqOvr = false
	}
	s.afSeq = seq + 1

	pseq := s.pseq
	switch {
	case s.pseqOvr:
		pseq = s.pseqNext
		s.pseqOvr = false
	case afOvr:
		// callers overriding only the AF sequence expect aligned
		// transport sequences across redundant paths
		pseq = seq
	}
	s.pseq = pseq + 1

	af := assembleAF(padTagPacket(tagpacket, s.cfg.TagAlign), seq)

	if !s.cfg.PFT.Enable {
		s.fanout(af)
		return nil
	}

	frags, err := fragmentAF(af, pseq, s.cfg.PFT.FEC, s.cfg.PFT.MTU)
	if err != nil {
		return err
	}
	if s.il == nil {
		for _, frag := range frags {
			s.fanout(frag)
		}
		return nil
	}

	spread := time.Duration(s.cfg.PFT.FragmentSpreading * float64(frameDuration))
	s.il.schedule(frags, time.Now(), spread)
	return nil
}

func (s *Sender) fanout(p []byte) {
	for _, d := range s.dests {
		d.send(p)
	}
}

// Close tears down all destinations.
func (s *Sender) Close() error {
	if s.il != nil {
		s.il.close()
	}
	var first error
	for _, d := range s.dests {
		err := d.close()
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Describe returns a printable summary of the output configuration.
func (s *Sender) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "EDI output")
	if s.cfg.PFT.Enable {
		fmt.Fprintf(&b, " (PFT fec=%d spread=%.0f%%)",
			s.cfg.PFT.FEC, 100*s.cfg.PFT.FragmentSpreading)
	} else {
		fmt.Fprintf(&b, " (AF)")
	}
	for _, d := range s.dests {
		fmt.Fprintf(&b, "\n  to %v", d)
	}
	return b.String()
}
