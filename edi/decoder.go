// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package edi

import (
	"sync/atomic"

	"github.com/go-daq/tdaq/log"

	"github.com/go-dab/edirelay/internal/timestamp"
)

// DefaultMaxDelay is the number of AF packet durations after which an
// incomplete PFT group is abandoned.
const DefaultMaxDelay = 10

// maxAFLen guards the AF length field against stream desync.
const maxAFLen = 1 << 16

// Stats is a snapshot of the decoder counters.
type Stats struct {
	Frames        uint64 `json:"num_frames"`
	CRCErrors     uint64 `json:"num_crc_errors"`
	ExpiredGroups uint64 `json:"num_expired_pft_groups"`
	Resyncs       uint64 `json:"num_resyncs"`
}

type counters struct {
	frames  atomic.Uint64
	crcErrs atomic.Uint64
	expired atomic.Uint64
	resyncs atomic.Uint64
}

// Decoder reassembles an EDI byte stream into complete AF packets and
// dispatches the TAG items to a Collector. Each source owns one
// decoder; the decoder is not safe for concurrent use.
type Decoder struct {
	msg     log.MsgStream
	c       Collector
	verbose bool

	buf []byte // stream accumulation

	groups   map[uint16]*pftGroup
	maxDelay int

	// state of the AF packet being decoded
	ptrSeen bool
	ts      timestamp.Timestamp

	protoOK     bool
	protoWarned bool
	unknown     map[string]struct{}

	cnt counters
}

// NewDecoder creates a decoder feeding the given collector.
func NewDecoder(c Collector, msg log.MsgStream) *Decoder {
	return &Decoder{
		msg:      msg,
		c:        c,
		groups:   make(map[uint16]*pftGroup),
		maxDelay: DefaultMaxDelay,
		unknown:  make(map[string]struct{}),
	}
}

// SetVerbose enables per-packet debug logging.
func (d *Decoder) SetVerbose(v bool) { d.verbose = v }

// SetMaxDelay sets the maximum PFT reassembly delay, expressed in
// number of AF packet durations.
func (d *Decoder) SetMaxDelay(n int) {
	if n > 0 {
		d.maxDelay = n
	}
}

// Stats returns a snapshot of the decoder counters.
// It may be called concurrently with the decode path.
func (d *Decoder) Stats() Stats {
	return Stats{
		Frames:        d.cnt.frames.Load(),
		CRCErrors:     d.cnt.crcErrs.Load(),
		ExpiredGroups: d.cnt.expired.Load(),
		Resyncs:       d.cnt.resyncs.Load(),
	}
}

// PushBytes feeds a chunk of the TCP byte stream to the decoder.
// Protocol errors are recovered by resyncing on the next PF/AF sync.
func (d *Decoder) PushBytes(p []byte) {
	d.buf = append(d.buf, p...)

	for {
		if !d.sync() {
			return
		}
		switch string(d.buf[:2]) {
		case pftSync:
			n := pftFragmentLength(d.buf)
			if n == 0 || len(d.buf) < n {
				return // fragment not complete yet
			}
			pkt := d.buf[:n:n]
			d.buf = d.buf[n:]
			d.handleFragment(pkt)
		case afSync:
			n := afPacketLength(d.buf)
			if n > maxAFLen {
				d.resync(d.buf[2:])
				continue
			}
			if n == 0 || len(d.buf) < n {
				return
			}
			pkt := d.buf[:n:n]
			d.buf = d.buf[n:]
			d.handleAF(pkt, SeqInfo{})
		}
	}
}

// PushPacket feeds one complete datagram (a PFT fragment or a raw AF
// packet) to the decoder.
func (d *Decoder) PushPacket(p []byte) {
	if len(p) < 2 {
		return
	}
	switch string(p[:2]) {
	case pftSync:
		d.handleFragment(p)
	case afSync:
		d.handleAF(p, SeqInfo{})
	default:
		d.cnt.resyncs.Add(1)
		d.msg.Warnf("edi: dropping datagram without PF/AF sync")
	}
}

// Reset drops all reassembly state. Called when the source connection
// is torn down.
func (d *Decoder) Reset() {
	d.buf = nil
	d.groups = make(map[uint16]*pftGroup)
	d.ptrSeen = false
	d.ts = timestamp.Timestamp{}
}

// sync makes the buffer start at the next PF/AF sync word and reports
// whether one is present.
func (d *Decoder) sync() bool {
	if len(d.buf) < 2 {
		return false
	}
	if s := string(d.buf[:2]); s == pftSync || s == afSync {
		return true
	}
	return d.resync(d.buf)
}

func (d *Decoder) resync(p []byte) bool {
	d.cnt.resyncs.Add(1)
	for i := 0; i+1 < len(p); i++ {
		if s := string(p[i : i+2]); s == pftSync || s == afSync {
			d.msg.Warnf("edi: lost sync, dropped %d bytes", len(d.buf)-len(p)+i)
			d.buf = p[i:]
			return true
		}
	}
	// keep the last byte, it may start a sync word
	d.msg.Warnf("edi: lost sync, dropped %d bytes", len(d.buf)-1)
	d.buf = d.buf[len(d.buf)-1:]
	return false
}

func (d *Decoder) handleFragment(pkt []byte) {
	frag, err := parsePFT(pkt)
	if err != nil {
		d.cnt.crcErrs.Add(1)
		d.msg.Warnf("edi: dropping PFT fragment: %+v", err)
		return
	}

	g, ok := d.groups[frag.pseq]
	if !ok {
		g = &pftGroup{pseq: frag.pseq}
		d.groups[frag.pseq] = g
	}
	g.push(frag)

	// Abandon groups that fell too far behind. PSEQ increments once
	// per AF packet, so the distance approximates the age in frames.
	for pseq, old := range d.groups {
		if delta := int16(frag.pseq - pseq); int(delta) > d.maxDelay {
			delete(d.groups, pseq)
			if !old.done {
				d.cnt.expired.Add(1)
				d.msg.Warnf("edi: abandoning pseq=%d with %d of %d fragments",
					pseq, old.received, old.fcount)
			}
		}
	}

	if g.done || !g.complete() {
		return
	}
	g.done = true

	af, err := g.assemble()
	if err != nil {
		d.cnt.crcErrs.Add(1)
		d.msg.Warnf("edi: dropping pseq=%d: %+v", frag.pseq, err)
		return
	}
	d.handleAF(af, SeqInfo{PSeq: frag.pseq, PSeqValid: true})
}

func (d *Decoder) handleAF(pkt []byte, seq SeqInfo) {
	af, err := parseAF(pkt)
	if err != nil {
		d.cnt.crcErrs.Add(1)
		d.msg.Warnf("edi: dropping AF packet: %+v", err)
		return
	}
	seq.Seq = af.seq
	seq.SeqValid = true

	d.ptrSeen = false
	d.ts = timestamp.Timestamp{}

	err = d.decodeTags(af.payload)
	if err != nil {
		d.cnt.crcErrs.Add(1)
		d.msg.Warnf("edi: dropping AF packet seq=%d: %+v", af.seq, err)
		return
	}

	d.cnt.frames.Add(1)
	if d.verbose {
		d.msg.Debugf("edi: AF packet seq=%d (%d bytes)", af.seq, len(pkt))
	}
	d.c.Assemble(TagData{Seq: seq, AFPacket: af.raw, Timestamp: d.ts})
}
