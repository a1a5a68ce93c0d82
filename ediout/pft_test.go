// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ediout

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/go-daq/tdaq/log"

	"github.com/go-dab/edirelay/edi"
)

func testMsg() log.MsgStream {
	return log.NewMsgStream("ediout-test", log.LvlError, io.Discard)
}

// collector keeps the AF packets reassembled by the decoder.
type collector struct {
	frames []edi.TagData
}

func (c *collector) UpdateProtocol(proto string, major, minor uint16) {}
func (c *collector) UpdateFCData(fc edi.FCData)                       {}
func (c *collector) UpdateFIC(fic []byte)                             {}
func (c *collector) UpdateErr(err byte)                               {}
func (c *collector) UpdateEDITime(utco uint8, secs uint32)            {}
func (c *collector) UpdateMNSC(mnsc uint16)                           {}
func (c *collector) UpdateRFU(rfu uint16)                             {}
func (c *collector) AddSubchannel(sc edi.Subchannel)                  {}
func (c *collector) Assemble(data edi.TagData)                        { c.frames = append(c.frames, data) }

// testAF builds a valid AF packet around one *dmy TAG item.
func testAF(payloadLen int, seq uint16) []byte {
	tag := make([]byte, tagItemPrefix+payloadLen)
	copy(tag, "*dmy")
	binary.BigEndian.PutUint32(tag[4:8], uint32(payloadLen)*8)
	for i := range tag[tagItemPrefix:] {
		tag[tagItemPrefix+i] = byte(i)
	}
	return assembleAF(tag, seq)
}

func TestAFRoundTrip(t *testing.T) {
	var (
		c   collector
		dec = edi.NewDecoder(&c, testMsg())
		af  = testAF(123, 99)
	)

	dec.PushBytes(af)

	if got, want := len(c.frames), 1; got != want {
		t.Fatalf("invalid number of frames: got=%d, want=%d", got, want)
	}
	if !bytes.Equal(c.frames[0].AFPacket, af) {
		t.Fatalf("AF round-trip mismatch:\ngot= %x\nwant=%x", c.frames[0].AFPacket, af)
	}
	if got, want := c.frames[0].Seq.Seq, uint16(99); got != want {
		t.Fatalf("invalid AF seq: got=%d, want=%d", got, want)
	}
}

func TestPFTRoundTrip(t *testing.T) {
	var (
		c   collector
		dec = edi.NewDecoder(&c, testMsg())
		af  = testAF(500, 7)
	)

	frags, err := fragmentAF(af, 321, 0, 100)
	if err != nil {
		t.Fatalf("could not fragment AF packet: %+v", err)
	}
	if len(frags) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(frags))
	}

	for _, frag := range frags {
		dec.PushBytes(frag)
	}

	if got, want := len(c.frames), 1; got != want {
		t.Fatalf("invalid number of frames: got=%d, want=%d", got, want)
	}
	frame := c.frames[0]
	if !bytes.Equal(frame.AFPacket, af) {
		t.Fatalf("PFT round-trip mismatch:\ngot= %x\nwant=%x", frame.AFPacket, af)
	}
	if !frame.Seq.PSeqValid || frame.Seq.PSeq != 321 {
		t.Fatalf("invalid PFT seq: got=%+v", frame.Seq)
	}
}

func TestPFTLossRecovery(t *testing.T) {
	const fec = 3
	af := testAF(600, 7)

	frags, err := fragmentAF(af, 10, fec, 50)
	if err != nil {
		t.Fatalf("could not fragment AF packet: %+v", err)
	}

	for _, drop := range [][]int{
		{0},
		{0, 1, 2},
		{5, 11, len(frags) - 1},
		{len(frags) - 3, len(frags) - 2, len(frags) - 1}, // parity only
	} {
		var (
			c   collector
			dec = edi.NewDecoder(&c, testMsg())
		)
		dropped := make(map[int]bool, len(drop))
		for _, i := range drop {
			dropped[i] = true
		}
		for i, frag := range frags {
			if dropped[i] {
				continue
			}
			dec.PushBytes(frag)
		}

		if got, want := len(c.frames), 1; got != want {
			t.Fatalf("drop=%v: invalid number of frames: got=%d, want=%d", drop, got, want)
		}
		if !bytes.Equal(c.frames[0].AFPacket, af) {
			t.Fatalf("drop=%v: recovered AF packet differs", drop)
		}
	}
}

func TestPFTTooManyLosses(t *testing.T) {
	const fec = 3
	af := testAF(600, 7)

	frags, err := fragmentAF(af, 0, fec, 50)
	if err != nil {
		t.Fatalf("could not fragment AF packet: %+v", err)
	}
	if len(frags) < fec+2 {
		t.Fatalf("test needs more fragments, got %d", len(frags))
	}

	var (
		c   collector
		dec = edi.NewDecoder(&c, testMsg())
	)
	for i, frag := range frags {
		if i < fec+1 { // one more than the parity can repair
			continue
		}
		dec.PushBytes(frag)
	}

	if got := len(c.frames); got != 0 {
		t.Fatalf("unexpected recovery with %d lost fragments", fec+1)
	}

	// later groups age the incomplete one out
	for pseq := uint16(1); pseq <= uint16(edi.DefaultMaxDelay)+1; pseq++ {
		next, err := fragmentAF(testAF(40, 7), pseq, 0, 100)
		if err != nil {
			t.Fatalf("could not fragment filler packet: %+v", err)
		}
		for _, frag := range next {
			dec.PushBytes(frag)
		}
	}

	if got := dec.Stats().ExpiredGroups; got != 1 {
		t.Fatalf("invalid expired group count: got=%d, want=1", got)
	}
}

func TestPadTagPacket(t *testing.T) {
	for _, tc := range []struct {
		name string
		n    int
	}{
		{"aligned", 16},
		{"one-byte", 1},
		{"seven", 7},
		{"just-below", 15},
	} {
		t.Run(tc.name, func(t *testing.T) {
			in := make([]byte, tc.n)
			out := padTagPacket(in, 8)
			if len(out)%8 != 0 {
				t.Fatalf("padded length %d not a multiple of 8", len(out))
			}
			if len(out) < tc.n {
				t.Fatalf("padding may not shrink the packet")
			}
			if tc.n%8 != 0 && !bytes.Contains(out, []byte("*dmy")) {
				t.Fatalf("expected a *dmy TAG item in %x", out)
			}
		})
	}
}

func TestMixedDestinationsNeedExplicitPFT(t *testing.T) {
	cfg := Configuration{
		UDP: []UDPDestination{{Addr: "127.0.0.1", Port: 41234}},
		TCP: []TCPServer{{Port: 41235}},
	}
	_, err := NewSender(cfg, testMsg())
	if err == nil {
		t.Fatalf("expected mixed destinations without explicit PFT choice to fail")
	}

	cfg.PFT.Explicit = true
	s, err := NewSender(cfg, testMsg())
	if err != nil {
		t.Fatalf("could not create sender: %+v", err)
	}
	s.Close()
}
