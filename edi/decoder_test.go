// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package edi

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/go-daq/tdaq/log"

	"github.com/go-dab/edirelay/internal/timestamp"
)

func testMsg() log.MsgStream {
	return log.NewMsgStream("edi-test", log.LvlError, io.Discard)
}

// collector records every callback for inspection.
type collector struct {
	protos []string
	fcs    []FCData
	fics   [][]byte
	subch  []Subchannel
	mnscs  []uint16
	frames []TagData
}

func (c *collector) UpdateProtocol(proto string, major, minor uint16) {
	c.protos = append(c.protos, proto)
}
func (c *collector) UpdateFCData(fc FCData) { c.fcs = append(c.fcs, fc) }
func (c *collector) UpdateFIC(fic []byte) {
	c.fics = append(c.fics, append([]byte(nil), fic...))
}
func (c *collector) UpdateErr(err byte)                     {}
func (c *collector) UpdateEDITime(utco uint8, secs uint32)  {}
func (c *collector) UpdateMNSC(mnsc uint16)                 { c.mnscs = append(c.mnscs, mnsc) }
func (c *collector) UpdateRFU(rfu uint16)                   {}
func (c *collector) AddSubchannel(sc Subchannel)            { c.subch = append(c.subch, sc) }
func (c *collector) Assemble(data TagData)                  { c.frames = append(c.frames, data) }

func buildTag(name string, value []byte) []byte {
	tag := make([]byte, 0, 8+len(value))
	tag = append(tag, name...)
	tag = binary.BigEndian.AppendUint32(tag, uint32(len(value))*8)
	return append(tag, value...)
}

func buildPtr() []byte {
	return buildTag("*ptr", []byte{'D', 'E', 'T', 'I', 0, 0, 0, 0})
}

func buildDETI(dlfc uint16, seconds uint32, tsta24 uint32, fic []byte) []byte {
	flags := uint16(0x8000) // ATSTF
	if len(fic) > 0 {
		flags |= 0x4000 // FICF
	}
	flags |= (dlfc / 250) << 8
	flags |= dlfc % 250

	v := make([]byte, 0, 14+len(fic))
	v = binary.BigEndian.AppendUint16(v, flags)
	v = append(v, 0x00)                   // STAT
	v = append(v, 1<<6|2<<3)              // MID=1 FP=2
	v = binary.BigEndian.AppendUint16(v, 0x1234) // MNSC
	v = append(v, 0)                      // UTCO
	v = binary.BigEndian.AppendUint32(v, seconds)
	v = append(v, byte(tsta24>>16), byte(tsta24>>8), byte(tsta24))
	v = append(v, fic...)
	return buildTag("deti", v)
}

func buildEST(index uint8, scid uint8, sad uint16, tpl uint8, mst []byte) []byte {
	sstc := uint32(scid)<<18 | uint32(sad)<<8 | uint32(tpl)<<2
	v := []byte{byte(sstc >> 16), byte(sstc >> 8), byte(sstc)}
	return buildTag("est"+string([]byte{index}), append(v, mst...))
}

func buildAF(payload []byte, seq uint16) []byte {
	af := make([]byte, afHeaderLen, afHeaderLen+len(payload)+afCRCLen)
	copy(af, "AF")
	binary.BigEndian.PutUint32(af[2:6], uint32(len(payload)))
	binary.BigEndian.PutUint16(af[6:8], seq)
	af[8] = 0x90
	af[9] = 'T'
	af = append(af, payload...)
	return binary.BigEndian.AppendUint16(af, afCRC(af))
}

func testPayload() []byte {
	var payload []byte
	payload = append(payload, buildPtr()...)
	payload = append(payload, buildDETI(1234, 100, 8192, make([]byte, 96))...)
	payload = append(payload, buildEST(1, 3, 54, 10, make([]byte, 16))...)
	payload = append(payload, buildTag("*dmy", make([]byte, 4))...)
	return payload
}

func TestDecodeAF(t *testing.T) {
	var (
		c   collector
		dec = NewDecoder(&c, testMsg())
		af  = buildAF(testPayload(), 42)
	)

	dec.PushBytes(af)

	if got, want := len(c.frames), 1; got != want {
		t.Fatalf("invalid number of frames: got=%d, want=%d", got, want)
	}
	frame := c.frames[0]
	if !frame.Seq.SeqValid || frame.Seq.Seq != 42 {
		t.Fatalf("invalid AF seq: got=%+v", frame.Seq)
	}
	if frame.Seq.PSeqValid {
		t.Fatalf("raw AF packet should not carry a PFT sequence")
	}
	want := timestamp.Timestamp{Seconds: 100, TSTA: 8192 << 8}
	if !frame.Timestamp.Equal(want) {
		t.Fatalf("invalid timestamp: got=%+v, want=%+v", frame.Timestamp, want)
	}

	if got, want := len(c.fcs), 1; got != want {
		t.Fatalf("invalid number of FC updates: got=%d, want=%d", got, want)
	}
	fc := c.fcs[0]
	if fc.DLFC != 1234 || fc.MID != 1 || fc.FP != 2 || !fc.FICF {
		t.Fatalf("invalid FC: got=%+v", fc)
	}
	if got, want := fc.FCT(), uint8(1234%250); got != want {
		t.Fatalf("invalid FCT: got=%d, want=%d", got, want)
	}

	if got, want := len(c.subch), 1; got != want {
		t.Fatalf("invalid number of subchannels: got=%d, want=%d", got, want)
	}
	sc := c.subch[0]
	if sc.StreamIndex != 1 || sc.SCID != 3 || sc.SAD != 54 || sc.TPL != 10 || len(sc.MST) != 16 {
		t.Fatalf("invalid subchannel: got=%+v", sc)
	}

	if got, want := len(c.fics[0]), 96; got != want {
		t.Fatalf("invalid FIC length: got=%d, want=%d", got, want)
	}
	if got, want := c.mnscs[0], uint16(0x1234); got != want {
		t.Fatalf("invalid MNSC: got=0x%04x, want=0x%04x", got, want)
	}
}

func TestDecodeChunked(t *testing.T) {
	var (
		c   collector
		dec = NewDecoder(&c, testMsg())
	)

	var raw []byte
	for seq := uint16(0); seq < 3; seq++ {
		raw = append(raw, buildAF(testPayload(), seq)...)
	}

	for len(raw) > 0 {
		n := 3
		if n > len(raw) {
			n = len(raw)
		}
		dec.PushBytes(raw[:n])
		raw = raw[n:]
	}

	if got, want := len(c.frames), 3; got != want {
		t.Fatalf("invalid number of frames: got=%d, want=%d", got, want)
	}
	for i, frame := range c.frames {
		if got, want := frame.Seq.Seq, uint16(i); got != want {
			t.Fatalf("frame %d: invalid seq: got=%d, want=%d", i, got, want)
		}
	}
}

func TestDecodeBadCRC(t *testing.T) {
	var (
		c   collector
		dec = NewDecoder(&c, testMsg())
		af  = buildAF(testPayload(), 1)
	)
	af[len(af)-1] ^= 0xff

	dec.PushBytes(af)

	if got := len(c.frames); got != 0 {
		t.Fatalf("corrupted AF packet should be dropped, got %d frames", got)
	}
	if got, want := dec.Stats().CRCErrors, uint64(1); got != want {
		t.Fatalf("invalid CRC error count: got=%d, want=%d", got, want)
	}
}

func TestDecodeDETIBeforePtr(t *testing.T) {
	var (
		c   collector
		dec = NewDecoder(&c, testMsg())
	)

	payload := buildDETI(1, 100, 0, nil)
	dec.PushBytes(buildAF(payload, 1))

	if got := len(c.frames); got != 0 {
		t.Fatalf("deti before *ptr should discard the AF packet, got %d frames", got)
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	var (
		c   collector
		dec = NewDecoder(&c, testMsg())
	)

	payload := append(buildPtr(), buildTag("xyzw", []byte{1, 2, 3})...)
	payload = append(payload, buildDETI(7, 100, 0, nil)...)
	dec.PushBytes(buildAF(payload, 1))

	if got, want := len(c.frames), 1; got != want {
		t.Fatalf("unknown tags should be skipped: got=%d frames, want=%d", got, want)
	}
}

func TestDecodeUnsupportedProtocol(t *testing.T) {
	var (
		c   collector
		dec = NewDecoder(&c, testMsg())
	)

	payload := buildTag("*ptr", []byte{'X', 'E', 'T', 'I', 0, 1, 0, 0})
	payload = append(payload, buildDETI(7, 100, 0, nil)...)
	dec.PushBytes(buildAF(payload, 1))

	if got, want := len(c.frames), 1; got != want {
		t.Fatalf("invalid number of frames: got=%d, want=%d", got, want)
	}
	if got := len(c.fcs); got != 0 {
		t.Fatalf("unsupported protocol must not dispatch deti, got %d FC updates", got)
	}
}

func TestDecodeResync(t *testing.T) {
	var (
		c   collector
		dec = NewDecoder(&c, testMsg())
	)

	raw := append([]byte("garbage-bytes"), buildAF(testPayload(), 5)...)
	dec.PushBytes(raw)

	if got, want := len(c.frames), 1; got != want {
		t.Fatalf("invalid number of frames after resync: got=%d, want=%d", got, want)
	}
	if got := dec.Stats().Resyncs; got == 0 {
		t.Fatalf("expected a resync to be counted")
	}
}
