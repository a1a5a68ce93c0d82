// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eti

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/go-daq/tdaq/log"

	"github.com/go-dab/edirelay/edi"
)

func testMsg() log.MsgStream {
	return log.NewMsgStream("eti-test", log.LvlError, io.Discard)
}

func testFrame(dlfc uint16) FrameData {
	return FrameData{
		FC: edi.FCData{
			DLFC: dlfc,
			FP:   2,
			MID:  1,
			FICF: true,
			TSTA: 0x123456 << 8,
		},
		Err: 0xff,
		FIC: make([]byte, 96),
		Subchannels: []edi.Subchannel{
			{StreamIndex: 1, SCID: 3, SAD: 54, TPL: 10, MST: make([]byte, 16)},
			{StreamIndex: 2, SCID: 5, SAD: 330, TPL: 8, MST: make([]byte, 32)},
		},
		MNSC:    0x1234,
		RFU:     0xffff,
		UTCO:    37,
		Seconds: 100,
	}
}

func TestAssemble(t *testing.T) {
	f := testFrame(1000) // fct = 0, even
	frame, err := Assemble(f)
	if err != nil {
		t.Fatalf("could not assemble frame: %+v", err)
	}

	const nst = 2
	wantLen := 1 + 3 + 4 + 4*nst + 4 + (96 + 16 + 32) + 4 + 4
	if got := len(frame); got != wantLen {
		t.Fatalf("invalid frame length: got=%d, want=%d", got, wantLen)
	}

	if frame[0] != 0xff {
		t.Fatalf("invalid ERR byte: got=0x%02x", frame[0])
	}
	if !bytes.Equal(frame[1:4], []byte{0xf8, 0xc5, 0x49}) {
		t.Fatalf("invalid FSYNC for even fct: got=%x", frame[1:4])
	}

	// FC
	if got, want := frame[4], byte(0); got != want {
		t.Fatalf("invalid FCT: got=%d, want=%d", got, want)
	}
	if got, want := frame[5], byte(0x80|nst); got != want {
		t.Fatalf("invalid FICF|NST: got=0x%02x, want=0x%02x", got, want)
	}
	var (
		fpmidfl = binary.BigEndian.Uint16(frame[6:8])
		fl      = int(fpmidfl & 0x7ff)
		wantFL  = nst + 1 + (96+16+32)/4
	)
	if got, want := fpmidfl>>13, uint16(2); got != want {
		t.Fatalf("invalid FP: got=%d, want=%d", got, want)
	}
	if got, want := (fpmidfl>>11)&0x3, uint16(1); got != want {
		t.Fatalf("invalid MID: got=%d, want=%d", got, want)
	}
	if fl != wantFL {
		t.Fatalf("invalid FL: got=%d, want=%d", fl, wantFL)
	}

	// STC of the first subchannel: SCID=3 SAD=54 TPL=10 STL=2
	stc := frame[8:12]
	if got, want := stc[0], byte(3<<2|0); got != want {
		t.Fatalf("invalid STC[0]: got=0x%02x, want=0x%02x", got, want)
	}
	if got, want := stc[1], byte(54); got != want {
		t.Fatalf("invalid STC[1]: got=%d, want=%d", got, want)
	}
	if got, want := stc[2], byte(10<<2|0); got != want {
		t.Fatalf("invalid STC[2]: got=0x%02x, want=0x%02x", got, want)
	}
	if got, want := stc[3], byte(16/8); got != want {
		t.Fatalf("invalid STL: got=%d, want=%d", got, want)
	}

	// EOH: MNSC then header CRC over FC..MNSC
	eoh := 4 + 4 + 4*nst
	if got, want := binary.BigEndian.Uint16(frame[eoh:eoh+2]), uint16(0x1234); got != want {
		t.Fatalf("invalid MNSC: got=0x%04x, want=0x%04x", got, want)
	}
	if got, want := binary.BigEndian.Uint16(frame[eoh+2:eoh+4]), etiCRC(frame[4:eoh+2]); got != want {
		t.Fatalf("invalid header CRC: got=0x%04x, want=0x%04x", got, want)
	}

	// EOF: MST CRC then RFU
	var (
		mst = eoh + 4
		eof = mst + 96 + 16 + 32
	)
	if got, want := binary.BigEndian.Uint16(frame[eof:eof+2]), etiCRC(frame[mst:eof]); got != want {
		t.Fatalf("invalid MST CRC: got=0x%04x, want=0x%04x", got, want)
	}
	if got, want := binary.BigEndian.Uint16(frame[eof+2:eof+4]), uint16(0xffff); got != want {
		t.Fatalf("invalid RFU: got=0x%04x, want=0x%04x", got, want)
	}

	// TIST
	if got, want := binary.BigEndian.Uint32(frame[eof+4:]), uint32(0x123456<<8); got != want {
		t.Fatalf("invalid TIST: got=0x%08x, want=0x%08x", got, want)
	}
}

func TestAssembleOddFSYNC(t *testing.T) {
	frame, err := Assemble(testFrame(1001)) // fct = 1, odd
	if err != nil {
		t.Fatalf("could not assemble frame: %+v", err)
	}
	if !bytes.Equal(frame[1:4], []byte{0x07, 0x3a, 0xb6}) {
		t.Fatalf("invalid FSYNC for odd fct: got=%x", frame[1:4])
	}
}

func TestAssembleErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		mod  func(*FrameData)
	}{
		{"missing-fic", func(f *FrameData) { f.FIC = nil }},
		{"fic-alignment", func(f *FrameData) { f.FIC = make([]byte, 97) }},
		{"mst-alignment", func(f *FrameData) { f.Subchannels[0].MST = make([]byte, 13) }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := testFrame(0)
			tc.mod(&f)
			_, err := Assemble(f)
			if err == nil {
				t.Fatalf("expected an assembly error")
			}
		})
	}
}

func TestZMQPhaseGating(t *testing.T) {
	o := NewZMQOutput(testMsg())

	// frames before the phase origin are skipped without error
	f := testFrame(0)
	f.FC.FP = 1
	if err := o.Encode(f); err != nil {
		t.Fatalf("pre-phase frame must be skipped silently: %+v", err)
	}
	if got := len(o.frames); got != 0 {
		t.Fatalf("pre-phase frame must not be buffered: got=%d", got)
	}

	f.FC.FP = 0
	if err := o.Encode(f); err != nil {
		t.Fatalf("could not encode phase-0 frame: %+v", err)
	}
	f.FC.FP = 1
	if err := o.Encode(f); err != nil {
		t.Fatalf("could not encode phase-1 frame: %+v", err)
	}
	if got := len(o.frames); got != 2 {
		t.Fatalf("invalid buffered frame count: got=%d, want=2", got)
	}

	// a phase jump mid-group is an error and resets the grouping
	f.FC.FP = 3
	if err := o.Encode(f); err == nil {
		t.Fatalf("expected a phase error")
	}
	if got := len(o.frames); got != 0 {
		t.Fatalf("phase error must drop the buffered frames: got=%d", got)
	}
}
