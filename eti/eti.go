// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package eti rebuilds raw ETI(NI) frames from decoded EDI frame data,
// for transmitters that consume the ZMQ ETI sideband.
package eti // import "github.com/go-dab/edirelay/eti"

import (
	"encoding/binary"
	"fmt"

	"github.com/howeyc/crc16"

	"github.com/go-dab/edirelay/edi"
	"github.com/go-dab/edirelay/internal/timestamp"
)

// MaxFrameLen is the maximum length of one ETI frame.
const MaxFrameLen = 6144

// FrameData is the complete set of decoded elements needed to rebuild
// one ETI frame.
type FrameData struct {
	FC          edi.FCData
	Err         byte
	FIC         []byte
	Subchannels []edi.Subchannel
	MNSC        uint16
	RFU         uint16
	UTCO        uint8
	Seconds     uint32
}

// Timestamp returns the frame timestamp of the ETI frame.
func (f FrameData) Timestamp() timestamp.Timestamp {
	return timestamp.Timestamp{Seconds: f.Seconds, UTCO: f.UTCO, TSTA: f.FC.TSTA}
}

// etiCRC computes an ETI checksum: CCITT CRC16, then inverted.
func etiCRC(p []byte) uint16 {
	return crc16.ChecksumCCITTFalse(p) ^ 0xffff
}

// Assemble builds the raw ETI frame:
//
//	ERR(1) FSYNC(3) FC(4) STC(4*NST) EOH{MNSC(2) CRC(2)}
//	MST{FIC, subchannels} EOF{CRC(2) RFU(2)} TIST(4)
func Assemble(f FrameData) ([]byte, error) {
	nst := len(f.Subchannels)
	if nst > 64 {
		return nil, fmt.Errorf("eti: too many subchannels (got=%d, max=64)", nst)
	}
	if f.FC.FICF && len(f.FIC) == 0 {
		return nil, fmt.Errorf("eti: FICF set but no FIC data")
	}
	if len(f.FIC)%4 != 0 {
		return nil, fmt.Errorf("eti: FIC length %d not a multiple of 4", len(f.FIC))
	}

	mstLen := len(f.FIC)
	for _, sc := range f.Subchannels {
		if len(sc.MST)%8 != 0 {
			return nil, fmt.Errorf("eti: subchannel %d MST length %d not a multiple of 8",
				sc.SCID, len(sc.MST))
		}
		mstLen += len(sc.MST)
	}

	// frame length in 32-bit words, from NST to the end of the MST
	fl := nst + 1 + mstLen/4
	if fl >= 1<<11 {
		return nil, fmt.Errorf("eti: frame length %d words overflows FL", fl)
	}

	total := 1 + 3 + 4 + 4*nst + 4 + mstLen + 4 + 4
	if total > MaxFrameLen {
		return nil, fmt.Errorf("eti: frame too long (%d bytes)", total)
	}

	frame := make([]byte, 0, total)
	frame = append(frame, f.Err)
	if f.FC.FCT()%2 == 0 {
		frame = append(frame, 0xf8, 0xc5, 0x49)
	} else {
		frame = append(frame, 0x07, 0x3a, 0xb6)
	}

	// FC
	hdr := len(frame)
	frame = append(frame, f.FC.FCT())
	ficf := byte(0)
	if f.FC.FICF {
		ficf = 0x80
	}
	frame = append(frame, ficf|byte(nst))
	fpmidfl := uint16(f.FC.FP)<<13 | uint16(f.FC.MID)<<11 | uint16(fl)
	frame = binary.BigEndian.AppendUint16(frame, fpmidfl)

	// STC
	for _, sc := range f.Subchannels {
		stl := sc.STL()
		frame = append(frame,
			sc.SCID<<2|byte(sc.SAD>>8),
			byte(sc.SAD),
			sc.TPL<<2|byte(stl>>8),
			byte(stl),
		)
	}

	// EOH
	frame = binary.BigEndian.AppendUint16(frame, f.MNSC)
	frame = binary.BigEndian.AppendUint16(frame, etiCRC(frame[hdr:]))

	// MST
	mst := len(frame)
	frame = append(frame, f.FIC...)
	for _, sc := range f.Subchannels {
		frame = append(frame, sc.MST...)
	}

	// EOF
	frame = binary.BigEndian.AppendUint16(frame, etiCRC(frame[mst:]))
	frame = binary.BigEndian.AppendUint16(frame, f.RFU)

	// TIST
	frame = binary.BigEndian.AppendUint32(frame, f.FC.TSTA)

	return frame, nil
}
