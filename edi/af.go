// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package edi

import (
	"encoding/binary"

	"github.com/howeyc/crc16"
	"golang.org/x/xerrors"
)

// afPacket is a parsed AF packet.
type afPacket struct {
	seq     uint16
	cf      bool // CRC present flag
	major   uint8
	minor   uint8
	pt      byte
	payload []byte // TAG items
	raw     []byte // complete packet, header and CRC included
}

// afCRC computes the AF packet checksum over p (header and payload).
func afCRC(p []byte) uint16 {
	return crc16.ChecksumCCITTFalse(p) ^ 0xffff
}

// afPacketLength returns the total byte length of the AF packet
// starting at p, or 0 if the header is not complete yet.
func afPacketLength(p []byte) int {
	if len(p) < afHeaderLen {
		return 0
	}
	n := afHeaderLen + int(binary.BigEndian.Uint32(p[2:6]))
	if p[8]&0x80 != 0 {
		n += afCRCLen
	}
	return n
}

// parseAF parses and validates one complete AF packet.
func parseAF(p []byte) (afPacket, error) {
	var af afPacket
	if len(p) < afHeaderLen {
		return af, xerrors.Errorf("edi: short AF packet (%d bytes)", len(p))
	}
	if string(p[:2]) != afSync {
		return af, xerrors.Errorf("edi: invalid AF sync (got=%q)", p[:2])
	}

	plen := binary.BigEndian.Uint32(p[2:6])
	af.seq = binary.BigEndian.Uint16(p[6:8])
	ar := p[8]
	af.cf = ar&0x80 != 0
	af.major = (ar >> 4) & 0x7
	af.minor = ar & 0xf
	af.pt = p[9]

	want := afHeaderLen + int(plen)
	if af.cf {
		want += afCRCLen
	}
	if len(p) != want {
		return af, xerrors.Errorf("edi: invalid AF length (got=%d, want=%d)", len(p), want)
	}

	if af.cf {
		var (
			comp = afCRC(p[:len(p)-afCRCLen])
			recv = binary.BigEndian.Uint16(p[len(p)-afCRCLen:])
		)
		if comp != recv {
			return af, xerrors.Errorf("edi: inconsistent AF CRC: recv=0x%04x comp=0x%04x", recv, comp)
		}
	}

	af.payload = p[afHeaderLen : afHeaderLen+int(plen)]
	af.raw = p
	return af, nil
}
