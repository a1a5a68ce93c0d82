// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package edi

import (
	"encoding/binary"

	"github.com/klauspost/reedsolomon"
	"golang.org/x/xerrors"
)

// pftFragment is a parsed PFT fragment.
type pftFragment struct {
	pseq    uint16
	findex  uint32 // 24 bits
	fcount  uint32 // 24 bits
	fec     bool
	addr    bool
	plen    uint16 // 14 bits
	rsK     uint8  // with fec: number of parity fragments
	rsZ     uint8  // with fec: zero-padding of the last data fragment
	source  uint16
	dest    uint16
	payload []byte
}

// pftHeaderLength returns the total header length (CRC included) of the
// fragment starting at p, or 0 if the fixed part is not complete yet.
func pftHeaderLength(p []byte) int {
	if len(p) < pftFixedLen {
		return 0
	}
	n := pftFixedLen
	flags := binary.BigEndian.Uint16(p[10:12])
	if flags&0x8000 != 0 {
		n += pftRSInfoLen
	}
	if flags&0x4000 != 0 {
		n += pftAddrLen
	}
	return n + pftHeaderCRC
}

// pftFragmentLength returns the total byte length of the PFT fragment
// starting at p, or 0 if the header is not complete yet.
func pftFragmentLength(p []byte) int {
	hdr := pftHeaderLength(p)
	if hdr == 0 || len(p) < hdr {
		return 0
	}
	return hdr + int(binary.BigEndian.Uint16(p[10:12])&0x3fff)
}

// parsePFT parses and validates one complete PFT fragment.
func parsePFT(p []byte) (pftFragment, error) {
	var frag pftFragment
	if len(p) < pftFixedLen {
		return frag, xerrors.Errorf("edi: short PFT fragment (%d bytes)", len(p))
	}
	if string(p[:2]) != pftSync {
		return frag, xerrors.Errorf("edi: invalid PFT sync (got=%q)", p[:2])
	}

	frag.pseq = binary.BigEndian.Uint16(p[2:4])
	frag.findex = u24(p[4:7])
	frag.fcount = u24(p[7:10])
	flags := binary.BigEndian.Uint16(p[10:12])
	frag.fec = flags&0x8000 != 0
	frag.addr = flags&0x4000 != 0
	frag.plen = flags & 0x3fff

	off := pftFixedLen
	if frag.fec {
		frag.rsK = p[off]
		frag.rsZ = p[off+1]
		off += pftRSInfoLen
	}
	if frag.addr {
		frag.source = binary.BigEndian.Uint16(p[off : off+2])
		frag.dest = binary.BigEndian.Uint16(p[off+2 : off+4])
		off += pftAddrLen
	}

	var (
		comp = afCRC(p[:off])
		recv = binary.BigEndian.Uint16(p[off : off+pftHeaderCRC])
	)
	if comp != recv {
		return frag, xerrors.Errorf("edi: inconsistent PFT header CRC: recv=0x%04x comp=0x%04x", recv, comp)
	}
	off += pftHeaderCRC

	if len(p) != off+int(frag.plen) {
		return frag, xerrors.Errorf("edi: invalid PFT fragment length (got=%d, want=%d)", len(p), off+int(frag.plen))
	}
	if frag.fcount == 0 || frag.findex >= frag.fcount {
		return frag, xerrors.Errorf("edi: invalid PFT fragment index (findex=%d, fcount=%d)", frag.findex, frag.fcount)
	}
	frag.payload = p[off:]
	return frag, nil
}

func u24(p []byte) uint32 {
	return uint32(p[0])<<16 | uint32(p[1])<<8 | uint32(p[2])
}

// pftGroup collects the fragments of one pseq until the AF packet can
// be assembled or the group expires.
type pftGroup struct {
	pseq      uint16
	fcount    uint32
	fec       bool
	plen      uint16
	rsK       uint8
	rsZ       uint8
	fragments [][]byte
	received  uint32
	done      bool
}

// push stores one fragment. Duplicate fragments are ignored.
func (g *pftGroup) push(frag pftFragment) {
	if g.fragments == nil {
		g.fcount = frag.fcount
		g.fec = frag.fec
		g.plen = frag.plen
		g.rsK = frag.rsK
		g.rsZ = frag.rsZ
		g.fragments = make([][]byte, frag.fcount)
	}
	if frag.findex >= uint32(len(g.fragments)) || g.fragments[frag.findex] != nil {
		return
	}
	g.fragments[frag.findex] = frag.payload
	g.received++
}

// complete reports whether enough fragments arrived to assemble the
// AF packet: all of them without FEC, fcount-rsK with FEC.
func (g *pftGroup) complete() bool {
	if g.fragments == nil {
		return false
	}
	if !g.fec {
		return g.received == g.fcount
	}
	return g.received >= g.fcount-uint32(g.rsK)
}

// assemble reconstructs the AF packet from the collected fragments,
// repairing up to rsK missing fragments with Reed-Solomon parity.
func (g *pftGroup) assemble() ([]byte, error) {
	if !g.fec {
		var af []byte
		for i, frag := range g.fragments {
			if frag == nil {
				return nil, xerrors.Errorf("edi: pseq=%d missing fragment %d", g.pseq, i)
			}
			af = append(af, frag...)
		}
		return af, nil
	}

	data := int(g.fcount) - int(g.rsK)
	if data <= 0 {
		return nil, xerrors.Errorf("edi: pseq=%d invalid FEC geometry (fcount=%d, parity=%d)", g.pseq, g.fcount, g.rsK)
	}
	enc, err := reedsolomon.New(data, int(g.rsK))
	if err != nil {
		return nil, xerrors.Errorf("edi: pseq=%d could not create RS decoder: %w", g.pseq, err)
	}
	err = enc.Reconstruct(g.fragments)
	if err != nil {
		return nil, xerrors.Errorf("edi: pseq=%d could not reconstruct AF packet: %w", g.pseq, err)
	}

	var af []byte
	for _, frag := range g.fragments[:data] {
		af = append(af, frag...)
	}
	if int(g.rsZ) > len(af) {
		return nil, xerrors.Errorf("edi: pseq=%d invalid FEC padding (pad=%d, have=%d bytes)", g.pseq, g.rsZ, len(af))
	}
	return af[:len(af)-int(g.rsZ)], nil
}
