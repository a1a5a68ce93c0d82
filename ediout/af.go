// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ediout

import (
	"encoding/binary"

	"github.com/howeyc/crc16"
)

const (
	afHeaderLen   = 10
	afCRCLen      = 2
	tagItemPrefix = 8
)

// afCRC computes the AF packet checksum over p.
func afCRC(p []byte) uint16 {
	return crc16.ChecksumCCITTFalse(p) ^ 0xffff
}

// padTagPacket appends a *dmy TAG item so that the packet length is a
// multiple of align bytes.
func padTagPacket(tagpacket []byte, align int) []byte {
	if align <= 0 {
		align = DefaultTagAlign
	}
	rem := len(tagpacket) % align
	if rem == 0 {
		return tagpacket
	}
	pad := align - rem
	if pad < tagItemPrefix {
		pad += align
	}

	dmy := make([]byte, tagItemPrefix, pad)
	copy(dmy, "*dmy")
	binary.BigEndian.PutUint32(dmy[4:], uint32(pad-tagItemPrefix)*8)
	dmy = dmy[:pad]
	return append(tagpacket, dmy...)
}

// assembleAF wraps a TAG packet into an AF packet with the given
// sequence number. The CF flag is always set and the CRC appended.
func assembleAF(tagpacket []byte, seq uint16) []byte {
	af := make([]byte, afHeaderLen, afHeaderLen+len(tagpacket)+afCRCLen)
	copy(af, "AF")
	binary.BigEndian.PutUint32(af[2:6], uint32(len(tagpacket)))
	binary.BigEndian.PutUint16(af[6:8], seq)
	af[8] = 0x90 // CF=1, version 1.0
	af[9] = 'T'
	af = append(af, tagpacket...)

	crc := afCRC(af)
	return binary.BigEndian.AppendUint16(af, crc)
}
