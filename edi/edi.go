// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package edi decodes the EDI (Encapsulation of DAB Interface) tagged
// packet stream: the PFT fragmentation layer, the AF application frame
// layer and the TAG item layer carried inside AF packets.
package edi // import "github.com/go-dab/edirelay/edi"

import (
	"time"

	"github.com/go-dab/edirelay/internal/timestamp"
)

const (
	pftSync = "PF" // PFT fragment sync
	afSync  = "AF" // AF packet sync

	afHeaderLen   = 10 // SYNC(2) LEN(4) SEQ(2) AR(1) PT(1)
	afCRCLen      = 2
	pftFixedLen   = 12 // SYNC(2) PSEQ(2) FINDEX(3) FCOUNT(3) FEC|ADDR|PLEN(2)
	pftRSInfoLen  = 2  // RSK(1) RSZ(1)
	pftAddrLen    = 4  // SOURCE(2) DEST(2)
	pftHeaderCRC  = 2
	tagItemPrefix = 8 // NAME(4) LENGTH(4, in bits)

	// FrameDuration is the nominal duration of one DAB ETI frame.
	FrameDuration = 24 * time.Millisecond
)

// etiProtocol is the only *ptr protocol this decoder dispatches.
const etiProtocol = "DETI"

// SeqInfo carries the transport sequence numbers a tag packet was
// received with. PSeq is the PFT transport sequence, Seq the AF-layer
// continuity count.
type SeqInfo struct {
	PSeq      uint16
	PSeqValid bool
	Seq       uint16
	SeqValid  bool
}

// FCData is the frame characterisation decoded from the deti tag.
type FCData struct {
	DLFC uint16 // logical frame count, cyclic mod 5000
	FP   uint8  // frame phase, 3 bits
	MID  uint8  // mode identifier, 2 bits
	FICF bool   // FIC present
	Stat uint8  // ETI ERR field
	TSTA uint32 // sub-second timestamp, upper 24 bits in 1/16384 s
}

// FCT returns the 8-bit frame count derived from DLFC.
func (fc FCData) FCT() uint8 { return uint8(fc.DLFC % 250) }

// Subchannel is one stream component decoded from an est<n> tag.
type Subchannel struct {
	StreamIndex uint8  // n from the tag name
	SCID        uint8  // sub-channel id, 6 bits
	SAD         uint16 // sub-channel start address, 10 bits
	TPL         uint8  // sub-channel type and protection level, 6 bits
	MST         []byte // sub-channel payload
}

// STL returns the stream length in 8-byte units, as carried in the
// ETI STC field.
func (sc Subchannel) STL() uint16 { return uint16(len(sc.MST) / 8) }

// TagData is a fully reassembled AF packet handed to the Collector.
type TagData struct {
	Seq       SeqInfo
	AFPacket  []byte // complete AF packet, header and CRC included
	Timestamp timestamp.Timestamp
}

// Collector receives the decoded elements of an EDI stream.
// The decoder calls Assemble exactly once per complete AF packet,
// after the per-tag update calls for that packet.
type Collector interface {
	// UpdateProtocol tells the collector which EDI protocol the
	// stream announced in *ptr. Used as check only.
	UpdateProtocol(proto string, major, minor uint16)

	// UpdateFCData updates the frame characterisation.
	UpdateFCData(fc FCData)

	// UpdateFIC hands over the FIC data, when present.
	UpdateFIC(fic []byte)

	// UpdateErr updates the ETI ERR field.
	UpdateErr(err byte)

	// UpdateEDITime updates the seconds/utco pair of the frame time.
	UpdateEDITime(utco uint8, seconds uint32)

	// UpdateMNSC updates the multiplex network signalling channel.
	UpdateMNSC(mnsc uint16)

	// UpdateRFU updates the EOH RFU field.
	UpdateRFU(rfu uint16)

	// AddSubchannel adds one stream component of the current frame.
	AddSubchannel(sc Subchannel)

	// Assemble tells the collector the AF packet is complete.
	Assemble(data TagData)
}
