// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package edi

import (
	"encoding/binary"

	"golang.org/x/xerrors"
)

// tagTable is the static dispatch table of known TAG items.
// A 3-letter name matches as a prefix (est<n> carries the stream index
// in its fourth byte).
var tagTable = []struct {
	name string
	fn   func(d *Decoder, name []byte, value []byte) error
}{
	{"*ptr", (*Decoder).decodeStarPtr},
	{"deti", (*Decoder).decodeDETI},
	{"est", (*Decoder).decodeESTn},
	{"*dmy", (*Decoder).decodeStarDmy},
}

// decodeTags walks the TAG items of one AF packet payload.
func (d *Decoder) decodeTags(payload []byte) error {
	for off := 0; off < len(payload); {
		if len(payload)-off < tagItemPrefix {
			return xerrors.Errorf("edi: truncated TAG item header (%d bytes left)", len(payload)-off)
		}
		var (
			name = payload[off : off+4]
			bits = binary.BigEndian.Uint32(payload[off+4 : off+8])
			vlen = int(bits+7) / 8
		)
		if off+tagItemPrefix+vlen > len(payload) {
			return xerrors.Errorf("edi: over-long TAG item %q (%d bits)", name, bits)
		}
		value := payload[off+tagItemPrefix : off+tagItemPrefix+vlen]

		err := d.dispatch(name, value)
		if err != nil {
			return err
		}
		off += tagItemPrefix + vlen
	}
	return nil
}

func (d *Decoder) dispatch(name, value []byte) error {
	for _, h := range tagTable {
		if string(name[:len(h.name)]) == h.name {
			return h.fn(d, name, value)
		}
	}
	if _, dup := d.unknown[string(name)]; !dup {
		d.unknown[string(name)] = struct{}{}
		d.msg.Warnf("edi: ignoring unknown TAG %q", name)
	}
	return nil
}

func (d *Decoder) decodeStarPtr(name, value []byte) error {
	if len(value) != 8 {
		return xerrors.Errorf("edi: invalid *ptr length (got=%d, want=8)", len(value))
	}
	var (
		proto = string(value[:4])
		major = binary.BigEndian.Uint16(value[4:6])
		minor = binary.BigEndian.Uint16(value[6:8])
	)
	d.ptrSeen = true
	d.protoOK = proto == etiProtocol && major == 0 && minor == 0
	if !d.protoOK && !d.protoWarned {
		d.protoWarned = true
		d.msg.Warnf("edi: unsupported protocol %q %d.%d, not decoding frames", proto, major, minor)
	}
	d.c.UpdateProtocol(proto, major, minor)
	return nil
}

func (d *Decoder) decodeStarDmy(name, value []byte) error {
	return nil
}

// decodeDETI decodes the frame characterisation tag.
//
// Layout: FLAGS(2: ATSTF|FICF|RFUDF|FCTH(5)|FCT(8)) STAT(1)
// MID(2)|FP(3)|RFA(3) MNSC(2) [ATST: UTCO(1) SECONDS(4) TSTA(3)]
// [FIC] [RFUD(3)]. The FIC length is inferred from the remainder.
func (d *Decoder) decodeDETI(name, value []byte) error {
	if !d.ptrSeen {
		return xerrors.Errorf("edi: deti TAG before *ptr")
	}
	if !d.protoOK {
		return nil
	}
	if len(value) < 6 {
		return xerrors.Errorf("edi: short deti TAG (%d bytes)", len(value))
	}

	var (
		flags = binary.BigEndian.Uint16(value[0:2])
		atstf = flags&0x8000 != 0
		ficf  = flags&0x4000 != 0
		rfudf = flags&0x2000 != 0
		fcth  = uint16(flags>>8) & 0x1f
		fct   = flags & 0xff

		fc FCData
	)
	if fct >= 250 || fcth >= 20 {
		return xerrors.Errorf("edi: invalid deti frame count (fcth=%d, fct=%d)", fcth, fct)
	}
	fc.DLFC = fcth*250 + fct
	fc.FICF = ficf
	fc.Stat = value[2]
	fc.MID = value[3] >> 6
	fc.FP = (value[3] >> 3) & 0x7
	mnsc := binary.BigEndian.Uint16(value[4:6])

	off := 6
	if atstf {
		if len(value) < off+8 {
			return xerrors.Errorf("edi: truncated deti ATST field")
		}
		var (
			utco    = value[off]
			seconds = binary.BigEndian.Uint32(value[off+1 : off+5])
			tsta    = u24(value[off+5 : off+8])
		)
		fc.TSTA = tsta << 8
		d.ts.Seconds = seconds
		d.ts.UTCO = utco
		d.ts.TSTA = fc.TSTA
		d.c.UpdateEDITime(utco, seconds)
		off += 8
	}

	tail := 0
	if rfudf {
		tail = 3
	}
	if len(value) < off+tail {
		return xerrors.Errorf("edi: truncated deti TAG")
	}

	if ficf {
		fic := value[off : len(value)-tail]
		if len(fic) == 0 {
			return xerrors.Errorf("edi: deti FICF set but no FIC data")
		}
		d.c.UpdateFIC(fic)
	}
	if rfudf {
		rfud := value[len(value)-tail:]
		d.c.UpdateRFU(binary.BigEndian.Uint16(rfud[0:2]))
	}

	d.c.UpdateErr(fc.Stat)
	d.c.UpdateMNSC(mnsc)
	d.c.UpdateFCData(fc)
	return nil
}

// decodeESTn decodes one stream component tag. The fourth byte of the
// tag name is the stream index; the payload starts with the 24-bit
// SSTC (SCID(6)|SAD(10)|TPL(6)|rfa(2)) followed by the MST data.
func (d *Decoder) decodeESTn(name, value []byte) error {
	if !d.ptrSeen {
		return xerrors.Errorf("edi: est TAG before *ptr")
	}
	if !d.protoOK {
		return nil
	}
	if len(value) < 3 {
		return xerrors.Errorf("edi: short est TAG (%d bytes)", len(value))
	}
	sstc := u24(value[0:3])
	d.c.AddSubchannel(Subchannel{
		StreamIndex: name[3],
		SCID:        uint8(sstc >> 18),
		SAD:         uint16(sstc>>8) & 0x3ff,
		TPL:         uint8(sstc>>2) & 0x3f,
		MST:         value[3:],
	})
	return nil
}
