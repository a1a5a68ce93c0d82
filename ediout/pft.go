// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ediout

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/reedsolomon"
)

const (
	pftFixedLen  = 12
	pftRSInfoLen = 2
	pftHeaderCRC = 2
)

// fragmentAF splits an AF packet into PFT fragments of at most mtu
// bytes. With fec > 0 the data fragments are equally sized and fec
// Reed-Solomon parity fragments are appended, so any fec lost
// fragments can be recovered.
func fragmentAF(af []byte, pseq uint16, fec, mtu int) ([][]byte, error) {
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	overhead := pftFixedLen + pftHeaderCRC
	if fec > 0 {
		overhead += pftRSInfoLen
	}
	max := mtu - overhead
	if max <= 0 {
		return nil, fmt.Errorf("ediout: MTU %d too small for PFT header", mtu)
	}

	if fec == 0 {
		n := (len(af) + max - 1) / max
		frags := make([][]byte, 0, n)
		for i := 0; i < n; i++ {
			lo := i * max
			hi := lo + max
			if hi > len(af) {
				hi = len(af)
			}
			frags = append(frags, pftHeader(pseq, uint32(i), uint32(n), 0, 0, af[lo:hi]))
		}
		return frags, nil
	}

	n := (len(af) + max - 1) / max
	if n+fec > 256 {
		return nil, fmt.Errorf("ediout: AF packet needs %d fragments, too many for RS(%d+%d)", n, n, fec)
	}
	var (
		plen = (len(af) + n - 1) / n
		pad  = n*plen - len(af)
	)

	shards := make([][]byte, n+fec)
	for i := 0; i < n; i++ {
		shard := make([]byte, plen)
		copy(shard, af[i*plen:])
		shards[i] = shard
	}
	for i := n; i < n+fec; i++ {
		shards[i] = make([]byte, plen)
	}

	enc, err := reedsolomon.New(n, fec)
	if err != nil {
		return nil, fmt.Errorf("ediout: could not create RS encoder: %w", err)
	}
	err = enc.Encode(shards)
	if err != nil {
		return nil, fmt.Errorf("ediout: could not compute RS parity: %w", err)
	}

	frags := make([][]byte, 0, len(shards))
	for i, shard := range shards {
		frags = append(frags, pftHeader(pseq, uint32(i), uint32(len(shards)), uint8(fec), uint8(pad), shard))
	}
	return frags, nil
}

// pftHeader prepends the PFT fragment header (with CRC) to payload.
// A zero parity count emits the short header without RS info.
func pftHeader(pseq uint16, findex, fcount uint32, parity, pad uint8, payload []byte) []byte {
	n := pftFixedLen + pftHeaderCRC
	if parity > 0 {
		n += pftRSInfoLen
	}
	hdr := make([]byte, 0, n+len(payload))
	hdr = append(hdr, "PF"...)
	hdr = binary.BigEndian.AppendUint16(hdr, pseq)
	hdr = appendU24(hdr, findex)
	hdr = appendU24(hdr, fcount)

	flags := uint16(len(payload)) & 0x3fff
	if parity > 0 {
		flags |= 0x8000
	}
	hdr = binary.BigEndian.AppendUint16(hdr, flags)
	if parity > 0 {
		hdr = append(hdr, parity, pad)
	}

	hdr = binary.BigEndian.AppendUint16(hdr, afCRC(hdr))
	return append(hdr, payload...)
}

func appendU24(p []byte, v uint32) []byte {
	return append(p, byte(v>>16), byte(v>>8), byte(v))
}
