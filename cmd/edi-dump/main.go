// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// edi-dump decodes and displays EDI streams.
//
// Usage: edi-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> edi-dump ./capture.edi
//	=== AF seq=1024 pseq=1024 ===
//	dlfc:     1234  fp: 2  mid: 1
//	time:     2026-08-05T10:00:00Z +0.3125
//	fic:      96 bytes
//	subch:    2
//	  est[1] scid= 1 sad=  54 tpl= 10 mst=2208 bytes
//	  est[2] scid= 2 sad= 330 tpl= 8 mst=1152 bytes
//
// With -addr, edi-dump connects to a TCP source instead of reading
// files.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"net"
	"os"

	"github.com/go-daq/tdaq/log"

	"github.com/go-dab/edirelay/edi"
)

func main() {
	stdlog.SetPrefix("edi-dump: ")
	stdlog.SetFlags(0)

	var (
		addr    = flag.String("addr", "", "host:port of a TCP EDI source to dump")
		nFrames = flag.Int("n", 0, "stop after that many frames (0: no limit)")
	)

	flag.Usage = func() {
		fmt.Printf(`edi-dump decodes and displays EDI streams.

Usage: edi-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
       edi-dump -addr host:port

`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if *addr == "" && flag.NArg() == 0 {
		flag.Usage()
		stdlog.Fatalf("missing path to input EDI file")
	}

	if *addr != "" {
		conn, err := net.Dial("tcp", *addr)
		if err != nil {
			stdlog.Fatalf("could not connect to %q: %+v", *addr, err)
		}
		defer conn.Close()
		err = process(os.Stdout, conn, *nFrames)
		if err != nil {
			stdlog.Fatalf("could not dump stream from %q: %+v", *addr, err)
		}
		return
	}

	for _, fname := range flag.Args() {
		err := processFile(os.Stdout, fname, *nFrames)
		if err != nil {
			stdlog.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

func processFile(w io.Writer, fname string, nFrames int) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer f.Close()
	return process(w, f, nFrames)
}

func process(w io.Writer, r io.Reader, nFrames int) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	dump := &dumper{w: wbuf, max: nFrames}
	dec := edi.NewDecoder(dump, log.NewMsgStream("edi-dump", log.LvlWarning, os.Stderr))

	buf := make([]byte, 4096)
	for dump.max == 0 || dump.n < dump.max {
		n, err := r.Read(buf)
		if n > 0 {
			dec.PushBytes(buf[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// dumper prints one block per assembled AF packet.
type dumper struct {
	w   io.Writer
	n   int
	max int

	fc    edi.FCData
	fic   int
	subch []edi.Subchannel
}

func (d *dumper) UpdateProtocol(proto string, major, minor uint16) {}

func (d *dumper) UpdateFCData(fc edi.FCData) { d.fc = fc }

func (d *dumper) UpdateFIC(fic []byte) { d.fic = len(fic) }

func (d *dumper) UpdateErr(err byte) {}

func (d *dumper) UpdateEDITime(utco uint8, seconds uint32) {}

func (d *dumper) UpdateMNSC(mnsc uint16) {}

func (d *dumper) UpdateRFU(rfu uint16) {}

func (d *dumper) AddSubchannel(sc edi.Subchannel) { d.subch = append(d.subch, sc) }

func (d *dumper) Assemble(data edi.TagData) {
	d.n++

	fmt.Fprintf(d.w, "=== AF seq=%d", data.Seq.Seq)
	if data.Seq.PSeqValid {
		fmt.Fprintf(d.w, " pseq=%d", data.Seq.PSeq)
	}
	fmt.Fprintf(d.w, " ===\n")
	fmt.Fprintf(d.w, "dlfc: % 8d  fp: %d  mid: %d\n", d.fc.DLFC, d.fc.FP, d.fc.MID)
	if data.Timestamp.Valid() {
		fmt.Fprintf(d.w, "time:     %s +%.4f\n",
			data.Timestamp.Time().UTC().Format("2006-01-02T15:04:05Z"),
			float64(data.Timestamp.TSTA>>8)/16384.0,
		)
	}
	fmt.Fprintf(d.w, "fic:      %d bytes\n", d.fic)
	fmt.Fprintf(d.w, "subch:    %d\n", len(d.subch))
	for _, sc := range d.subch {
		fmt.Fprintf(d.w, "  est[%d] scid=% 2d sad=% 4d tpl=% 2d mst=%d bytes\n",
			sc.StreamIndex, sc.SCID, sc.SAD, sc.TPL, len(sc.MST),
		)
	}

	d.fic = 0
	d.subch = d.subch[:0]
}
