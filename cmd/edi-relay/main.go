// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command edi-relay receives EDI streams from one or more encoders,
// merges them into one time-ordered frame sequence and republishes
// the frames over UDP, TCP and an optional ZMQ ETI sideband.
//
// Example:
//
//	$> edi-relay -mode merging \
//	      -in encoder-a.example.org:8951 -in encoder-b.example.org:8951 \
//	      -udp 239.20.64.1:12000 -ttl 4 -pft -fec 2 -spread 95 \
//	      -rc /run/edi-relay.sock -web 8001
package main // import "github.com/go-dab/edirelay/cmd/edi-relay"

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-daq/tdaq/log"

	"github.com/go-dab/edirelay"
	"github.com/go-dab/edirelay/ediout"
	"github.com/go-dab/edirelay/relay"
)

type listFlag []string

func (f *listFlag) String() string { return strings.Join(*f, ",") }

func (f *listFlag) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func main() {
	stdlog.SetPrefix("edi-relay: ")
	stdlog.SetFlags(0)

	var (
		ins  listFlag
		udps listFlag
		tcps listFlag

		cfgPath = flag.String("config", "", "optional YAML configuration file")
		mode    = flag.String("mode", "merging", "redundancy mode (merging|switching)")

		srcAddr = flag.String("src", "", "source address for UDP destinations")
		srcPort = flag.Int("src-port", 0, "source port for UDP destinations")
		ttl     = flag.Int("ttl", 0, "TTL for UDP destinations (multicast)")

		pft    = flag.Bool("pft", false, "enable the PFT layer on the output")
		fec    = flag.Int("fec", 0, "number of Reed-Solomon parity fragments (0..5)")
		spread = flag.Float64("spread", 0, "fragment spreading, percent of the 24 ms frame")
		mtu    = flag.Int("mtu", ediout.DefaultMTU, "maximum PFT fragment size")
		align  = flag.Int("align", ediout.DefaultTagAlign, "TAG packet alignment in bytes")

		delay    = flag.Int("delay", 500, "release offset after the frame timestamp, in ms (negative: no pacing)")
		dropLate = flag.Bool("drop-late", false, "drop frames past their release time")
		backoff  = flag.Int("backoff", 5000, "output inhibit window after a fault, in ms")

		switchDelay = flag.Int("switch-delay", 2000, "silence before switching sources, in ms")
		maxDelay    = flag.Int("max-delay", 0, "PFT reassembly delay, in AF packet durations")

		zmqEndpoint = flag.String("zmq", "", "ZMQ endpoint for the reconstructed ETI sideband")
		rcSocket    = flag.String("rc", "", "UNIX datagram socket for remote control")
		webPort     = flag.Int("web", 0, "port of the JSON status page")
		liveStats   = flag.Int("live-stats", 0, "UDP port of the per-frame debug sink")

		startupCheck = flag.String("startupcheck", "", "shell command to run before starting")
		verbosity    = flag.Int("v", 0, "log verbosity (0..3)")
		doVersion    = flag.Bool("version", false, "print version and exit")
	)
	flag.Var(&ins, "in", "EDI TCP source host:port (repeatable)")
	flag.Var(&udps, "udp", "UDP destination addr:port (repeatable)")
	flag.Var(&tcps, "tcp", "TCP listen port (repeatable)")

	flag.Parse()

	if *doVersion {
		version, sum := edirelay.Version()
		fmt.Printf("edi-relay %s %s\n", version, sum)
		return
	}

	opts, err := buildOptions(
		*cfgPath, *mode, ins, udps, tcps,
		*srcAddr, *srcPort, *ttl,
		*pft, *fec, *spread, *mtu, *align,
		*delay, *dropLate, *backoff, *switchDelay, *maxDelay,
		*zmqEndpoint, *rcSocket, *webPort, *liveStats, *verbosity,
		flagWasSet,
	)
	if err != nil {
		stdlog.Fatalf("%+v", err)
	}

	if *startupCheck != "" {
		err = runStartupCheck(*startupCheck)
		if err != nil {
			stdlog.Fatalf("startup check failed: %+v", err)
		}
	}

	lvl := log.LvlInfo
	if *verbosity > 0 {
		lvl = log.LvlDebug
	}
	msg := log.NewMsgStream("edi-relay", lvl, os.Stdout)

	sup, err := relay.New(opts, msg)
	if err != nil {
		stdlog.Fatalf("%+v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = sup.Run(ctx)
	if err != nil {
		stdlog.Fatalf("%+v", err)
	}
}

func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func buildOptions(
	cfgPath, mode string, ins, udps, tcps []string,
	srcAddr string, srcPort, ttl int,
	pft bool, fec int, spread float64, mtu, align int,
	delay int, dropLate bool, backoff, switchDelay, maxDelay int,
	zmqEndpoint, rcSocket string, webPort, liveStats, verbosity int,
	wasSet func(string) bool,
) (relay.Options, error) {
	var (
		opts relay.Options
		err  error
	)

	fromFile := cfgPath != ""
	if fromFile {
		cfg, err := relay.LoadConfig(cfgPath)
		if err != nil {
			return opts, err
		}
		opts, err = cfg.Options()
		if err != nil {
			return opts, err
		}
	}

	// a flag left at its default does not override the config file
	override := func(name string) bool { return !fromFile || wasSet(name) }

	if override("mode") {
		opts.Mode, err = relay.ParseMode(mode)
		if err != nil {
			return opts, err
		}
	}

	for _, in := range ins {
		host, port, err := splitHostPort(in)
		if err != nil {
			return opts, err
		}
		opts.Sources = append(opts.Sources, relay.NewSource(host, port, true))
	}

	for _, dst := range udps {
		host, port, err := splitHostPort(dst)
		if err != nil {
			return opts, err
		}
		opts.Output.UDP = append(opts.Output.UDP, ediout.UDPDestination{
			Addr:       host,
			Port:       port,
			SourceAddr: srcAddr,
			SourcePort: srcPort,
			TTL:        ttl,
		})
	}
	for _, dst := range tcps {
		port, err := strconv.Atoi(dst)
		if err != nil {
			return opts, fmt.Errorf("invalid TCP listen port %q", dst)
		}
		opts.Output.TCP = append(opts.Output.TCP, ediout.TCPServer{Port: port})
	}

	if wasSet("pft") {
		opts.Output.PFT.Enable = pft
		opts.Output.PFT.Explicit = true
	}
	if override("fec") {
		opts.Output.PFT.FEC = fec
	}
	if override("spread") {
		opts.Output.PFT.FragmentSpreading = spread / 100
	}
	if override("mtu") {
		opts.Output.PFT.MTU = mtu
	}
	if override("align") {
		opts.Output.TagAlign = align
	}

	if override("delay") {
		opts.Delay = nil
		if delay >= 0 {
			d := time.Duration(delay) * time.Millisecond
			opts.Delay = &d
		}
	}
	if override("drop-late") {
		opts.DropLate = dropLate
	}
	if override("backoff") {
		opts.Backoff = time.Duration(backoff) * time.Millisecond
	}
	if override("switch-delay") {
		opts.SwitchDelay = time.Duration(switchDelay) * time.Millisecond
	}
	if maxDelay > 0 {
		opts.MaxDelay = maxDelay
	}

	if zmqEndpoint != "" {
		opts.ZMQEndpoint = zmqEndpoint
		opts.ReconstructETI = true
	}
	if rcSocket != "" {
		opts.RCSocket = rcSocket
	}
	if webPort != 0 {
		opts.WebPort = webPort
	}
	if liveStats != 0 {
		opts.LiveStatsPort = liveStats
	}
	if override("v") {
		opts.Verbosity = verbosity
	}

	return opts, nil
}

func splitHostPort(s string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, fmt.Errorf("invalid host:port %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q", s)
	}
	return host, port, nil
}

func runStartupCheck(check string) error {
	cmd := exec.Command("/bin/sh", "-c", check)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
