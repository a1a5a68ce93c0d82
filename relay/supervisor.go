// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-daq/tdaq/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-dab/edirelay/ediout"
	"github.com/go-dab/edirelay/eti"
)

// DefaultSwitchDelay is how long the active source may stay silent in
// switching mode before the supervisor activates another one.
const DefaultSwitchDelay = 2000 * time.Millisecond

// Mode selects how multiple sources are combined.
type Mode int

const (
	// ModeMerging feeds all enabled sources into the deduplicating
	// queue, providing seamless redundancy.
	ModeMerging Mode = iota
	// ModeSwitching keeps one source active and fails over when its
	// data stops or the output degrades.
	ModeSwitching
)

func (m Mode) String() string {
	switch m {
	case ModeMerging:
		return "merging"
	case ModeSwitching:
		return "switching"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "merging":
		return ModeMerging, nil
	case "switching":
		return ModeSwitching, nil
	}
	return 0, fmt.Errorf("relay: unknown mode %q", s)
}

// Options configures a Supervisor.
type Options struct {
	Mode    Mode
	Sources []*Source
	Output  ediout.Configuration

	Delay    *time.Duration // nil: no pacing
	DropLate bool
	Backoff  time.Duration

	SwitchDelay time.Duration
	MaxDelay    int // PFT reassembly delay, in AF packet durations

	ReconstructETI bool
	ZMQEndpoint    string

	RCSocket      string
	WebPort       int
	LiveStatsPort int
	Verbosity     int
}

// Supervisor owns the receivers, the paced transmitter and the
// control surfaces, and drives the mode decisions.
type Supervisor struct {
	msg  log.MsgStream
	mode Mode

	receivers []*Receiver
	sender    *Sender
	out       *ediout.Sender
	mailer    *Mailer

	zmqMu sync.Mutex
	zmq   *eti.ZMQOutput

	switchDelay time.Duration
	rcSocket    string
	webPort     int

	verbosity      atomic.Int32
	numPollTimeout atomic.Uint64
	startup        time.Time
}

// New builds the full relay from its options.
func New(opts Options, msg log.MsgStream) (*Supervisor, error) {
	if len(opts.Sources) == 0 {
		return nil, fmt.Errorf("relay: no sources configured")
	}

	out, err := ediout.NewSender(opts.Output, msg)
	if err != nil {
		return nil, err
	}

	sup := &Supervisor{
		msg:         msg,
		mode:        opts.Mode,
		out:         out,
		mailer:      NewMailerFromEnv(msg),
		switchDelay: opts.SwitchDelay,
		rcSocket:    opts.RCSocket,
		webPort:     opts.WebPort,
		startup:     time.Now(),
	}
	if sup.switchDelay <= 0 {
		sup.switchDelay = DefaultSwitchDelay
	}
	sup.verbosity.Store(int32(opts.Verbosity))

	sup.sender = NewSender(out, opts.Delay, opts.DropLate, msg)
	if opts.Backoff > 0 {
		sup.sender.SetBackoff(opts.Backoff)
	}
	if opts.LiveStatsPort > 0 {
		err = sup.sender.SetLiveStatsPort(opts.LiveStatsPort)
		if err != nil {
			out.Close()
			return nil, err
		}
	}
	sup.sender.SetOnInhibit(func() {
		sup.mailer.Notify("output inhibited",
			fmt.Sprintf("the EDI output entered its backoff window (%v)", sup.sender.Backoff()))
	})

	if opts.ZMQEndpoint != "" {
		zmq := eti.NewZMQOutput(msg)
		err = zmq.Open(opts.ZMQEndpoint)
		if err != nil {
			out.Close()
			return nil, err
		}
		sup.zmq = zmq
	}

	for _, src := range opts.Sources {
		rx := NewReceiver(src, sup.pushTagPacket, sup.pushETIFrame,
			opts.ReconstructETI && sup.zmq != nil,
			opts.Verbosity, msg)
		if opts.MaxDelay > 0 {
			rx.SetMaxDelay(opts.MaxDelay)
		}
		sup.receivers = append(sup.receivers, rx)
	}

	switch sup.mode {
	case ModeMerging:
		for _, src := range opts.Sources {
			src.setActive(src.Enabled())
		}
	case ModeSwitching:
		sup.ensureOneActive()
	}

	return sup, nil
}

// Run drives all goroutines until the context is cancelled.
func (sup *Supervisor) Run(ctx context.Context) error {
	sup.msg.Infof("relay: %s", sup.out.Describe())
	if sup.zmq != nil {
		sup.msg.Infof("relay: ZMQ output: %s", sup.zmq.Endpoint())
	}
	for _, rx := range sup.receivers {
		sup.msg.Infof("relay: input %s (enabled=%v)", rx.Source.Addr(), rx.Source.Enabled())
	}

	var rc *rcServer
	if sup.rcSocket != "" {
		var err error
		rc, err = newRCServer(sup.rcSocket, sup, sup.msg)
		if err != nil {
			sup.out.Close()
			return err
		}
	}

	grp, ctx := errgroup.WithContext(ctx)

	grp.Go(func() error { return sup.sender.Run(ctx) })
	for _, rx := range sup.receivers {
		rx := rx
		grp.Go(func() error { return rx.Run(ctx) })
	}
	if rc != nil {
		grp.Go(func() error { return rc.run(ctx) })
	}
	if sup.webPort > 0 {
		grp.Go(func() error { return serveWeb(ctx, sup.webPort, sup, sup.msg) })
	}
	grp.Go(func() error { return sup.loop(ctx) })

	err := grp.Wait()

	sup.out.Close()
	if sup.zmq != nil {
		sup.zmq.Close()
	}
	return err
}

// loop runs the periodic mode decisions.
func (sup *Supervisor) loop(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	prev := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		switch sup.mode {
		case ModeMerging:
			for _, rx := range sup.receivers {
				rx.Source.setActive(rx.Source.Enabled())
			}
		case ModeSwitching:
			sup.switchingDecision()
		}

		// account ticks during which no source delivered data
		idle := true
		for _, rx := range sup.receivers {
			if rx.TimeLastPacket().After(prev) {
				idle = false
				break
			}
		}
		if idle {
			sup.numPollTimeout.Add(1)
		}
		prev = time.Now()
	}
}

func (sup *Supervisor) switchingDecision() {
	active := -1
	count := 0
	for i, rx := range sup.receivers {
		if rx.Source.Active() {
			if active == -1 {
				active = i
			}
			count++
		}
	}
	if count > 1 {
		sup.msg.Errorf("relay: switching error: more than one input active")
	}
	if active == -1 {
		sup.ensureOneActive()
		return
	}

	rx := sup.receivers[active]

	forceSwitch := false
	if !rx.Source.Enabled() {
		sup.msg.Infof("relay: unset %s active", rx.Source.Addr())
		rx.Source.setActive(false)
		forceSwitch = true
	}

	var (
		packetAge     = time.Since(rx.TimeLastPacket())
		outputUnhappy = !sup.sender.IsRunningOK()
	)
	if !forceSwitch && !outputUnhappy && packetAge <= sup.switchDelay {
		return
	}

	for off := 1; off <= len(sup.receivers); off++ {
		cand := sup.receivers[(active+off)%len(sup.receivers)]
		if cand == rx || !cand.Source.Enabled() {
			continue
		}
		rx.Source.setActive(false)
		cand.Source.setActive(true)
		sup.msg.Warnf("relay: switching from %s to %s because of lack of data",
			rx.Source.Addr(), cand.Source.Addr())
		sup.mailer.Notify("input switch",
			fmt.Sprintf("switched from %s to %s", rx.Source.Addr(), cand.Source.Addr()))
		return
	}
	sup.ensureOneActive()
}

// ensureOneActive activates the first enabled source when none is
// active.
func (sup *Supervisor) ensureOneActive() {
	for _, rx := range sup.receivers {
		if rx.Source.Active() {
			return
		}
	}
	for _, rx := range sup.receivers {
		if rx.Source.Enabled() {
			sup.msg.Infof("relay: activating %s", rx.Source.Addr())
			rx.Source.setActive(true)
			return
		}
	}
}

func (sup *Supervisor) pushTagPacket(tp TagPacket, rx *Receiver) {
	if !rx.Source.Active() {
		return
	}
	sup.sender.PushTagPacket(tp, rx)
}

func (sup *Supervisor) pushETIFrame(f eti.FrameData, rx *Receiver) {
	if sup.zmq == nil || !rx.Source.Active() {
		return
	}
	sup.zmqMu.Lock()
	err := sup.zmq.Encode(f)
	sup.zmqMu.Unlock()
	if err != nil {
		sup.msg.Errorf("relay: ZMQ output: %+v", err)
	}
}

// Sender exposes the paced transmitter, e.g. for the control surface.
func (sup *Supervisor) Sender() *Sender { return sup.sender }

// Mode returns the configured redundancy mode.
func (sup *Supervisor) Mode() Mode { return sup.mode }

// Verbosity returns the current log verbosity.
func (sup *Supervisor) Verbosity() int { return int(sup.verbosity.Load()) }

// SetVerbosity propagates the log verbosity to all receivers.
func (sup *Supervisor) SetVerbosity(v int) {
	sup.verbosity.Store(int32(v))
	for _, rx := range sup.receivers {
		rx.SetVerbosity(v)
	}
}

// SetSourceEnabled flips the user enable flag of the source matching
// addr ("host:port").
func (sup *Supervisor) SetSourceEnabled(addr string, enabled bool) error {
	for _, rx := range sup.receivers {
		if rx.Source.Addr() == addr {
			rx.Source.SetEnabled(enabled)
			sup.msg.Infof("relay: set input %s enabled=%v", addr, enabled)
			return nil
		}
	}
	return fmt.Errorf("relay: no input %q", addr)
}

// ResetCounters zeroes all input and output counters.
func (sup *Supervisor) ResetCounters() {
	for _, rx := range sup.receivers {
		rx.ResetCounters()
	}
	sup.sender.ResetCounters()
	sup.numPollTimeout.Store(0)
}

// Settings returns the runtime-adjustable settings.
func (sup *Supervisor) Settings() Settings {
	return Settings{
		DelayMS:   sup.sender.Delay(),
		DropLate:  sup.sender.DropLate(),
		BackoffMS: sup.sender.Backoff().Milliseconds(),
		Mode:      sup.mode.String(),
		Verbosity: sup.Verbosity(),
	}
}

// Snapshot builds the full status document.
func (sup *Supervisor) Snapshot() Snapshot {
	snap := Snapshot{
		Service:        "edi-relay",
		UptimeS:        int64(time.Since(sup.startup).Seconds()),
		Mode:           sup.mode.String(),
		NumPollTimeout: sup.numPollTimeout.Load(),
		Output:         sup.sender.Stats(),
	}
	for _, rx := range sup.receivers {
		errMsg, errAt := rx.LastConnectionError()
		in := InputStats{
			Hostname:         rx.Source.Hostname,
			Port:             rx.Source.Port,
			Enabled:          rx.Source.Enabled(),
			Active:           rx.Source.Active(),
			Connected:        rx.Source.Connected(),
			NumConnects:      rx.Source.NumConnects(),
			NumLate:          rx.NumLate.Load(),
			ConnUptimeMS:     rx.ConnectionUptime().Milliseconds(),
			LastPacket:       statsTime(rx.SystimeLastPacket()),
			Margin:           rx.MarginStats(),
			LastConnectError: errMsg,
			LastConnErrorAt:  statsTime(errAt),
			Decoder:          rx.DecoderStats(),
		}
		snap.Inputs = append(snap.Inputs, in)
	}
	return snap
}
