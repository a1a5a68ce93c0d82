// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-daq/tdaq/log"
	"golang.org/x/sys/unix"

	"github.com/go-dab/edirelay/edi"
	"github.com/go-dab/edirelay/eti"
)

// TCP keepalive settings, so half-open connections are detected
// within ~20s.
const (
	kaTime   = 10 // start keepalives after this period (seconds)
	kaIntvl  = 2  // interval between keepalives (seconds)
	kaProbes = 3  // keepalives before the connection is considered broken
)

// reconnectDelay paces reconnection attempts.
const reconnectDelay = 480 * time.Millisecond

// tickInterval is the cadence of the receiver and supervisor loops.
const tickInterval = 240 * time.Millisecond

// recvBufSize bounds one read from the source socket.
const recvBufSize = 32

// Receiver ingests one EDI source over TCP and owns its decoder.
type Receiver struct {
	Source *Source

	msg       log.MsgStream
	verbosity atomic.Int32

	onTagPacket func(TagPacket, *Receiver)
	onETIFrame  func(eti.FrameData, *Receiver)
	reconstruct bool

	dec *edi.Decoder

	// decoded elements of the frame being assembled
	fc          edi.FCData
	fcValid     bool
	fic         []byte
	subchannels []edi.Subchannel
	errField    byte
	utco        uint8
	seconds     uint32
	timeValid   bool
	mnsc        uint16
	rfu         uint16

	// NumLate is bumped by the output side when a packet of this
	// source arrived past its release time.
	NumLate atomic.Uint64

	mu              sync.Mutex
	conn            net.Conn
	reconnectAt     time.Time
	reconnectedAt   time.Time
	mostRecentRx    time.Time // monotonic
	mostRecentRxSys time.Time // wall-clock
	margins         marginRing
	lastConnError   string
	lastConnErrorAt time.Time
}

// NewReceiver creates the receiver for one source. onTagPacket is
// called exactly once per reassembled AF packet; onETIFrame only when
// reconstructETI is set and a complete frame could be rebuilt.
func NewReceiver(
	src *Source,
	onTagPacket func(TagPacket, *Receiver),
	onETIFrame func(eti.FrameData, *Receiver),
	reconstructETI bool,
	verbosity int,
	msg log.MsgStream,
) *Receiver {
	rx := &Receiver{
		Source:      src,
		msg:         msg,
		onTagPacket: onTagPacket,
		onETIFrame:  onETIFrame,
		reconstruct: reconstructETI,
	}
	rx.verbosity.Store(int32(verbosity))
	rx.dec = edi.NewDecoder(rx, msg)
	rx.dec.SetVerbose(verbosity > 1)
	return rx
}

// SetVerbosity updates the log verbosity of the receiver.
func (rx *Receiver) SetVerbosity(v int) {
	rx.verbosity.Store(int32(v))
	rx.dec.SetVerbose(v > 1)
}

// SetMaxDelay forwards the PFT reassembly delay to the decoder.
func (rx *Receiver) SetMaxDelay(n int) { rx.dec.SetMaxDelay(n) }

// DecoderStats returns the decoder counters of this source.
func (rx *Receiver) DecoderStats() edi.Stats { return rx.dec.Stats() }

// Run drives the connection until the context is cancelled.
func (rx *Receiver) Run(ctx context.Context) error {
	defer rx.disconnect("shutting down")

	for {
		if ctx.Err() != nil {
			return nil
		}

		if !rx.Source.Active() {
			rx.disconnect("source disabled")
			if !sleepCtx(ctx, tickInterval) {
				return nil
			}
			continue
		}

		rx.mu.Lock()
		conn := rx.conn
		wait := time.Until(rx.reconnectAt)
		rx.mu.Unlock()

		if conn == nil {
			if wait > 0 {
				if wait > tickInterval {
					wait = tickInterval
				}
				if !sleepCtx(ctx, wait) {
					return nil
				}
				continue
			}
			rx.connect(ctx)
			continue
		}

		rx.receive(conn)
	}
}

func (rx *Receiver) connect(ctx context.Context) {
	dialer := net.Dialer{Timeout: reconnectDelay}
	conn, err := dialer.DialContext(ctx, "tcp", rx.Source.Addr())

	rx.mu.Lock()
	rx.reconnectAt = time.Now().Add(reconnectDelay)
	if err != nil {
		rx.lastConnError = err.Error()
		rx.lastConnErrorAt = time.Now()
		rx.mu.Unlock()
		if rx.verbosity.Load() > 0 {
			rx.msg.Debugf("relay: connecting to %s failed: %+v", rx.Source.Addr(), err)
		}
		return
	}
	rx.conn = conn
	rx.mu.Unlock()

	err = enableKeepalive(conn)
	if err != nil {
		rx.msg.Warnf("relay: could not enable keepalive on %s: %+v", rx.Source.Addr(), err)
	}
}

// receive performs one bounded read and feeds the decoder.
func (rx *Receiver) receive(conn net.Conn) {
	var buf [recvBufSize]byte
	err := conn.SetReadDeadline(time.Now().Add(tickInterval))
	if err != nil {
		rx.disconnect(err.Error())
		return
	}

	n, err := conn.Read(buf[:])
	if n > 0 {
		rx.dec.PushBytes(buf[:n])

		rx.mu.Lock()
		rx.mostRecentRx = time.Now()
		rx.mostRecentRxSys = time.Now()
		rx.mu.Unlock()

		if !rx.Source.Connected() {
			rx.Source.numConnects.Add(1)
			rx.Source.connected.Store(true)
			rx.mu.Lock()
			rx.reconnectedAt = time.Now()
			rx.mu.Unlock()
			rx.msg.Infof("relay: connection to %s established", rx.Source.Addr())
		}
		return
	}

	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return // no data this tick
		}
		rx.disconnect(err.Error())
		return
	}
}

// disconnect closes the socket, resets the decoder and schedules the
// next reconnection attempt.
func (rx *Receiver) disconnect(why string) {
	rx.mu.Lock()
	conn := rx.conn
	rx.conn = nil
	if conn != nil {
		rx.reconnectAt = time.Now().Add(reconnectDelay)
	}
	rx.mu.Unlock()

	if conn == nil {
		return
	}
	conn.Close()
	rx.dec.Reset()
	rx.resetAssembly()
	wasConnected := rx.Source.Connected()
	rx.Source.connected.Store(false)
	if wasConnected || rx.verbosity.Load() > 0 {
		rx.msg.Infof("relay: disconnected from %s (%s)", rx.Source.Addr(), why)
	}
}

func (rx *Receiver) resetAssembly() {
	rx.fcValid = false
	rx.timeValid = false
	rx.fic = nil
	rx.subchannels = nil
}

// TimeLastPacket returns the monotonic instant of the last received
// data.
func (rx *Receiver) TimeLastPacket() time.Time {
	rx.mu.Lock()
	defer rx.mu.Unlock()
	return rx.mostRecentRx
}

// SystimeLastPacket returns the wall-clock instant of the last
// received data.
func (rx *Receiver) SystimeLastPacket() time.Time {
	rx.mu.Lock()
	defer rx.mu.Unlock()
	return rx.mostRecentRxSys
}

// ConnectionUptime returns how long the current connection has been
// delivering data.
func (rx *Receiver) ConnectionUptime() time.Duration {
	rx.mu.Lock()
	defer rx.mu.Unlock()
	if rx.reconnectedAt.IsZero() {
		return 0
	}
	return time.Since(rx.reconnectedAt)
}

// MarginStats returns the statistics over the recent margins.
func (rx *Receiver) MarginStats() MarginStats {
	rx.mu.Lock()
	defer rx.mu.Unlock()
	return rx.margins.stats()
}

// LastConnectionError returns the most recent connection error.
func (rx *Receiver) LastConnectionError() (string, time.Time) {
	rx.mu.Lock()
	defer rx.mu.Unlock()
	return rx.lastConnError, rx.lastConnErrorAt
}

// ResetCounters zeroes the per-source counters.
func (rx *Receiver) ResetCounters() {
	rx.NumLate.Store(0)
	rx.Source.resetCounters()
}

func enableKeepalive(conn net.Conn) error {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	raw, err := tcp.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	err = raw.Control(func(fd uintptr) {
		for _, opt := range []struct{ level, name, value int }{
			{unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1},
			{unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, kaTime},
			{unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, kaIntvl},
			{unix.IPPROTO_TCP, unix.TCP_KEEPCNT, kaProbes},
		} {
			serr = unix.SetsockoptInt(int(fd), opt.level, opt.name, opt.value)
			if serr != nil {
				return
			}
		}
	})
	if err != nil {
		return err
	}
	return serr
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// UpdateProtocol implements edi.Collector.
func (rx *Receiver) UpdateProtocol(proto string, major, minor uint16) {}

// UpdateFCData implements edi.Collector.
func (rx *Receiver) UpdateFCData(fc edi.FCData) {
	rx.fc = fc
	rx.fcValid = true
}

// UpdateFIC implements edi.Collector.
func (rx *Receiver) UpdateFIC(fic []byte) {
	rx.fic = append(rx.fic[:0], fic...)
}

// UpdateErr implements edi.Collector.
func (rx *Receiver) UpdateErr(err byte) { rx.errField = err }

// UpdateEDITime implements edi.Collector.
func (rx *Receiver) UpdateEDITime(utco uint8, seconds uint32) {
	rx.utco = utco
	rx.seconds = seconds
	rx.timeValid = true
}

// UpdateMNSC implements edi.Collector.
func (rx *Receiver) UpdateMNSC(mnsc uint16) { rx.mnsc = mnsc }

// UpdateRFU implements edi.Collector.
func (rx *Receiver) UpdateRFU(rfu uint16) { rx.rfu = rfu }

// AddSubchannel implements edi.Collector.
func (rx *Receiver) AddSubchannel(sc edi.Subchannel) {
	rx.subchannels = append(rx.subchannels, sc)
}

// Assemble implements edi.Collector: one AF packet is complete.
func (rx *Receiver) Assemble(data edi.TagData) {
	tp := TagPacket{
		Hostnames:  rx.Source.Hostname,
		Seq:        data.Seq,
		DLFC:       rx.fc.DLFC,
		AFPacket:   data.AFPacket,
		Timestamp:  data.Timestamp,
		ReceivedAt: time.Now(),
	}

	if data.Timestamp.Valid() {
		margin := time.Until(data.Timestamp.Time())
		rx.mu.Lock()
		rx.margins.add(int(margin.Milliseconds()))
		rx.mu.Unlock()
	}

	rx.onTagPacket(tp, rx)

	if rx.reconstruct {
		rx.assembleETI()
	}
	rx.subchannels = nil
	rx.fic = nil
}

func (rx *Receiver) assembleETI() {
	if !rx.fcValid || !rx.timeValid || len(rx.fic) == 0 {
		rx.msg.Warnf("relay: %s: incomplete frame data, skipping ETI reconstruction", rx.Source.Addr())
		return
	}
	if rx.onETIFrame == nil {
		return
	}
	rx.onETIFrame(eti.FrameData{
		FC:          rx.fc,
		Err:         rx.errField,
		FIC:         append([]byte(nil), rx.fic...),
		Subchannels: rx.subchannels,
		MNSC:        rx.mnsc,
		RFU:         rx.rfu,
		UTCO:        rx.utco,
		Seconds:     rx.seconds,
	}, rx)
}
