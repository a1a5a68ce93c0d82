// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-daq/tdaq/log"
	"golang.org/x/xerrors"

	"github.com/go-dab/edirelay/ediout"
	"github.com/go-dab/edirelay/internal/timestamp"
)

// DefaultBackoff is the output inhibit window after a fault.
const DefaultBackoff = 5000 * time.Millisecond

// DefaultDelay is the release offset added to the frame timestamps.
const DefaultDelay = 500 * time.Millisecond

const (
	lateScoreStep      = 10
	lateScoreMax       = 200
	lateScoreUnhealthy = 100
)

// dlfcModulo is the wrap of the logical frame count.
const dlfcModulo = 5000

// statsLogInterval logs buffering statistics every that many frames.
const statsLogInterval = 250

// bufferingStat records the fate and buffering time of one frame.
type bufferingStat struct {
	bufMS     float64
	late      bool
	dropped   bool
	inhibited bool
}

// Sender is the paced transmitter: it merges pushed TagPackets into a
// time-ordered queue and releases each frame at a fixed offset after
// its timestamp.
type Sender struct {
	msg log.MsgStream
	out *ediout.Sender

	mu                sync.Mutex
	cond              *sync.Cond
	running           bool
	pending           pendingQueue
	mostRecentEmitted timestamp.Timestamp
	lateScore         int
	delay             *time.Duration // nil: send immediately after dedup
	dropLate          bool
	backoff           time.Duration
	inhibitUntil      time.Time
	inBackoff         bool
	lastDLFC          uint16
	lastDLFCValid     bool
	bufStats          []bufferingStat
	liveStatsPort     int
	liveStatsConn     *net.UDPConn
	onInhibit         func()

	numFrames        atomic.Uint64
	numDropped       atomic.Uint64
	numQueueOverruns atomic.Uint64
	numDiscont       atomic.Uint64
}

// NewSender creates the paced transmitter in front of the given
// output. A nil delay disables pacing: frames leave as soon as they
// are popped.
func NewSender(out *ediout.Sender, delay *time.Duration, dropLate bool, msg log.MsgStream) *Sender {
	s := &Sender{
		msg:      msg,
		out:      out,
		delay:    delay,
		dropLate: dropLate,
		backoff:  DefaultBackoff,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// SetOnInhibit registers a callback invoked whenever the output
// enters the inhibit window.
func (s *Sender) SetOnInhibit(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onInhibit = fn
}

// SetDelay updates the pacing delay; nil disables pacing.
func (s *Sender) SetDelay(d *time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// SetDropLate selects whether late frames are dropped or sent anyway.
func (s *Sender) SetDropLate(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLate = v
}

// SetBackoff updates the inhibit window duration.
func (s *Sender) SetBackoff(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backoff = d
}

// Delay returns the pacing delay in milliseconds, or nil.
func (s *Sender) Delay() *int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delay == nil {
		return nil
	}
	ms := int(s.delay.Milliseconds())
	return &ms
}

// DropLate reports the late-frame policy.
func (s *Sender) DropLate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropLate
}

// Backoff returns the inhibit window duration.
func (s *Sender) Backoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backoff
}

// SetLiveStatsPort directs a per-frame JSON timing datagram to
// 127.0.0.1:port. Zero disables the sink.
func (s *Sender) SetLiveStatsPort(port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.liveStatsConn != nil {
		s.liveStatsConn.Close()
		s.liveStatsConn = nil
	}
	s.liveStatsPort = port
	if port == 0 {
		return nil
	}
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{
		IP:   net.IPv4(127, 0, 0, 1),
		Port: port,
	})
	if err != nil {
		return fmt.Errorf("relay: could not open live stats sink: %w", err)
	}
	s.liveStatsConn = conn
	return nil
}

// LiveStatsPort returns the current live stats port.
func (s *Sender) LiveStatsPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveStatsPort
}

// IsRunningOK reports the output health: the late score is below the
// unhealthy threshold.
func (s *Sender) IsRunningOK() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lateScore < lateScoreUnhealthy
}

// PushTagPacket inserts one frame into the merge queue, applying the
// late, duplicate and inhibit policies. rx, when non-nil, has its
// late counter bumped for frames past their release time.
func (s *Sender) PushTagPacket(tp TagPacket, rx *Receiver) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	if s.delay != nil && tp.Timestamp.Valid() {
		release := tp.Timestamp.Time().Add(*s.delay)
		if release.Before(now) {
			s.bumpLateScoreLocked()
			s.numDropped.Add(1)
			if rx != nil {
				rx.NumLate.Add(1)
			}
			s.msg.Debugf("relay: dropping late frame dlfc=%d from %s", tp.DLFC, tp.Hostnames)
			return
		}
	}

	if s.mostRecentEmitted.Valid() && tp.Timestamp.Cmp(s.mostRecentEmitted) <= 0 {
		s.numDropped.Add(1)
		s.msg.Debugf("relay: dropping dup&late frame dlfc=%d from %s", tp.DLFC, tp.Hostnames)
		return
	}

	if now.Before(s.inhibitUntil) {
		s.numDropped.Add(1)
		return
	}

	switch outcome, have := s.pending.insert(tp); outcome {
	case queueMismatch:
		s.msg.Warnf("relay: sources disagree on DLFC for the same timestamp (have=%d, got=%d from %s), keeping first",
			have, tp.DLFC, tp.Hostnames)
	case queueMerged, queueInserted:
	}

	if n := s.pending.trim(); n > 0 {
		s.numQueueOverruns.Add(uint64(n))
	}

	s.cond.Signal()
}

// Run drains the queue until the context is cancelled.
func (s *Sender) Run(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, s.Stop)
	defer stop()

	for {
		tp, ok := s.pop()
		if !ok {
			return nil
		}
		s.process(ctx, tp)
	}
}

// Stop wakes the transmitter up and makes Run return.
func (s *Sender) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *Sender) pop() (TagPacket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) == 0 && s.running {
		s.cond.Wait()
	}
	if !s.running {
		return TagPacket{}, false
	}
	tp := s.pending[0]
	s.pending = s.pending[1:]
	s.mostRecentEmitted = tp.Timestamp
	return tp, true
}

func (s *Sender) process(ctx context.Context, tp TagPacket) {
	var late bool

	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()

	if delay != nil && tp.Timestamp.Valid() {
		release := tp.Timestamp.Time().Add(*delay)
		wait := time.Until(release)
		late = wait < 0
		if wait > 0 && !sleepCtx(ctx, wait) {
			return
		}
	}

	stat := bufferingStat{
		bufMS: float64(time.Since(tp.ReceivedAt).Microseconds()) / 1e3,
		late:  late,
	}

	s.mu.Lock()

	if late {
		s.bumpLateScoreLocked()
	}

	switch {
	case late && s.dropLate:
		stat.dropped = true
		s.numDropped.Add(1)

	case time.Now().Before(s.inhibitUntil):
		stat.inhibited = true
		s.numDropped.Add(1)

	case s.lastDLFCValid && tp.DLFC != (s.lastDLFC+1)%dlfcModulo:
		s.msg.Warnf("relay: DLFC discontinuity (%d -> %d)", s.lastDLFC, tp.DLFC)
		s.numDiscont.Add(1)
		s.numDropped.Add(1)
		stat.dropped = true
		s.inhibitLocked()

	default:
		if s.inBackoff {
			s.inBackoff = false
			s.msg.Infof("relay: output backoff ended")
		}
		err := s.sendLocked(tp)
		if err != nil {
			s.msg.Errorf("relay: could not send frame dlfc=%d: %+v", tp.DLFC, err)
			s.numDropped.Add(1)
			stat.dropped = true
			break
		}
		s.numFrames.Add(1)
		if s.lateScore > 0 {
			s.lateScore--
		}
		s.lastDLFC = tp.DLFC
		s.lastDLFCValid = true
	}

	s.bufStats = append(s.bufStats, stat)
	logStats := tp.DLFC%statsLogInterval == 0 && len(s.bufStats) > 0
	var stats []bufferingStat
	if logStats {
		stats = s.bufStats
		s.bufStats = nil
	}
	live := s.liveStatsConn
	s.mu.Unlock()

	if live != nil {
		s.sendLiveStats(live, tp, stat)
	}
	if logStats {
		s.logBufferingStats(stats, tp)
	}
}

// sendLocked applies the sequence overrides and hands the TAG payload
// of the AF packet to the output.
func (s *Sender) sendLocked(tp TagPacket) error {
	if tp.Seq.SeqValid {
		s.out.OverrideAFSequence(tp.Seq.Seq)
	}
	switch {
	case tp.Seq.PSeqValid:
		s.out.OverridePFTSequence(tp.Seq.PSeq)
	case tp.Seq.SeqValid:
		// sources without PFT: align PSEQ with SEQ so downstream
		// deduplicators see identical numbers on redundant paths
		s.out.OverridePFTSequence(tp.Seq.Seq)
	}

	payload, err := stripAF(tp.AFPacket)
	if err != nil {
		return err
	}
	return s.out.Write(payload)
}

// stripAF removes the AF header and trailing CRC, recovering the TAG
// payload.
func stripAF(af []byte) ([]byte, error) {
	const hdr = 10
	if len(af) < hdr || string(af[:2]) != "AF" {
		return nil, xerrors.Errorf("relay: malformed AF packet (%d bytes)", len(af))
	}
	end := len(af)
	if af[8]&0x80 != 0 {
		end -= 2
	}
	if end < hdr {
		return nil, xerrors.Errorf("relay: malformed AF packet (%d bytes)", len(af))
	}
	return af[hdr:end], nil
}

func (s *Sender) bumpLateScoreLocked() {
	s.lateScore += lateScoreStep
	if s.lateScore > lateScoreMax {
		s.lateScore = lateScoreMax
	}
}

// Inhibit suppresses the output for the backoff window, clears the
// queue and resets the late score.
func (s *Sender) Inhibit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inhibitLocked()
}

func (s *Sender) inhibitLocked() {
	s.inhibitUntil = time.Now().Add(s.backoff)
	s.pending = nil
	s.lateScore = 0
	s.lastDLFCValid = false
	s.inBackoff = true
	if s.onInhibit != nil {
		go s.onInhibit()
	}
}

func (s *Sender) sendLiveStats(conn *net.UDPConn, tp TagPacket, stat bufferingStat) {
	buf, err := json.Marshal(struct {
		DLFC    uint16  `json:"dlfc"`
		BufMS   float64 `json:"buffering_ms"`
		Late    bool    `json:"late"`
		Dropped bool    `json:"dropped"`
	}{tp.DLFC, stat.bufMS, stat.late, stat.dropped})
	if err != nil {
		return
	}
	_, _ = conn.Write(buf)
}

func (s *Sender) logBufferingStats(stats []bufferingStat, tp TagPacket) {
	var (
		min       = stats[0].bufMS
		max       = stats[0].bufMS
		sum       float64
		late      int
		inhibited int
	)
	for _, st := range stats {
		sum += st.bufMS
		if st.bufMS < min {
			min = st.bufMS
		}
		if st.bufMS > max {
			max = st.bufMS
		}
		if st.late {
			late++
		}
		if st.inhibited {
			inhibited++
		}
	}
	mean := sum / float64(len(stats))

	var sq float64
	for _, st := range stats {
		d := st.bufMS - mean
		sq += d * d
	}

	s.msg.Infof("relay: buffering [ms] min=%.1f max=%.1f mean=%.1f stdev=%.1f late=%d/%d inhibited=%d/%d frame 0 TS %.4f",
		min, max, mean, math.Sqrt(sq/float64(len(stats))),
		late, len(stats), inhibited, len(stats),
		float64(tp.Timestamp.TSTA>>8)/16384.0,
	)
}

// Stats returns the output counters.
func (s *Sender) Stats() OutputStats {
	s.mu.Lock()
	var (
		remain    = time.Until(s.inhibitUntil)
		lateScore = s.lateScore
		qlen      = len(s.pending)
	)
	s.mu.Unlock()
	if remain < 0 {
		remain = 0
	}
	return OutputStats{
		NumFrames:              s.numFrames.Load(),
		NumDropped:             s.numDropped.Load(),
		NumQueueOverruns:       s.numQueueOverruns.Load(),
		NumDLFCDiscontinuities: s.numDiscont.Load(),
		LateScore:              lateScore,
		QueueLength:            qlen,
		BackoffRemainMS:        remain.Milliseconds(),
		InBackoff:              remain > 0,
	}
}

// ResetCounters zeroes the output counters.
func (s *Sender) ResetCounters() {
	s.numFrames.Store(0)
	s.numDropped.Store(0)
	s.numQueueOverruns.Store(0)
	s.numDiscont.Store(0)
}
