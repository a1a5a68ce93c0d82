// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"math"
	"time"

	"github.com/go-dab/edirelay/edi"
)

// marginRingSize bounds the per-source margin history, roughly one
// minute of frames.
const marginRingSize = 2500

// marginRing keeps the most recent margins, in milliseconds.
type marginRing struct {
	vals []int
	next int
	full bool
}

func (r *marginRing) add(v int) {
	if r.vals == nil {
		r.vals = make([]int, marginRingSize)
	}
	r.vals[r.next] = v
	r.next++
	if r.next == len(r.vals) {
		r.next = 0
		r.full = true
	}
}

// MarginStats summarises the recent margins of one source.
type MarginStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Stdev float64 `json:"stdev"`
	Num   int     `json:"num_measurements"`
}

func (r *marginRing) stats() MarginStats {
	n := r.next
	if r.full {
		n = len(r.vals)
	}
	if n == 0 {
		return MarginStats{}
	}

	var st MarginStats
	st.Num = n
	st.Min = math.MaxFloat64
	st.Max = -math.MaxFloat64
	sum := 0.0
	for _, v := range r.vals[:n] {
		f := float64(v)
		sum += f
		if f < st.Min {
			st.Min = f
		}
		if f > st.Max {
			st.Max = f
		}
	}
	st.Mean = sum / float64(n)

	sq := 0.0
	for _, v := range r.vals[:n] {
		d := float64(v) - st.Mean
		sq += d * d
	}
	st.Stdev = math.Sqrt(sq / float64(n))
	return st
}

// InputStats is the status snapshot of one source.
type InputStats struct {
	Hostname         string      `json:"hostname"`
	Port             int         `json:"port"`
	Enabled          bool        `json:"enabled"`
	Active           bool        `json:"active"`
	Connected        bool        `json:"connected"`
	NumConnects      uint64      `json:"num_connects"`
	NumLate          uint64      `json:"num_late"`
	ConnUptimeMS     int64       `json:"connection_uptime_ms"`
	LastPacket       string      `json:"most_recent_packet"`
	Margin           MarginStats `json:"margin"`
	LastConnectError string      `json:"most_recent_connect_error,omitempty"`
	LastConnErrorAt  string      `json:"most_recent_connect_error_timestamp,omitempty"`
	Decoder          edi.Stats   `json:"decoder"`
}

// OutputStats is the status snapshot of the paced output.
type OutputStats struct {
	NumFrames              uint64 `json:"num_frames"`
	NumDropped             uint64 `json:"num_dropped"`
	NumQueueOverruns       uint64 `json:"num_queue_overruns"`
	NumDLFCDiscontinuities uint64 `json:"num_dlfc_discontinuities"`
	LateScore              int    `json:"late_score"`
	QueueLength            int    `json:"queue_length"`
	BackoffRemainMS        int64  `json:"backoff_remain_ms"`
	InBackoff              bool   `json:"in_backoff"`
}

// Settings is the runtime-adjustable part of the relay configuration.
type Settings struct {
	DelayMS   *int   `json:"delay_ms"` // nil: send immediately after dedup
	DropLate  bool   `json:"drop_late"`
	BackoffMS int64  `json:"backoff_ms"`
	Mode      string `json:"mode"`
	Verbosity int    `json:"verbose"`
}

// Snapshot is the full status document, served on the web status page
// and over the remote-control socket.
type Snapshot struct {
	Service        string       `json:"service"`
	Version        string       `json:"version,omitempty"`
	UptimeS        int64        `json:"uptime_s"`
	Mode           string       `json:"mode"`
	NumPollTimeout uint64       `json:"num_poll_timeout"`
	Inputs         []InputStats `json:"inputs"`
	Output         OutputStats  `json:"output"`
}

func statsTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
