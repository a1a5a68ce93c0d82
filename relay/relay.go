// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package relay receives EDI streams from redundant upstream encoders,
// merges them into one time-ordered frame sequence and republishes the
// frames, paced against their embedded timestamps.
package relay // import "github.com/go-dab/edirelay/relay"

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-dab/edirelay/edi"
	"github.com/go-dab/edirelay/internal/timestamp"
)

// Source is one configured upstream encoder.
type Source struct {
	Hostname string
	Port     int

	enabled     atomic.Bool // user-controlled
	active      atomic.Bool // merging: follows enabled; switching: exactly one
	connected   atomic.Bool // link state
	numConnects atomic.Uint64
}

// NewSource creates a source description.
func NewSource(hostname string, port int, enabled bool) *Source {
	src := &Source{Hostname: hostname, Port: port}
	src.enabled.Store(enabled)
	return src
}

// Addr returns the host:port form of the source.
func (src *Source) Addr() string {
	return fmt.Sprintf("%s:%d", src.Hostname, src.Port)
}

// Enabled reports the user-controlled enable flag.
func (src *Source) Enabled() bool { return src.enabled.Load() }

// SetEnabled updates the user-controlled enable flag.
func (src *Source) SetEnabled(v bool) { src.enabled.Store(v) }

// Active reports whether the source feeds the output.
func (src *Source) Active() bool { return src.active.Load() }

func (src *Source) setActive(v bool) { src.active.Store(v) }

// Connected reports the link state.
func (src *Source) Connected() bool { return src.connected.Load() }

// NumConnects counts the established connections.
func (src *Source) NumConnects() uint64 { return src.numConnects.Load() }

func (src *Source) resetCounters() { src.numConnects.Store(0) }

// TagPacket is one reassembled AF packet queued for transmission.
type TagPacket struct {
	// Hostnames lists the sources that delivered this frame,
	// ";"-separated when redundant sources merged.
	Hostnames string

	Seq       edi.SeqInfo
	DLFC      uint16
	AFPacket  []byte // complete AF packet, header and CRC included
	Timestamp timestamp.Timestamp

	// ReceivedAt carries a monotonic reading taken at assembly.
	ReceivedAt time.Time
}
