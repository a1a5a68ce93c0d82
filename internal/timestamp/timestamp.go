// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package timestamp handles the EDI frame timestamp, a TAI-like seconds
// count since the EDI epoch (2000-01-01T00:00:00Z) together with a
// sub-second field counting 16384 ticks per second.
package timestamp // import "github.com/go-dab/edirelay/internal/timestamp"

import "time"

// ediEpoch is the EDI epoch expressed in Unix seconds.
const ediEpoch = 946684800

// ticksPerSecond is the TSTA resolution, carried in the upper 24 bits.
const ticksPerSecond = 16384

// Timestamp is the timestamp of one 24ms EDI frame.
// The zero value (Seconds == 0) marks an absent timestamp.
type Timestamp struct {
	Seconds uint32 // seconds since the EDI epoch, TAI-like
	UTCO    uint8  // offset between UTC and the EDI seconds count
	TSTA    uint32 // sub-second. upper 24 bits: 1/16384 s ticks
}

// Valid reports whether ts carries a usable timestamp.
func (ts Timestamp) Valid() bool { return ts.Seconds != 0 }

// Time converts ts to wall-clock time.
// The lower 8 bits of TSTA carry a finer resolution that pacing
// does not need; they are ignored here.
func (ts Timestamp) Time() time.Time {
	sec := int64(ts.Seconds) - int64(ts.UTCO) + ediEpoch
	nsec := int64(ts.TSTA>>8) * int64(time.Second) / ticksPerSecond
	return time.Unix(sec, nsec)
}

// Cmp compares ts and o by (Seconds, TSTA).
// It returns -1 when ts is earlier, +1 when later and 0 when equal.
func (ts Timestamp) Cmp(o Timestamp) int {
	switch {
	case ts.Seconds < o.Seconds:
		return -1
	case ts.Seconds > o.Seconds:
		return +1
	case ts.TSTA < o.TSTA:
		return -1
	case ts.TSTA > o.TSTA:
		return +1
	}
	return 0
}

// Before reports whether ts is strictly earlier than o.
func (ts Timestamp) Before(o Timestamp) bool { return ts.Cmp(o) < 0 }

// Equal reports whether ts and o denote the same frame instant.
func (ts Timestamp) Equal(o Timestamp) bool { return ts.Cmp(o) == 0 }
