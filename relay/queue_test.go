// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"testing"

	"github.com/go-dab/edirelay/internal/timestamp"
)

func ts(seconds uint32, tsta uint32) timestamp.Timestamp {
	return timestamp.Timestamp{Seconds: seconds, TSTA: tsta}
}

func TestQueueOrdering(t *testing.T) {
	var q pendingQueue
	for _, sec := range []uint32{5, 2, 9, 1, 7, 3} {
		q.insert(TagPacket{Hostnames: "a", Timestamp: ts(sec, 0), DLFC: uint16(sec)})
	}

	if got, want := len(q), 6; got != want {
		t.Fatalf("invalid queue length: got=%d, want=%d", got, want)
	}
	for i := 1; i < len(q); i++ {
		if q[i-1].Timestamp.Cmp(q[i].Timestamp) >= 0 {
			t.Fatalf("queue not strictly increasing at %d: %+v", i, q)
		}
	}
}

func TestQueueDuplicateMerge(t *testing.T) {
	var q pendingQueue

	outcome, _ := q.insert(TagPacket{Hostnames: "a", Timestamp: ts(5, 0), DLFC: 100})
	if outcome != queueInserted {
		t.Fatalf("first insert: got=%v, want=%v", outcome, queueInserted)
	}

	outcome, _ = q.insert(TagPacket{Hostnames: "b", Timestamp: ts(5, 0), DLFC: 100})
	if outcome != queueMerged {
		t.Fatalf("duplicate insert: got=%v, want=%v", outcome, queueMerged)
	}

	if got, want := len(q), 1; got != want {
		t.Fatalf("duplicate insert must collapse: got=%d entries, want=%d", got, want)
	}
	if got, want := q[0].Hostnames, "a;b"; got != want {
		t.Fatalf("invalid merged labels: got=%q, want=%q", got, want)
	}
}

func TestQueueDLFCMismatch(t *testing.T) {
	var q pendingQueue
	q.insert(TagPacket{Hostnames: "a", Timestamp: ts(5, 0), DLFC: 100})

	outcome, have := q.insert(TagPacket{Hostnames: "b", Timestamp: ts(5, 0), DLFC: 101})
	if outcome != queueMismatch {
		t.Fatalf("mismatched insert: got=%v, want=%v", outcome, queueMismatch)
	}
	if have != 100 {
		t.Fatalf("invalid kept DLFC: got=%d, want=100", have)
	}
	if got, want := len(q), 1; got != want {
		t.Fatalf("mismatched insert must keep the first entry only: got=%d", got)
	}
	if got, want := q[0].DLFC, uint16(100); got != want {
		t.Fatalf("first-received entry must win: got=%d, want=%d", got, want)
	}
}

func TestQueueOverflow(t *testing.T) {
	var q pendingQueue
	for i := 0; i < MaxPendingTagPackets+10; i++ {
		q.insert(TagPacket{Hostnames: "a", Timestamp: ts(uint32(i+1), 0)})
		if n := q.trim(); n > 0 && len(q) != MaxPendingTagPackets {
			t.Fatalf("trim left %d entries", len(q))
		}
	}

	if got, want := len(q), MaxPendingTagPackets; got != want {
		t.Fatalf("invalid queue length: got=%d, want=%d", got, want)
	}
	// the oldest entries are the ones dropped
	if got, want := q[0].Timestamp.Seconds, uint32(11); got != want {
		t.Fatalf("invalid queue front: got=%d, want=%d", got, want)
	}
}
