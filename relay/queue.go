// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import "sort"

// MaxPendingTagPackets bounds the merge queue; on overflow the oldest
// element is dropped.
const MaxPendingTagPackets = 1000

// insertOutcome is the result of one merge-queue insertion.
type insertOutcome int

const (
	queueInserted insertOutcome = iota
	queueMerged                 // duplicate frame from a redundant source
	queueMismatch               // same timestamp, different DLFC
)

// pendingQueue is the merge queue: TagPackets strictly increasing in
// timestamp. The caller provides the locking.
type pendingQueue []TagPacket

// insert places tp at its timestamp position. Frames with a timestamp
// already present are collapsed onto the existing entry: the source
// label is appended when the DLFC agrees, and the incoming copy is
// dropped either way. The returned DLFC is that of the entry already
// in the queue.
func (q *pendingQueue) insert(tp TagPacket) (insertOutcome, uint16) {
	i := sort.Search(len(*q), func(i int) bool {
		return tp.Timestamp.Cmp((*q)[i].Timestamp) <= 0
	})

	if i < len(*q) && (*q)[i].Timestamp.Equal(tp.Timestamp) {
		if (*q)[i].DLFC != tp.DLFC {
			return queueMismatch, (*q)[i].DLFC
		}
		(*q)[i].Hostnames += ";" + tp.Hostnames
		return queueMerged, tp.DLFC
	}

	*q = append(*q, TagPacket{})
	copy((*q)[i+1:], (*q)[i:])
	(*q)[i] = tp
	return queueInserted, tp.DLFC
}

// trim drops the oldest elements until the queue fits the bound and
// returns how many were dropped.
func (q *pendingQueue) trim() int {
	if len(*q) <= MaxPendingTagPackets {
		return 0
	}
	n := len(*q) - MaxPendingTagPackets
	*q = append((*q)[:0], (*q)[n:]...)
	return n
}
