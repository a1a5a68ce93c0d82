// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ediout

import (
	"sort"
	"sync"
	"time"
)

// scheduled is one fragment waiting for its emission time.
type scheduled struct {
	at  time.Time
	pkt []byte
}

// interleaver delays fragment emission so that one PFT group is spread
// over a fraction of the frame duration. With a spreading factor above
// one, the schedules of consecutive groups overlap and their fragments
// interleave on the wire.
type interleaver struct {
	send func([]byte)

	mu      sync.Mutex
	pending []scheduled
	wake    chan struct{}
	done    chan struct{}
}

func newInterleaver(send func([]byte)) *interleaver {
	il := &interleaver{
		send: send,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go il.run()
	return il
}

// schedule spaces the fragments of one group so the last one is sent
// at start+spread. The instants are fixed against the monotonic clock
// captured at group creation; later groups do not reshuffle them.
func (il *interleaver) schedule(frags [][]byte, start time.Time, spread time.Duration) {
	il.mu.Lock()
	step := spread / time.Duration(len(frags))
	for i, frag := range frags {
		il.pending = append(il.pending, scheduled{
			at:  start.Add(time.Duration(i+1) * step),
			pkt: frag,
		})
	}
	sort.SliceStable(il.pending, func(i, j int) bool {
		return il.pending[i].at.Before(il.pending[j].at)
	})
	il.mu.Unlock()

	select {
	case il.wake <- struct{}{}:
	default:
	}
}

func (il *interleaver) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		il.mu.Lock()
		now := time.Now()
		for len(il.pending) > 0 && !il.pending[0].at.After(now) {
			pkt := il.pending[0].pkt
			il.pending = il.pending[1:]
			il.send(pkt)
		}
		next := time.Hour
		if len(il.pending) > 0 {
			next = il.pending[0].at.Sub(now)
		}
		il.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(next)

		select {
		case <-il.done:
			return
		case <-il.wake:
		case <-timer.C:
		}
	}
}

func (il *interleaver) close() {
	close(il.done)
}
