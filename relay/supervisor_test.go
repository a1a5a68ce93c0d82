// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"testing"
	"time"
)

func newTestSupervisor(t *testing.T, mode Mode, enabled ...bool) *Supervisor {
	t.Helper()

	opts := Options{Mode: mode}
	for i, en := range enabled {
		opts.Sources = append(opts.Sources, NewSource("enc", 8951+i, en))
	}
	sup, err := New(opts, testMsg())
	if err != nil {
		t.Fatalf("could not create supervisor: %+v", err)
	}
	t.Cleanup(func() { sup.out.Close() })
	return sup
}

func activeFlags(sup *Supervisor) []bool {
	flags := make([]bool, len(sup.receivers))
	for i, rx := range sup.receivers {
		flags[i] = rx.Source.Active()
	}
	return flags
}

func markAlive(rx *Receiver) {
	rx.mu.Lock()
	rx.mostRecentRx = time.Now()
	rx.mu.Unlock()
}

func TestMergingActivatesAllEnabled(t *testing.T) {
	sup := newTestSupervisor(t, ModeMerging, true, false, true)

	got := activeFlags(sup)
	want := []bool{true, false, true}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("invalid active flags: got=%v, want=%v", got, want)
		}
	}
}

func TestSwitchingActivatesOne(t *testing.T) {
	sup := newTestSupervisor(t, ModeSwitching, false, true, true)

	got := activeFlags(sup)
	want := []bool{false, true, false}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("invalid active flags: got=%v, want=%v", got, want)
		}
	}
}

func TestSwitchingOnSilence(t *testing.T) {
	sup := newTestSupervisor(t, ModeSwitching, true, true)

	a, b := sup.receivers[0], sup.receivers[1]
	if !a.Source.Active() {
		t.Fatalf("expected the first source to start active")
	}
	markAlive(b)

	// the first source never delivered data: silence exceeds the
	// switch delay, the supervisor rotates to the second source
	sup.switchingDecision()

	if a.Source.Active() {
		t.Fatalf("silent source must be deactivated")
	}
	if !b.Source.Active() {
		t.Fatalf("next enabled source must take over")
	}
	if got, want := b.Source.NumConnects(), uint64(0); got != want {
		t.Fatalf("switching must not touch the connect counter: got=%d", got)
	}
}

func TestSwitchingKeepsFreshSource(t *testing.T) {
	sup := newTestSupervisor(t, ModeSwitching, true, true)

	a := sup.receivers[0]
	markAlive(a)

	sup.switchingDecision()

	if !a.Source.Active() {
		t.Fatalf("a source delivering data must stay active")
	}
}

func TestSwitchingOnDisable(t *testing.T) {
	sup := newTestSupervisor(t, ModeSwitching, true, true)

	a, b := sup.receivers[0], sup.receivers[1]
	markAlive(a)
	markAlive(b)

	a.Source.SetEnabled(false)
	sup.switchingDecision()

	if a.Source.Active() {
		t.Fatalf("disabled source must be deactivated")
	}
	if !b.Source.Active() {
		t.Fatalf("next enabled source must take over")
	}
}

func TestSwitchingSingleSourceStays(t *testing.T) {
	sup := newTestSupervisor(t, ModeSwitching, true)

	a := sup.receivers[0]
	sup.switchingDecision()

	if !a.Source.Active() {
		t.Fatalf("the only enabled source must stay active")
	}
}

func TestPushIgnoresInactiveSources(t *testing.T) {
	sup := newTestSupervisor(t, ModeSwitching, true, true)

	inactive := sup.receivers[1]
	sup.pushTagPacket(testPacket(1, time.Now().Add(time.Second)), inactive)

	if got, want := sup.sender.Stats().QueueLength, 0; got != want {
		t.Fatalf("packets of inactive sources must be ignored: got=%d entries", got)
	}
}

func TestSnapshot(t *testing.T) {
	sup := newTestSupervisor(t, ModeMerging, true, true)

	snap := sup.Snapshot()
	if got, want := len(snap.Inputs), 2; got != want {
		t.Fatalf("invalid number of inputs: got=%d, want=%d", got, want)
	}
	if got, want := snap.Mode, "merging"; got != want {
		t.Fatalf("invalid mode: got=%q, want=%q", got, want)
	}
	if !snap.Inputs[0].Enabled || !snap.Inputs[0].Active {
		t.Fatalf("invalid input flags: %+v", snap.Inputs[0])
	}
}
