// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"testing"
)

func newTestRC(t *testing.T) (*rcServer, *Supervisor) {
	t.Helper()
	sup := newTestSupervisor(t, ModeMerging, true, true)
	return &rcServer{msg: testMsg(), sup: sup}, sup
}

func TestRCCommands(t *testing.T) {
	rc, sup := newTestRC(t)

	for _, tc := range []struct {
		cmd  string
		want string
	}{
		{"get settings", "ok"},
		{"stats", "ok"},
		{"set delay 250", "ok"},
		{"set delay null", "ok"},
		{"set delay bogus", "error"},
		{"set backoff 2000", "ok"},
		{"set backoff 200000", "error"},
		{"set backoff -1", "error"},
		{"set verbose 2", "ok"},
		{"set verbose 7", "error"},
		{"set live_stats_port 0", "ok"},
		{"set live_stats_port 70000", "error"},
		{"set input disable enc:8952", "ok"},
		{"set input enable enc:8952", "ok"},
		{"set input enable nosuch:1", "error"},
		{"set input frobnicate enc:8952", "error"},
		{"reset counters", "ok"},
		{"bogus", "error"},
	} {
		t.Run(tc.cmd, func(t *testing.T) {
			reply := rc.handle(tc.cmd)
			if reply.Status != tc.want {
				t.Fatalf("invalid status: got=%q, want=%q (message: %s)",
					reply.Status, tc.want, reply.Message)
			}
			if reply.Cmd != tc.cmd {
				t.Fatalf("reply must echo the command: got=%q", reply.Cmd)
			}
		})
	}

	if got := sup.Verbosity(); got != 2 {
		t.Fatalf("invalid verbosity after RC: got=%d, want=2", got)
	}
}

func TestRCDelay(t *testing.T) {
	rc, sup := newTestRC(t)

	reply := rc.handle("set delay 250")
	if reply.Status != "ok" {
		t.Fatalf("could not set delay: %+v", reply)
	}
	delay := sup.Sender().Delay()
	if delay == nil || *delay != 250 {
		t.Fatalf("invalid delay: got=%v, want=250", delay)
	}

	reply = rc.handle("set delay null")
	if reply.Status != "ok" {
		t.Fatalf("could not unset delay: %+v", reply)
	}
	if got := sup.Sender().Delay(); got != nil {
		t.Fatalf("invalid delay: got=%v, want=nil", got)
	}
}

func TestRCInputToggle(t *testing.T) {
	rc, sup := newTestRC(t)

	reply := rc.handle("set input disable enc:8951")
	if reply.Status != "ok" {
		t.Fatalf("could not disable input: %+v", reply)
	}
	if sup.receivers[0].Source.Enabled() {
		t.Fatalf("input must be disabled")
	}

	reply = rc.handle("set input enable enc:8951")
	if reply.Status != "ok" {
		t.Fatalf("could not enable input: %+v", reply)
	}
	if !sup.receivers[0].Source.Enabled() {
		t.Fatalf("input must be enabled")
	}
}
