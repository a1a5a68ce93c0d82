// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"os"
	"path/filepath"
	"testing"
)

const testConfig = `
mode: switching
sources:
  - hostname: enc-a.example.org
    port: 8951
  - hostname: enc-b.example.org
    port: 8951
    enabled: false
delay_ms: 750
drop_late: true
backoff_ms: 3000
switch_delay_ms: 1500
output:
  udp:
    - addr: 239.20.64.1
      port: 12000
      ttl: 4
  pft: true
  fec: 2
  fragment_spreading_percent: 95
rc_socket: /run/edi-relay.sock
web_port: 8001
verbosity: 1
`

func TestLoadConfig(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "relay.yaml")
	err := os.WriteFile(fname, []byte(testConfig), 0644)
	if err != nil {
		t.Fatalf("could not write config: %+v", err)
	}

	cfg, err := LoadConfig(fname)
	if err != nil {
		t.Fatalf("could not load config: %+v", err)
	}

	opts, err := cfg.Options()
	if err != nil {
		t.Fatalf("could not convert config: %+v", err)
	}

	if got, want := opts.Mode, ModeSwitching; got != want {
		t.Fatalf("invalid mode: got=%v, want=%v", got, want)
	}
	if got, want := len(opts.Sources), 2; got != want {
		t.Fatalf("invalid number of sources: got=%d, want=%d", got, want)
	}
	if !opts.Sources[0].Enabled() {
		t.Fatalf("sources default to enabled")
	}
	if opts.Sources[1].Enabled() {
		t.Fatalf("source enabled=false must be honored")
	}
	if opts.Delay == nil || opts.Delay.Milliseconds() != 750 {
		t.Fatalf("invalid delay: got=%v", opts.Delay)
	}
	if !opts.DropLate {
		t.Fatalf("invalid drop_late")
	}
	if got, want := len(opts.Output.UDP), 1; got != want {
		t.Fatalf("invalid number of UDP destinations: got=%d, want=%d", got, want)
	}
	if got, want := opts.Output.UDP[0].TTL, 4; got != want {
		t.Fatalf("invalid TTL: got=%d, want=%d", got, want)
	}
	if !opts.Output.PFT.Enable || !opts.Output.PFT.Explicit {
		t.Fatalf("invalid PFT settings: %+v", opts.Output.PFT)
	}
	if got, want := opts.Output.PFT.FragmentSpreading, 0.95; got != want {
		t.Fatalf("invalid spreading factor: got=%v, want=%v", got, want)
	}
	if got, want := opts.RCSocket, "/run/edi-relay.sock"; got != want {
		t.Fatalf("invalid RC socket: got=%q, want=%q", got, want)
	}
	if got, want := opts.WebPort, 8001; got != want {
		t.Fatalf("invalid web port: got=%d, want=%d", got, want)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nosuch.yaml"))
	if err == nil {
		t.Fatalf("expected missing config to fail")
	}
}
