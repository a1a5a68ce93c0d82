// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/go-dab/edirelay/ediout"
)

// Config is the YAML configuration file of the relay. Command-line
// flags override the values found here.
type Config struct {
	Mode string `yaml:"mode"`

	Sources []SourceConfig `yaml:"sources"`

	DelayMS       *int `yaml:"delay_ms"`
	DropLate      bool `yaml:"drop_late"`
	BackoffMS     int  `yaml:"backoff_ms"`
	SwitchDelayMS int  `yaml:"switch_delay_ms"`
	MaxDelay      int  `yaml:"max_reassembly_delay"`

	Output OutputConfig `yaml:"output"`

	ZMQEndpoint   string `yaml:"zmq_endpoint"`
	RCSocket      string `yaml:"rc_socket"`
	WebPort       int    `yaml:"web_port"`
	LiveStatsPort int    `yaml:"live_stats_port"`
	Verbosity     int    `yaml:"verbosity"`
}

// SourceConfig describes one upstream encoder.
type SourceConfig struct {
	Hostname string `yaml:"hostname"`
	Port     int    `yaml:"port"`
	Enabled  *bool  `yaml:"enabled"` // default true
}

// OutputConfig describes the downstream destinations.
type OutputConfig struct {
	UDP []UDPDestConfig `yaml:"udp"`
	TCP []TCPDestConfig `yaml:"tcp"`

	PFT           *bool   `yaml:"pft"`
	FEC           int     `yaml:"fec"`
	SpreadPercent float64 `yaml:"fragment_spreading_percent"`
	MTU           int     `yaml:"mtu"`
	TagAlign      int     `yaml:"tagpacket_alignment"`
}

// UDPDestConfig describes one UDP destination.
type UDPDestConfig struct {
	Addr       string `yaml:"addr"`
	Port       int    `yaml:"port"`
	SourceAddr string `yaml:"source_addr"`
	SourcePort int    `yaml:"source_port"`
	TTL        int    `yaml:"ttl"`
}

// TCPDestConfig describes one TCP listen destination.
type TCPDestConfig struct {
	Port int `yaml:"port"`
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("relay: could not read config %q: %w", path, err)
	}
	err = yaml.Unmarshal(raw, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("relay: could not parse config %q: %w", path, err)
	}
	return cfg, nil
}

// Options converts the file configuration into supervisor options.
func (cfg Config) Options() (Options, error) {
	var opts Options

	if cfg.Mode != "" {
		mode, err := ParseMode(cfg.Mode)
		if err != nil {
			return opts, err
		}
		opts.Mode = mode
	}

	for _, src := range cfg.Sources {
		enabled := true
		if src.Enabled != nil {
			enabled = *src.Enabled
		}
		opts.Sources = append(opts.Sources, NewSource(src.Hostname, src.Port, enabled))
	}

	if cfg.DelayMS != nil {
		d := time.Duration(*cfg.DelayMS) * time.Millisecond
		opts.Delay = &d
	}
	opts.DropLate = cfg.DropLate
	opts.Backoff = time.Duration(cfg.BackoffMS) * time.Millisecond
	opts.SwitchDelay = time.Duration(cfg.SwitchDelayMS) * time.Millisecond
	opts.MaxDelay = cfg.MaxDelay

	for _, d := range cfg.Output.UDP {
		opts.Output.UDP = append(opts.Output.UDP, ediout.UDPDestination{
			Addr:       d.Addr,
			Port:       d.Port,
			SourceAddr: d.SourceAddr,
			SourcePort: d.SourcePort,
			TTL:        d.TTL,
		})
	}
	for _, d := range cfg.Output.TCP {
		opts.Output.TCP = append(opts.Output.TCP, ediout.TCPServer{Port: d.Port})
	}
	if cfg.Output.PFT != nil {
		opts.Output.PFT.Enable = *cfg.Output.PFT
		opts.Output.PFT.Explicit = true
	}
	opts.Output.PFT.FEC = cfg.Output.FEC
	opts.Output.PFT.FragmentSpreading = cfg.Output.SpreadPercent / 100
	opts.Output.PFT.MTU = cfg.Output.MTU
	opts.Output.TagAlign = cfg.Output.TagAlign

	opts.ZMQEndpoint = cfg.ZMQEndpoint
	opts.ReconstructETI = cfg.ZMQEndpoint != ""
	opts.RCSocket = cfg.RCSocket
	opts.WebPort = cfg.WebPort
	opts.LiveStatsPort = cfg.LiveStatsPort
	opts.Verbosity = cfg.Verbosity

	return opts, nil
}
