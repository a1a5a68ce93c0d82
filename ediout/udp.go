// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ediout

import (
	"fmt"
	"net"
	"strconv"

	"github.com/go-daq/tdaq/log"
	"golang.org/x/sys/unix"
)

// udpDest sends each packet as one UDP datagram, optionally from a
// fixed source address/port and with an explicit TTL for multicast.
type udpDest struct {
	msg  log.MsgStream
	cfg  UDPDestination
	conn *net.UDPConn
}

func newUDPDest(cfg UDPDestination, msg log.MsgStream) (*udpDest, error) {
	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(cfg.Addr, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("ediout: could not resolve %q: %w", cfg.Addr, err)
	}

	var laddr *net.UDPAddr
	if cfg.SourceAddr != "" || cfg.SourcePort != 0 {
		laddr = &net.UDPAddr{Port: cfg.SourcePort}
		if cfg.SourceAddr != "" {
			laddr.IP = net.ParseIP(cfg.SourceAddr)
			if laddr.IP == nil {
				return nil, fmt.Errorf("ediout: invalid source address %q", cfg.SourceAddr)
			}
		}
	}

	conn, err := net.DialUDP("udp", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("ediout: could not open UDP destination %v: %w", cfg, err)
	}

	if cfg.TTL > 0 {
		err = setTTL(conn, cfg.TTL)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("ediout: could not set TTL on %v: %w", cfg, err)
		}
	}

	return &udpDest{msg: msg, cfg: cfg, conn: conn}, nil
}

func setTTL(conn *net.UDPConn, ttl int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	err = raw.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TTL, ttl)
		if serr != nil {
			return
		}
		serr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, ttl)
	})
	if err != nil {
		return err
	}
	return serr
}

func (d *udpDest) send(p []byte) {
	_, err := d.conn.Write(p)
	if err != nil {
		d.msg.Warnf("ediout: could not send to %v: %+v", d.cfg, err)
	}
}

func (d *udpDest) close() error { return d.conn.Close() }

func (d *udpDest) String() string { return d.cfg.String() }
