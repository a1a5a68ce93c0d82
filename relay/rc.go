// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-daq/tdaq/log"
)

// maxBackoffMS bounds the "set backoff" command.
const maxBackoffMS = 100000

// rcServer answers remote-control commands on a UNIX datagram socket,
// one UTF-8 command per datagram, one JSON reply per command.
type rcServer struct {
	msg  log.MsgStream
	sup  *Supervisor
	conn *net.UnixConn
	path string
}

type rcReply struct {
	Status   string      `json:"status"`
	Cmd      string      `json:"cmd"`
	Response interface{} `json:"response,omitempty"`
	Message  string      `json:"message,omitempty"`
}

func newRCServer(path string, sup *Supervisor, msg log.MsgStream) (*rcServer, error) {
	os.Remove(path)
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("relay: could not create RC socket %q: %w", path, err)
	}
	msg.Infof("relay: RC socket listening on %q", path)
	return &rcServer{msg: msg, sup: sup, conn: conn, path: path}, nil
}

func (rc *rcServer) run(ctx context.Context) error {
	defer rc.conn.Close()
	defer os.Remove(rc.path)

	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := rc.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		if err != nil {
			return fmt.Errorf("relay: RC socket: %w", err)
		}

		n, addr, err := rc.conn.ReadFromUnix(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return fmt.Errorf("relay: RC socket: %w", err)
		}

		cmd := strings.TrimSpace(string(buf[:n]))
		reply := rc.handle(cmd)
		out, err := json.Marshal(reply)
		if err != nil {
			rc.msg.Errorf("relay: could not encode RC reply: %+v", err)
			continue
		}
		_, err = rc.conn.WriteToUnix(out, addr)
		if err != nil {
			rc.msg.Warnf("relay: could not send RC reply: %+v", err)
		}
	}
}

func (rc *rcServer) handle(cmd string) rcReply {
	ok := func(resp interface{}) rcReply {
		return rcReply{Status: "ok", Cmd: cmd, Response: resp}
	}
	fail := func(format string, args ...interface{}) rcReply {
		return rcReply{Status: "error", Cmd: cmd, Message: fmt.Sprintf(format, args...)}
	}

	snd := rc.sup.Sender()
	args := strings.Fields(cmd)

	switch {
	case cmd == "get settings":
		return ok(rc.sup.Settings())

	case cmd == "stats":
		return ok(rc.sup.Snapshot())

	case cmd == "reset counters":
		rc.sup.ResetCounters()
		return ok(nil)

	case len(args) == 4 && args[0] == "set" && args[1] == "input":
		var enable bool
		switch args[2] {
		case "enable":
			enable = true
		case "disable":
		default:
			return fail("unknown input action %q", args[2])
		}
		err := rc.sup.SetSourceEnabled(args[3], enable)
		if err != nil {
			return fail("%v", err)
		}
		return ok(nil)

	case len(args) == 3 && args[0] == "set" && args[1] == "delay":
		if args[2] == "null" {
			snd.SetDelay(nil)
			rc.msg.Infof("relay: RC unset delay")
			return ok(nil)
		}
		ms, err := strconv.Atoi(args[2])
		if err != nil {
			return fail("invalid delay %q", args[2])
		}
		d := time.Duration(ms) * time.Millisecond
		snd.SetDelay(&d)
		rc.msg.Infof("relay: RC setting delay to %d ms", ms)
		return ok(nil)

	case len(args) == 3 && args[0] == "set" && args[1] == "backoff":
		ms, err := strconv.Atoi(args[2])
		if err != nil || ms < 0 || ms > maxBackoffMS {
			return fail("backoff value out of bounds 0 to %d ms", maxBackoffMS)
		}
		snd.SetBackoff(time.Duration(ms) * time.Millisecond)
		rc.msg.Infof("relay: RC setting backoff to %d ms", ms)
		return ok(nil)

	case len(args) == 3 && args[0] == "set" && args[1] == "live_stats_port":
		port, err := strconv.Atoi(args[2])
		if err != nil || port < 0 || port > 65535 {
			return fail("invalid port %q", args[2])
		}
		err = snd.SetLiveStatsPort(port)
		if err != nil {
			return fail("%v", err)
		}
		return ok(nil)

	case len(args) == 3 && args[0] == "set" && args[1] == "verbose":
		v, err := strconv.Atoi(args[2])
		if err != nil || v < 0 || v > 3 {
			return fail("verbosity out of bounds 0 to 3")
		}
		rc.sup.SetVerbosity(v)
		return ok(nil)
	}

	return fail("unknown command")
}
