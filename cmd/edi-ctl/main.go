// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command edi-ctl talks to the remote-control socket of a running
// edi-relay.
//
// One-shot:
//
//	$> edi-ctl -s /run/edi-relay.sock stats
//	$> edi-ctl -s /run/edi-relay.sock set input disable encoder-b:8951
//
// Without a command, edi-ctl opens an interactive shell.
package main // import "github.com/go-dab/edirelay/cmd/edi-ctl"

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
)

const replyTimeout = 2 * time.Second

func main() {
	log.SetPrefix("edi-ctl: ")
	log.SetFlags(0)

	sock := flag.String("s", "/run/edi-relay.sock", "path to the edi-relay RC socket")
	flag.Parse()

	conn, cleanup, err := dial(*sock)
	if err != nil {
		log.Fatalf("could not open RC socket: %+v", err)
	}
	defer cleanup()

	if flag.NArg() > 0 {
		reply, err := request(conn, strings.Join(flag.Args(), " "))
		if err != nil {
			log.Fatalf("%+v", err)
		}
		fmt.Println(reply)
		return
	}

	shell(conn)
}

// dial binds a private datagram socket so the relay can address its
// replies back to us.
func dial(sock string) (*net.UnixConn, func(), error) {
	dir, err := os.MkdirTemp("", "edi-ctl")
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { os.RemoveAll(dir) }

	laddr := &net.UnixAddr{Name: filepath.Join(dir, "ctl.sock"), Net: "unixgram"}
	raddr := &net.UnixAddr{Name: sock, Net: "unixgram"}
	conn, err := net.DialUnix("unixgram", laddr, raddr)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return conn, func() { conn.Close(); cleanup() }, nil
}

func request(conn *net.UnixConn, cmd string) (string, error) {
	_, err := conn.Write([]byte(cmd))
	if err != nil {
		return "", fmt.Errorf("could not send command: %w", err)
	}

	err = conn.SetReadDeadline(time.Now().Add(replyTimeout))
	if err != nil {
		return "", err
	}
	buf := make([]byte, 1<<16)
	n, err := conn.Read(buf)
	if err != nil {
		return "", fmt.Errorf("could not read reply: %w", err)
	}
	return string(buf[:n]), nil
}

func shell(conn *net.UnixConn) {
	term := liner.NewLiner()
	defer term.Close()
	term.SetCtrlCAborts(true)

	for {
		cmd, err := term.Prompt("edi-relay> ")
		if err != nil {
			fmt.Println()
			return
		}
		cmd = strings.TrimSpace(cmd)
		switch cmd {
		case "":
			continue
		case "quit", "exit":
			return
		}
		term.AppendHistory(cmd)

		reply, err := request(conn, cmd)
		if err != nil {
			log.Printf("%+v", err)
			continue
		}
		fmt.Println(reply)
	}
}
