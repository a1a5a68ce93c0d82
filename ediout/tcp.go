// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ediout

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-daq/tdaq/log"
)

// clientQueueDepth bounds the per-client send queue. A client that
// cannot drain this many packets is dropped.
const clientQueueDepth = 512

// writeTimeout bounds one client write.
const writeTimeout = 2 * time.Second

// tcpServer accepts any number of clients and streams every packet to
// each of them through an independent bounded queue.
type tcpServer struct {
	msg log.MsgStream
	cfg TCPServer
	l   net.Listener

	mu      sync.Mutex
	clients map[net.Conn]chan []byte
	closed  bool
}

func newTCPServer(cfg TCPServer, msg log.MsgStream) (*tcpServer, error) {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("ediout: could not listen on :%d: %w", cfg.Port, err)
	}
	srv := &tcpServer{
		msg:     msg,
		cfg:     cfg,
		l:       l,
		clients: make(map[net.Conn]chan []byte),
	}
	go srv.accept()
	return srv, nil
}

func (srv *tcpServer) accept() {
	for {
		conn, err := srv.l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			srv.msg.Warnf("ediout: could not accept client on :%d: %+v", srv.cfg.Port, err)
			continue
		}

		srv.mu.Lock()
		if srv.closed {
			srv.mu.Unlock()
			conn.Close()
			return
		}
		ch := make(chan []byte, clientQueueDepth)
		srv.clients[conn] = ch
		srv.mu.Unlock()

		srv.msg.Infof("ediout: new TCP client %v on :%d", conn.RemoteAddr(), srv.cfg.Port)
		go srv.serve(conn, ch)
	}
}

func (srv *tcpServer) serve(conn net.Conn, ch chan []byte) {
	defer srv.drop(conn, "write error")
	for pkt := range ch {
		err := conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err != nil {
			return
		}
		_, err = conn.Write(pkt)
		if err != nil {
			return
		}
	}
}

func (srv *tcpServer) drop(conn net.Conn, why string) {
	srv.mu.Lock()
	ch, ok := srv.clients[conn]
	if ok {
		delete(srv.clients, conn)
		close(ch)
	}
	srv.mu.Unlock()

	if ok {
		conn.Close()
		srv.msg.Infof("ediout: dropping TCP client %v (%s)", conn.RemoteAddr(), why)
	}
}

func (srv *tcpServer) send(p []byte) {
	srv.mu.Lock()
	var slow []net.Conn
	for conn, ch := range srv.clients {
		select {
		case ch <- p:
		default:
			slow = append(slow, conn)
		}
	}
	srv.mu.Unlock()

	for _, conn := range slow {
		srv.drop(conn, "send queue full")
	}
}

func (srv *tcpServer) close() error {
	srv.mu.Lock()
	srv.closed = true
	conns := make([]net.Conn, 0, len(srv.clients))
	for conn := range srv.clients {
		conns = append(conns, conn)
	}
	srv.mu.Unlock()

	for _, conn := range conns {
		srv.drop(conn, "server closing")
	}
	return srv.l.Close()
}

func (srv *tcpServer) String() string { return srv.cfg.String() }
