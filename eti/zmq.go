// Copyright 2026 The go-dab Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package eti

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/go-daq/tdaq/log"
	"github.com/go-zeromq/zmq4"
)

// framesPerMessage is the number of ETI frames concatenated into one
// ZMQ message, preserving the ETI vs. transmission frame phase.
const framesPerMessage = 4

// zmqMessageVersion is the header version of the ZMQ ETI message.
const zmqMessageVersion = 1

// ZMQOutput publishes reconstructed ETI frames on a ZMQ PUB socket,
// four frames per message.
type ZMQOutput struct {
	msg      log.MsgStream
	pub      zmq4.Socket
	endpoint string

	expectedFP uint8
	frames     [][]byte
}

// NewZMQOutput creates a closed output; Open attaches it to an
// endpoint.
func NewZMQOutput(msg log.MsgStream) *ZMQOutput {
	return &ZMQOutput{msg: msg}
}

// Open binds the PUB socket to the given endpoint, e.g.
// "tcp://*:9100".
func (o *ZMQOutput) Open(endpoint string) error {
	pub := zmq4.NewPub(context.Background())
	err := pub.Listen(endpoint)
	if err != nil {
		return fmt.Errorf("eti: could not listen on %q: %w", endpoint, err)
	}
	o.pub = pub
	o.endpoint = endpoint
	return nil
}

// IsOpen reports whether the output is attached to an endpoint.
func (o *ZMQOutput) IsOpen() bool { return o.endpoint != "" }

// Endpoint returns the bound endpoint.
func (o *ZMQOutput) Endpoint() string { return o.endpoint }

// Encode queues one reconstructed frame for transmission. Frames are
// accepted only while their frame phase tracks the expected sequence;
// this groups four ETI frames per message with stable phase alignment.
func (o *ZMQOutput) Encode(f FrameData) error {
	if f.FC.FP%4 != o.expectedFP {
		if o.expectedFP != 0 {
			o.expectedFP = 0
			o.frames = o.frames[:0]
			return fmt.Errorf("eti: unexpected frame phase %d", f.FC.FP)
		}
		return nil
	}
	o.expectedFP = (o.expectedFP + 1) % 4

	frame, err := Assemble(f)
	if err != nil {
		return err
	}
	o.frames = append(o.frames, frame)
	if len(o.frames) < framesPerMessage {
		return nil
	}
	return o.flush()
}

// flush sends the accumulated frames as one message:
// version(u32) + 4 x buflen(i16), then the frame data back-to-back.
// Unused slots carry buflen = -1. Fields are little-endian, matching
// the wire layout of the C implementation this sideband feeds.
func (o *ZMQOutput) flush() error {
	head := make([]byte, 4+2*framesPerMessage)
	binary.LittleEndian.PutUint32(head[0:4], zmqMessageVersion)

	payload := head
	for i := 0; i < framesPerMessage; i++ {
		buflen := -1
		if i < len(o.frames) {
			buflen = len(o.frames[i])
			payload = append(payload, o.frames[i]...)
		}
		binary.LittleEndian.PutUint16(payload[4+2*i:], uint16(int16(buflen)))
	}
	o.frames = o.frames[:0]

	err := o.pub.Send(zmq4.NewMsg(payload))
	if err != nil {
		return fmt.Errorf("eti: could not send ZMQ message: %w", err)
	}
	return nil
}

// Close shuts the PUB socket down.
func (o *ZMQOutput) Close() error {
	if o.pub == nil {
		return nil
	}
	o.endpoint = ""
	return o.pub.Close()
}
