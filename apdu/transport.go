// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Forked from github.com/zondax/ledger-go
// Licensed under the Apache License, Version 2.0

package apdu

import (
	"errors"
	"fmt"
	"io"

	"github.com/luxfi/icebox/logging"
)

var log = logging.Named("APDU")

// Link is a packet oriented byte channel to the device. Each Read returns
// exactly one packet; each Write sends exactly one packet.
type Link interface {
	io.ReadWriter
}

// Transport splits messages into packets on a single channel and
// reassembles replies. It is not safe for concurrent use.
type Transport struct {
	link       Link
	channel    uint16
	packetSize int
}

// NewTransport returns a transport over link using the given channel and
// packet size.
func NewTransport(link Link, channel uint16, packetSize int) *Transport {
	return &Transport{
		link:       link,
		channel:    channel,
		packetSize: packetSize,
	}
}

// Send writes payload as a sequence of packets.
func (t *Transport) Send(payload []byte) error {
	chunks, err := WrapCommandAPDU(t.channel, payload, t.packetSize)
	if err != nil {
		return err
	}

	log.Debugf("[HID] => %x", payload)

	for i, chunk := range chunks {
		if err := t.write(chunk); err != nil {
			return fmt.Errorf("writing packet %d: %w", i, err)
		}
	}
	return nil
}

func (t *Transport) write(packet []byte) error {
	total := 0
	for total < len(packet) {
		n, err := t.link.Write(packet[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		total += n
	}
	return nil
}

// Receive reads packets until the declared message length is satisfied.
// Any framing violation aborts the read and nothing is returned.
func (t *Transport) Receive() ([]byte, error) {
	r := NewReassembler(t.channel)
	buf := make([]byte, t.packetSize)
	for {
		n, err := t.link.Read(buf)
		switch {
		case errors.Is(err, io.EOF):
			return nil, ErrUnexpectedEOF
		case err != nil:
			return nil, err
		}

		done, err := r.Add(buf[:n])
		if err != nil {
			return nil, err
		}
		if done {
			msg := r.Message()
			log.Debugf("[HID] <= %x", msg)
			return msg, nil
		}
	}
}
