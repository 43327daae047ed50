// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Forked from github.com/zondax/ledger-go
// Licensed under the Apache License, Version 2.0

package apdu

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// DefaultChannel is the HID channel the Ledger firmware answers on.
	DefaultChannel = 0x0101

	// TagAPDU marks a packet as carrying APDU bytes.
	TagAPDU = 0x05

	// PacketSize is the fixed size of one HID report.
	PacketSize = 64

	// packetHeaderSize is channel(2) + tag(1) + sequence(2).
	packetHeaderSize = 5

	// lengthPrefixSize is the u16 total length carried by packet 0 only.
	lengthPrefixSize = 2

	// MaxMessageSize bounds a single reassembled message.
	MaxMessageSize = 0xffff
)

// WrapCommandAPDU turns the command into a sequence of fixed size packets
// for HID transport. The first packet carries the total length of command.
func WrapCommandAPDU(channel uint16, command []byte, packetSize int) ([][]byte, error) {
	if packetSize <= packetHeaderSize+lengthPrefixSize {
		return nil, fmt.Errorf("packet size must be greater than %d",
			packetHeaderSize+lengthPrefixSize)
	}
	if len(command) > MaxMessageSize {
		return nil, fmt.Errorf("message of %d bytes exceeds maximum %d",
			len(command), MaxMessageSize)
	}

	var chunks [][]byte
	seq := uint16(0)
	offset := 0
	for {
		packet := make([]byte, packetSize)
		binary.BigEndian.PutUint16(packet[0:2], channel)
		packet[2] = TagAPDU
		binary.BigEndian.PutUint16(packet[3:5], seq)

		start := packetHeaderSize
		if seq == 0 {
			binary.BigEndian.PutUint16(packet[5:7], uint16(len(command)))
			start += lengthPrefixSize
		}

		n := copy(packet[start:], command[offset:])
		offset += n
		chunks = append(chunks, packet)

		if offset >= len(command) {
			return chunks, nil
		}
		seq++
	}
}

// Reassembler accumulates the packets of a single message. It must be
// discarded as soon as any packet fails validation.
type Reassembler struct {
	channel uint16
	seq     uint16
	total   int
	buf     []byte
}

// NewReassembler returns an empty reassembler expecting packets on channel.
func NewReassembler(channel uint16) *Reassembler {
	return &Reassembler{channel: channel, total: -1}
}

// Add validates one packet and appends its chunk. It reports whether the
// declared total length has been reached.
func (r *Reassembler) Add(packet []byte) (bool, error) {
	if len(packet) < packetHeaderSize {
		return false, ErrUnexpectedEOF
	}

	channel := binary.BigEndian.Uint16(packet[0:2])
	if channel != r.channel {
		return false, &FramingError{
			Kind: FramingChannel, Expected: r.channel, Found: channel,
		}
	}
	if packet[2] != TagAPDU {
		return false, &FramingError{
			Kind: FramingTag, Expected: TagAPDU, Found: uint16(packet[2]),
		}
	}
	seq := binary.BigEndian.Uint16(packet[3:5])
	if seq != r.seq {
		return false, &FramingError{
			Kind: FramingSequence, Expected: r.seq, Found: seq,
		}
	}

	chunk := packet[packetHeaderSize:]
	if r.seq == 0 {
		if len(chunk) < lengthPrefixSize {
			return false, ErrUnexpectedEOF
		}
		r.total = int(binary.BigEndian.Uint16(chunk[:2]))
		r.buf = make([]byte, 0, r.total)
		chunk = chunk[lengthPrefixSize:]
	}
	r.seq++

	// Trailing bytes of the last packet are padding.
	if left := r.total - len(r.buf); len(chunk) > left {
		chunk = chunk[:left]
	}
	r.buf = append(r.buf, chunk...)

	return len(r.buf) == r.total, nil
}

// Message returns the bytes accumulated so far.
func (r *Reassembler) Message() []byte {
	return r.buf
}

// ErrUnexpectedEOF is returned when the link ends or a packet is too short
// to carry its header.
var ErrUnexpectedEOF = errors.New("unexpected end-of-data")
