// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package apdu

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Exchanger sends one command and returns the response data with the
// status word already checked.
type Exchanger interface {
	Transceive(cmd Command) ([]byte, error)
}

// Engine maps APDU commands onto a Transport. It performs no retries;
// one exchange is in flight at a time.
type Engine struct {
	mu        sync.Mutex
	transport *Transport
}

var _ Exchanger = (*Engine)(nil)

// NewEngine returns an engine speaking over transport.
func NewEngine(transport *Transport) *Engine {
	return &Engine{transport: transport}
}

// Transceive sends cmd and returns the response data without the status
// word.
func (e *Engine) Transceive(cmd Command) ([]byte, error) {
	raw, err := cmd.MarshalBinary()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.transport.Send(raw); err != nil {
		return nil, fmt.Errorf("sending %v: %w", cmd.Instruction, err)
	}
	reply, err := e.transport.Receive()
	if err != nil {
		return nil, fmt.Errorf("receiving %v reply: %w", cmd.Instruction, err)
	}

	return ParseResponse(cmd, reply)
}

// ParseResponse splits reply into data and status word and checks both
// against cmd.
func ParseResponse(cmd Command, reply []byte) ([]byte, error) {
	if len(reply) < 2 {
		return nil, fmt.Errorf("%v reply of %d bytes: %w",
			cmd.Instruction, len(reply), ErrUnexpectedEOF)
	}

	data := reply[:len(reply)-2]
	sw := binary.BigEndian.Uint16(reply[len(reply)-2:])
	if sw != SWOK {
		return nil, &StatusError{Instruction: cmd.Instruction, Status: sw}
	}
	if !cmd.Expect.contains(len(data)) {
		return nil, &LengthError{
			Instruction: cmd.Instruction,
			Expected:    cmd.Expect,
			Found:       len(data),
		}
	}

	return data, nil
}
