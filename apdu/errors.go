// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package apdu

import (
	"errors"
	"fmt"
)

// FramingKind names the packet header field that failed validation.
type FramingKind uint8

const (
	FramingChannel FramingKind = iota
	FramingTag
	FramingSequence
)

func (k FramingKind) String() string {
	switch k {
	case FramingChannel:
		return "channel"
	case FramingTag:
		return "tag"
	case FramingSequence:
		return "sequence no"
	default:
		return "unknown field"
	}
}

// FramingError is returned while reassembling a response whose packets do
// not belong to the exchange. It is structural and never retried.
type FramingError struct {
	Kind     FramingKind
	Expected uint16
	Found    uint16
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("incorrect %v for APDU (expected %#x, found %#x)",
		e.Kind, e.Expected, e.Found)
}

// Status word sentinels. A *StatusError matches the sentinel of its code
// with errors.Is.
var (
	ErrBadLength        = errors.New("bad length")
	ErrBadData          = errors.New("bad data")
	ErrBadP1P2          = errors.New("bad P1 or P2")
	ErrInsNotSupported  = errors.New("instruction not supported")
	ErrDongleLocked     = errors.New("dongle locked")
	ErrInvalidParameter = errors.New("invalid parameter exception")
	ErrHalted           = errors.New("halted exception")
)

var statusSentinels = map[uint16]error{
	SWBadLength:        ErrBadLength,
	SWBadData:          ErrBadData,
	SWBadP1P2:          ErrBadP1P2,
	SWInsNotSupported:  ErrInsNotSupported,
	SWDongleLocked:     ErrDongleLocked,
	SWInvalidParameter: ErrInvalidParameter,
	SWHalted:           ErrHalted,
}

// StatusError is returned when the dongle terminates a response with a
// status word other than SWOK.
type StatusError struct {
	Instruction Instruction
	Status      uint16
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("device replied to %v with bad status code %04X",
		e.Instruction, e.Status)
	if sentinel, ok := statusSentinels[e.Status]; ok {
		msg += " (" + sentinel.Error() + ")"
	}
	return msg
}

// Is lets callers test for a specific condition, e.g.
// errors.Is(err, ErrDongleLocked).
func (e *StatusError) Is(target error) bool {
	sentinel, ok := statusSentinels[e.Status]
	return ok && sentinel == target
}

// Locked reports whether the user has to unlock the dongle and retry.
func (e *StatusError) Locked() bool {
	return e.Status == SWDongleLocked
}

// IsLocked reports whether err was caused by a locked dongle.
func IsLocked(err error) bool {
	return errors.Is(err, ErrDongleLocked)
}

// LengthRange is the half-open range [Min, Max) of acceptable response
// data lengths. The zero value accepts anything.
type LengthRange struct {
	Min int
	Max int
}

// Exactly is the range accepting only n.
func Exactly(n int) LengthRange {
	return LengthRange{Min: n, Max: n + 1}
}

func (r LengthRange) contains(n int) bool {
	if r == (LengthRange{}) {
		return true
	}
	return n >= r.Min && n < r.Max
}

func (r LengthRange) String() string {
	return fmt.Sprintf("%d..%d", r.Min, r.Max)
}

// LengthError is returned when a response has the wrong shape for its
// instruction. It points at a firmware or protocol version mismatch.
type LengthError struct {
	Instruction Instruction
	Expected    LengthRange
	Found       int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("incorrect length for %v response (expected %v, found %d)",
		e.Instruction, e.Expected, e.Found)
}
