// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package apdu

import (
	"fmt"
)

// ClassBTChip is the CLA byte of the Bitcoin app.
const ClassBTChip = 0xe0

// MaxDataSize is the largest data field a short APDU can carry.
const MaxDataSize = 255

// Instruction is the INS byte of a command.
type Instruction uint8

const (
	InsGetWalletPublicKey Instruction = 0x40
	InsSignMessage        Instruction = 0x4e
	InsGetRandom          Instruction = 0xc0
	InsGetFirmwareVersion Instruction = 0xc4
)

func (i Instruction) String() string {
	switch i {
	case InsGetWalletPublicKey:
		return "GetWalletPublicKey"
	case InsSignMessage:
		return "SignMessage"
	case InsGetRandom:
		return "GetRandom"
	case InsGetFirmwareVersion:
		return "GetFirmwareVersion"
	default:
		return fmt.Sprintf("Instruction(%#02x)", uint8(i))
	}
}

// Status words.
const (
	SWOK               uint16 = 0x9000
	SWBadLength        uint16 = 0x6700
	SWBadData          uint16 = 0x6a80
	SWBadP1P2          uint16 = 0x6b00
	SWInsNotSupported  uint16 = 0x6d00
	SWDongleLocked     uint16 = 0x6982
	SWInvalidParameter uint16 = 0x6f02
	SWHalted           uint16 = 0x6faa
)

// Command is one APDU request. Expect bounds the length of the response
// data, excluding the status word.
type Command struct {
	Class       byte
	Instruction Instruction
	P1          byte
	P2          byte
	Data        []byte

	// Le is sent in place of Lc when Data is empty.
	Le byte

	Expect LengthRange
}

// MarshalBinary encodes the command as CLA INS P1 P2 Lc DATA, or
// CLA INS P1 P2 Le when there is no data.
func (c Command) MarshalBinary() ([]byte, error) {
	if len(c.Data) > MaxDataSize {
		return nil, fmt.Errorf("%v: data of %d bytes exceeds %d",
			c.Instruction, len(c.Data), MaxDataSize)
	}

	buf := make([]byte, 5, 5+len(c.Data))
	buf[0] = c.Class
	buf[1] = byte(c.Instruction)
	buf[2] = c.P1
	buf[3] = c.P2
	if len(c.Data) == 0 {
		buf[4] = c.Le
		return buf, nil
	}
	buf[4] = byte(len(c.Data))

	return append(buf, c.Data...), nil
}

// ParseCommand is the inverse of MarshalBinary. Used by the simulator.
func ParseCommand(raw []byte) (Command, error) {
	if len(raw) < 5 {
		return Command{}, fmt.Errorf("APDU commands should not be smaller "+
			"than 5, got %d", len(raw))
	}
	c := Command{
		Class:       raw[0],
		Instruction: Instruction(raw[1]),
		P1:          raw[2],
		P2:          raw[3],
	}
	body := raw[5:]
	switch {
	case len(body) == 0:
		c.Le = raw[4]
	case len(body) == int(raw[4]):
		c.Data = append([]byte(nil), body...)
	default:
		return Command{}, fmt.Errorf("Lc %d does not match %d data bytes",
			raw[4], len(body))
	}
	return c, nil
}
