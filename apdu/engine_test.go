// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package apdu

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// replyEngine returns an engine whose link answers with a single reply
// made of data followed by sw.
func replyEngine(t *testing.T, data []byte, sw uint16) (*Engine, *queueLink) {
	t.Helper()

	reply := make([]byte, len(data)+2)
	copy(reply, data)
	binary.BigEndian.PutUint16(reply[len(data):], sw)

	link := &queueLink{reads: wrap(t, DefaultChannel, reply)}
	return NewEngine(NewTransport(link, DefaultChannel, PacketSize)), link
}

func TestCommandMarshal(t *testing.T) {
	t.Parallel()

	cmd := Command{
		Class:       ClassBTChip,
		Instruction: InsGetWalletPublicKey,
		P1:          0x01,
		P2:          0x02,
		Data:        []byte{0xaa, 0xbb},
	}
	raw, err := cmd.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, []byte{0xe0, 0x40, 0x01, 0x02, 0x02, 0xaa, 0xbb}, raw)

	parsed, err := ParseCommand(raw)
	require.NoError(t, err)
	require.Equal(t, cmd.Data, parsed.Data)
	require.Equal(t, cmd.Instruction, parsed.Instruction)

	// Without data the fifth byte is Le.
	raw, err = Command{
		Class: ClassBTChip, Instruction: InsGetRandom, Le: 32,
	}.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, []byte{0xe0, 0xc0, 0x00, 0x00, 32}, raw)

	parsed, err = ParseCommand(raw)
	require.NoError(t, err)
	require.Equal(t, byte(32), parsed.Le)
	require.Empty(t, parsed.Data)

	_, err = Command{Data: make([]byte, 256)}.MarshalBinary()
	require.Error(t, err)

	_, err = ParseCommand([]byte{0xe0, 0x40, 0, 0, 3, 1})
	require.Error(t, err)
}

func TestTransceiveSuccess(t *testing.T) {
	t.Parallel()

	engine, link := replyEngine(t, []byte{1, 2, 3}, SWOK)
	data, err := engine.Transceive(Command{
		Class:       ClassBTChip,
		Instruction: InsGetFirmwareVersion,
		Expect:      LengthRange{Min: 3, Max: 8},
	})
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, data)

	// The command went out as a single packet.
	require.Len(t, link.written, 1)
	require.Equal(t, []byte{0xe0, 0xc4, 0, 0, 0}, link.written[0][7:12])
}

// TestTransceiveLocked asserts a locked dongle is distinguishable from any
// other status failure.
func TestTransceiveLocked(t *testing.T) {
	t.Parallel()

	engine, _ := replyEngine(t, nil, SWDongleLocked)
	_, err := engine.Transceive(Command{
		Class: ClassBTChip, Instruction: InsSignMessage,
	})
	require.ErrorIs(t, err, ErrDongleLocked)
	require.True(t, IsLocked(err))
	require.NotErrorIs(t, err, ErrInsNotSupported)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.True(t, statusErr.Locked())
	require.Equal(t, InsSignMessage, statusErr.Instruction)
	require.Equal(t, SWDongleLocked, statusErr.Status)
}

func TestTransceiveStatusErrors(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		sw       uint16
		sentinel error
	}{
		{SWBadLength, ErrBadLength},
		{SWBadData, ErrBadData},
		{SWBadP1P2, ErrBadP1P2},
		{SWInsNotSupported, ErrInsNotSupported},
		{SWInvalidParameter, ErrInvalidParameter},
		{SWHalted, ErrHalted},
		{0x6400, nil},
	}

	for _, tc := range testCases {
		engine, _ := replyEngine(t, nil, tc.sw)
		_, err := engine.Transceive(Command{
			Class: ClassBTChip, Instruction: InsGetRandom, Le: 8,
		})

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, tc.sw, statusErr.Status)
		require.False(t, IsLocked(err))
		if tc.sentinel != nil {
			require.ErrorIs(t, err, tc.sentinel)
		}
	}
}

func TestTransceiveLengthMismatch(t *testing.T) {
	t.Parallel()

	engine, _ := replyEngine(t, make([]byte, 4), SWOK)
	_, err := engine.Transceive(Command{
		Class:       ClassBTChip,
		Instruction: InsGetRandom,
		Le:          8,
		Expect:      Exactly(8),
	})

	var lengthErr *LengthError
	require.ErrorAs(t, err, &lengthErr)
	require.Equal(t, 4, lengthErr.Found)
	require.Equal(t, Exactly(8), lengthErr.Expected)
	require.Equal(t, InsGetRandom, lengthErr.Instruction)
}

func TestParseResponseTooShort(t *testing.T) {
	t.Parallel()

	_, err := ParseResponse(Command{Instruction: InsGetRandom}, []byte{0x90})
	require.True(t, errors.Is(err, ErrUnexpectedEOF))
}
