// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package apdu

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// queueLink replays a fixed list of packets and records every write.
type queueLink struct {
	reads   [][]byte
	written [][]byte
}

func (l *queueLink) Read(p []byte) (int, error) {
	if len(l.reads) == 0 {
		return 0, io.EOF
	}
	n := copy(p, l.reads[0])
	l.reads = l.reads[1:]
	return n, nil
}

func (l *queueLink) Write(p []byte) (int, error) {
	l.written = append(l.written, append([]byte(nil), p...))
	return len(p), nil
}

func wrap(t *testing.T, channel uint16, msg []byte) [][]byte {
	t.Helper()

	packets, err := WrapCommandAPDU(channel, msg, PacketSize)
	require.NoError(t, err)
	return packets
}

// TestWrapCommandAPDULayout checks the header of the first and the
// continuation packets.
func TestWrapCommandAPDULayout(t *testing.T) {
	t.Parallel()

	msg := bytes.Repeat([]byte{0xab}, 100)
	packets := wrap(t, DefaultChannel, msg)

	// 57 bytes in packet 0, 59 in packet 1.
	require.Len(t, packets, 2)
	for i, p := range packets {
		require.Len(t, p, PacketSize)
		require.Equal(t, uint16(DefaultChannel), binary.BigEndian.Uint16(p[0:2]))
		require.Equal(t, byte(TagAPDU), p[2])
		require.Equal(t, uint16(i), binary.BigEndian.Uint16(p[3:5]))
	}
	require.Equal(t, uint16(100), binary.BigEndian.Uint16(packets[0][5:7]))

	_, err := WrapCommandAPDU(DefaultChannel, msg, 7)
	require.Error(t, err)
}

// TestPacketRoundTrip asserts that any message survives wrapping and
// reassembly unchanged.
func TestPacketRoundTrip(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		msg := rapid.SliceOfN(rapid.Byte(), 0, 1024).Draw(t, "msg")
		channel := rapid.Uint16().Draw(t, "channel")

		packets, err := WrapCommandAPDU(channel, msg, PacketSize)
		if err != nil {
			t.Fatalf("wrap: %v", err)
		}

		transport := NewTransport(
			&queueLink{reads: packets}, channel, PacketSize,
		)
		got, err := transport.Receive()
		if err != nil {
			t.Fatalf("receive: %v", err)
		}
		if !bytes.Equal(got, msg) {
			t.Fatalf("got %x, want %x", got, msg)
		}
	})
}

// TestReceiveFramingErrors feeds corrupted packet streams and checks that
// each fails with the right framing kind and returns no bytes.
func TestReceiveFramingErrors(t *testing.T) {
	t.Parallel()

	msg := bytes.Repeat([]byte{0x42}, 200)

	testCases := []struct {
		name    string
		mutator func([][]byte) [][]byte
		kind    FramingKind
	}{
		{
			name: "foreign channel on first packet",
			mutator: func(p [][]byte) [][]byte {
				binary.BigEndian.PutUint16(p[0][0:2], 0x0202)
				return p
			},
			kind: FramingChannel,
		},
		{
			name: "foreign channel mid stream",
			mutator: func(p [][]byte) [][]byte {
				binary.BigEndian.PutUint16(p[2][0:2], 0x0202)
				return p
			},
			kind: FramingChannel,
		},
		{
			name: "wrong tag",
			mutator: func(p [][]byte) [][]byte {
				p[1][2] = 0x02
				return p
			},
			kind: FramingTag,
		},
		{
			name: "packets swapped",
			mutator: func(p [][]byte) [][]byte {
				p[1], p[2] = p[2], p[1]
				return p
			},
			kind: FramingSequence,
		},
		{
			name: "packet dropped",
			mutator: func(p [][]byte) [][]byte {
				return append(p[:1], p[2:]...)
			},
			kind: FramingSequence,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			packets := tc.mutator(wrap(t, DefaultChannel, msg))
			transport := NewTransport(
				&queueLink{reads: packets}, DefaultChannel, PacketSize,
			)

			got, err := transport.Receive()
			require.Nil(t, got)

			var framingErr *FramingError
			require.ErrorAs(t, err, &framingErr)
			require.Equal(t, tc.kind, framingErr.Kind)
		})
	}
}

// TestReceiveTruncated checks that a link closing mid message is reported
// as an unexpected end of data.
func TestReceiveTruncated(t *testing.T) {
	t.Parallel()

	packets := wrap(t, DefaultChannel, bytes.Repeat([]byte{1}, 150))
	transport := NewTransport(
		&queueLink{reads: packets[:1]}, DefaultChannel, PacketSize,
	)

	_, err := transport.Receive()
	require.ErrorIs(t, err, ErrUnexpectedEOF)

	transport = NewTransport(
		&queueLink{reads: [][]byte{{0x01, 0x01}}}, DefaultChannel,
		PacketSize,
	)
	_, err = transport.Receive()
	require.ErrorIs(t, err, ErrUnexpectedEOF)
}

// TestSendWritesAllPackets checks that Send hands every packet to the
// link in order.
func TestSendWritesAllPackets(t *testing.T) {
	t.Parallel()

	link := &queueLink{}
	transport := NewTransport(link, DefaultChannel, PacketSize)

	msg := bytes.Repeat([]byte{7}, 130)
	require.NoError(t, transport.Send(msg))
	require.Equal(t, wrap(t, DefaultChannel, msg), link.written)
}

type errLink struct{}

func (errLink) Read([]byte) (int, error)  { return 0, errors.New("unplugged") }
func (errLink) Write([]byte) (int, error) { return 0, errors.New("unplugged") }

func TestTransportLinkErrors(t *testing.T) {
	t.Parallel()

	transport := NewTransport(errLink{}, DefaultChannel, PacketSize)
	require.ErrorContains(t, transport.Send([]byte{1}), "unplugged")

	_, err := transport.Receive()
	require.ErrorContains(t, err, "unplugged")
}
