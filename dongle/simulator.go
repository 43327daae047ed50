// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package dongle

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/luxfi/icebox/apdu"
)

// Simulator is an in-memory Ledger speaking the packet protocol. It holds
// a BIP-32 master key and answers the Bitcoin app instructions the way the
// device does, which makes it usable as an apdu.Link anywhere a HID device
// is expected.
type Simulator struct {
	mu sync.Mutex

	master  *hdkeychain.ExtendedKey
	net     *chaincfg.Params
	version FirmwareVersion

	locked   bool
	disabled map[apdu.Instruction]bool

	inbound  *apdu.Reassembler
	outbound [][]byte

	signPath    []uint32
	signMessage []byte
	signLen     int
}

var _ apdu.Link = (*Simulator)(nil)

// NewSimulator creates a simulated device whose master key is derived from
// seed.
func NewSimulator(seed []byte, net *chaincfg.Params) (*Simulator, error) {
	master, err := hdkeychain.NewMaster(seed, net)
	if err != nil {
		return nil, err
	}
	return &Simulator{
		master: master,
		net:    net,
		version: FirmwareVersion{
			Features: 0x01, Architecture: 0x30, Major: 2, Minor: 1,
			Patch: 0, LoaderMajor: 1, LoaderMinor: 6,
		},
		disabled: make(map[apdu.Instruction]bool),
		inbound:  apdu.NewReassembler(apdu.DefaultChannel),
	}, nil
}

// SetLocked makes every instruction fail with the locked status word.
func (s *Simulator) SetLocked(locked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = locked
}

// Disable makes ins fail as unsupported.
func (s *Simulator) Disable(ins apdu.Instruction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled[ins] = true
}

// Write accepts one packet from the host.
func (s *Simulator) Write(packet []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	done, err := s.inbound.Add(packet)
	if err != nil {
		s.inbound = apdu.NewReassembler(apdu.DefaultChannel)
		return 0, err
	}
	if !done {
		return len(packet), nil
	}

	raw := s.inbound.Message()
	s.inbound = apdu.NewReassembler(apdu.DefaultChannel)

	reply := s.handle(raw)
	packets, err := apdu.WrapCommandAPDU(
		apdu.DefaultChannel, reply, apdu.PacketSize,
	)
	if err != nil {
		return 0, err
	}
	s.outbound = append(s.outbound, packets...)

	return len(packet), nil
}

// Read returns the next pending reply packet, or io.EOF when the host
// reads without having sent a command.
func (s *Simulator) Read(buf []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.outbound) == 0 {
		return 0, io.EOF
	}
	n := copy(buf, s.outbound[0])
	s.outbound = s.outbound[1:]
	return n, nil
}

// Close is a no-op.
func (s *Simulator) Close() error {
	return nil
}

func withStatus(data []byte, sw uint16) []byte {
	return binary.BigEndian.AppendUint16(append([]byte(nil), data...), sw)
}

func (s *Simulator) handle(raw []byte) []byte {
	cmd, err := apdu.ParseCommand(raw)
	if err != nil {
		return withStatus(nil, apdu.SWBadLength)
	}
	if cmd.Class != apdu.ClassBTChip {
		return withStatus(nil, apdu.SWInsNotSupported)
	}
	if s.locked {
		return withStatus(nil, apdu.SWDongleLocked)
	}
	if s.disabled[cmd.Instruction] {
		return withStatus(nil, apdu.SWInsNotSupported)
	}

	var (
		data []byte
		sw   = apdu.SWOK
	)
	switch cmd.Instruction {
	case apdu.InsGetWalletPublicKey:
		data, sw = s.getPublicKey(cmd)
	case apdu.InsSignMessage:
		data, sw = s.signMessageStep(cmd)
	case apdu.InsGetRandom:
		data, sw = s.getRandom(cmd)
	case apdu.InsGetFirmwareVersion:
		v := s.version
		data = []byte{
			v.Features, v.Architecture, v.Major, v.Minor, v.Patch,
			v.LoaderMajor, v.LoaderMinor,
		}
	default:
		sw = apdu.SWInsNotSupported
	}

	return withStatus(data, sw)
}

func (s *Simulator) derive(path []uint32) (*hdkeychain.ExtendedKey, error) {
	key := s.master
	for _, component := range path {
		var err error
		key, err = key.Derive(component)
		if err != nil {
			return nil, err
		}
	}
	return key, nil
}

func (s *Simulator) getPublicKey(cmd apdu.Command) ([]byte, uint16) {
	path, n, err := decodePath(cmd.Data)
	if err != nil || n != len(cmd.Data) {
		return nil, apdu.SWBadData
	}
	key, err := s.derive(path)
	if err != nil {
		return nil, apdu.SWInvalidParameter
	}
	pub, err := key.ECPubKey()
	if err != nil {
		return nil, apdu.SWInvalidParameter
	}
	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(pub.SerializeCompressed()), s.net,
	)
	if err != nil {
		return nil, apdu.SWInvalidParameter
	}

	uncompressed := pub.SerializeUncompressed()
	encoded := addr.EncodeAddress()

	var resp bytes.Buffer
	resp.WriteByte(byte(len(uncompressed)))
	resp.Write(uncompressed)
	resp.WriteByte(byte(len(encoded)))
	resp.WriteString(encoded)
	resp.Write(key.ChainCode())

	return resp.Bytes(), apdu.SWOK
}

func (s *Simulator) signMessageStep(cmd apdu.Command) ([]byte, uint16) {
	switch {
	case cmd.P1 == p1SignPrepareFirst && cmd.P2 == p2SignPrepare:
		path, n, err := decodePath(cmd.Data)
		if err != nil || len(cmd.Data) < n+2 {
			return nil, apdu.SWBadData
		}
		s.signPath = path
		s.signLen = int(binary.BigEndian.Uint16(cmd.Data[n:]))
		s.signMessage = append([]byte(nil), cmd.Data[n+2:]...)
		return []byte{0x00, 0x00}, apdu.SWOK

	case cmd.P1 == p1SignPrepareNext && cmd.P2 == p2SignPrepare:
		if s.signPath == nil {
			return nil, apdu.SWBadP1P2
		}
		s.signMessage = append(s.signMessage, cmd.Data...)
		return []byte{0x00, 0x00}, apdu.SWOK

	case cmd.P1 == p1SignFinal && cmd.P2 == p2SignFinal:
		path, msg := s.signPath, s.signMessage
		s.signPath, s.signMessage = nil, nil
		if path == nil || len(msg) != s.signLen {
			return nil, apdu.SWBadData
		}
		key, err := s.derive(path)
		if err != nil {
			return nil, apdu.SWInvalidParameter
		}
		priv, err := key.ECPrivKey()
		if err != nil {
			return nil, apdu.SWInvalidParameter
		}

		hash := SignedMessageHash(msg)
		compact := ecdsa.SignCompact(priv, hash, true)
		parity := (compact[0] - 27 - 4) & 0x01
		der := ecdsa.Sign(priv, hash).Serialize()
		der[0] |= parity
		return der, apdu.SWOK

	default:
		return nil, apdu.SWBadP1P2
	}
}

func (s *Simulator) getRandom(cmd apdu.Command) ([]byte, uint16) {
	if len(cmd.Data) != 0 || cmd.Le == 0 {
		return nil, apdu.SWBadLength
	}
	buf := make([]byte, cmd.Le)
	if _, err := rand.Read(buf); err != nil {
		return nil, apdu.SWHalted
	}
	return buf, apdu.SWOK
}

// SignedMessageHash is the double SHA-256 digest the Bitcoin app signs for
// a message.
func SignedMessageHash(message []byte) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, "Bitcoin Signed Message:\n")
	_ = wire.WriteVarInt(&buf, 0, uint64(len(message)))
	buf.Write(message)
	return chainhash.DoubleHashB(buf.Bytes())
}

// String describes the simulated device.
func (s *Simulator) String() string {
	return fmt.Sprintf("simulated Ledger %v", s.version)
}
