// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package dongle

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/luxfi/icebox/apdu"
)

const (
	p1SignPrepareFirst = 0x00
	p1SignPrepareNext  = 0x80
	p1SignFinal        = 0x80
	p2SignPrepare      = 0x01
	p2SignFinal        = 0x00

	// MaxRandomBytes is the most GetRandom returns in one call.
	MaxRandomBytes = 255
)

// Response shapes, excluding the status word.
var (
	// len(1) pubkey(65) len(1) address(26..62) chaincode(32)
	shapePublicKey = apdu.LengthRange{Min: 1 + 65 + 1 + 26 + 32, Max: 1 + 65 + 1 + 63 + 32}
	shapePrepare   = apdu.LengthRange{Min: 0, Max: 3}
	shapeSignature = apdu.LengthRange{Min: 8, Max: 74}
	shapeFirmware  = apdu.LengthRange{Min: 5, Max: 16}
)

// Ledger implements Dongle by issuing Bitcoin app instructions.
type Ledger struct {
	exchanger apdu.Exchanger
	closer    io.Closer
}

var _ Dongle = (*Ledger)(nil)

// NewLedger wraps an exchanger. closer may be nil.
func NewLedger(exchanger apdu.Exchanger, closer io.Closer) *Ledger {
	return &Ledger{exchanger: exchanger, closer: closer}
}

// NewLedgerFromLink builds the full transport stack on top of a packet
// link, e.g. a Simulator.
func NewLedgerFromLink(link apdu.Link) *Ledger {
	var closer io.Closer
	if c, ok := link.(io.Closer); ok {
		closer = c
	}
	transport := apdu.NewTransport(link, apdu.DefaultChannel, apdu.PacketSize)
	return NewLedger(apdu.NewEngine(transport), closer)
}

// Close releases the underlying device.
func (l *Ledger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Ledger) transceive(cmd apdu.Command) ([]byte, error) {
	cmd.Class = apdu.ClassBTChip
	return l.exchanger.Transceive(cmd)
}

// GetPublicKey returns the public key, legacy address and chain code at
// path without asking the user for confirmation.
func (l *Ledger) GetPublicKey(path []uint32) (*WalletPublicKey, error) {
	data, err := encodePath(path)
	if err != nil {
		return nil, err
	}
	resp, err := l.transceive(apdu.Command{
		Instruction: apdu.InsGetWalletPublicKey,
		Data:        data,
		Expect:      shapePublicKey,
	})
	if err != nil {
		return nil, err
	}

	return parsePublicKeyResponse(resp)
}

func parsePublicKeyResponse(resp []byte) (*WalletPublicKey, error) {
	pkLen := int(resp[0])
	if len(resp) < 1+pkLen+1 {
		return nil, &apdu.LengthError{
			Instruction: apdu.InsGetWalletPublicKey,
			Expected:    shapePublicKey,
			Found:       len(resp),
		}
	}
	addrLen := int(resp[1+pkLen])
	want := 1 + pkLen + 1 + addrLen + 32
	if len(resp) != want {
		return nil, &apdu.LengthError{
			Instruction: apdu.InsGetWalletPublicKey,
			Expected:    apdu.Exactly(want),
			Found:       len(resp),
		}
	}

	pub, err := btcec.ParsePubKey(resp[1 : 1+pkLen])
	if err != nil {
		return nil, fmt.Errorf("parsing dongle public key: %w", err)
	}
	wpk := &WalletPublicKey{
		PublicKey: pub,
		Address:   string(resp[2+pkLen : 2+pkLen+addrLen]),
	}
	copy(wpk.ChainCode[:], resp[2+pkLen+addrLen:])

	return wpk, nil
}

// SignMessage signs message with the key at path using the Bitcoin signed
// message format. The user confirms on the device.
func (l *Ledger) SignMessage(path []uint32, message []byte) (*Signature, error) {
	pathBytes, err := encodePath(path)
	if err != nil {
		return nil, err
	}
	if len(message) > 0xffff {
		return nil, fmt.Errorf("message of %d bytes is too long",
			len(message))
	}

	first := make([]byte, 0, apdu.MaxDataSize)
	first = append(first, pathBytes...)
	first = binary.BigEndian.AppendUint16(first, uint16(len(message)))
	n := min(apdu.MaxDataSize-len(first), len(message))
	first = append(first, message[:n]...)

	_, err = l.transceive(apdu.Command{
		Instruction: apdu.InsSignMessage,
		P1:          p1SignPrepareFirst,
		P2:          p2SignPrepare,
		Data:        first,
		Expect:      shapePrepare,
	})
	if err != nil {
		return nil, fmt.Errorf("preparing signature: %w", err)
	}

	for rest := message[n:]; len(rest) > 0; {
		chunk := rest[:min(apdu.MaxDataSize, len(rest))]
		rest = rest[len(chunk):]

		_, err = l.transceive(apdu.Command{
			Instruction: apdu.InsSignMessage,
			P1:          p1SignPrepareNext,
			P2:          p2SignPrepare,
			Data:        chunk,
			Expect:      shapePrepare,
		})
		if err != nil {
			return nil, fmt.Errorf("streaming message: %w", err)
		}
	}

	resp, err := l.transceive(apdu.Command{
		Instruction: apdu.InsSignMessage,
		P1:          p1SignFinal,
		P2:          p2SignFinal,
		Data:        []byte{0x00},
		Expect:      shapeSignature,
	})
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}

	// The parity of R is folded into the DER sequence tag.
	der := append([]byte(nil), resp...)
	parity := der[0] & 0x01
	der[0] &^= 0x01
	sig, err := ecdsa.ParseDERSignature(der)
	if err != nil {
		return nil, fmt.Errorf("parsing dongle signature: %w", err)
	}

	return &Signature{Parity: parity, Sig: sig}, nil
}

// GetRandom returns n random bytes from the device's generator.
func (l *Ledger) GetRandom(n int) ([]byte, error) {
	if n <= 0 || n > MaxRandomBytes {
		return nil, fmt.Errorf("random byte count %d out of range 1..%d",
			n, MaxRandomBytes)
	}
	return l.transceive(apdu.Command{
		Instruction: apdu.InsGetRandom,
		Le:          byte(n),
		Expect:      apdu.Exactly(n),
	})
}

// GetFirmwareVersion queries the running firmware.
func (l *Ledger) GetFirmwareVersion() (*FirmwareVersion, error) {
	resp, err := l.transceive(apdu.Command{
		Instruction: apdu.InsGetFirmwareVersion,
		Expect:      shapeFirmware,
	})
	if err != nil {
		return nil, err
	}

	v := &FirmwareVersion{
		Features:     resp[0],
		Architecture: resp[1],
		Major:        resp[2],
		Minor:        resp[3],
		Patch:        resp[4],
	}
	if len(resp) >= 7 {
		v.LoaderMajor = resp[5]
		v.LoaderMinor = resp[6]
	}
	return v, nil
}
