// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

// Package dongle exposes the capabilities of a Ledger running the Bitcoin
// app: public key retrieval, message signing, random bytes and the
// firmware version. Devices are found through an explicit factory and the
// handle is passed down to whoever needs it.
package dongle

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/luxfi/icebox/logging"
)

var log = logging.Named("DONG")

// MaxPathComponents is the deepest BIP-32 path the Bitcoin app accepts.
const MaxPathComponents = 10

var (
	// ErrDongleNotFound is returned when enumeration finds no device.
	ErrDongleNotFound = errors.New("no dongle detected")

	// ErrDongleNotUnique is returned when enumeration finds more than one
	// device and cannot pick.
	ErrDongleNotUnique = errors.New("more than one dongle detected")
)

// Admin enumerates and connects to devices.
type Admin interface {
	CountDevices() int
	ListDevices() ([]string, error)
	Connect() (*Ledger, error)
}

// Dongle is the capability surface the wallet relies on.
type Dongle interface {
	GetPublicKey(path []uint32) (*WalletPublicKey, error)
	SignMessage(path []uint32, message []byte) (*Signature, error)
	GetRandom(n int) ([]byte, error)
	GetFirmwareVersion() (*FirmwareVersion, error)
}

// WalletPublicKey is the reply to GetPublicKey.
type WalletPublicKey struct {
	PublicKey *btcec.PublicKey
	Address   string
	ChainCode [32]byte
}

// Signature is a message signature together with the parity of the R
// point, which lets the public key be recovered.
type Signature struct {
	Parity byte
	Sig    *ecdsa.Signature
}

// FirmwareVersion is the reply to GetFirmwareVersion.
type FirmwareVersion struct {
	Features     byte
	Architecture byte
	Major        byte
	Minor        byte
	Patch        byte
	LoaderMajor  byte
	LoaderMinor  byte
}

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%d (arch %#02x, loader %d.%d)", v.Major,
		v.Minor, v.Patch, v.Architecture, v.LoaderMajor, v.LoaderMinor)
}

// Hardened returns the hardened form of a path component.
func Hardened(i uint32) uint32 {
	return i + hdkeychain.HardenedKeyStart
}

// encodePath serializes a BIP-32 path as count || u32 BE components.
func encodePath(path []uint32) ([]byte, error) {
	if len(path) > MaxPathComponents {
		return nil, fmt.Errorf("path has %d components, maximum is %d",
			len(path), MaxPathComponents)
	}
	buf := make([]byte, 1+4*len(path))
	buf[0] = byte(len(path))
	for i, component := range path {
		binary.BigEndian.PutUint32(buf[1+4*i:], component)
	}
	return buf, nil
}

// decodePath is the inverse of encodePath. It returns the path and the
// number of bytes consumed.
func decodePath(buf []byte) ([]uint32, int, error) {
	if len(buf) == 0 {
		return nil, 0, errors.New("empty path")
	}
	n := int(buf[0])
	if n > MaxPathComponents || len(buf) < 1+4*n {
		return nil, 0, fmt.Errorf("malformed path of %d components", n)
	}
	path := make([]uint32, n)
	for i := range path {
		path[i] = binary.BigEndian.Uint32(buf[1+4*i:])
	}
	return path, 1 + 4*n, nil
}
