// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package wallet

import (
	"bytes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the size of the wallet file key.
	KeySize = chacha20poly1305.KeySize

	// NonceSize is the size of the wallet base nonce.
	NonceSize = chacha20poly1305.NonceSize

	// recordPrefixSize is the stored nonce followed by the record index.
	recordPrefixSize = NonceSize + 4

	// EncryptionOverhead is what sealing adds to a record.
	EncryptionOverhead = recordPrefixSize + chacha20poly1305.Overhead
)

// recordKind separates the nonce spaces of the file sections.
type recordKind byte

const (
	kindEntry recordKind = iota
	kindDescriptor
	kindTxo
	kindSpend
	kindHeader
)

func (k recordKind) String() string {
	switch k {
	case kindEntry:
		return "entry"
	case kindDescriptor:
		return "descriptor"
	case kindTxo:
		return "txo"
	case kindSpend:
		return "spend"
	case kindHeader:
		return "header"
	default:
		return fmt.Sprintf("kind %d", byte(k))
	}
}

// sealer encrypts and authenticates wallet file records. Records are
// immutable once written, so the (kind, index) pair picks a nonce that is
// only ever used for one plaintext.
type sealer struct {
	aead cipher.AEAD
	base [NonceSize]byte
}

func newSealer(key [KeySize]byte, base [NonceSize]byte) (*sealer, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return &sealer{aead: aead, base: base}, nil
}

// recordNonce folds the kind into the first byte of the base nonce and adds
// the counter to its low 8 bytes.
func recordNonce(base [NonceSize]byte, kind recordKind,
	counter uint64) [NonceSize]byte {

	nonce := base
	nonce[0] ^= byte(kind)
	ctr := binary.BigEndian.Uint64(nonce[NonceSize-8:]) + counter
	binary.BigEndian.PutUint64(nonce[NonceSize-8:], ctr)
	return nonce
}

func additionalData(prefix []byte, kind recordKind) []byte {
	ad := make([]byte, 0, len(prefix)+1)
	ad = append(ad, prefix...)
	return append(ad, byte(kind))
}

// seal returns nonce || index || ciphertext || tag.
func (s *sealer) seal(kind recordKind, index uint32, plaintext []byte) []byte {
	nonce := recordNonce(s.base, kind, uint64(index))

	out := make([]byte, recordPrefixSize,
		len(plaintext)+EncryptionOverhead)
	copy(out, nonce[:])
	binary.BigEndian.PutUint32(out[NonceSize:], index)

	return s.aead.Seal(
		out, nonce[:], plaintext, additionalData(out, kind),
	)
}

// open authenticates and decrypts a sealed record that is expected at
// position index of its section.
func (s *sealer) open(kind recordKind, index uint32, sealed []byte) ([]byte,
	error) {

	if len(sealed) < EncryptionOverhead {
		return nil, fmt.Errorf("sealed %v of %d bytes is too short", kind,
			len(sealed))
	}

	prefix := sealed[:recordPrefixSize]
	if stored := binary.BigEndian.Uint32(prefix[NonceSize:]); stored != index {
		return nil, fmt.Errorf("%v %d found at position %d", kind, stored,
			index)
	}
	nonce := recordNonce(s.base, kind, uint64(index))
	if !bytes.Equal(prefix[:NonceSize], nonce[:]) {
		return nil, fmt.Errorf("%w: %v %d has a foreign nonce",
			ErrAuthentication, kind, index)
	}

	plaintext, err := s.aead.Open(
		nil, prefix[:NonceSize], sealed[recordPrefixSize:],
		additionalData(prefix, kind),
	)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// sealHeader authenticates the clear file header. Every save uses a new
// generation, so the header nonce is never reused.
func (s *sealer) sealHeader(header []byte, generation uint64) []byte {
	nonce := recordNonce(s.base, kindHeader, generation)
	return s.aead.Seal(nil, nonce[:], nil, header)
}

// openHeader checks the tag written by sealHeader.
func (s *sealer) openHeader(header []byte, generation uint64,
	tag []byte) error {

	nonce := recordNonce(s.base, kindHeader, generation)
	if _, err := s.aead.Open(nil, nonce[:], tag, header); err != nil {
		return ErrAuthentication
	}
	return nil
}
