// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package dongle

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of the wallet file encryption key.
	KeySize = chacha20poly1305.KeySize

	// NonceSize is the size of the wallet file base nonce.
	NonceSize = chacha20poly1305.NonceSize

	// walletKeyPurpose is "ICEB" and reserves a hardened subtree of the
	// dongle's master key for wallet file encryption.
	walletKeyPurpose = 0x49434542
)

var (
	// WalletKeyPath is never used for addresses.
	WalletKeyPath = []uint32{Hardened(walletKeyPurpose), Hardened(0)}

	hkdfSalt      = []byte("icebox wallet file")
	hkdfInfoKey   = []byte("encryption key")
	hkdfInfoNonce = []byte("base nonce")
)

// WalletKeyAndNonce derives the symmetric key and base nonce of the
// wallet file from the public key and chain code at WalletKeyPath. Both are
// bound to the dongle's master seed, so the file cannot be read without
// the device.
func WalletKeyAndNonce(d Dongle) ([KeySize]byte, [NonceSize]byte, error) {
	var (
		key   [KeySize]byte
		nonce [NonceSize]byte
	)

	wpk, err := d.GetPublicKey(WalletKeyPath)
	if err != nil {
		return key, nonce, fmt.Errorf("getting wallet key from dongle: %w",
			err)
	}

	secret := make([]byte, 0, 33+32)
	secret = append(secret, wpk.PublicKey.SerializeCompressed()...)
	secret = append(secret, wpk.ChainCode[:]...)

	kdf := hkdf.New(sha256.New, secret, hkdfSalt, hkdfInfoKey)
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		return key, nonce, err
	}
	kdf = hkdf.New(sha256.New, secret, hkdfSalt, hkdfInfoNonce)
	if _, err := io.ReadFull(kdf, nonce[:]); err != nil {
		return key, nonce, err
	}

	log.Debug("Derived wallet file key from dongle")

	return key, nonce, nil
}
