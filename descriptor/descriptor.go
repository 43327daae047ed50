// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

// Package descriptor parses the single-key output descriptors the wallet
// watches and derives their script pubkeys. Supported shapes are pkh(KEY),
// wpkh(KEY), sh(wpkh(KEY)) and tr(KEY), where KEY is a hex public key or an
// extended public key followed by an unhardened path, optionally ending in
// a wildcard.
package descriptor

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// Type is the script template of a descriptor.
type Type uint8

const (
	TypePKH Type = iota
	TypeWPKH
	TypeSHWPKH
	TypeTR
)

func (t Type) String() string {
	switch t {
	case TypePKH:
		return "pkh"
	case TypeWPKH:
		return "wpkh"
	case TypeSHWPKH:
		return "sh(wpkh)"
	case TypeTR:
		return "tr"
	default:
		return "unknown"
	}
}

// ErrNotRanged is returned when a non-zero index is requested from a
// descriptor without a wildcard.
var ErrNotRanged = errors.New("descriptor has no wildcard")

// key is the single key expression of a descriptor.
type key struct {
	origin string

	// Exactly one of pub and xpub is set.
	pub        *btcec.PublicKey
	compressed bool
	xpub       *hdkeychain.ExtendedKey

	path     []uint32
	wildcard bool
}

// Descriptor is a parsed output descriptor. It is immutable.
type Descriptor struct {
	typ  Type
	key  key
	body string
}

// Parse parses desc. A trailing "#checksum" is verified when present.
func Parse(desc string) (*Descriptor, error) {
	body, err := splitChecksum(strings.TrimSpace(desc))
	if err != nil {
		return nil, err
	}

	var (
		typ   Type
		inner string
	)
	switch {
	case unwrap(body, "sh(wpkh(", "))", &inner):
		typ = TypeSHWPKH
	case unwrap(body, "wpkh(", ")", &inner):
		typ = TypeWPKH
	case unwrap(body, "pkh(", ")", &inner):
		typ = TypePKH
	case unwrap(body, "tr(", ")", &inner):
		if strings.Contains(inner, ",") {
			return nil, errors.New("tr() script trees are not supported")
		}
		typ = TypeTR
	default:
		return nil, fmt.Errorf("unsupported descriptor %q", body)
	}

	k, err := parseKey(inner, typ)
	if err != nil {
		return nil, fmt.Errorf("%v key: %w", typ, err)
	}

	return &Descriptor{typ: typ, key: k, body: body}, nil
}

func unwrap(s, prefix, suffix string, inner *string) bool {
	if !strings.HasPrefix(s, prefix) || !strings.HasSuffix(s, suffix) ||
		len(s) < len(prefix)+len(suffix) {

		return false
	}
	*inner = s[len(prefix) : len(s)-len(suffix)]
	return true
}

func parseKey(s string, typ Type) (key, error) {
	var k key

	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return k, errors.New("unterminated key origin")
		}
		if err := checkOrigin(s[1:end]); err != nil {
			return k, err
		}
		k.origin = s[1:end]
		s = s[end+1:]
	}

	parts := strings.Split(s, "/")
	encoded, steps := parts[0], parts[1:]

	if raw, err := hex.DecodeString(encoded); err == nil {
		if len(steps) > 0 {
			return k, errors.New("derivation path after a plain public key")
		}
		return parseFixedKey(k, raw, typ)
	}

	xpub, err := hdkeychain.NewKeyFromString(encoded)
	if err != nil {
		return k, fmt.Errorf("decoding extended key: %w", err)
	}
	if xpub.IsPrivate() {
		return k, errors.New("private keys are not accepted in a " +
			"watch-only wallet")
	}
	k.xpub = xpub
	k.compressed = true

	for i, step := range steps {
		if step == "*" && i == len(steps)-1 {
			k.wildcard = true
			break
		}
		if strings.HasSuffix(step, "'") || strings.HasSuffix(step, "h") {
			return k, fmt.Errorf("hardened step %q needs a private key",
				step)
		}
		n, err := strconv.ParseUint(step, 10, 31)
		if err != nil {
			return k, fmt.Errorf("invalid path step %q", step)
		}
		k.path = append(k.path, uint32(n))
	}

	return k, nil
}

func parseFixedKey(k key, raw []byte, typ Type) (key, error) {
	var err error
	switch {
	case len(raw) == 32 && typ == TypeTR:
		k.pub, err = schnorr.ParsePubKey(raw)
		k.compressed = true
	case len(raw) == 33:
		k.pub, err = btcec.ParsePubKey(raw)
		k.compressed = true
	case len(raw) == 65 && typ == TypePKH:
		k.pub, err = btcec.ParsePubKey(raw)
	default:
		return k, fmt.Errorf("public key of %d bytes not valid in %v",
			len(raw), typ)
	}
	return k, err
}

func checkOrigin(origin string) error {
	parts := strings.Split(origin, "/")
	if fp, err := hex.DecodeString(parts[0]); err != nil || len(fp) != 4 {
		return fmt.Errorf("invalid key origin fingerprint %q", parts[0])
	}
	for _, step := range parts[1:] {
		step = strings.TrimRight(step, "'h")
		if _, err := strconv.ParseUint(step, 10, 31); err != nil {
			return fmt.Errorf("invalid key origin step %q", step)
		}
	}
	return nil
}

// Type returns the script template.
func (d *Descriptor) Type() Type {
	return d.typ
}

// IsRange reports whether the descriptor ends in a wildcard.
func (d *Descriptor) IsRange() bool {
	return d.key.wildcard
}

// String returns the descriptor with its checksum.
func (d *Descriptor) String() string {
	sum, err := Checksum(d.body)
	if err != nil {
		return d.body
	}
	return d.body + "#" + sum
}

// PubKey derives the public key at index.
func (d *Descriptor) PubKey(index uint32) (*btcec.PublicKey, error) {
	if !d.key.wildcard && index != 0 {
		return nil, fmt.Errorf("%w: index %d", ErrNotRanged, index)
	}
	if index >= hdkeychain.HardenedKeyStart {
		return nil, fmt.Errorf("index %d is hardened", index)
	}
	if d.key.pub != nil {
		return d.key.pub, nil
	}

	k := d.key.xpub
	for _, step := range d.key.path {
		var err error
		if k, err = k.Derive(step); err != nil {
			return nil, err
		}
	}
	if d.key.wildcard {
		var err error
		if k, err = k.Derive(index); err != nil {
			return nil, err
		}
	}
	return k.ECPubKey()
}

// Address derives the address at index for net.
func (d *Descriptor) Address(index uint32, net *chaincfg.Params) (btcutil.Address, error) {
	pub, err := d.PubKey(index)
	if err != nil {
		return nil, err
	}

	serialized := pub.SerializeCompressed()
	if !d.key.compressed {
		serialized = pub.SerializeUncompressed()
	}

	switch d.typ {
	case TypePKH:
		return btcutil.NewAddressPubKeyHash(
			btcutil.Hash160(serialized), net,
		)

	case TypeWPKH:
		return btcutil.NewAddressWitnessPubKeyHash(
			btcutil.Hash160(serialized), net,
		)

	case TypeSHWPKH:
		witness, err := btcutil.NewAddressWitnessPubKeyHash(
			btcutil.Hash160(serialized), net,
		)
		if err != nil {
			return nil, err
		}
		redeem, err := txscript.PayToAddrScript(witness)
		if err != nil {
			return nil, err
		}
		return btcutil.NewAddressScriptHash(redeem, net)

	case TypeTR:
		output := txscript.ComputeTaprootKeyNoScript(pub)
		return btcutil.NewAddressTaproot(
			schnorr.SerializePubKey(output), net,
		)

	default:
		return nil, fmt.Errorf("unknown descriptor type %d", d.typ)
	}
}

// ScriptPubKey derives the output script at index. Scripts do not depend
// on the network.
func (d *Descriptor) ScriptPubKey(index uint32) ([]byte, error) {
	addr, err := d.Address(index, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}
