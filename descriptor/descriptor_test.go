// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package descriptor

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

// testAccount returns the BIP-84 style account xpub for a fixed seed and
// the extended private key it was neutered from.
func testAccount(t *testing.T) (string, *hdkeychain.ExtendedKey) {
	t.Helper()

	master, err := hdkeychain.NewMaster(
		bytes.Repeat([]byte{0x5a}, 32), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)

	account := master
	for _, c := range []uint32{84, 1, 0} {
		account, err = account.Derive(hdkeychain.HardenedKeyStart + c)
		require.NoError(t, err)
	}
	xpub, err := account.Neuter()
	require.NoError(t, err)

	return xpub.String(), account
}

func TestChecksum(t *testing.T) {
	t.Parallel()

	sum, err := Checksum("raw(deadbeef)")
	require.NoError(t, err)
	require.Equal(t, "89f8spxm", sum)

	_, err = Checksum("raw(é)")
	require.Error(t, err)
}

func TestParseVerifiesChecksum(t *testing.T) {
	t.Parallel()

	xpub, _ := testAccount(t)
	body := "wpkh(" + xpub + "/0/*)"
	sum, err := Checksum(body)
	require.NoError(t, err)

	d, err := Parse(body + "#" + sum)
	require.NoError(t, err)
	require.Equal(t, body+"#"+sum, d.String())

	// Same descriptor without a checksum renders identically.
	d2, err := Parse(body)
	require.NoError(t, err)
	require.Equal(t, d.String(), d2.String())

	bad := []byte(sum)
	bad[0] ^= 1
	_, err = Parse(body + "#" + string(bad))
	require.ErrorContains(t, err, "checksum mismatch")

	_, err = Parse(body + "#abc")
	require.Error(t, err)
}

func TestScriptPubKeyDerivation(t *testing.T) {
	t.Parallel()

	xpub, account := testAccount(t)
	const index = 7

	child, err := account.Derive(0)
	require.NoError(t, err)
	child, err = child.Derive(index)
	require.NoError(t, err)
	pub, err := child.ECPubKey()
	require.NoError(t, err)
	hash := btcutil.Hash160(pub.SerializeCompressed())

	net := &chaincfg.RegressionNetParams
	wpkh, err := btcutil.NewAddressWitnessPubKeyHash(hash, net)
	require.NoError(t, err)
	pkh, err := btcutil.NewAddressPubKeyHash(hash, net)
	require.NoError(t, err)

	testCases := []struct {
		desc   string
		want   btcutil.Address
		prefix string
	}{
		{desc: "wpkh(" + xpub + "/0/*)", want: wpkh, prefix: "bcrt1q"},
		{desc: "pkh(" + xpub + "/0/*)", want: pkh},
		{desc: "sh(wpkh(" + xpub + "/0/*))", prefix: "2"},
		{desc: "tr(" + xpub + "/0/*)", prefix: "bcrt1p"},
		{
			desc:   "wpkh([d34db33f/84'/1'/0']" + xpub + "/0/*)",
			want:   wpkh,
			prefix: "bcrt1q",
		},
	}

	for _, tc := range testCases {
		d, err := Parse(tc.desc)
		require.NoError(t, err, tc.desc)
		require.True(t, d.IsRange())

		addr, err := d.Address(index, net)
		require.NoError(t, err)
		if tc.want != nil {
			require.Equal(t, tc.want.EncodeAddress(), addr.EncodeAddress())
		}
		if tc.prefix != "" {
			require.True(t,
				strings.HasPrefix(addr.EncodeAddress(), tc.prefix),
				addr.EncodeAddress())
		}

		spk, err := d.ScriptPubKey(index)
		require.NoError(t, err)
		wantScript, err := txscript.PayToAddrScript(addr)
		require.NoError(t, err)
		require.Equal(t, wantScript, spk)

		// Different indices give different scripts.
		other, err := d.ScriptPubKey(index + 1)
		require.NoError(t, err)
		require.NotEqual(t, spk, other)
	}
}

func TestFixedKeyDescriptor(t *testing.T) {
	t.Parallel()

	priv, pub := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x01}, 32))
	require.NotNil(t, priv)
	pubHex := hex.EncodeToString(pub.SerializeCompressed())

	d, err := Parse("wpkh(" + pubHex + ")")
	require.NoError(t, err)
	require.False(t, d.IsRange())

	spk, err := d.ScriptPubKey(0)
	require.NoError(t, err)
	require.Len(t, spk, 22)

	_, err = d.ScriptPubKey(1)
	require.ErrorIs(t, err, ErrNotRanged)

	// x-only keys are only valid inside tr().
	xOnly := pubHex[2:]
	_, err = Parse("tr(" + xOnly + ")")
	require.NoError(t, err)
	_, err = Parse("wpkh(" + xOnly + ")")
	require.Error(t, err)

	// Uncompressed keys only in pkh().
	uncompressed := hex.EncodeToString(pub.SerializeUncompressed())
	_, err = Parse("pkh(" + uncompressed + ")")
	require.NoError(t, err)
	_, err = Parse("wpkh(" + uncompressed + ")")
	require.Error(t, err)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	xpub, account := testAccount(t)

	testCases := []string{
		"wsh(" + xpub + "/0/*)",
		"wpkh(" + xpub + "/0'/*)",
		"wpkh(" + xpub + "/*/0)",
		"wpkh(" + xpub + "/x/*)",
		"wpkh(" + account.String() + "/0/*)",
		"tr(" + xpub + "/0/*,pk(" + xpub + "/1/*))",
		"wpkh([zz/84']" + xpub + "/0/*)",
		"wpkh([d34db33f/84'" + xpub + "/0/*)",
		"wpkh(notakey)",
	}
	for _, desc := range testCases {
		_, err := Parse(desc)
		require.Error(t, err, desc)
	}
}
