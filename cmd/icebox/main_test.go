// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/icebox/dongle"
	"github.com/luxfi/icebox/wallet"
)

func TestParsePath(t *testing.T) {
	t.Parallel()

	path, err := parsePath("m/84'/0h/0'/1/5")
	require.NoError(t, err)
	require.Equal(t, []uint32{
		dongle.Hardened(84), dongle.Hardened(0), dongle.Hardened(0), 1, 5,
	}, path)

	path, err = parsePath("m")
	require.NoError(t, err)
	require.Empty(t, path)

	_, err = parsePath("m/84'/x")
	require.Error(t, err)

	_, err = parsePath("m/" + strings.Repeat("0/", 10) + "0")
	require.Error(t, err)
}

// TestCommands drives the command surface against the simulated dongle.
func TestCommands(t *testing.T) {
	dir := t.TempDir()
	walletPath := filepath.Join(dir, "wallet.ice")
	cfgPath := filepath.Join(dir, "icebox.toml")
	cfg := fmt.Sprintf(`
[Wallet]
Path = %q
Network = "regtest"

[Dongle]
Simulate = true
`, walletPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0600))

	master, err := hdkeychain.NewMaster(
		bytes.Repeat([]byte{0x33}, 32), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)
	xpub, err := master.Neuter()
	require.NoError(t, err)

	run := func(args ...string) (string, error) {
		var out bytes.Buffer
		app.SetOut(&out)
		app.SetArgs(append([]string{"--config", cfgPath}, args...))
		err := app.Execute()
		return out.String(), err
	}
	mustRun := func(args ...string) string {
		out, err := run(args...)
		require.NoError(t, err, args)
		return out
	}

	require.Contains(t, mustRun("init"), walletPath)
	_, err = run("init")
	require.ErrorIs(t, err, wallet.ErrWalletExists)

	require.Contains(t,
		mustRun("importdescriptor", "wpkh("+xpub.String()+"/0/*)"),
		"Descriptor 0",
	)

	first := strings.TrimSpace(mustRun("getnewaddress", "--note", "first"))
	require.True(t, strings.HasPrefix(first, "bcrt1q"), first)
	second := strings.TrimSpace(mustRun("getnewaddress"))
	require.NotEqual(t, first, second)

	_, err = run("getnewaddress", "--descriptor", "3")
	var rangeErr *wallet.RangeError
	require.ErrorAs(t, err, &rangeErr)

	list := mustRun("listaddresses")
	require.Contains(t, list, first)
	require.Contains(t, list, second)

	info := mustRun("info")
	require.Contains(t, info, "Addresses:       2")
	require.Contains(t, info, "next index 2")

	random := strings.TrimSpace(mustRun("getrandom", "16"))
	require.Len(t, random, 32)

	require.Contains(t, mustRun("signmessage", "m/84'/1'/0'/0/0", "hi"),
		"signature:")

	// The file cannot be read without the dongle's key.
	_, err = wallet.Open(walletPath, [wallet.KeySize]byte{},
		[wallet.NonceSize]byte{})
	require.ErrorIs(t, err, wallet.ErrAuthentication)
}
