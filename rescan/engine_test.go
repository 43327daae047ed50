// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package rescan

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/luxfi/icebox/wallet"
)

// memChain serves empty blocks except where a payment was placed. Each
// GetBlockCount call pops the next tip, the last one sticks.
type memChain struct {
	tips     []uint64
	payments map[uint64]*wire.MsgTx
	fetched  []uint64
	failAt   fn.Option[uint64]
}

func (c *memChain) GetBlockCount(context.Context) (uint64, error) {
	tip := c.tips[0]
	if len(c.tips) > 1 {
		c.tips = c.tips[1:]
	}
	return tip, nil
}

func (c *memChain) GetBlock(_ context.Context,
	height uint64) (*wire.MsgBlock, error) {

	if c.failAt.IsSome() && c.failAt.UnwrapOr(0) == height {
		return nil, errors.New("connection reset")
	}
	c.fetched = append(c.fetched, height)

	coinbase := wire.NewMsgTx(2)
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: wire.MaxPrevOutIndex},
		SignatureScript:  []byte{byte(height), byte(height >> 8)},
	})
	coinbase.AddTxOut(wire.NewTxOut(0, []byte{0x51}))

	block := &wire.MsgBlock{
		Header:       wire.BlockHeader{Nonce: uint32(height)},
		Transactions: []*wire.MsgTx{coinbase},
	}
	if tx, ok := c.payments[height]; ok {
		block.Transactions = append(block.Transactions, tx)
	}
	return block, nil
}

func payTo(spk []byte, value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0xee}},
	})
	tx.AddTxOut(wire.NewTxOut(value, spk))
	return tx
}

func testWallet(t *testing.T) (*wallet.Wallet, *wallet.Address) {
	t.Helper()

	master, err := hdkeychain.NewMaster(
		bytes.Repeat([]byte{0x42}, 32), &chaincfg.RegressionNetParams,
	)
	require.NoError(t, err)
	xpub, err := master.Neuter()
	require.NoError(t, err)

	w := wallet.New(&chaincfg.RegressionNetParams)
	_, err = w.AddDescriptor("wpkh(" + xpub.String() + "/0/*)")
	require.NoError(t, err)

	created := wallet.FormatTimestamp(time.Unix(1700000000, 0).UTC())
	addr, err := w.AddAddress(0, fn.None[uint32](), created, "")
	require.NoError(t, err)

	return w, addr
}

// savedHeights records the checkpoint at every save.
type savedHeights []uint64

func (s *savedHeights) save(w *wallet.Wallet) error {
	*s = append(*s, w.BlockHeight())
	return nil
}

func TestStartHeight(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		startFrom  fn.Option[uint64]
		checkpoint uint64
		want       uint64
	}{
		{fn.None[uint64](), 0, 0},
		{fn.None[uint64](), 50, 0},
		{fn.None[uint64](), 100_000, 99_900},
		{fn.Some[uint64](5), 50, 5},
		{fn.Some[uint64](99_950), 100_000, 99_950},
		{fn.Some[uint64](10), 100_000, 99_900},
	}
	for _, tc := range testCases {
		got := StartHeight(tc.startFrom, tc.checkpoint, DefaultLookback)
		require.Equal(t, tc.want, got)
	}
}

// TestRescanFindsPayment checks that a payment above the checkpoint is
// reported once with its owner.
func TestRescanFindsPayment(t *testing.T) {
	t.Parallel()

	w, addr := testWallet(t)
	w.SetBlockHeight(100_000)

	chain := &memChain{
		tips: []uint64{100_100},
		payments: map[uint64]*wire.MsgTx{
			100_050: payTo(addr.ScriptPubKey, 25_000),
		},
	}

	var (
		saved    savedHeights
		received []wallet.Txo
	)
	engine, err := New(Config{
		Wallet:             w,
		Source:             chain,
		Save:               saved.save,
		Lookback:           fn.Some[uint64](DefaultLookback),
		CheckpointInterval: DefaultCheckpointInterval,
		OnReceived: func(txo wallet.Txo) {
			received = append(received, txo)
		},
	})
	require.NoError(t, err)

	summary, err := engine.Run(context.Background(), fn.None[uint64]())
	require.NoError(t, err)

	require.Len(t, received, 1)
	require.Equal(t, addr.Owner(), received[0].Owner)
	require.EqualValues(t, 100_050, received[0].Height)
	require.EqualValues(t, 25_000, received[0].Value)
	require.Equal(t, received, summary.Received)

	require.EqualValues(t, 99_900, summary.StartHeight)
	require.EqualValues(t, 201, summary.Blocks)
	require.Equal(t, fn.Some[uint64](100_100), summary.LastHeight)
	require.EqualValues(t, 100_100, w.BlockHeight())
	require.EqualValues(t, 99_900, chain.fetched[0])

	// One save at the 100000 boundary, one at the end.
	require.Equal(t, savedHeights{100_000, 100_100}, saved)
}

func TestRescanIdempotent(t *testing.T) {
	t.Parallel()

	w, addr := testWallet(t)
	chain := &memChain{
		tips: []uint64{40},
		payments: map[uint64]*wire.MsgTx{
			7:  payTo(addr.ScriptPubKey, 1_000),
			31: payTo(addr.ScriptPubKey, 2_000),
		},
	}
	engine, err := New(Config{
		Wallet: w, Source: chain, Lookback: fn.Some[uint64](100),
	})
	require.NoError(t, err)

	first, err := engine.Run(context.Background(), fn.Some[uint64](0))
	require.NoError(t, err)
	require.Len(t, first.Received, 2)

	second, err := engine.Run(context.Background(), fn.Some[uint64](0))
	require.NoError(t, err)
	require.Equal(t, first.Received, second.Received)
	require.Equal(t, first.Spent, second.Spent)

	require.Len(t, w.Txos(), 2)
	require.EqualValues(t, 3_000, w.Balance())
}

func TestRescanRefetchesTip(t *testing.T) {
	t.Parallel()

	w, _ := testWallet(t)

	// The chain grows from 10 to 12 while scanning.
	chain := &memChain{tips: []uint64{10, 12, 12}}
	engine, err := New(Config{Wallet: w, Source: chain})
	require.NoError(t, err)

	summary, err := engine.Run(context.Background(), fn.None[uint64]())
	require.NoError(t, err)
	require.EqualValues(t, 13, summary.Blocks)
	require.EqualValues(t, 12, w.BlockHeight())
	require.Len(t, chain.fetched, 13)
}

// TestCheckpointMonotonic checks that saved checkpoints never decrease
// and never pass the tip, whatever the start and interval.
func TestCheckpointMonotonic(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		w, _ := testWallet(t)

		checkpoint := rapid.Uint64Range(0, 300).Draw(rt, "checkpoint")
		tip := rapid.Uint64Range(0, 300).Draw(rt, "tip")
		interval := rapid.Uint64Range(1, 50).Draw(rt, "interval")
		start := rapid.Uint64Range(0, 300).Draw(rt, "start")
		w.SetBlockHeight(checkpoint)

		var saved savedHeights
		engine, err := New(Config{
			Wallet:             w,
			Source:             &memChain{tips: []uint64{tip}},
			Save:               saved.save,
			Lookback:           fn.Some[uint64](20),
			CheckpointInterval: interval,
		})
		require.NoError(rt, err)

		_, err = engine.Run(context.Background(), fn.Some(start))
		require.NoError(rt, err)

		prev := checkpoint
		for _, h := range saved {
			require.GreaterOrEqual(rt, h, prev)
			prev = h
		}
		require.GreaterOrEqual(rt, w.BlockHeight(), checkpoint)
		if w.BlockHeight() > checkpoint {
			require.LessOrEqual(rt, w.BlockHeight(), tip)
		}
	})
}

func TestRescanStopsOnError(t *testing.T) {
	t.Parallel()

	w, _ := testWallet(t)
	w.SetBlockHeight(1_000)

	var saved savedHeights
	chain := &memChain{tips: []uint64{3_500}, failAt: fn.Some[uint64](2_500)}
	engine, err := New(Config{
		Wallet:   w,
		Source:   chain,
		Save:     saved.save,
		Lookback: fn.Some[uint64](100),
	})
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), fn.None[uint64]())
	require.ErrorContains(t, err, "fetching block 2500")

	// Work up to the last checkpoint is kept.
	require.EqualValues(t, 2_000, w.BlockHeight())
	require.Equal(t, savedHeights{1_000, 2_000}, saved)
}

func TestRescanDefaultLookback(t *testing.T) {
	t.Parallel()

	run := func(lookback fn.Option[uint64]) uint64 {
		w, _ := testWallet(t)
		w.SetBlockHeight(500)
		engine, err := New(Config{
			Wallet:   w,
			Source:   &memChain{tips: []uint64{500}},
			Lookback: lookback,
		})
		require.NoError(t, err)

		summary, err := engine.Run(context.Background(), fn.None[uint64]())
		require.NoError(t, err)
		return summary.StartHeight
	}

	require.EqualValues(t, 500-DefaultLookback, run(fn.None[uint64]()))
	require.EqualValues(t, 500, run(fn.Some[uint64](0)))
	require.EqualValues(t, 490, run(fn.Some[uint64](10)))
}

func TestRescanCancelled(t *testing.T) {
	t.Parallel()

	w, _ := testWallet(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine, err := New(Config{
		Wallet: w, Source: &memChain{tips: []uint64{10}},
	})
	require.NoError(t, err)

	_, err = engine.Run(ctx, fn.None[uint64]())
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, w.BlockHeight())
}
