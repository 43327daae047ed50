// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

// Package rescan walks the block chain from the wallet checkpoint to the
// tip, recording the outputs the wallet receives and spends.
package rescan

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/luxfi/icebox/logging"
	"github.com/luxfi/icebox/wallet"
)

var log = logging.Named("SCAN")

const (
	// DefaultLookback is how far below the checkpoint a rescan starts, to
	// pick up blocks that were reorganized since.
	DefaultLookback = 100

	// DefaultCheckpointInterval is the height interval between saves.
	DefaultCheckpointInterval = 1000
)

// BlockSource serves blocks by height.
type BlockSource interface {
	GetBlockCount(ctx context.Context) (uint64, error)
	GetBlock(ctx context.Context, height uint64) (*wire.MsgBlock, error)
}

// Config wires an Engine.
type Config struct {
	Wallet *wallet.Wallet
	Source BlockSource

	// Save persists the wallet. It is called at every checkpoint and once
	// when the run completes.
	Save func(*wallet.Wallet) error

	// Lookback defaults to DefaultLookback. Some(0) disables it.
	Lookback           fn.Option[uint64]
	CheckpointInterval uint64

	// OnReceived and OnSpent are called for every matching output and
	// input, in block order. Either may be nil.
	OnReceived func(wallet.Txo)
	OnSpent    func(wallet.Spend)
}

// Summary describes a finished run.
type Summary struct {
	StartHeight uint64
	LastHeight  fn.Option[uint64]
	Blocks      uint64
	Received    []wallet.Txo
	Spent       []wallet.Spend
}

// Engine runs rescans. It is not safe for concurrent use.
type Engine struct {
	cfg Config
}

// New returns an engine for cfg, filling in defaults.
func New(cfg Config) (*Engine, error) {
	if cfg.Wallet == nil || cfg.Source == nil {
		return nil, errors.New("rescan needs a wallet and a block source")
	}
	if cfg.Save == nil {
		cfg.Save = func(*wallet.Wallet) error { return nil }
	}
	if cfg.Lookback.IsNone() {
		cfg.Lookback = fn.Some[uint64](DefaultLookback)
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = DefaultCheckpointInterval
	}
	return &Engine{cfg: cfg}, nil
}

// StartHeight returns where a scan begins: the requested height, or the
// checkpoint minus the lookback when that is higher.
func StartHeight(startFrom fn.Option[uint64], checkpoint,
	lookback uint64) uint64 {

	var fromCheckpoint uint64
	if checkpoint > lookback {
		fromCheckpoint = checkpoint - lookback
	}
	return max(startFrom.UnwrapOr(0), fromCheckpoint)
}

// Run scans from the start height to the tip. The tip is queried again
// when it is reached, so blocks mined during the run are included. The
// checkpoint only moves forward, and is saved every CheckpointInterval
// heights and at the end. On error the wallet keeps the last checkpoint.
func (e *Engine) Run(ctx context.Context,
	startFrom fn.Option[uint64]) (*Summary, error) {

	w := e.cfg.Wallet

	cache, err := w.ScriptPubkeyCache()
	if err != nil {
		return nil, err
	}

	tip, err := e.cfg.Source.GetBlockCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching block count: %w", err)
	}

	height := StartHeight(
		startFrom, w.BlockHeight(), e.cfg.Lookback.UnwrapOr(DefaultLookback),
	)
	summary := &Summary{StartHeight: height}

	log.Infof("Rescanning from height %d, tip %d, %d scripts", height, tip,
		cache.Len())

	// The tip block itself is scanned.
	for height <= tip {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		block, err := e.cfg.Source.GetBlock(ctx, height)
		if err != nil {
			return summary, fmt.Errorf("fetching block %d: %w", height,
				err)
		}

		received, spent, err := w.ScanBlock(block, height, cache)
		if err != nil {
			return summary, fmt.Errorf("scanning block %d: %w", height,
				err)
		}
		e.emit(summary, received, spent)

		summary.Blocks++
		summary.LastHeight = fn.Some(height)

		if height%e.cfg.CheckpointInterval == 0 {
			log.Infof("Height %7d: %v", height, block.BlockHash())

			w.SetBlockHeight(height)
			if err := e.cfg.Save(w); err != nil {
				return summary, fmt.Errorf("saving checkpoint %d: %w",
					height, err)
			}
		}

		if height == tip {
			tip, err = e.cfg.Source.GetBlockCount(ctx)
			if err != nil {
				return summary, fmt.Errorf("fetching block count: %w",
					err)
			}
		}
		height++
	}

	summary.LastHeight.WhenSome(func(last uint64) {
		w.SetBlockHeight(last)
	})
	if err := e.cfg.Save(w); err != nil {
		return summary, fmt.Errorf("saving wallet: %w", err)
	}

	log.Infof("Rescan done: %d blocks, %d received, %d spent, "+
		"checkpoint %d", summary.Blocks, len(summary.Received),
		len(summary.Spent), w.BlockHeight())

	return summary, nil
}

func (e *Engine) emit(summary *Summary, received []wallet.Txo,
	spent []wallet.Spend) {

	for _, txo := range received {
		log.Infof("Received %v", &txo)
		summary.Received = append(summary.Received, txo)
		if e.cfg.OnReceived != nil {
			e.cfg.OnReceived(txo)
		}
	}
	for _, s := range spent {
		log.Infof("Spent %v", &s)
		summary.Spent = append(summary.Spent, s)
		if e.cfg.OnSpent != nil {
			e.cfg.OnSpent(s)
		}
	}
}
