// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

// Package chain fetches blocks from a bitcoind node over JSON-RPC.
package chain

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/luxfi/icebox/logging"
)

var log = logging.Named("CHAN")

// Config holds the node connection settings.
type Config struct {
	Host       string
	User       string
	Pass       string
	DisableTLS bool
}

// blockClient is the subset of rpcclient.Client used here.
type blockClient interface {
	GetBlockCount() (int64, error)
	GetBlockHash(height int64) (*chainhash.Hash, error)
	GetBlock(hash *chainhash.Hash) (*wire.MsgBlock, error)
	Shutdown()
}

// Bitcoind is a block source backed by bitcoind.
type Bitcoind struct {
	client blockClient
}

// NewBitcoind connects to the node in HTTP POST mode, which is all
// bitcoind speaks.
func NewBitcoind(cfg Config) (*Bitcoind, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		DisableTLS:   cfg.DisableTLS,
		HTTPPostMode: true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to bitcoind at %s: %w",
			cfg.Host, err)
	}

	log.Debugf("Using bitcoind at %s", cfg.Host)
	return &Bitcoind{client: client}, nil
}

// GetBlockCount returns the height of the best block.
func (b *Bitcoind) GetBlockCount(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	count, err := b.client.GetBlockCount()
	if err != nil {
		return 0, fmt.Errorf("getblockcount: %w", err)
	}
	if count < 0 {
		return 0, fmt.Errorf("getblockcount returned %d", count)
	}
	return uint64(count), nil
}

// GetBlock returns the block at height on the best chain.
func (b *Bitcoind) GetBlock(ctx context.Context,
	height uint64) (*wire.MsgBlock, error) {

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash, err := b.client.GetBlockHash(int64(height))
	if err != nil {
		return nil, fmt.Errorf("getblockhash %d: %w", height, err)
	}
	block, err := b.client.GetBlock(hash)
	if err != nil {
		return nil, fmt.Errorf("getblock %d (%v): %w", height, hash, err)
	}
	return block, nil
}

// Close shuts the client down.
func (b *Bitcoind) Close() {
	b.client.Shutdown()
}
