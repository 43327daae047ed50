// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package wallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// ScriptPubkeyCache maps the output scripts of known addresses to their
// owners.
type ScriptPubkeyCache struct {
	owners map[string]Owner
}

// ScriptPubkeyCache builds the cache for every entry in the wallet. The
// returned cache is extended by later AddAddress calls.
func (w *Wallet) ScriptPubkeyCache() (*ScriptPubkeyCache, error) {
	c := &ScriptPubkeyCache{owners: make(map[string]Owner, len(w.entries))}
	for i := range w.entries {
		e := &w.entries[i]
		spk, err := w.descriptors[e.DescriptorIndex].ScriptPubKey(e.Index)
		if err != nil {
			return nil, fmt.Errorf("deriving %v: %w", e.Owner(), err)
		}
		c.Add(spk, e.Owner())
	}
	w.cache = c

	log.Debugf("Built script pubkey cache with %d scripts", c.Len())
	return c, nil
}

// Add maps spk to owner.
func (c *ScriptPubkeyCache) Add(spk []byte, owner Owner) {
	c.owners[string(spk)] = owner
}

// Lookup returns the owner of spk.
func (c *ScriptPubkeyCache) Lookup(spk []byte) (Owner, bool) {
	owner, ok := c.owners[string(spk)]
	return owner, ok
}

// Len returns the number of scripts.
func (c *ScriptPubkeyCache) Len() int {
	return len(c.owners)
}

// ScanBlock matches the block's transactions against the wallet. Inputs
// spending recorded outputs are reported as spends, and outputs paying a
// cached script as received. Results are reported on every call, but only
// recorded once, so scanning a block twice leaves the wallet unchanged.
func (w *Wallet) ScanBlock(block *wire.MsgBlock, height uint64,
	cache *ScriptPubkeyCache) ([]Txo, []Spend, error) {

	if block == nil {
		return nil, nil, errors.New("nil block")
	}
	if cache == nil {
		return nil, nil, errors.New("nil script pubkey cache")
	}

	var (
		blockHash = block.BlockHash()
		received  []Txo
		spent     []Spend
	)
	for _, tx := range block.Transactions {
		txid := tx.TxHash()

		if !blockchain.IsCoinBaseTx(tx) {
			for i, in := range tx.TxIn {
				if _, ok := w.txoIdx[in.PreviousOutPoint]; !ok {
					continue
				}
				s := Spend{
					OutPoint:   in.PreviousOutPoint,
					SpendingTx: txid,
					InputIndex: uint32(i),
					Height:     height,
				}
				w.recordSpend(s)
				spent = append(spent, s)
			}
		}

		for vout, out := range tx.TxOut {
			owner, ok := cache.Lookup(out.PkScript)
			if !ok {
				continue
			}
			txo := Txo{
				OutPoint:  wire.OutPoint{Hash: txid, Index: uint32(vout)},
				Value:     out.Value,
				Height:    height,
				BlockHash: blockHash,
				Owner:     owner,
			}
			w.recordTxo(txo)
			received = append(received, txo)

			log.Debugf("Output %v pays %v", txo.OutPoint,
				btcutil.Amount(txo.Value))
		}
	}

	return received, spent, nil
}
