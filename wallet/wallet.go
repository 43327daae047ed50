// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

// Package wallet holds the watch-only wallet state: descriptors, the
// address entries derived from them and the outputs found while scanning.
// The whole state is persisted as one encrypted file.
package wallet

import (
	"errors"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/luxfi/icebox/descriptor"
	"github.com/luxfi/icebox/logging"
)

var log = logging.Named("WLLT")

// Wallet is the in-memory wallet. It is not safe for concurrent use.
type Wallet struct {
	blockHeight uint64
	net         *chaincfg.Params

	// generation counts saves and selects the header tag nonce.
	generation uint64

	descriptors []*descriptor.Descriptor

	// next holds the lowest unused index per descriptor.
	next []uint32

	entries []Entry
	owners  map[Owner]int

	txos   []Txo
	txoIdx map[wire.OutPoint]int

	spends   []Spend
	spendIdx map[wire.OutPoint]int

	// cache is extended as addresses are added.
	cache *ScriptPubkeyCache
}

// New returns an empty wallet for net.
func New(net *chaincfg.Params) *Wallet {
	if net == nil {
		net = &chaincfg.MainNetParams
	}
	return &Wallet{
		net:      net,
		owners:   make(map[Owner]int),
		txoIdx:   make(map[wire.OutPoint]int),
		spendIdx: make(map[wire.OutPoint]int),
	}
}

// Network returns the parameters addresses are rendered for.
func (w *Wallet) Network() *chaincfg.Params {
	return w.net
}

// SetNetwork changes the parameters addresses are rendered for. The file
// format does not depend on it.
func (w *Wallet) SetNetwork(net *chaincfg.Params) {
	w.net = net
}

// BlockHeight returns the scan checkpoint.
func (w *Wallet) BlockHeight() uint64 {
	return w.blockHeight
}

// SetBlockHeight moves the checkpoint forward. It never moves back, and
// reports whether the checkpoint changed.
func (w *Wallet) SetBlockHeight(height uint64) bool {
	if height <= w.blockHeight {
		return false
	}
	w.blockHeight = height
	return true
}

// AddDescriptor parses and appends a descriptor, returning its index.
func (w *Wallet) AddDescriptor(desc string) (int, error) {
	d, err := descriptor.Parse(desc)
	if err != nil {
		return 0, err
	}
	for _, existing := range w.descriptors {
		if existing.String() == d.String() {
			return 0, fmt.Errorf("descriptor %v already imported", d)
		}
	}

	return w.appendDescriptor(d), nil
}

func (w *Wallet) appendDescriptor(d *descriptor.Descriptor) int {
	w.descriptors = append(w.descriptors, d)
	w.next = append(w.next, 0)

	idx := len(w.descriptors) - 1
	log.Debugf("Added descriptor %d: %v", idx, d)
	return idx
}

// NDescriptors returns the number of descriptors.
func (w *Wallet) NDescriptors() int {
	return len(w.descriptors)
}

// Descriptor returns the descriptor at idx.
func (w *Wallet) Descriptor(idx int) (*descriptor.Descriptor, error) {
	if idx < 0 || idx >= len(w.descriptors) {
		return nil, &RangeError{Index: idx, Count: len(w.descriptors)}
	}
	return w.descriptors[idx], nil
}

// NextIndex returns one past the highest index used for the descriptor,
// or zero when none is used.
func (w *Wallet) NextIndex(idx int) (uint32, error) {
	if idx < 0 || idx >= len(w.descriptors) {
		return 0, &RangeError{Index: idx, Count: len(w.descriptors)}
	}
	return w.next[idx], nil
}

// Address is a derived wallet address with its entry.
type Address struct {
	Entry
	Address      btcutil.Address
	ScriptPubKey []byte
}

func (a *Address) String() string {
	return a.Address.EncodeAddress()
}

type addressOptions struct {
	userID string
}

// AddressOption customizes AddAddress.
type AddressOption func(*addressOptions)

// WithUserID attaches a user id to the entry.
func WithUserID(id string) AddressOption {
	return func(o *addressOptions) {
		o.userID = id
	}
}

// AddAddress derives an address from the descriptor at descIdx and appends
// an entry for it. Without an explicit index the next unused one is taken.
// created must be formatted with FormatTimestamp.
func (w *Wallet) AddAddress(descIdx int, index fn.Option[uint32],
	created, note string, opts ...AddressOption) (*Address, error) {

	if _, err := w.Descriptor(descIdx); err != nil {
		return nil, err
	}

	var o addressOptions
	for _, opt := range opts {
		opt(&o)
	}

	entry := Entry{
		DescriptorIndex: uint32(descIdx),
		Index:           index.UnwrapOr(w.next[descIdx]),
		Created:         created,
		Note:            note,
		UserID:          o.userID,
	}
	if err := entry.validate(); err != nil {
		return nil, err
	}
	if _, ok := w.owners[entry.Owner()]; ok {
		return nil, fmt.Errorf("%w: %v", ErrDuplicateEntry, entry.Owner())
	}

	addr, err := w.derive(&entry)
	if err != nil {
		return nil, err
	}
	w.appendEntry(entry, addr.ScriptPubKey)

	log.Infof("New address %v (%v)", addr, entry.Owner())
	return addr, nil
}

func (w *Wallet) derive(e *Entry) (*Address, error) {
	d := w.descriptors[e.DescriptorIndex]

	addr, err := d.Address(e.Index, w.net)
	if err != nil {
		return nil, err
	}
	spk, err := d.ScriptPubKey(e.Index)
	if err != nil {
		return nil, err
	}
	return &Address{Entry: *e, Address: addr, ScriptPubKey: spk}, nil
}

func (w *Wallet) appendEntry(e Entry, spk []byte) {
	w.owners[e.Owner()] = len(w.entries)
	w.entries = append(w.entries, e)

	if e.Index != math.MaxUint32 && e.Index+1 > w.next[e.DescriptorIndex] {
		w.next[e.DescriptorIndex] = e.Index + 1
	}
	if w.cache != nil && spk != nil {
		w.cache.Add(spk, e.Owner())
	}
}

// Entries returns the address entries in creation order.
func (w *Wallet) Entries() []Entry {
	return append([]Entry(nil), w.entries...)
}

// Addresses derives every entry's address.
func (w *Wallet) Addresses() ([]*Address, error) {
	addrs := make([]*Address, 0, len(w.entries))
	for i := range w.entries {
		addr, err := w.derive(&w.entries[i])
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		addrs = append(addrs, addr)
	}
	return addrs, nil
}

// Txos returns the outputs found so far, in discovery order.
func (w *Wallet) Txos() []Txo {
	return append([]Txo(nil), w.txos...)
}

// Spends returns the recorded spends, in discovery order.
func (w *Wallet) Spends() []Spend {
	return append([]Spend(nil), w.spends...)
}

// IsSpent reports whether op has a recorded spend.
func (w *Wallet) IsSpent(op wire.OutPoint) bool {
	_, ok := w.spendIdx[op]
	return ok
}

// Balance sums the values of the unspent outputs.
func (w *Wallet) Balance() btcutil.Amount {
	var total btcutil.Amount
	for _, txo := range w.txos {
		if !w.IsSpent(txo.OutPoint) {
			total += btcutil.Amount(txo.Value)
		}
	}
	return total
}

// recordTxo stores txo unless its outpoint is already known.
func (w *Wallet) recordTxo(txo Txo) bool {
	if _, ok := w.txoIdx[txo.OutPoint]; ok {
		return false
	}
	w.txoIdx[txo.OutPoint] = len(w.txos)
	w.txos = append(w.txos, txo)
	return true
}

// recordSpend stores s unless the outpoint already has a spend.
func (w *Wallet) recordSpend(s Spend) bool {
	if _, ok := w.spendIdx[s.OutPoint]; ok {
		return false
	}
	w.spendIdx[s.OutPoint] = len(w.spends)
	w.spends = append(w.spends, s)
	return true
}

// restore rebuilds the indices from decoded file sections.
func (w *Wallet) restore(descs []*descriptor.Descriptor, entries []Entry,
	txos []Txo, spends []Spend) error {

	for _, d := range descs {
		w.appendDescriptor(d)
	}
	for i, e := range entries {
		if int(e.DescriptorIndex) >= len(w.descriptors) {
			return formatErr("entry", i, &RangeError{
				Index: int(e.DescriptorIndex),
				Count: len(w.descriptors),
			})
		}
		if _, ok := w.owners[e.Owner()]; ok {
			return formatErr("entry", i, ErrDuplicateEntry)
		}
		w.appendEntry(e, nil)
	}
	for i, txo := range txos {
		if !w.recordTxo(txo) {
			return formatErr("txo", i, errors.New("duplicate outpoint"))
		}
	}
	for i, s := range spends {
		if !w.recordSpend(s) {
			return formatErr("spend", i, errors.New("duplicate outpoint"))
		}
	}
	return nil
}
