// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package wallet

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// TxoRecordSize and SpendRecordSize are the plaintext sizes of the
// persisted scan results.
const (
	TxoRecordSize   = 96
	SpendRecordSize = 96
)

// Owner identifies an address by descriptor and derivation index.
type Owner struct {
	DescriptorIndex uint32
	Index           uint32
}

func (o Owner) String() string {
	return fmt.Sprintf("descriptor %d index %d", o.DescriptorIndex, o.Index)
}

// Txo is an output paying one of the wallet's addresses.
type Txo struct {
	OutPoint  wire.OutPoint
	Value     int64
	Height    uint64
	BlockHash chainhash.Hash
	Owner     Owner
}

func (t *Txo) String() string {
	return fmt.Sprintf("%v value %d at height %d (%v)", t.OutPoint, t.Value,
		t.Height, t.Owner)
}

// MarshalBinary encodes the record as txid, vout, value, height,
// descriptor, index and block hash.
func (t *Txo) MarshalBinary() ([]byte, error) {
	buf := make([]byte, TxoRecordSize)
	copy(buf[0:32], t.OutPoint.Hash[:])
	binary.BigEndian.PutUint32(buf[32:], t.OutPoint.Index)
	binary.BigEndian.PutUint64(buf[36:], uint64(t.Value))
	binary.BigEndian.PutUint64(buf[44:], t.Height)
	binary.BigEndian.PutUint32(buf[52:], t.Owner.DescriptorIndex)
	binary.BigEndian.PutUint32(buf[56:], t.Owner.Index)
	copy(buf[60:92], t.BlockHash[:])
	return buf, nil
}

// UnmarshalBinary decodes a record written by MarshalBinary.
func (t *Txo) UnmarshalBinary(buf []byte) error {
	if len(buf) != TxoRecordSize {
		return fmt.Errorf("txo of %d bytes, expected %d", len(buf),
			TxoRecordSize)
	}
	copy(t.OutPoint.Hash[:], buf[0:32])
	t.OutPoint.Index = binary.BigEndian.Uint32(buf[32:])
	t.Value = int64(binary.BigEndian.Uint64(buf[36:]))
	t.Height = binary.BigEndian.Uint64(buf[44:])
	t.Owner.DescriptorIndex = binary.BigEndian.Uint32(buf[52:])
	t.Owner.Index = binary.BigEndian.Uint32(buf[56:])
	copy(t.BlockHash[:], buf[60:92])
	return nil
}

// Spend records a transaction input consuming one of the wallet's outputs.
type Spend struct {
	OutPoint   wire.OutPoint
	SpendingTx chainhash.Hash
	InputIndex uint32
	Height     uint64
}

func (s *Spend) String() string {
	return fmt.Sprintf("%v spent by %v:%d at height %d", s.OutPoint,
		s.SpendingTx, s.InputIndex, s.Height)
}

// MarshalBinary encodes the record as the spent outpoint, the spending
// txid, the input index and the height.
func (s *Spend) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SpendRecordSize)
	copy(buf[0:32], s.OutPoint.Hash[:])
	binary.BigEndian.PutUint32(buf[32:], s.OutPoint.Index)
	copy(buf[36:68], s.SpendingTx[:])
	binary.BigEndian.PutUint32(buf[68:], s.InputIndex)
	binary.BigEndian.PutUint64(buf[72:], s.Height)
	return buf, nil
}

// UnmarshalBinary decodes a record written by MarshalBinary.
func (s *Spend) UnmarshalBinary(buf []byte) error {
	if len(buf) != SpendRecordSize {
		return fmt.Errorf("spend of %d bytes, expected %d", len(buf),
			SpendRecordSize)
	}
	copy(s.OutPoint.Hash[:], buf[0:32])
	s.OutPoint.Index = binary.BigEndian.Uint32(buf[32:])
	copy(s.SpendingTx[:], buf[36:68])
	s.InputIndex = binary.BigEndian.Uint32(buf[68:])
	s.Height = binary.BigEndian.Uint64(buf[72:])
	return nil
}
