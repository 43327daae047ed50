// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package wallet

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/luxfi/icebox/descriptor"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/sync/errgroup"
)

const (
	// Magic identifies a wallet file. The low 3 bytes carry the version.
	Magic uint64 = 0x96e88f0fd3000000 | Version

	// Version is the file format version.
	Version = 1

	versionMask = 0xffffff

	// MaxDescriptorSize bounds a stored descriptor string.
	MaxDescriptorSize = 4096

	// headerSize covers the clear header fields; headerTagSize the tag
	// authenticating them.
	headerSize    = 8 + 8 + 8 + 4*4
	headerTagSize = chacha20poly1305.Overhead
)

type header struct {
	Magic       uint64
	BlockHeight uint64
	Generation  uint64
	NDescr      uint32
	NEntries    uint32
	NTxos       uint32
	NSpends     uint32
}

// Open reads and decrypts the wallet file at path. Any malformed or
// unauthenticated record fails the whole load.
func Open(path string, key [KeySize]byte,
	nonce [NonceSize]byte) (*Wallet, error) {

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	w, err := Decode(raw, key, nonce)
	if err != nil {
		return nil, err
	}

	log.Infof("Opened wallet %s: %d descriptors, %d entries, height %d",
		path, len(w.descriptors), len(w.entries), w.blockHeight)
	return w, nil
}

// Decode decrypts a serialized wallet.
func Decode(raw []byte, key [KeySize]byte,
	nonce [NonceSize]byte) (*Wallet, error) {

	s, err := newSealer(key, nonce)
	if err != nil {
		return nil, err
	}

	if len(raw) < 8 {
		return nil, formatErr("header", -1, ErrNotWalletFile)
	}
	magic := binary.BigEndian.Uint64(raw)
	if magic&^versionMask != Magic&^versionMask {
		return nil, formatErr("header", -1, fmt.Errorf("%w: magic %#x",
			ErrNotWalletFile, magic))
	}
	if v := magic & versionMask; v != Version {
		return nil, formatErr("header", -1, fmt.Errorf("%w %d",
			ErrUnsupportedVersion, v))
	}

	if len(raw) < headerSize+headerTagSize {
		return nil, formatErr("header", -1, io.ErrUnexpectedEOF)
	}
	hdrBytes := raw[:headerSize]

	var hdr header
	err = binary.Read(bytes.NewReader(hdrBytes), binary.BigEndian, &hdr)
	if err != nil {
		return nil, formatErr("header", -1, err)
	}

	// Counts and checkpoint are trusted only once the tag checks out.
	tag := raw[headerSize : headerSize+headerTagSize]
	if err := s.openHeader(hdrBytes, hdr.Generation, tag); err != nil {
		return nil, formatErr("header", -1, err)
	}

	r := bytes.NewReader(raw[headerSize+headerTagSize:])

	descs, err := readDescriptors(r, s, hdr.NDescr)
	if err != nil {
		return nil, err
	}
	entries, err := readEntries(r, s, hdr.NEntries)
	if err != nil {
		return nil, err
	}

	if err := checkSection(r, kindTxo, TxoRecordSize, hdr.NTxos); err != nil {
		return nil, err
	}
	txos := make([]Txo, hdr.NTxos)
	err = readRecords(r, s, kindTxo, TxoRecordSize, len(txos),
		func(i int, b []byte) error {
			return txos[i].UnmarshalBinary(b)
		})
	if err != nil {
		return nil, err
	}

	if err := checkSection(r, kindSpend, SpendRecordSize,
		hdr.NSpends); err != nil {

		return nil, err
	}
	spends := make([]Spend, hdr.NSpends)
	err = readRecords(r, s, kindSpend, SpendRecordSize, len(spends),
		func(i int, b []byte) error {
			return spends[i].UnmarshalBinary(b)
		})
	if err != nil {
		return nil, err
	}

	if r.Len() != 0 {
		return nil, formatErr("trailer", -1,
			fmt.Errorf("%d unexpected bytes", r.Len()))
	}

	w := New(nil)
	w.blockHeight = hdr.BlockHeight
	w.generation = hdr.Generation
	if err := w.restore(descs, entries, txos, spends); err != nil {
		return nil, err
	}
	return w, nil
}

// checkSection rejects a count that cannot fit in the remaining bytes
// before anything is allocated for it.
func checkSection(r *bytes.Reader, kind recordKind, size int, n uint32) error {
	if int64(n)*int64(size+EncryptionOverhead) > int64(r.Len()) {
		return formatErr(kind.String(), -1, fmt.Errorf("%d records do "+
			"not fit in %d bytes: %w", n, r.Len(), io.ErrUnexpectedEOF))
	}
	return nil
}

func readDescriptors(r *bytes.Reader, s *sealer,
	n uint32) ([]*descriptor.Descriptor, error) {

	// Every descriptor takes at least its length prefix and overhead.
	if err := checkSection(r, kindDescriptor, 2, n); err != nil {
		return nil, err
	}

	var descs []*descriptor.Descriptor
	for i := uint32(0); i < n; i++ {
		var size uint16
		if err := binary.Read(r, binary.BigEndian, &size); err != nil {
			return nil, formatErr("descriptor", int(i), io.ErrUnexpectedEOF)
		}
		sealed := make([]byte, int(size)+EncryptionOverhead)
		if _, err := io.ReadFull(r, sealed); err != nil {
			return nil, formatErr("descriptor", int(i), io.ErrUnexpectedEOF)
		}

		plain, err := s.open(kindDescriptor, i, sealed)
		if err != nil {
			return nil, formatErr("descriptor", int(i), err)
		}
		d, err := descriptor.Parse(string(plain))
		if err != nil {
			return nil, formatErr("descriptor", int(i), err)
		}
		descs = append(descs, d)
	}
	return descs, nil
}

// readEntries decrypts the entry section on all cores. Every entry has
// its own nonce, so they open independently.
func readEntries(r *bytes.Reader, s *sealer, n uint32) ([]Entry, error) {
	if err := checkSection(r, kindEntry, DecryptedEntrySize, n); err != nil {
		return nil, err
	}
	section := make([]byte, int(n)*EncryptedEntrySize)
	if _, err := io.ReadFull(r, section); err != nil {
		return nil, formatErr("entry", -1, io.ErrUnexpectedEOF)
	}

	entries := make([]Entry, n)

	var g errgroup.Group
	g.SetLimit(runtime.NumCPU())
	for i := range entries {
		i := i
		sealed := section[i*EncryptedEntrySize : (i+1)*EncryptedEntrySize]
		g.Go(func() error {
			plain, err := s.open(kindEntry, uint32(i), sealed)
			if err != nil {
				return formatErr("entry", i, err)
			}
			if err := entries[i].UnmarshalBinary(plain); err != nil {
				return formatErr("entry", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func readRecords(r *bytes.Reader, s *sealer, kind recordKind, size, n int,
	decode func(int, []byte) error) error {

	sealed := make([]byte, size+EncryptionOverhead)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, sealed); err != nil {
			return formatErr(kind.String(), i, io.ErrUnexpectedEOF)
		}
		plain, err := s.open(kind, uint32(i), sealed)
		if err != nil {
			return formatErr(kind.String(), i, err)
		}
		if err := decode(i, plain); err != nil {
			return formatErr(kind.String(), i, err)
		}
	}
	return nil
}

// Encode serializes and encrypts the wallet. Each call starts a new
// generation, which only the header tag depends on.
func (w *Wallet) Encode(key [KeySize]byte,
	nonce [NonceSize]byte) ([]byte, error) {

	s, err := newSealer(key, nonce)
	if err != nil {
		return nil, err
	}

	w.generation++

	var buf bytes.Buffer
	hdr := header{
		Magic:       Magic,
		BlockHeight: w.blockHeight,
		Generation:  w.generation,
		NDescr:      uint32(len(w.descriptors)),
		NEntries:    uint32(len(w.entries)),
		NTxos:       uint32(len(w.txos)),
		NSpends:     uint32(len(w.spends)),
	}
	if err := binary.Write(&buf, binary.BigEndian, &hdr); err != nil {
		return nil, err
	}
	buf.Write(s.sealHeader(buf.Bytes(), hdr.Generation))

	for i, d := range w.descriptors {
		plain := []byte(d.String())
		if len(plain) > MaxDescriptorSize {
			return nil, fmt.Errorf("descriptor %d too long", i)
		}
		var size [2]byte
		binary.BigEndian.PutUint16(size[:], uint16(len(plain)))
		buf.Write(size[:])
		buf.Write(s.seal(kindDescriptor, uint32(i), plain))
	}

	for i := range w.entries {
		plain, err := w.entries[i].MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		buf.Write(s.seal(kindEntry, uint32(i), plain))
	}

	for i := range w.txos {
		plain, _ := w.txos[i].MarshalBinary()
		buf.Write(s.seal(kindTxo, uint32(i), plain))
	}
	for i := range w.spends {
		plain, _ := w.spends[i].MarshalBinary()
		buf.Write(s.seal(kindSpend, uint32(i), plain))
	}

	return buf.Bytes(), nil
}

// Save writes the wallet to path. The file is replaced atomically, so a
// crash leaves either the old or the new wallet.
func (w *Wallet) Save(path string, key [KeySize]byte,
	nonce [NonceSize]byte) error {

	raw, err := w.Encode(key, nonce)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, raw); err != nil {
		return err
	}

	log.Debugf("Saved wallet %s at height %d", path, w.blockHeight)
	return nil
}

// Create writes a new empty wallet to path. An existing file is never
// overwritten.
func Create(path string, key [KeySize]byte,
	nonce [NonceSize]byte) (*Wallet, error) {

	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrWalletExists, path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	w := New(nil)
	if err := w.Save(path, key, nonce); err != nil {
		return nil, err
	}

	log.Infof("Created wallet %s", path)
	return w, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("unable to create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("unable to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	// Sync the directory so the rename survives a crash.
	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return err
	}
	defer dir.Close()
	return dir.Sync()
}
