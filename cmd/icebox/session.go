// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gofrs/flock"

	"github.com/luxfi/icebox/config"
	"github.com/luxfi/icebox/dongle"
	"github.com/luxfi/icebox/logging"
	"github.com/luxfi/icebox/wallet"
)

const defaultSimulatorSeed = "000102030405060708090a0b0c0d0e0f"

var errWalletLocked = errors.New("wallet is in use by another process")

// session holds what every command needs: the configuration, the wallet
// lock, the dongle and the wallet file key.
type session struct {
	cfg    *config.Config
	net    *chaincfg.Params
	lock   *flock.Flock
	ledger *dongle.Ledger

	key   [wallet.KeySize]byte
	nonce [wallet.NonceSize]byte
}

func openSession() (*session, error) {
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := logging.SetLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	net, err := cfg.Params()
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, net: net}

	dir := filepath.Dir(cfg.Wallet.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	s.lock = flock.New(cfg.Wallet.Path + ".lock")
	locked, err := s.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking wallet: %w", err)
	}
	if !locked {
		return nil, errWalletLocked
	}

	if err := s.connect(); err != nil {
		s.close()
		return nil, err
	}

	s.key, s.nonce, err = dongle.WalletKeyAndNonce(s.ledger)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("deriving wallet key: %w", err)
	}
	return s, nil
}

func (s *session) connect() error {
	if !simulate && !s.cfg.Dongle.Simulate {
		ledger, err := dongle.OpenLedger()
		if err != nil {
			return err
		}
		s.ledger = ledger
		return nil
	}

	seedHex := s.cfg.Dongle.SimulatorSeed
	if seedHex == "" {
		seedHex = defaultSimulatorSeed
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return fmt.Errorf("simulator seed: %w", err)
	}
	sim, err := dongle.NewSimulator(seed, s.net)
	if err != nil {
		return err
	}

	log.Warnf("Using simulated dongle %v", sim)
	s.ledger = dongle.NewLedgerFromLink(sim)
	return nil
}

func (s *session) close() {
	if s.ledger != nil {
		if err := s.ledger.Close(); err != nil {
			log.Warnf("Closing dongle: %v", err)
		}
	}
	if err := s.lock.Unlock(); err != nil {
		log.Warnf("Unlocking wallet: %v", err)
	}
}

func (s *session) openWallet() (*wallet.Wallet, error) {
	w, err := wallet.Open(s.cfg.Wallet.Path, s.key, s.nonce)
	if err != nil {
		return nil, err
	}
	w.SetNetwork(s.net)
	return w, nil
}

func (s *session) save(w *wallet.Wallet) error {
	return w.Save(s.cfg.Wallet.Path, s.key, s.nonce)
}

// withWallet opens a session and the wallet, runs f and closes the
// session. The wallet is saved only when f asks for it.
func withWallet(f func(s *session, w *wallet.Wallet) (bool, error)) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	w, err := s.openWallet()
	if err != nil {
		return err
	}
	dirty, err := f(s, w)
	if err != nil {
		return err
	}
	if dirty {
		return s.save(w)
	}
	return nil
}

// parsePath parses "m/84'/0'/0'/0/5" into dongle path components.
func parsePath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimPrefix(path, "m/"), "/")
	if path == "m" || path == "" {
		return nil, nil
	}
	if len(parts) > dongle.MaxPathComponents {
		return nil, fmt.Errorf("path %q has more than %d components",
			path, dongle.MaxPathComponents)
	}

	components := make([]uint32, 0, len(parts))
	for _, p := range parts {
		hardened := strings.HasSuffix(p, "'") || strings.HasSuffix(p, "h")
		n, err := strconv.ParseUint(strings.TrimRight(p, "'h"), 10, 31)
		if err != nil {
			return nil, fmt.Errorf("invalid path component %q", p)
		}
		if hardened {
			components = append(components, dongle.Hardened(uint32(n)))
		} else {
			components = append(components, uint32(n))
		}
	}
	return components, nil
}
