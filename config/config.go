// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

// Package config loads the TOML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/naoina/toml"
)

type Wallet struct {
	Path    string
	Network string // mainnet, testnet, signet, regtest
}

type Rpc struct {
	Host       string
	User       string
	Pass       string
	DisableTLS bool
}

type Rescan struct {
	Lookback           uint64
	CheckpointInterval uint64
}

type Log struct {
	Level string
}

type Dongle struct {
	Simulate      bool
	SimulatorSeed string // hex
}

type Config struct {
	Wallet Wallet
	Rpc    Rpc
	Rescan Rescan
	Log    Log
	Dongle Dongle
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Wallet: Wallet{
			Path:    "~/.icebox/wallet.ice",
			Network: "mainnet",
		},
		Rpc: Rpc{
			Host:       "localhost:8332",
			DisableTLS: true,
		},
		Rescan: Rescan{
			Lookback:           100,
			CheckpointInterval: 1000,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// NewConfig reads the file at path over the defaults. An empty path
// returns the defaults.
func NewConfig(path string) (*Config, error) {
	c := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		if err := toml.NewDecoder(file).Decode(c); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := c.sanitize(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) sanitize() error {
	if strings.HasPrefix(c.Wallet.Path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		c.Wallet.Path = filepath.Join(home, c.Wallet.Path[1:])
	}
	if c.Rescan.CheckpointInterval == 0 {
		c.Rescan.CheckpointInterval = 1000
	}
	if _, err := c.Params(); err != nil {
		return err
	}
	return nil
}

// Params returns the chain parameters of the configured network.
func (c *Config) Params() (*chaincfg.Params, error) {
	switch strings.ToLower(c.Wallet.Network) {
	case "", "mainnet", "main", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3", "test":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", c.Wallet.Network)
	}
}
