// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/spf13/cobra"

	"github.com/luxfi/icebox/chain"
	"github.com/luxfi/icebox/dongle"
	"github.com/luxfi/icebox/rescan"
	"github.com/luxfi/icebox/wallet"
)

var (
	descriptorIdx int
	addressIndex  uint32
	addressNote   string
	addressUserID string
	startFrom     uint64

	initCmd = &cobra.Command{
		Use:   "init",
		Short: "create a new empty wallet file",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}

	importDescriptorCmd = &cobra.Command{
		Use:   "importdescriptor <descriptor>",
		Short: "add an output descriptor to the wallet",
		Args:  cobra.ExactArgs(1),
		RunE:  runImportDescriptor,
	}

	getNewAddressCmd = &cobra.Command{
		Use:   "getnewaddress",
		Short: "derive the next address of a descriptor",
		Args:  cobra.NoArgs,
		RunE:  runGetNewAddress,
	}

	listAddressesCmd = &cobra.Command{
		Use:   "listaddresses",
		Short: "list every address in the wallet",
		Args:  cobra.NoArgs,
		RunE:  runListAddresses,
	}

	rescanCmd = &cobra.Command{
		Use:   "rescan",
		Short: "scan the chain for payments to wallet addresses",
		Args:  cobra.NoArgs,
		RunE:  runRescan,
	}

	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "show dongle and wallet status",
		Args:  cobra.NoArgs,
		RunE:  runInfo,
	}

	signMessageCmd = &cobra.Command{
		Use:   "signmessage <path> <message>",
		Short: "sign a message with the dongle key at a BIP-32 path",
		Args:  cobra.ExactArgs(2),
		RunE:  runSignMessage,
	}

	getRandomCmd = &cobra.Command{
		Use:   "getrandom <bytes>",
		Short: "read random bytes from the dongle",
		Args:  cobra.ExactArgs(1),
		RunE:  runGetRandom,
	}
)

func init() {
	getNewAddressCmd.Flags().IntVarP(&descriptorIdx, "descriptor", "d", 0,
		"index of the descriptor to derive from")
	getNewAddressCmd.Flags().Uint32VarP(&addressIndex, "index", "i", 0,
		"derivation index (default: next unused)")
	getNewAddressCmd.Flags().StringVarP(&addressNote, "note", "n", "",
		"note stored with the address")
	getNewAddressCmd.Flags().StringVar(&addressUserID, "user-id", "",
		"user id stored with the address")

	rescanCmd.Flags().Uint64Var(&startFrom, "start-from", 0,
		"lowest height to scan (default: checkpoint minus lookback)")
}

func runInit(cmd *cobra.Command, _ []string) error {
	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	if _, err := wallet.Create(s.cfg.Wallet.Path, s.key, s.nonce); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created wallet %s\n", s.cfg.Wallet.Path)
	return nil
}

func runImportDescriptor(cmd *cobra.Command, args []string) error {
	return withWallet(func(s *session, w *wallet.Wallet) (bool, error) {
		idx, err := w.AddDescriptor(args[0])
		if err != nil {
			return false, err
		}
		d, _ := w.Descriptor(idx)
		fmt.Fprintf(cmd.OutOrStdout(), "Descriptor %d: %v\n", idx, d)
		return true, nil
	})
}

func runGetNewAddress(cmd *cobra.Command, _ []string) error {
	index := fn.None[uint32]()
	if cmd.Flags().Changed("index") {
		index = fn.Some(addressIndex)
	}

	var opts []wallet.AddressOption
	if addressUserID != "" {
		opts = append(opts, wallet.WithUserID(addressUserID))
	}

	return withWallet(func(s *session, w *wallet.Wallet) (bool, error) {
		addr, err := w.AddAddress(
			descriptorIdx, index, wallet.FormatTimestamp(time.Now()),
			addressNote, opts...,
		)
		if err != nil {
			return false, err
		}
		fmt.Fprintln(cmd.OutOrStdout(), addr)
		return true, nil
	})
}

func runListAddresses(cmd *cobra.Command, _ []string) error {
	return withWallet(func(s *session, w *wallet.Wallet) (bool, error) {
		addrs, err := w.Addresses()
		if err != nil {
			return false, err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DESC\tINDEX\tADDRESS\tCREATED\tUSER\tNOTE")
		for _, a := range addrs {
			fmt.Fprintf(tw, "%d\t%d\t%v\t%s\t%s\t%s\n", a.DescriptorIndex,
				a.Index, a, a.Created, a.UserID, a.Note)
		}
		return false, tw.Flush()
	})
}

func runRescan(cmd *cobra.Command, _ []string) error {
	from := fn.None[uint64]()
	if cmd.Flags().Changed("start-from") {
		from = fn.Some(startFrom)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return withWallet(func(s *session, w *wallet.Wallet) (bool, error) {
		node, err := chain.NewBitcoind(chain.Config{
			Host:       s.cfg.Rpc.Host,
			User:       s.cfg.Rpc.User,
			Pass:       s.cfg.Rpc.Pass,
			DisableTLS: s.cfg.Rpc.DisableTLS,
		})
		if err != nil {
			return false, err
		}
		defer node.Close()

		out := cmd.OutOrStdout()
		engine, err := rescan.New(rescan.Config{
			Wallet:             w,
			Source:             node,
			Save:               s.save,
			Lookback:           fn.Some(s.cfg.Rescan.Lookback),
			CheckpointInterval: s.cfg.Rescan.CheckpointInterval,
			OnReceived: func(txo wallet.Txo) {
				fmt.Fprintf(out, "received %v\n", &txo)
			},
			OnSpent: func(sp wallet.Spend) {
				fmt.Fprintf(out, "spent    %v\n", &sp)
			},
		})
		if err != nil {
			return false, err
		}

		summary, err := engine.Run(ctx, from)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Scanned %d blocks from %d, checkpoint %d, "+
			"balance %v\n", summary.Blocks, summary.StartHeight,
			w.BlockHeight(), w.Balance())

		// The engine saved at the end of the run.
		return false, nil
	})
}

func runInfo(cmd *cobra.Command, _ []string) error {
	return withWallet(func(s *session, w *wallet.Wallet) (bool, error) {
		version, err := s.ledger.GetFirmwareVersion()
		if err != nil {
			return false, err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Dongle firmware: %v\n", version)
		fmt.Fprintf(out, "Wallet:          %s\n", s.cfg.Wallet.Path)
		fmt.Fprintf(out, "Network:         %s\n", w.Network().Name)
		fmt.Fprintf(out, "Checkpoint:      %d\n", w.BlockHeight())
		fmt.Fprintf(out, "Descriptors:     %d\n", w.NDescriptors())
		for i := 0; i < w.NDescriptors(); i++ {
			d, _ := w.Descriptor(i)
			next, _ := w.NextIndex(i)
			fmt.Fprintf(out, "  %d: %v (next index %d)\n", i, d, next)
		}
		fmt.Fprintf(out, "Addresses:       %d\n", len(w.Entries()))
		fmt.Fprintf(out, "Outputs:         %d\n", len(w.Txos()))
		fmt.Fprintf(out, "Balance:         %v\n", w.Balance())
		return false, nil
	})
}

func runSignMessage(cmd *cobra.Command, args []string) error {
	path, err := parsePath(args[0])
	if err != nil {
		return err
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	sig, err := s.ledger.SignMessage(path, []byte(args[1]))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "parity:    %d\nsignature: %x\n",
		sig.Parity, sig.Sig.Serialize())
	return nil
}

func runGetRandom(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 || n > dongle.MaxRandomBytes {
		return fmt.Errorf("byte count must be between 1 and %d",
			dongle.MaxRandomBytes)
	}

	s, err := openSession()
	if err != nil {
		return err
	}
	defer s.close()

	random, err := s.ledger.GetRandom(n)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%x\n", random)
	return nil
}
