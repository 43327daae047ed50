// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package wallet

import (
	"errors"
	"fmt"
)

var (
	// ErrNotWalletFile is returned when the magic prefix is missing.
	ErrNotWalletFile = errors.New("not a wallet file")

	// ErrUnsupportedVersion is returned for a wallet file written by a
	// different format version.
	ErrUnsupportedVersion = errors.New("unsupported wallet file version")

	// ErrAuthentication is returned when a record fails to decrypt, either
	// because it was modified or because the key is wrong.
	ErrAuthentication = errors.New("record failed authentication")

	// ErrDuplicateEntry is returned when an address entry for the same
	// descriptor and derivation index already exists.
	ErrDuplicateEntry = errors.New("address entry already exists")

	// ErrWalletExists is returned by Create when the path is taken.
	ErrWalletExists = errors.New("wallet file already exists")
)

// FormatError reports an untrustworthy wallet file. Loading never
// continues past one.
type FormatError struct {
	Section string
	Index   int
	Err     error
}

func (e *FormatError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("wallet file %s: %v", e.Section, e.Err)
	}
	return fmt.Sprintf("wallet file %s record %d: %v", e.Section, e.Index,
		e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

func formatErr(section string, index int, err error) *FormatError {
	return &FormatError{Section: section, Index: index, Err: err}
}

// RangeError is returned for a descriptor index the wallet does not hold.
// It is raised before any state changes.
type RangeError struct {
	Index int
	Count int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("no descriptor with index %d (wallet has %d)",
		e.Index, e.Count)
}
