// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package descriptor

import (
	"fmt"
	"strings"
)

const (
	inputCharset    = "0123456789()[],'/*abcdefgh@:$%{}IJKLMNOPQRSTUVWXYZ&+-.;<=>?!^_|~ijklmnopqrstuvwxyzABCDEFGH`#\"\\ "
	checksumCharset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
	checksumLength  = 8
)

func polymod(c uint64, val uint64) uint64 {
	c0 := c >> 35
	c = ((c & 0x7ffffffff) << 5) ^ val
	if c0&1 != 0 {
		c ^= 0xf5dee51989
	}
	if c0&2 != 0 {
		c ^= 0xa9fdca3312
	}
	if c0&4 != 0 {
		c ^= 0x1bab10e32d
	}
	if c0&8 != 0 {
		c ^= 0x3706b1677a
	}
	if c0&16 != 0 {
		c ^= 0x644d626ffd
	}
	return c
}

// Checksum computes the 8 character BIP-380 checksum of desc, which must
// not already carry one.
func Checksum(desc string) (string, error) {
	var (
		c        uint64 = 1
		cls      uint64
		clsCount int
	)
	for i := 0; i < len(desc); i++ {
		pos := strings.IndexByte(inputCharset, desc[i])
		if pos < 0 {
			return "", fmt.Errorf("invalid character %q in descriptor",
				desc[i])
		}
		c = polymod(c, uint64(pos&31))
		cls = cls*3 + uint64(pos>>5)
		clsCount++
		if clsCount == 3 {
			c = polymod(c, cls)
			cls = 0
			clsCount = 0
		}
	}
	if clsCount > 0 {
		c = polymod(c, cls)
	}
	for i := 0; i < checksumLength; i++ {
		c = polymod(c, 0)
	}
	c ^= 1

	var sb strings.Builder
	for j := 0; j < checksumLength; j++ {
		sb.WriteByte(checksumCharset[(c>>(5*(7-j)))&31])
	}
	return sb.String(), nil
}

// splitChecksum separates "desc#checksum", verifying the checksum when
// one is present.
func splitChecksum(s string) (string, error) {
	body, sum, found := strings.Cut(s, "#")
	if !found {
		return s, nil
	}
	if len(sum) != checksumLength {
		return "", fmt.Errorf("checksum %q has wrong length", sum)
	}
	want, err := Checksum(body)
	if err != nil {
		return "", err
	}
	if sum != want {
		return "", fmt.Errorf("checksum mismatch: expected %s, found %s",
			want, sum)
	}
	return body, nil
}
