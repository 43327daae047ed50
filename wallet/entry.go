// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Licensed under the Apache License, Version 2.0

package wallet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// DecryptedEntrySize is the plaintext size of an address entry.
	DecryptedEntrySize = 256

	// EncryptedEntrySize is the on-disk size of an address entry.
	EncryptedEntrySize = DecryptedEntrySize + EncryptionOverhead

	// TimestampSize is the length of a formatted creation time.
	TimestampSize = 24

	// MaxNoteBytes bounds the freeform note.
	MaxNoteBytes = 60

	// MaxUserIDBytes bounds the user id.
	MaxUserIDBytes = 32

	// TimestampFormat renders times as "2024-01-01 00:00:00+0000".
	TimestampFormat = "2006-01-02 15:04:05-0700"
)

// Entry offsets.
const (
	offDescriptor = 0
	offIndex      = 4
	offCreated    = 8
	offNoteLen    = offCreated + TimestampSize
	offNote       = offNoteLen + 1
	offUserIDLen  = offNote + MaxNoteBytes
	offUserID     = offUserIDLen + 1
	offPadding    = offUserID + MaxUserIDBytes
)

// Entry is one address record. Entries are appended, never rewritten.
type Entry struct {
	DescriptorIndex uint32
	Index           uint32
	Created         string
	Note            string
	UserID          string
}

// Owner returns the (descriptor, derivation index) pair of the entry.
func (e *Entry) Owner() Owner {
	return Owner{DescriptorIndex: e.DescriptorIndex, Index: e.Index}
}

// FormatTimestamp renders t the way entries store it.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampFormat)
}

func (e *Entry) validate() error {
	switch {
	case len(e.Created) != TimestampSize:
		return fmt.Errorf("timestamp %q must be %d bytes", e.Created,
			TimestampSize)
	case len(e.Note) > MaxNoteBytes:
		return fmt.Errorf("note of %d bytes exceeds %d", len(e.Note),
			MaxNoteBytes)
	case len(e.UserID) > MaxUserIDBytes:
		return fmt.Errorf("user id of %d bytes exceeds %d", len(e.UserID),
			MaxUserIDBytes)
	}
	return nil
}

// MarshalBinary encodes the entry into its fixed plaintext form.
func (e *Entry) MarshalBinary() ([]byte, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, DecryptedEntrySize)
	binary.BigEndian.PutUint32(buf[offDescriptor:], e.DescriptorIndex)
	binary.BigEndian.PutUint32(buf[offIndex:], e.Index)
	copy(buf[offCreated:], e.Created)
	buf[offNoteLen] = byte(len(e.Note))
	copy(buf[offNote:], e.Note)
	buf[offUserIDLen] = byte(len(e.UserID))
	copy(buf[offUserID:], e.UserID)

	return buf, nil
}

// UnmarshalBinary decodes a fixed plaintext entry.
func (e *Entry) UnmarshalBinary(buf []byte) error {
	if len(buf) != DecryptedEntrySize {
		return fmt.Errorf("entry of %d bytes, expected %d", len(buf),
			DecryptedEntrySize)
	}

	noteLen := int(buf[offNoteLen])
	userIDLen := int(buf[offUserIDLen])
	if noteLen > MaxNoteBytes || userIDLen > MaxUserIDBytes {
		return errors.New("field length out of range")
	}
	for _, b := range buf[offPadding:] {
		if b != 0 {
			return errors.New("non-zero padding")
		}
	}

	*e = Entry{
		DescriptorIndex: binary.BigEndian.Uint32(buf[offDescriptor:]),
		Index:           binary.BigEndian.Uint32(buf[offIndex:]),
		Created:         string(buf[offCreated:offNoteLen]),
		Note:            string(buf[offNote : offNote+noteLen]),
		UserID:          string(buf[offUserID : offUserID+userIDLen]),
	}
	return nil
}
