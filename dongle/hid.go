// Copyright (C) 2019-2025, Lux Industries Inc. All rights reserved.
// Forked from github.com/zondax/ledger-go
// Licensed under the Apache License, Version 2.0

package dongle

import (
	"fmt"

	"github.com/luxfi/icebox/apdu"
	"github.com/zondax/hid"
)

const (
	VendorLedger         = 0x2c97
	UsagePageLedgerNanoS = 0xffa0
)

// list of supported product ids as well as their corresponding interfaces
// based on https://github.com/LedgerHQ/ledger-live/blob/develop/libs/ledgerjs/packages/devices/src/index.ts
var supportedLedgerProductID = map[uint8]int{
	0x00: 0, // Ledger Nano S, legacy firmware
	0x40: 0, // Ledger Nano X
	0x10: 0, // Ledger Nano S
	0x50: 0, // Ledger Nano S Plus
	0x60: 0, // Ledger Stax
	0x70: 0, // Ledger Flex
}

// AdminHID finds Ledger devices on the USB HID bus.
type AdminHID struct {
	enumerate func() []hid.DeviceInfo
}

var _ Admin = (*AdminHID)(nil)

// NewAdmin returns an Admin backed by hidapi.
func NewAdmin() *AdminHID {
	return &AdminHID{
		enumerate: func() []hid.DeviceInfo {
			return hid.Enumerate(VendorLedger, 0)
		},
	}
}

// OpenLedger is the factory used by commands: it connects to the single
// attached Ledger and returns a capability handle.
func OpenLedger() (*Ledger, error) {
	return NewAdmin().Connect()
}

func logDeviceInfo(d hid.DeviceInfo) {
	log.Debugf("============ %s", d.Path)
	log.Debugf("VendorID      : %x", d.VendorID)
	log.Debugf("ProductID     : %x", d.ProductID)
	log.Debugf("Release       : %x", d.Release)
	log.Debugf("Serial        : %x", d.Serial)
	log.Debugf("Manufacturer  : %s", d.Manufacturer)
	log.Debugf("Product       : %s", d.Product)
	log.Debugf("UsagePage     : %x", d.UsagePage)
	log.Debugf("Usage         : %x", d.Usage)
}

func isLedgerDevice(d hid.DeviceInfo) bool {
	if d.VendorID != VendorLedger {
		return false
	}
	if d.UsagePage == UsagePageLedgerNanoS {
		return true
	}

	// Workarounds for possible empty usage pages
	productIDMM := uint8(d.ProductID >> 8)
	interfaceID, supported := supportedLedgerProductID[productIDMM]
	return supported && interfaceID == d.Interface
}

func (admin *AdminHID) ledgers() []hid.DeviceInfo {
	var found []hid.DeviceInfo
	for _, d := range admin.enumerate() {
		logDeviceInfo(d)
		if isLedgerDevice(d) {
			found = append(found, d)
		}
	}
	return found
}

// CountDevices returns the number of attached Ledgers.
func (admin *AdminHID) CountDevices() int {
	return len(admin.ledgers())
}

// ListDevices returns the HID paths of the attached Ledgers.
func (admin *AdminHID) ListDevices() ([]string, error) {
	devices := admin.ledgers()
	if len(devices) == 0 {
		log.Debug("No devices. Ledger LOCKED OR Other Program/Web Browser may have control of device.")
	}

	paths := make([]string, 0, len(devices))
	for _, d := range devices {
		paths = append(paths, d.Path)
	}
	return paths, nil
}

// Connect opens the only attached Ledger. None or several attached devices
// are distinct errors.
func (admin *AdminHID) Connect() (*Ledger, error) {
	devices := admin.ledgers()
	switch len(devices) {
	case 0:
		return nil, ErrDongleNotFound
	case 1:
	default:
		return nil, fmt.Errorf("%w: %d devices", ErrDongleNotUnique,
			len(devices))
	}

	device, err := devices[0].Open()
	if err != nil {
		return nil, fmt.Errorf("opening HID device %s: %w",
			devices[0].Path, err)
	}
	log.Infof("Connected to %s %s", devices[0].Manufacturer,
		devices[0].Product)

	return NewLedgerFromLink(&LinkHID{device: device}), nil
}

// LinkHID adapts a hid.Device to apdu.Link. Reads block until the device
// sends a packet.
type LinkHID struct {
	device *hid.Device
}

var _ apdu.Link = (*LinkHID)(nil)

func (l *LinkHID) Write(packet []byte) (int, error) {
	return l.device.Write(packet)
}

func (l *LinkHID) Read(buf []byte) (int, error) {
	return l.device.Read(buf)
}

func (l *LinkHID) Close() error {
	return l.device.Close()
}
