package provider

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/imdevinc/netinf-node/internal/content"
	"github.com/imdevinc/netinf-node/internal/transfer"
)

// SchemeBluetooth is the locator scheme of the short-range radio transport:
// bt://AA:BB:CC:DD:EE:FF[/channel]
const SchemeBluetooth = "bt"

// DefaultRFCOMMChannel is used when a bt locator names no channel
const DefaultRFCOMMChannel = 1

// NewBluetooth creates the RFCOMM socket transport
func NewBluetooth(name string, channel uint8, cfg SocketConfig) *SocketProvider {
	if name == "" {
		name = SchemeBluetooth
	}
	if channel == 0 {
		channel = DefaultRFCOMMChannel
	}
	return NewSocketProvider(name, []string{SchemeBluetooth}, BluetoothDialer(channel), cfg)
}

// BluetoothDialer dials RFCOMM addresses of the form MAC[/channel]
func BluetoothDialer(defaultChannel uint8) Dialer {
	return DialerFunc(func(ctx context.Context, address string) (io.ReadWriteCloser, error) {
		mac, channel, err := ParseBluetoothAddress(address, defaultChannel)
		if err != nil {
			return nil, err
		}
		return dialRFCOMM(ctx, mac, channel)
	})
}

// ParseBluetoothAddress parses "AA:BB:CC:DD:EE:FF[/channel]" into the
// display-order MAC bytes and the RFCOMM channel
func ParseBluetoothAddress(address string, defaultChannel uint8) ([6]byte, uint8, error) {
	var mac [6]byte
	macPart, chanPart, hasChan := strings.Cut(address, "/")

	parts := strings.Split(macPart, ":")
	if len(parts) != 6 {
		return mac, 0, fmt.Errorf("%w: invalid bluetooth address %q", transfer.ErrProtocol, address)
	}
	for i, p := range parts {
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil || len(p) != 2 {
			return mac, 0, fmt.Errorf("%w: invalid bluetooth address %q", transfer.ErrProtocol, address)
		}
		mac[i] = byte(b)
	}

	channel := defaultChannel
	if hasChan && chanPart != "" {
		c, err := strconv.ParseUint(chanPart, 10, 8)
		if err != nil || c < 1 || c > 30 {
			return mac, 0, fmt.Errorf("%w: invalid RFCOMM channel %q", transfer.ErrProtocol, chanPart)
		}
		channel = uint8(c)
	}
	return mac, channel, nil
}

// SameBluetoothAddress compares the MAC part of two bt locators or
// addresses, ignoring case and channel
func SameBluetoothAddress(a, b string) bool {
	macA, _, errA := ParseBluetoothAddress(strings.TrimRight(content.Address(a), "/"), DefaultRFCOMMChannel)
	macB, _, errB := ParseBluetoothAddress(strings.TrimRight(content.Address(b), "/"), DefaultRFCOMMChannel)
	return errA == nil && errB == nil && macA == macB
}
