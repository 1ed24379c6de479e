//go:build !linux

package provider

import (
	"context"
	"io"

	"github.com/imdevinc/netinf-node/internal/transfer"
)

func dialRFCOMM(ctx context.Context, mac [6]byte, channel uint8) (io.ReadWriteCloser, error) {
	return nil, transfer.ErrUnsupported
}
