//go:build linux

package provider

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/imdevinc/netinf-node/internal/transfer"
)

// stalledSocketPair returns the local end of a connected stream socket pair,
// wrapped the way dialRFCOMM wraps an RFCOMM socket. The peer end never
// replies.
func stalledSocketPair(t *testing.T) *os.File {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("Socketpair failed: %v", err)
	}
	local := wrapSocketFD(fds[0], "local")
	peer := wrapSocketFD(fds[1], "peer")
	t.Cleanup(func() {
		local.Close()
		peer.Close()
	})
	return local
}

func stalledProvider(conn io.ReadWriteCloser, ioTimeout time.Duration) *SocketProvider {
	cfg := fastSocketConfig()
	cfg.IOTimeout = ioTimeout
	dialer := DialerFunc(func(ctx context.Context, address string) (io.ReadWriteCloser, error) {
		return conn, nil
	})
	return NewSocketProvider("bt-test", []string{SchemeBluetooth}, dialer, cfg)
}

func TestWrappedSocketSupportsDeadline(t *testing.T) {
	f := stalledSocketPair(t)
	if err := f.SetDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
		t.Fatalf("SetDeadline failed: %v", err)
	}

	buf := make([]byte, 1)
	start := time.Now()
	_, err := f.Read(buf)
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Read blocked for %v", elapsed)
	}
}

func TestBluetoothStalledPeerTimesOut(t *testing.T) {
	p := stalledProvider(stalledSocketPair(t), 100*time.Millisecond)

	start := time.Now()
	_, err := p.Fetch(context.Background(), "bt://00:11:22:33:44:55", testHandle)
	if !errors.Is(err, transfer.ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Fetch took %v, IO timeout not applied", elapsed)
	}
}

func TestBluetoothStalledPeerCancel(t *testing.T) {
	p := stalledProvider(stalledSocketPair(t), time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := p.Fetch(ctx, "bt://00:11:22:33:44:55", testHandle)
	if !errors.Is(err, transfer.ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Fetch took %v, cancellation did not interrupt the read", elapsed)
	}
}
