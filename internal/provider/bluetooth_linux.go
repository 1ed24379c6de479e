//go:build linux

package provider

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const rfcommPollInterval = 100 * time.Millisecond

// dialRFCOMM opens a fresh RFCOMM stream socket. The connect is non-blocking
// and polled so the context deadline bounds it.
func dialRFCOMM(ctx context.Context, mac [6]byte, channel uint8) (io.ReadWriteCloser, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("failed to create RFCOMM socket: %w", err)
	}

	ok := false
	defer func() {
		if !ok {
			unix.Close(fd)
		}
	}()

	// BlueZ stores bdaddr little-endian.
	sa := &unix.SockaddrRFCOMM{Channel: channel}
	for i := range mac {
		sa.Addr[i] = mac[len(mac)-1-i]
	}

	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		return nil, fmt.Errorf("failed to connect RFCOMM: %w", err)
	}
	if err == unix.EINPROGRESS {
		if err := waitConnected(ctx, fd); err != nil {
			return nil, err
		}
	}

	ok = true
	return wrapSocketFD(fd, "rfcomm"), nil
}

// wrapSocketFD hands a non-blocking socket to the runtime poller so read
// and write deadlines and Close interrupt blocked I/O
func wrapSocketFD(fd int, name string) *os.File {
	return os.NewFile(uintptr(fd), name)
}

func waitConnected(ctx context.Context, fd int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
		n, err := unix.Poll(fds, int(rfcommPollInterval/time.Millisecond))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("failed to poll RFCOMM socket: %w", err)
		}
		if n == 0 {
			continue
		}
		soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return fmt.Errorf("failed to read RFCOMM socket error: %w", err)
		}
		if soErr != 0 {
			return fmt.Errorf("failed to connect RFCOMM: %w", unix.Errno(soErr))
		}
		return nil
	}
}
