package provider

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/imdevinc/netinf-node/internal/content"
	"github.com/imdevinc/netinf-node/internal/transfer"
	"github.com/imdevinc/netinf-node/internal/util"
	"github.com/imdevinc/netinf-node/internal/wire"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultIOTimeout      = 30 * time.Second
)

// Dialer opens one fresh bidirectional stream to address. It never reuses a
// connection object from an earlier attempt.
type Dialer interface {
	Dial(ctx context.Context, address string) (io.ReadWriteCloser, error)
}

// DialerFunc adapts a function to the Dialer interface
type DialerFunc func(ctx context.Context, address string) (io.ReadWriteCloser, error)

// Dial calls f
func (f DialerFunc) Dial(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	return f(ctx, address)
}

// SocketConfig tunes the raw-socket transports
type SocketConfig struct {
	ConnectTimeout time.Duration    // bound for a single connect attempt
	IOTimeout      time.Duration    // bound for the whole exchange on one connection
	Retry          util.RetryConfig // connect attempt budget
	MaxPayload     int64            // largest accepted payload; 0 uses the wire default
}

func (c SocketConfig) withDefaults() SocketConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = defaultIOTimeout
	}
	if c.Retry.Attempts <= 0 {
		c.Retry = util.ConnectRetryConfig()
	}
	return c
}

// SocketProvider runs the framed request/reply exchange over any stream
// transport. The radio and TCP transports differ only in their Dialer.
type SocketProvider struct {
	BaseProvider
	dialer Dialer
	cfg    SocketConfig
}

// NewSocketProvider creates a provider that speaks the wire protocol over
// connections produced by dialer
func NewSocketProvider(name string, schemes []string, dialer Dialer, cfg SocketConfig) *SocketProvider {
	return &SocketProvider{
		BaseProvider: NewBaseProvider(name, schemes...),
		dialer:       dialer,
		cfg:          cfg.withDefaults(),
	}
}

// Fetch connects to the locator's address and requests the handle's hash
func (p *SocketProvider) Fetch(ctx context.Context, locator string, handle content.Handle) ([]byte, error) {
	address := socketAddress(locator)
	if address == "" {
		return nil, fmt.Errorf("%w: locator %q has no address", transfer.ErrProtocol, locator)
	}

	conn, err := p.connect(ctx, address)
	if err != nil {
		return nil, err
	}

	closer := &onceCloser{c: conn}
	defer closer.Close()
	// Unblock a stalled read if the caller gives up.
	stop := context.AfterFunc(ctx, func() { closer.Close() })
	defer stop()

	if d, ok := conn.(interface{ SetDeadline(time.Time) error }); ok {
		deadline := time.Now().Add(p.cfg.IOTimeout)
		if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
			deadline = ctxDeadline
		}
		if err := d.SetDeadline(deadline); err != nil {
			p.LogDebug("Failed to set deadline", "address", address, "error", err)
		}
	}

	data, err := p.exchange(conn, handle.Value)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %w", transfer.ErrTimeout, address, ctx.Err())
		}
		return nil, classify(err)
	}

	p.LogDebug("Fetched content", "address", address, "bytes", len(data))
	return data, nil
}

// connect makes up to Retry.Attempts connection attempts, each with a newly
// dialed connection
func (p *SocketProvider) connect(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	var conn io.ReadWriteCloser
	err := util.Retry(ctx, p.cfg.Retry, func(attempt int) error {
		dialCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		defer cancel()

		c, err := p.dialer.Dial(dialCtx, address)
		if err != nil {
			if c != nil {
				c.Close()
			}
			p.LogDebug("Connect attempt failed", "address", address, "attempt", attempt+1, "error", err)
			return err
		}
		conn = c
		return nil
	}, func(error) bool { return ctx.Err() == nil })

	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: connecting to %s: %w", transfer.ErrTimeout, address, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s: %w", transfer.ErrConnectFailed, address, err)
	}
	return conn, nil
}

func (p *SocketProvider) exchange(conn io.ReadWriter, hash string) ([]byte, error) {
	if err := wire.WriteMessage(conn, wire.NewRequest(hash)); err != nil {
		return nil, err
	}

	reply, err := wire.ReadMessage(conn)
	if err != nil {
		return nil, err
	}

	switch reply.Code {
	case wire.CodeReplyOK:
		return wire.ReadPayload(conn, p.cfg.MaxPayload)
	case wire.CodeReplyError:
		return nil, fmt.Errorf("%w: %s", transfer.ErrRemoteNotFound, reply.Data)
	default:
		return nil, fmt.Errorf("%w: unexpected reply code %s", transfer.ErrProtocol, reply.Code)
	}
}

// socketAddress strips the scheme prefix and trailing separators. Dialers
// interpret whatever remains.
func socketAddress(locator string) string {
	return strings.TrimRight(content.Address(locator), "/")
}

// onceCloser makes Close idempotent so the deferred close and the
// cancellation hook cannot double-close the connection
type onceCloser struct {
	c    io.Closer
	once sync.Once
	err  error
}

func (o *onceCloser) Close() error {
	o.once.Do(func() {
		o.err = o.c.Close()
	})
	return o.err
}
