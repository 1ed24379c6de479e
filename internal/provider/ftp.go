package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"net/url"
	"path"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/imdevinc/netinf-node/internal/content"
	"github.com/imdevinc/netinf-node/internal/transfer"
	"github.com/imdevinc/netinf-node/internal/util"
	"github.com/imdevinc/netinf-node/internal/wire"
)

// SchemeFTP is the locator scheme of the FTP transport:
// ftp://[user:pass@]host[:port]/dir retrieves dir/<hash>
const SchemeFTP = "ftp"

const defaultFTPPort = "21"

// FTPConfig configures the FTP transport
type FTPConfig struct {
	Username       string // defaults to anonymous
	Password       string
	ConnectTimeout time.Duration
	Retry          util.RetryConfig
	MaxPayload     int64
}

// FTPProvider retrieves content stored under its hash from an FTP directory
type FTPProvider struct {
	BaseProvider
	cfg FTPConfig
}

// NewFTP creates the FTP transport
func NewFTP(name string, cfg FTPConfig) *FTPProvider {
	if name == "" {
		name = SchemeFTP
	}
	if cfg.Username == "" {
		cfg.Username = "anonymous"
		if cfg.Password == "" {
			cfg.Password = "anonymous"
		}
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = util.ConnectRetryConfig()
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = wire.DefaultPayloadLimit
	}
	return &FTPProvider{
		BaseProvider: NewBaseProvider(name, SchemeFTP),
		cfg:          cfg,
	}
}

// Fetch logs in to the server named by locator and retrieves <path>/<hash>
func (p *FTPProvider) Fetch(ctx context.Context, locator string, handle content.Handle) ([]byte, error) {
	u, err := url.Parse(locator)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid ftp locator %q", transfer.ErrProtocol, locator)
	}
	host := u.Host
	if u.Port() == "" {
		host = u.Host + ":" + defaultFTPPort
	}
	user, pass := p.cfg.Username, p.cfg.Password
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}

	conn, err := p.connect(ctx, host, user, pass)
	if err != nil {
		return nil, err
	}
	defer conn.Quit()
	stop := context.AfterFunc(ctx, func() { conn.Quit() })
	defer stop()

	remote := path.Join("/", u.Path, handle.Value)
	resp, err := conn.Retr(remote)
	if err != nil {
		var tpErr *textproto.Error
		if errors.As(err, &tpErr) && tpErr.Code == ftp.StatusFileUnavailable {
			return nil, fmt.Errorf("%w: %s", transfer.ErrRemoteNotFound, remote)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %w", transfer.ErrTimeout, host, ctx.Err())
		}
		return nil, classify(err)
	}
	defer resp.Close()

	data, err := io.ReadAll(io.LimitReader(resp, p.cfg.MaxPayload+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %w", transfer.ErrTimeout, host, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s: %w", transfer.ErrTruncated, remote, err)
	}
	if int64(len(data)) > p.cfg.MaxPayload {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", transfer.ErrProtocol, p.cfg.MaxPayload)
	}

	p.LogDebug("Fetched content", "host", host, "path", remote, "bytes", len(data))
	return data, nil
}

func (p *FTPProvider) connect(ctx context.Context, host, user, pass string) (*ftp.ServerConn, error) {
	var conn *ftp.ServerConn
	err := util.Retry(ctx, p.cfg.Retry, func(attempt int) error {
		c, err := ftp.Dial(host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(p.cfg.ConnectTimeout))
		if err != nil {
			p.LogDebug("Connect attempt failed", "host", host, "attempt", attempt+1, "error", err)
			return err
		}
		if err := c.Login(user, pass); err != nil {
			c.Quit()
			return fmt.Errorf("login failed: %w", err)
		}
		conn = c
		return nil
	}, func(error) bool { return ctx.Err() == nil })

	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: connecting to %s: %w", transfer.ErrTimeout, host, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s: %w", transfer.ErrConnectFailed, host, err)
	}
	return conn, nil
}
