package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/imdevinc/netinf-node/internal/content"
	"github.com/imdevinc/netinf-node/internal/transfer"
	"github.com/imdevinc/netinf-node/pkg/netinf"
)

// HTTPConfig configures the HTTP convergence-layer transport
type HTTPConfig struct {
	Client     netinf.Config
	PublishURL string // cache base URL for Publish; empty disables publishing
}

// HTTPProvider fetches through a NetInf HTTP cache and also serves plain
// http(s) downloads as a StreamProvider
type HTTPProvider struct {
	BaseProvider
	client     *netinf.Client
	publishURL string
}

// NewHTTP creates the HTTP transport
func NewHTTP(name string, cfg HTTPConfig) *HTTPProvider {
	if name == "" {
		name = "http"
	}
	return &HTTPProvider{
		BaseProvider: NewBaseProvider(name, "http", "https"),
		client:       netinf.NewClient(cfg.Client),
		publishURL:   cfg.PublishURL,
	}
}

// Fetch asks the cache at locator for the handle's ni URI
func (p *HTTPProvider) Fetch(ctx context.Context, locator string, handle content.Handle) ([]byte, error) {
	data, err := p.client.Get(ctx, locator, handle.URI())
	if err != nil {
		return nil, p.mapError(ctx, locator, err)
	}
	p.LogDebug("Fetched content", "locator", locator, "bytes", len(data))
	return data, nil
}

// Publish pushes data to the configured cache. It reports false without an
// error when the cache declines.
func (p *HTTPProvider) Publish(ctx context.Context, handle content.Handle, data []byte) (bool, error) {
	if p.publishURL == "" {
		return false, fmt.Errorf("%w: no publish URL configured for %s", transfer.ErrUnsupported, p.Name())
	}
	ok, err := p.client.Publish(ctx, p.publishURL, netinf.PublishRequest{
		URI:     handle.URI(),
		HashAlg: handle.Algorithm,
		Hash:    handle.Value,
		FullPut: true,
		Data:    data,
	})
	if err != nil {
		return false, p.mapError(ctx, p.publishURL, err)
	}
	if ok {
		p.LogInfo("Published content", "uri", handle.URI(), "bytes", len(data))
	} else {
		p.LogWarn("Publish rejected", "uri", handle.URI())
	}
	return ok, nil
}

// Open starts a plain download of url
func (p *HTTPProvider) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	body, err := p.client.Open(ctx, rawURL)
	if err != nil {
		return nil, p.mapError(ctx, rawURL, err)
	}
	return body, nil
}

func (p *HTTPProvider) mapError(ctx context.Context, target string, err error) error {
	var statusErr *netinf.StatusError
	var urlErr *url.Error
	switch {
	case errors.Is(err, netinf.ErrNotFound):
		return fmt.Errorf("%w: %s", transfer.ErrRemoteNotFound, target)
	case errors.As(err, &statusErr), errors.Is(err, netinf.ErrUnexpectedContentType), errors.Is(err, netinf.ErrTooLarge):
		return fmt.Errorf("%w: %s: %w", transfer.ErrProtocol, target, err)
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %s: %w", transfer.ErrTimeout, target, ctx.Err())
	case errors.As(err, &urlErr) && urlErr.Timeout():
		return fmt.Errorf("%w: %s: %w", transfer.ErrTimeout, target, err)
	case errors.As(err, &urlErr):
		return fmt.Errorf("%w: %s: %w", transfer.ErrConnectFailed, target, err)
	default:
		return classify(err)
	}
}
