// Package dispatch turns a content object into bytes: it picks a transport
// for each locator, falls back across locators in priority order and
// reassembles chunked content.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/imdevinc/netinf-node/internal/content"
	"github.com/imdevinc/netinf-node/internal/locator"
	"github.com/imdevinc/netinf-node/internal/provider"
	"github.com/imdevinc/netinf-node/internal/transfer"
	"github.com/imdevinc/netinf-node/internal/util"
)

const (
	// DefaultFetchTimeout bounds a whole fallback loop
	DefaultFetchTimeout = 2 * time.Minute
	// DefaultChunkConcurrency is the number of chunk fetches in flight
	DefaultChunkConcurrency = 4
)

// Dispatcher routes fetches to the registered providers. Its provider lists
// and self addresses are fixed at construction and never change afterwards.
type Dispatcher struct {
	providers        []provider.Provider
	streams          []provider.StreamProvider
	selfAddresses    []string
	fetchTimeout     time.Duration
	strategy         Strategy
	chunkConcurrency int
	verify           bool
	cache            *util.ContentCache
	local            LocalSource
	logger           *slog.Logger
}

// LocalSource holds content this node already has, keyed by hash value
type LocalSource interface {
	GetContent(hash string) ([]byte, error)
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithProviders registers providers. Registration order is selection order.
func WithProviders(ps ...provider.Provider) Option {
	return func(d *Dispatcher) {
		d.providers = append(d.providers, ps...)
	}
}

// WithStreamProviders registers providers for plain URL downloads
func WithStreamProviders(ps ...provider.StreamProvider) Option {
	return func(d *Dispatcher) {
		d.streams = append(d.streams, ps...)
	}
}

// WithSelfAddress sets this node's own transport addresses. Locators that
// resolve to one of them are never attempted.
func WithSelfAddress(addrs ...string) Option {
	return func(d *Dispatcher) {
		for _, a := range addrs {
			if a != "" {
				d.selfAddresses = append(d.selfAddresses, a)
			}
		}
	}
}

// WithFetchTimeout bounds each top-level fetch. Zero or negative disables
// the overall deadline.
func WithFetchTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.fetchTimeout = timeout
	}
}

// WithChunkStrategy selects how chunked content is fetched
func WithChunkStrategy(s Strategy) Option {
	return func(d *Dispatcher) {
		d.strategy = s
	}
}

// WithChunkConcurrency bounds the concurrent chunk strategy
func WithChunkConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.chunkConcurrency = n
		}
	}
}

// WithVerify enables hash verification of fetched bytes
func WithVerify(verify bool) Option {
	return func(d *Dispatcher) {
		d.verify = verify
	}
}

// WithCache memoizes successful whole-object fetches
func WithCache(c *util.ContentCache) Option {
	return func(d *Dispatcher) {
		d.cache = c
	}
}

// WithLocalSource answers fetches for content held locally before any
// locator is tried. Self locators stay excluded, so a node can still return
// content it published itself.
func WithLocalSource(src LocalSource) Option {
	return func(d *Dispatcher) {
		d.local = src
	}
}

// WithLogger replaces the default logger
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a dispatcher
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		fetchTimeout:     DefaultFetchTimeout,
		strategy:         StrategyConcurrent,
		chunkConcurrency: DefaultChunkConcurrency,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, p := range d.providers {
		d.logger.Debug("Provider registered", "provider", p.Describe())
	}
	return d
}

// Providers returns a copy of the registered providers in selection order
func (d *Dispatcher) Providers() []provider.Provider {
	out := make([]provider.Provider, len(d.providers))
	copy(out, d.providers)
	return out
}

// SelectProvider returns the first registered provider that can handle the
// locator
func (d *Dispatcher) SelectProvider(loc string) (provider.Provider, error) {
	for _, p := range d.providers {
		if p.CanHandle(loc) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", transfer.ErrNoProviderFound, loc)
}

// Fetch retrieves handle from a single locator
func (d *Dispatcher) Fetch(ctx context.Context, loc string, handle content.Handle) ([]byte, error) {
	if data, ok := d.cached(handle); ok {
		return data, nil
	}

	ctx, cancel := d.withDeadline(ctx)
	defer cancel()

	data, err := d.fetchFrom(ctx, loc, handle, d.verify)
	if err != nil {
		return nil, err
	}
	d.remember(handle, data)
	return data, nil
}

// FetchObject retrieves the full content of obj. Chunked objects are
// reassembled; otherwise locators are tried in priority order and the first
// success wins.
func (d *Dispatcher) FetchObject(ctx context.Context, obj *content.Object) ([]byte, error) {
	if obj == nil {
		return nil, fmt.Errorf("%w: nil object", transfer.ErrInvalidObject)
	}
	if data, ok := d.cached(obj.Handle); ok {
		return data, nil
	}

	ctx, cancel := d.withDeadline(ctx)
	defer cancel()

	var data []byte
	var err error
	if obj.Chunkable() {
		data, err = d.fetchChunked(ctx, obj)
	} else {
		data, err = d.fetchWhole(ctx, obj)
	}
	if err != nil {
		return nil, err
	}

	d.remember(obj.Handle, data)
	return data, nil
}

// OpenObject is the streaming form of FetchObject. For chunked objects the
// reader yields chunks in index order; the caller must close it.
func (d *Dispatcher) OpenObject(ctx context.Context, obj *content.Object) (io.ReadCloser, error) {
	if obj == nil {
		return nil, fmt.Errorf("%w: nil object", transfer.ErrInvalidObject)
	}
	if data, ok := d.cached(obj.Handle); ok {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	if !obj.Chunkable() {
		data, err := d.FetchObject(ctx, obj)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	}

	ctx, cancel := d.withDeadline(ctx)
	rc, err := d.openChunks(ctx, obj, cancel)
	if err != nil {
		cancel()
		return nil, err
	}
	return rc, nil
}

// OpenStream opens a plain URL download through the first stream provider
// that can handle it
func (d *Dispatcher) OpenStream(ctx context.Context, url string) (io.ReadCloser, error) {
	for _, sp := range d.streams {
		if !sp.CanHandle(url) {
			continue
		}
		rc, err := sp.Open(ctx, url)
		if err != nil {
			d.logger.Warn("Stream failed", "provider", sp.Describe(), "url", url, "error", err)
			return nil, err
		}
		return rc, nil
	}
	return nil, fmt.Errorf("%w: %q", transfer.ErrNoProviderFound, url)
}

// Publish pushes content through the first registered provider able to
// publish
func (d *Dispatcher) Publish(ctx context.Context, handle content.Handle, data []byte) (bool, error) {
	for _, p := range d.providers {
		pub, ok := p.(provider.Publisher)
		if !ok {
			continue
		}
		ok, err := pub.Publish(ctx, handle, data)
		if err != nil {
			d.logger.Warn("Publish failed", "provider", p.Describe(), "uri", handle.URI(), "error", err)
		}
		return ok, err
	}
	return false, fmt.Errorf("%w: no provider can publish", transfer.ErrUnsupported)
}

// fetchWhole walks the priority-ordered locators. Per-locator failures are
// logged and never surfaced.
func (d *Dispatcher) fetchWhole(ctx context.Context, obj *content.Object) ([]byte, error) {
	seq := locator.Select(obj)
	attempted := 0

	for {
		loc, ok := seq.Next()
		if !ok {
			break
		}
		if d.isSelf(loc) {
			d.logger.Debug("Skipping self locator", "locator", loc)
			continue
		}
		if ctx.Err() != nil {
			d.logger.Warn("Fetch deadline reached", "uri", obj.Handle.URI(), "remaining", seq.Remaining()+1)
			break
		}

		attempted++
		data, err := d.fetchFrom(ctx, loc, obj.Handle, d.verify)
		if err != nil {
			d.logger.Warn("Locator failed", "locator", loc, "uri", obj.Handle.URI(), "error", err)
			continue
		}

		d.logger.Debug("Fetched object", "locator", loc, "uri", obj.Handle.URI(), "bytes", len(data))
		return data, nil
	}

	d.logger.Error("No locator succeeded", "uri", obj.Handle.URI(), "attempted", attempted)
	return nil, fmt.Errorf("%w: %s", transfer.ErrNoLocatorSucceeded, obj.Handle.URI())
}

// fetchFrom selects a provider for loc and fetches handle through it
func (d *Dispatcher) fetchFrom(ctx context.Context, loc string, handle content.Handle, verify bool) ([]byte, error) {
	p, err := d.SelectProvider(loc)
	if err != nil {
		return nil, err
	}

	data, err := p.Fetch(ctx, loc, handle)
	if err != nil {
		return nil, err
	}

	if verify {
		if !util.KnownAlgorithm(handle.Algorithm) {
			d.logger.Debug("Skipping verification", "algorithm", handle.Algorithm)
		} else if err := util.VerifyHash(handle.Algorithm, handle.Value, data); err != nil {
			return nil, fmt.Errorf("%s: %w", loc, err)
		}
	}
	return data, nil
}

// isSelf reports whether loc points at this node. Bluetooth addresses are
// compared by MAC only.
func (d *Dispatcher) isSelf(loc string) bool {
	scheme := content.Scheme(loc)
	addr := strings.TrimRight(content.Address(loc), "/")
	for _, self := range d.selfAddresses {
		if content.IsLocator(self) {
			if content.Scheme(self) != scheme {
				continue
			}
			self = content.Address(self)
		}
		self = strings.TrimRight(self, "/")
		if strings.EqualFold(self, addr) {
			return true
		}
		if scheme == provider.SchemeBluetooth && provider.SameBluetoothAddress(self, addr) {
			return true
		}
	}
	return false
}

func (d *Dispatcher) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.fetchTimeout > 0 {
		return context.WithTimeout(ctx, d.fetchTimeout)
	}
	return context.WithCancel(ctx)
}

// cached returns content from the memo cache or the local source
func (d *Dispatcher) cached(handle content.Handle) ([]byte, bool) {
	if handle.IsZero() {
		return nil, false
	}
	if d.cache != nil {
		if data, ok := d.cache.Get(handle.URI()); ok {
			d.logger.Debug("Cache hit", "uri", handle.URI())
			return data, true
		}
	}
	if d.local != nil {
		data, err := d.local.GetContent(handle.Value)
		if err == nil {
			d.logger.Debug("Served from local store", "uri", handle.URI())
			return data, true
		}
	}
	return nil, false
}

func (d *Dispatcher) remember(handle content.Handle, data []byte) {
	if d.cache == nil || handle.IsZero() {
		return
	}
	d.cache.Set(handle.URI(), data)
}
