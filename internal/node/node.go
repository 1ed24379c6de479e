// Package node assembles a running NetInf node from its configuration: the
// transports, the dispatcher, the content server and the publish watcher.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/imdevinc/netinf-node/internal/config"
	"github.com/imdevinc/netinf-node/internal/dispatch"
	"github.com/imdevinc/netinf-node/internal/provider"
	"github.com/imdevinc/netinf-node/internal/publish"
	"github.com/imdevinc/netinf-node/internal/server"
	"github.com/imdevinc/netinf-node/internal/storage"
	"github.com/imdevinc/netinf-node/internal/util"
)

// Node owns the long-running parts of a NetInf node
type Node struct {
	cfg        *config.Config
	store      *storage.Store
	dispatcher *dispatch.Dispatcher
	publisher  *publish.Publisher
	server     *server.Server
	watcher    *publish.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a node. Nothing is started until Start.
func New(cfg *config.Config, store *storage.Store) (*Node, error) {
	d, err := NewDispatcher(cfg, store)
	if err != nil {
		return nil, err
	}

	pub, err := newPublisher(cfg, store, d)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:        cfg,
		store:      store,
		dispatcher: d,
		publisher:  pub,
		server: server.New(store, server.Config{
			Addr:      cfg.Server.Listen,
			IOTimeout: cfg.Server.IOTimeout.Duration,
		}),
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Publish.WatchDir != "" {
		w, err := publish.NewWatcher(cfg.Publish.WatchDir, pub, store)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
		n.watcher = w
	}
	return n, nil
}

// NewDispatcher creates a dispatcher with every configured transport. The
// node's advertised publish locators count as its own addresses, so content
// it published is answered from store when one is given.
func NewDispatcher(cfg *config.Config, store *storage.Store) (*dispatch.Dispatcher, error) {
	providers, err := BuildProviders(cfg)
	if err != nil {
		return nil, err
	}

	strategy, err := dispatch.ParseStrategy(cfg.Dispatch.ChunkStrategy)
	if err != nil {
		return nil, err
	}

	opts := []dispatch.Option{
		dispatch.WithProviders(providers...),
		dispatch.WithStreamProviders(streamProviders(providers)...),
		dispatch.WithSelfAddress(cfg.Dispatch.SelfAddresses...),
		dispatch.WithSelfAddress(cfg.Publish.Locators...),
		dispatch.WithFetchTimeout(cfg.Dispatch.FetchTimeout.Duration),
		dispatch.WithChunkStrategy(strategy),
		dispatch.WithChunkConcurrency(cfg.Dispatch.ChunkConcurrency),
		dispatch.WithVerify(cfg.Dispatch.Verify),
	}
	if store != nil {
		opts = append(opts, dispatch.WithLocalSource(store))
	}
	if cfg.Dispatch.CacheSize > 0 {
		cache, err := util.NewContentCache(cfg.Dispatch.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create content cache: %w", err)
		}
		opts = append(opts, dispatch.WithCache(cache))
	}
	return dispatch.New(opts...), nil
}

func streamProviders(providers []provider.Provider) []provider.StreamProvider {
	var out []provider.StreamProvider
	for _, p := range providers {
		if sp, ok := p.(provider.StreamProvider); ok {
			out = append(out, sp)
		}
	}
	return out
}

// NewPublisher creates a publisher without the rest of the node. A
// dispatcher is only built when pushing to a cache is enabled.
func NewPublisher(cfg *config.Config, store *storage.Store) (*publish.Publisher, error) {
	var d *dispatch.Dispatcher
	if cfg.Publish.Push {
		var err error
		if d, err = NewDispatcher(cfg, store); err != nil {
			return nil, err
		}
	}
	return newPublisher(cfg, store, d)
}

func newPublisher(cfg *config.Config, store *storage.Store, d *dispatch.Dispatcher) (*publish.Publisher, error) {
	var pusher publish.Pusher
	if cfg.Publish.Push && d != nil {
		pusher = d
	}
	pub, err := publish.New(store, publishConfig(cfg.Publish), pusher)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}
	return pub, nil
}

func publishConfig(c config.PublishConf) publish.Config {
	return publish.Config{
		Algorithm:      c.Algorithm,
		Locators:       c.Locators,
		ChunkThreshold: c.ChunkThreshold,
		MinChunk:       c.MinChunk,
		AvgChunk:       c.AvgChunk,
		MaxChunk:       c.MaxChunk,
		Push:           c.Push,
	}
}

// Dispatcher returns the node's dispatcher
func (n *Node) Dispatcher() *dispatch.Dispatcher {
	return n.dispatcher
}

// Publisher returns the node's publisher
func (n *Node) Publisher() *publish.Publisher {
	return n.publisher
}

// Watcher returns the publish watcher, or nil when no directory is watched
func (n *Node) Watcher() *publish.Watcher {
	return n.watcher
}

// Addr returns the server's bound address once started
func (n *Node) Addr() string {
	return n.server.Addr()
}

// Start opens the listener, begins serving and starts the watcher
func (n *Node) Start() error {
	if err := n.server.Listen(); err != nil {
		return err
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.server.Serve(n.ctx); err != nil {
			slog.Error("Server failed", "error", err)
		}
	}()

	if n.watcher != nil {
		if err := n.watcher.Start(n.ctx); err != nil {
			n.Stop()
			return err
		}
	}

	slog.Info("Node started",
		"addr", n.server.Addr(),
		"providers", len(n.dispatcher.Providers()),
		"watchDir", n.cfg.Publish.WatchDir,
	)
	return nil
}

// Stop shuts the node down and waits for in-flight requests
func (n *Node) Stop() error {
	slog.Info("Stopping node")
	n.cancel()

	var firstErr error
	if n.watcher != nil {
		if err := n.watcher.Stop(); err != nil {
			slog.Error("Failed to stop watcher", "error", err)
			firstErr = err
		}
	}
	if err := n.server.Close(); err != nil && firstErr == nil {
		firstErr = err
	}

	n.wg.Wait()
	slog.Info("Node stopped")
	return firstErr
}
