// Package publish ingests local files into the content store and describes
// them as content objects advertising this node's locators.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jotfs/fastcdc-go"

	"github.com/imdevinc/netinf-node/internal/content"
	"github.com/imdevinc/netinf-node/internal/storage"
	"github.com/imdevinc/netinf-node/internal/util"
)

const (
	DefaultChunkThreshold = 1 << 20
	DefaultMinChunk       = 16 * 1024
	DefaultAvgChunk       = 64 * 1024
	DefaultMaxChunk       = 256 * 1024
)

// Config holds publishing settings
type Config struct {
	Algorithm      string   // hash algorithm, defaults to sha-256
	Locators       []string // this node's advertised locators, highest priority first
	ChunkThreshold int64    // content larger than this is chunked; negative disables
	MinChunk       int
	AvgChunk       int
	MaxChunk       int
	Push           bool // push whole content to the HTTP cache after ingest
}

// Pusher sends content to a remote cache
type Pusher interface {
	Publish(ctx context.Context, handle content.Handle, data []byte) (bool, error)
}

// Publisher stores content and builds its object descriptor
type Publisher struct {
	store  *storage.Store
	cfg    Config
	pusher Pusher
}

// New creates a publisher. pusher may be nil when Push is off.
func New(store *storage.Store, cfg Config, pusher Pusher) (*Publisher, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = util.DefaultAlgorithm
	}
	if !util.KnownAlgorithm(cfg.Algorithm) {
		return nil, fmt.Errorf("%w: %s", util.ErrUnknownAlgorithm, cfg.Algorithm)
	}
	if cfg.ChunkThreshold == 0 {
		cfg.ChunkThreshold = DefaultChunkThreshold
	}
	if cfg.MinChunk == 0 {
		cfg.MinChunk = DefaultMinChunk
	}
	if cfg.AvgChunk == 0 {
		cfg.AvgChunk = DefaultAvgChunk
	}
	if cfg.MaxChunk == 0 {
		cfg.MaxChunk = DefaultMaxChunk
	}
	if !(cfg.MinChunk <= cfg.AvgChunk && cfg.AvgChunk <= cfg.MaxChunk) {
		return nil, fmt.Errorf("chunk sizes must satisfy min <= avg <= max (got %d/%d/%d)",
			cfg.MinChunk, cfg.AvgChunk, cfg.MaxChunk)
	}
	if cfg.Push && pusher == nil {
		return nil, fmt.Errorf("push enabled without a publisher")
	}
	return &Publisher{store: store, cfg: cfg, pusher: pusher}, nil
}

// Ingest reads the file at path and publishes its content
func (p *Publisher) Ingest(ctx context.Context, path string) (*content.Object, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	obj, err := p.IngestBytes(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to publish %s: %w", path, err)
	}
	slog.Info("Published file", "path", path, "uri", obj.Handle.URI(), "bytes", len(data))
	return obj, nil
}

// IngestBytes stores data, chunking it when it exceeds the threshold, and
// records the resulting object descriptor
func (p *Publisher) IngestBytes(ctx context.Context, data []byte) (*content.Object, error) {
	hash, err := util.ComputeHash(p.cfg.Algorithm, data)
	if err != nil {
		return nil, err
	}
	handle := content.Handle{Algorithm: p.cfg.Algorithm, Value: hash}

	if err := p.store.PutContent(hash, data); err != nil {
		return nil, fmt.Errorf("failed to store content: %w", err)
	}

	obj := &content.Object{Handle: handle}
	for i, loc := range p.cfg.Locators {
		obj.Attributes = append(obj.Attributes, content.LocatorAttr(loc, i+1))
	}

	if p.cfg.ChunkThreshold > 0 && int64(len(data)) > p.cfg.ChunkThreshold {
		chunks, err := p.chunk(ctx, data)
		if err != nil {
			return nil, err
		}
		obj.Attributes = append(obj.Attributes, chunks...)
	}

	if err := p.store.PutObject(obj); err != nil {
		return nil, fmt.Errorf("failed to store object: %w", err)
	}

	if p.cfg.Push {
		ok, err := p.pusher.Publish(ctx, handle, data)
		switch {
		case err != nil:
			slog.Warn("Cache push failed", "uri", handle.URI(), "error", err)
		case !ok:
			slog.Warn("Cache push rejected", "uri", handle.URI())
		default:
			slog.Debug("Pushed to cache", "uri", handle.URI())
		}
	}

	return obj, nil
}

// chunk splits data with content-defined chunking and stores every chunk
// under its own hash
func (p *Publisher) chunk(ctx context.Context, data []byte) ([]content.Attribute, error) {
	cdc, err := fastcdc.NewChunker(bytes.NewReader(data), fastcdc.Options{
		MinSize:     p.cfg.MinChunk,
		AverageSize: p.cfg.AvgChunk,
		MaxSize:     p.cfg.MaxChunk,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	var attrs []content.Attribute
	var offset int64
	for index := 0; ; index++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := cdc.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to split content: %w", err)
		}

		// c.Data is reused by the chunker; slice the original instead.
		size := int64(len(c.Data))
		part := data[offset : offset+size]
		hash, err := util.ComputeHash(p.cfg.Algorithm, part)
		if err != nil {
			return nil, err
		}
		if err := p.store.PutContent(hash, part); err != nil {
			return nil, fmt.Errorf("failed to store chunk %d: %w", index, err)
		}
		attrs = append(attrs, content.Attribute{
			Purpose: content.PurposeChunk,
			Chunk: &content.ChunkAttr{
				Index:  index,
				Ref:    hash,
				Size:   size,
				Offset: offset,
			},
		})
		offset += size
	}

	slog.Debug("Chunked content", "bytes", len(data), "chunks", len(attrs))
	return attrs, nil
}
