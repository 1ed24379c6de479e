package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/imdevinc/netinf-node/internal/content"
	"github.com/imdevinc/netinf-node/internal/locator"
	"github.com/imdevinc/netinf-node/internal/transfer"
)

// Strategy selects how chunks of one object are fetched
type Strategy string

const (
	// StrategySequential fetches one chunk at a time, lazily as the reader
	// is drained
	StrategySequential Strategy = "sequential"
	// StrategyConcurrent fetches all chunks in parallel and assembles them
	// by index once every fetch has completed
	StrategyConcurrent Strategy = "concurrent"
)

// ParseStrategy converts a config string to a Strategy
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategySequential, StrategyConcurrent:
		return Strategy(s), nil
	case "":
		return StrategyConcurrent, nil
	default:
		return "", fmt.Errorf("unknown chunk strategy %q", s)
	}
}

// chunkJob is one planned chunk fetch
type chunkJob struct {
	chunk    content.Chunk
	handle   content.Handle
	locators []string
	ownHash  bool
}

// planChunks orders the chunks by index and resolves each chunk's candidate
// locators and request hash. A chunk without its own locators falls back to
// the parent's whole-object locators.
func planChunks(obj *content.Object) ([]chunkJob, error) {
	chunks, err := obj.Chunks()
	if err != nil {
		return nil, err
	}
	parent := locator.Select(obj).Values()

	jobs := make([]chunkJob, len(chunks))
	for i, c := range chunks {
		job := chunkJob{chunk: c, handle: obj.Handle, locators: c.Locators}
		if c.Hash != "" {
			job.handle = content.Handle{Algorithm: obj.Handle.Algorithm, Value: c.Hash}
			job.ownHash = true
		}
		if len(job.locators) == 0 {
			job.locators = parent
		}
		if len(job.locators) == 0 {
			return nil, fmt.Errorf("%w: chunk %d has no locators", transfer.ErrInvalidObject, c.Index)
		}
		jobs[i] = job
	}
	return jobs, nil
}

// fetchChunked materializes a chunked object
func (d *Dispatcher) fetchChunked(ctx context.Context, obj *content.Object) ([]byte, error) {
	rc, err := d.openChunks(ctx, obj, func() {})
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// openChunks plans the chunks and returns the assembled stream. release is
// called when the stream is closed.
func (d *Dispatcher) openChunks(ctx context.Context, obj *content.Object, release func()) (io.ReadCloser, error) {
	jobs, err := planChunks(obj)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("Reassembling chunked object",
		"uri", obj.Handle.URI(),
		"chunks", len(jobs),
		"strategy", d.strategy,
	)

	if d.strategy == StrategySequential {
		return &sequentialReader{ctx: ctx, d: d, jobs: jobs, release: release}, nil
	}

	parts, err := d.fetchConcurrent(ctx, jobs)
	if err != nil {
		return nil, err
	}
	readers := make([]io.Reader, len(parts))
	for i, p := range parts {
		readers[i] = bytes.NewReader(p)
	}
	return &assembled{Reader: io.MultiReader(readers...), release: release}, nil
}

// fetchConcurrent fetches every chunk with bounded parallelism. Results are
// stored by plan position so assembly order never depends on completion
// order. The first failure cancels the remaining fetches.
func (d *Dispatcher) fetchConcurrent(ctx context.Context, jobs []chunkJob) ([][]byte, error) {
	parts := make([][]byte, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.chunkConcurrency)

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			data, err := d.fetchChunk(gctx, job)
			if err != nil {
				return err
			}
			parts[i] = data
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

// fetchChunk tries the chunk's locators in order. Exhausting them fails the
// whole reassembly.
func (d *Dispatcher) fetchChunk(ctx context.Context, job chunkJob) ([]byte, error) {
	for _, loc := range job.locators {
		if d.isSelf(loc) {
			d.logger.Debug("Skipping self locator", "locator", loc, "chunk", job.chunk.Index)
			continue
		}
		if ctx.Err() != nil {
			break
		}

		data, err := d.fetchFrom(ctx, loc, job.handle, d.verify && job.ownHash)
		if err == nil {
			data, err = sliceChunk(data, job.chunk)
		}
		if err != nil {
			d.logger.Warn("Chunk locator failed",
				"chunk", job.chunk.Index,
				"locator", loc,
				"error", err,
			)
			continue
		}

		d.logger.Debug("Fetched chunk", "chunk", job.chunk.Index, "locator", loc, "bytes", len(data))
		return data, nil
	}
	return nil, fmt.Errorf("%w: chunk %d", transfer.ErrChunkFetchFailed, job.chunk.Index)
}

// sliceChunk trims a payload to the chunk's range. A payload longer than the
// chunk is taken to be the whole object and cut at Offset. Size 0 accepts
// the payload as-is.
func sliceChunk(data []byte, c content.Chunk) ([]byte, error) {
	n := int64(len(data))
	switch {
	case c.Size == 0 || n == c.Size:
		return data, nil
	case n < c.Size:
		return nil, fmt.Errorf("%w: chunk %d has %d of %d bytes", transfer.ErrTruncated, c.Index, n, c.Size)
	case c.Offset+c.Size <= n:
		return data[c.Offset : c.Offset+c.Size], nil
	default:
		return nil, fmt.Errorf("%w: chunk %d range %d+%d outside %d byte payload",
			transfer.ErrProtocol, c.Index, c.Offset, c.Size, n)
	}
}

// assembled is the concurrent strategy's result stream
type assembled struct {
	io.Reader
	release func()
}

func (a *assembled) Close() error {
	a.release()
	return nil
}

// sequentialReader fetches the next chunk only when the previous one has
// been fully read
type sequentialReader struct {
	ctx     context.Context
	d       *Dispatcher
	jobs    []chunkJob
	next    int
	cur     *bytes.Reader
	err     error
	closed  bool
	release func()
}

func (r *sequentialReader) Read(p []byte) (int, error) {
	for {
		if r.closed {
			return 0, io.ErrClosedPipe
		}
		if r.cur != nil && r.cur.Len() > 0 {
			return r.cur.Read(p)
		}
		if r.err != nil {
			return 0, r.err
		}
		if r.next >= len(r.jobs) {
			return 0, io.EOF
		}

		data, err := r.d.fetchChunk(r.ctx, r.jobs[r.next])
		if err != nil {
			r.err = err
			return 0, err
		}
		r.cur = bytes.NewReader(data)
		r.next++
	}
}

func (r *sequentialReader) Close() error {
	if !r.closed {
		r.closed = true
		r.release()
	}
	return nil
}
