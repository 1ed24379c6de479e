// Package server answers wire-protocol requests from the local store so
// other nodes can fetch content from this one over tcp:// locators.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/imdevinc/netinf-node/internal/storage"
	"github.com/imdevinc/netinf-node/internal/wire"
)

const (
	defaultIOTimeout = 30 * time.Second

	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// ContentSource resolves a requested hash value to bytes
type ContentSource interface {
	GetContent(hash string) ([]byte, error)
}

// Config holds server settings
type Config struct {
	Addr      string        // listen address, e.g. ":7000"
	IOTimeout time.Duration // bound for one request/reply exchange
}

// Server serves one request per accepted connection
type Server struct {
	cfg    Config
	source ContentSource

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// New creates a server reading from source
func New(source ContentSource, cfg Config) *Server {
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = defaultIOTimeout
	}
	return &Server{
		cfg:    cfg,
		source: source,
		conns:  make(map[net.Conn]struct{}),
	}
}

// Listen opens the TCP listener
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	slog.Info("Server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listen address, or "" before Listen
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts connections until ctx is done or Close is called
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if errors.Is(err, net.ErrClosed) {
			s.wg.Wait()
			return nil
		}
		if err != nil {
			if backoff == 0 {
				backoff = minAcceptBackoff
			} else if backoff *= 2; backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			slog.Warn("Accept failed", "error", err, "retryIn", backoff)
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
			continue
		}
		backoff = 0

		if !s.track(conn) {
			conn.Close()
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting and closes open connections
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()

	if ln != nil {
		return ln.Close()
	}
	return nil
}

func (s *Server) track(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	c.Close()
}

// handleConn reads one request and writes the reply
func (s *Server) handleConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	if err := conn.SetDeadline(time.Now().Add(s.cfg.IOTimeout)); err != nil {
		slog.Debug("Failed to set deadline", "remote", remote, "error", err)
	}

	req, err := wire.ReadMessage(conn)
	if err != nil {
		slog.Debug("Failed to read request", "remote", remote, "error", err)
		return
	}
	if req.Code != wire.CodeRequest {
		slog.Debug("Unexpected message", "remote", remote, "code", req.Code)
		wire.WriteMessage(conn, wire.NewReply(false, "bad request"))
		return
	}

	data, err := s.source.GetContent(req.Data)
	if err != nil {
		status := "not found"
		if !errors.Is(err, storage.ErrNotFound) {
			slog.Warn("Failed to load content", "hash", req.Data, "error", err)
			status = "unavailable"
		}
		if err := wire.WriteMessage(conn, wire.NewReply(false, status)); err != nil {
			slog.Debug("Failed to write reply", "remote", remote, "error", err)
		}
		return
	}

	if err := wire.WriteMessage(conn, wire.NewReply(true, "ok")); err != nil {
		slog.Debug("Failed to write reply", "remote", remote, "error", err)
		return
	}
	if err := wire.WritePayload(conn, data); err != nil {
		slog.Debug("Failed to write payload", "remote", remote, "error", err)
		return
	}
	slog.Debug("Served content", "remote", remote, "hash", req.Data, "bytes", len(data))
}
