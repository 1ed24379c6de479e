// Package netinf is a small client for the NetInf HTTP convergence layer:
// form-encoded GET requests and multipart PUBLISH requests against a cache.
package netinf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultGetPath is appended to the locator for fetch requests
	DefaultGetPath = "/netinfproto/get"
	// DefaultPublishPath is appended to the base URL for publish requests
	DefaultPublishPath = "/netinfproto/publish"

	// ContentTypeOctets is the only media type accepted for content bodies
	ContentTypeOctets = "application/octet-stream"

	defaultTimeout  = 30 * time.Second
	defaultMaxBytes = 1 << 30
)

var (
	// ErrNotFound is returned when the cache answers 404
	ErrNotFound = errors.New("netinf: not found")
	// ErrUnexpectedContentType is returned for a 200 reply that is not octets
	ErrUnexpectedContentType = errors.New("netinf: unexpected content type")
	// ErrTooLarge is returned when a body exceeds MaxBytes
	ErrTooLarge = errors.New("netinf: response body too large")
)

// StatusError reports a non-success HTTP status
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("netinf: unexpected status %s", e.Status)
}

// Config holds client settings
type Config struct {
	Timeout     time.Duration // Per-request timeout when HTTPClient is nil
	GetPath     string        // Defaults to DefaultGetPath
	PublishPath string        // Defaults to DefaultPublishPath
	MaxBytes    int64         // Largest accepted body, defaults to 1 GiB
	HTTPClient  *http.Client  // Optional preconfigured client, used for every request
}

// Client speaks the HTTP convergence layer
type Client struct {
	http        *http.Client
	stream      *http.Client // no overall timeout; bodies are read at the caller's pace
	getPath     string
	publishPath string
	maxBytes    int64
}

// PublishRequest describes one publish operation
type PublishRequest struct {
	URI     string // ni:///alg;value
	HashAlg string
	Hash    string
	FullPut bool
	Ext     string
	Data    []byte
}

// NewClient creates a client with defaults applied
func NewClient(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.GetPath == "" {
		cfg.GetPath = DefaultGetPath
	}
	if cfg.PublishPath == "" {
		cfg.PublishPath = DefaultPublishPath
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	hc, stream := cfg.HTTPClient, cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
		stream = newStreamClient(cfg.Timeout)
	}
	return &Client{
		http:        hc,
		stream:      stream,
		getPath:     cfg.GetPath,
		publishPath: cfg.PublishPath,
		maxBytes:    cfg.MaxBytes,
	}
}

// Get requests the object named by uri from the cache at base
func (c *Client) Get(ctx context.Context, base, uri string) ([]byte, error) {
	form := url.Values{}
	form.Set("URI", uri)
	form.Set("msgid", uuid.NewString())
	form.Set("ext", "")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(base, c.getPath), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != ContentTypeOctets {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedContentType, resp.Header.Get("Content-Type"))
	}

	return c.readBody(resp.Body)
}

// Publish pushes content to the cache at base. It reports true only when the
// cache answers 200.
func (c *Client) Publish(ctx context.Context, base string, pr PublishRequest) (bool, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fullPut := "false"
	if pr.FullPut {
		fullPut = "true"
	}
	fields := []struct{ name, value string }{
		{"URI", pr.URI},
		{"hashAlg", pr.HashAlg},
		{"hash", pr.Hash},
		{"msgid", uuid.NewString()},
		{"fullPut", fullPut},
		{"ext", pr.Ext},
	}
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return false, fmt.Errorf("failed to write form field %s: %w", f.name, err)
		}
	}
	if pr.FullPut {
		part, err := mw.CreateFormFile("octets", pr.Hash)
		if err != nil {
			return false, fmt.Errorf("failed to create octets part: %w", err)
		}
		if _, err := part.Write(pr.Data); err != nil {
			return false, fmt.Errorf("failed to write octets part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return false, fmt.Errorf("failed to finish form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(base, c.publishPath), &buf)
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBytes))

	return resp.StatusCode == http.StatusOK, nil
}

// newStreamClient bounds connecting and waiting for response headers only.
// The body of an open stream is limited by the request context.
func newStreamClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}

// Open starts a plain GET download. The caller must close the body.
func (c *Client) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) readBody(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

func checkStatus(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
