package provider

import (
	"context"
	"io"

	"github.com/imdevinc/netinf-node/internal/content"
)

// Provider is a transport able to fetch content-addressed bytes from a
// locator. Fetch must release every resource it acquired before returning,
// whatever the outcome, so the dispatcher can move on to the next locator.
type Provider interface {
	// CanHandle reports whether the locator's scheme belongs to this transport
	CanHandle(locator string) bool

	// Fetch returns the full content identified by handle from locator
	Fetch(ctx context.Context, locator string, handle content.Handle) ([]byte, error)

	// Describe returns a short diagnostic description
	Describe() string
}

// StreamProvider opens plain URL-addressed downloads
type StreamProvider interface {
	CanHandle(url string) bool
	Open(ctx context.Context, url string) (io.ReadCloser, error)
	Describe() string
}

// Publisher pushes local content to a remote cache. Only the HTTP
// transport implements it.
type Publisher interface {
	Publish(ctx context.Context, handle content.Handle, data []byte) (bool, error)
}
