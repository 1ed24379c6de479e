// Package transfer holds the failure taxonomy shared by the wire codec, the
// transport providers and the dispatcher.
package transfer

import (
	"errors"
)

// Per-locator failures. They eliminate one locator (or one chunk source) and
// never abort a dispatch on their own.
var (
	ErrNoProviderFound = errors.New("transfer: no provider for locator")
	ErrConnectFailed   = errors.New("transfer: connect failed")
	ErrProtocol        = errors.New("transfer: protocol error")
	ErrTimeout         = errors.New("transfer: timeout")
	ErrRemoteNotFound  = errors.New("transfer: content not found at remote")
	ErrTruncated       = errors.New("transfer: truncated transfer")
	ErrHashMismatch    = errors.New("transfer: content hash mismatch")
	ErrUnsupported     = errors.New("transfer: transport not supported on this platform")
)

// Terminal failures surfaced to callers.
var (
	ErrNoLocatorSucceeded = errors.New("content could not be retrieved")
	ErrChunkFetchFailed   = errors.New("content could not be retrieved: chunk fetch failed")
	ErrInvalidObject      = errors.New("transfer: invalid content object")
)
