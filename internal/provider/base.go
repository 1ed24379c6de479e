package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	"github.com/imdevinc/netinf-node/internal/content"
	"github.com/imdevinc/netinf-node/internal/transfer"
)

// BaseProvider provides the scheme matching and logging shared by all
// transports
type BaseProvider struct {
	name    string
	schemes []string
}

// NewBaseProvider creates a base for a transport answering the given schemes
func NewBaseProvider(name string, schemes ...string) BaseProvider {
	lower := make([]string, len(schemes))
	for i, s := range schemes {
		lower[i] = strings.ToLower(s)
	}
	return BaseProvider{name: name, schemes: lower}
}

// Name returns the provider's configured name
func (b *BaseProvider) Name() string {
	return b.name
}

// Schemes returns the locator schemes this provider answers
func (b *BaseProvider) Schemes() []string {
	out := make([]string, len(b.schemes))
	copy(out, b.schemes)
	return out
}

// CanHandle is a pure scheme test
func (b *BaseProvider) CanHandle(locator string) bool {
	scheme := content.Scheme(locator)
	if scheme == "" {
		return false
	}
	for _, s := range b.schemes {
		if s == scheme {
			return true
		}
	}
	return false
}

// Describe returns the provider name and schemes
func (b *BaseProvider) Describe() string {
	return fmt.Sprintf("%s (%s)", b.name, strings.Join(b.schemes, ","))
}

// Logging helpers

// LogDebug logs a debug message
func (b *BaseProvider) LogDebug(msg string, args ...any) {
	allArgs := append([]any{"provider", b.name}, args...)
	slog.Debug(msg, allArgs...)
}

// LogInfo logs an informational message
func (b *BaseProvider) LogInfo(msg string, args ...any) {
	allArgs := append([]any{"provider", b.name}, args...)
	slog.Info(msg, allArgs...)
}

// LogWarn logs a warning message
func (b *BaseProvider) LogWarn(msg string, args ...any) {
	allArgs := append([]any{"provider", b.name}, args...)
	slog.Warn(msg, allArgs...)
}

// classify maps raw I/O errors onto the transfer taxonomy. Errors already
// carrying a taxonomy sentinel pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		transfer.ErrConnectFailed,
		transfer.ErrProtocol,
		transfer.ErrTimeout,
		transfer.ErrRemoteNotFound,
		transfer.ErrTruncated,
	} {
		if errors.Is(err, known) {
			return err
		}
	}

	var netErr net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", transfer.ErrTimeout, err)
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("%w: connection closed: %w", transfer.ErrTruncated, err)
	}
	return fmt.Errorf("%w: %w", transfer.ErrProtocol, err)
}
