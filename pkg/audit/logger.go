package audit

import (
	"context"
	"errors"
)

// ErrClosed is returned when recording to a closed logger
var ErrClosed = errors.New("audit logger is closed")

// Logger records authorization decisions
type Logger interface {
	// Record stores a single entry. Implementations fill a missing id,
	// sequence and timestamp.
	Record(ctx context.Context, entry *Entry) error

	// Close flushes pending entries and releases resources
	Close() error
}

// NoopLogger discards every entry
type NoopLogger struct{}

// NewNoopLogger creates a logger that records nothing
func NewNoopLogger() *NoopLogger {
	return &NoopLogger{}
}

// Record implements Logger
func (NoopLogger) Record(context.Context, *Entry) error { return nil }

// Close implements Logger
func (NoopLogger) Close() error { return nil }
