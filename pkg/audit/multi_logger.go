package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MultiLogger writes every entry to several sinks. Record returns once all
// sinks have answered, joining their errors.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a new multi-logger that writes to multiple destinations
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Record implements Logger. The entry is stamped before fan-out so every
// sink stores the same id and sequence.
func (m *MultiLogger) Record(ctx context.Context, entry *Entry) error {
	switch len(m.loggers) {
	case 0:
		return nil
	case 1:
		return m.loggers[0].Record(ctx, entry)
	}

	stamp(entry)

	var wg sync.WaitGroup
	errs := make([]error, len(m.loggers))
	for i, logger := range m.loggers {
		wg.Add(1)
		go func(i int, l Logger) {
			defer wg.Done()
			errs[i] = l.Record(ctx, entry)
		}(i, logger)
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Close closes all loggers
func (m *MultiLogger) Close() error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close logger: %w", err))
		}
	}
	return errors.Join(errs...)
}
