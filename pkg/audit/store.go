package audit

import "context"

// Store is the read side of the audit trail
type Store interface {
	// Search returns entries matching filter ordered by time, then
	// sequence
	Search(ctx context.Context, filter Filter) ([]*Entry, error)

	// Export encodes the entries matching filter
	Export(ctx context.Context, filter Filter, format ExportFormat) ([]byte, error)
}

var (
	_ Store  = (*DBLogger)(nil)
	_ Store  = (*MemoryLogger)(nil)
	_ Logger = (*DBLogger)(nil)
	_ Logger = (*MemoryLogger)(nil)
	_ Logger = (*FileLogger)(nil)
	_ Logger = (*MultiLogger)(nil)
	_ Logger = (*AsyncLogger)(nil)
	_ Logger = NoopLogger{}
)
