package resultstore

import "context"

// Store is an append-only results log. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append adds a record to the log.
	Append(ctx context.Context, rec Record) error
	// Records returns a copy of the log, in Sort order.
	Records(ctx context.Context) ([]Record, error)
}
