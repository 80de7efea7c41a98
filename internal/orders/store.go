package orders

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no order matches a carrier external ID
// or order reference.
var ErrNotFound = errors.New("order not found")

// Store is the order-store port consumed by the event processor. The
// pipeline references orders, it does not own them; implementations may
// be backed by the service database or by an external system. Reads and
// writes on a single order are assumed read-after-write consistent.
type Store interface {
	// FindByExternalID resolves the local order reference for a
	// carrier-assigned shipment identifier.
	FindByExternalID(ctx context.Context, externalID string) (int64, error)

	Status(ctx context.Context, orderRef int64) (string, error)
	SetStatus(ctx context.Context, orderRef int64, status string) error

	// Metadata returns the value for key and whether it is present.
	Metadata(ctx context.Context, orderRef int64, key string) (string, bool, error)
	SetMetadata(ctx context.Context, orderRef int64, key, value string) error

	AppendNote(ctx context.Context, orderRef int64, note string) error

	// Persist flushes buffered writes for the order. Implementations
	// with immediate writes may make this a no-op.
	Persist(ctx context.Context, orderRef int64) error
}
