package webhook

import "context"

type Repository interface {
	// Ingest inserts the idempotency row for (provider, eventID).
	// created=false means the pair was already recorded and the caller
	// must skip all side effects.
	Ingest(ctx context.Context, provider, eventID, checksum string) (event *Event, created bool, err error)

	MarkProcessed(ctx context.Context, id int64) error

	MarkFailed(ctx context.Context, id int64) error
}
