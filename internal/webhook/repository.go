package webhook

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const eventColumns = `id, provider, provider_event_id, checksum, status, received_at, processed_at`

func (r *repository) Ingest(ctx context.Context, provider, eventID, checksum string) (*Event, bool, error) {
	var e Event
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO webhook_events (provider, provider_event_id, checksum)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (provider, provider_event_id) DO NOTHING
		 RETURNING `+eventColumns,
		provider, eventID, checksum,
	).StructScan(&e)
	if err == nil {
		return &e, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	// Conflict: the event was already recorded. Return the existing row.
	err = r.db.GetContext(ctx, &e,
		`SELECT `+eventColumns+`
		 FROM webhook_events
		 WHERE provider = $1 AND provider_event_id = $2`,
		provider, eventID,
	)
	if err != nil {
		return nil, false, err
	}
	return &e, false, nil
}

func (r *repository) MarkProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events SET status = 'processed', processed_at = NOW() WHERE id = $1`, id)
	return err
}

func (r *repository) MarkFailed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhook_events SET status = 'failed', processed_at = NOW() WHERE id = $1`, id)
	return err
}
