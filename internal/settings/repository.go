package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
)

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.GetContext(ctx, &value, `SELECT value FROM platform_settings WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (r *repository) set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO platform_settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, key, value)
	return err
}

func (r *repository) PayoutsEnabled(ctx context.Context) (bool, error) {
	value, found, err := r.get(ctx, KeyPayoutsEnabled)
	if err != nil {
		return false, err
	}
	if !found {
		// No row reads as disabled: payouts fail closed.
		return false, nil
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("malformed %s value %q: %w", KeyPayoutsEnabled, value, err)
	}
	return enabled, nil
}

func (r *repository) SetPayoutsEnabled(ctx context.Context, enabled bool) (bool, error) {
	previous, err := r.PayoutsEnabled(ctx)
	if err != nil {
		return false, err
	}
	if err := r.set(ctx, KeyPayoutsEnabled, strconv.FormatBool(enabled)); err != nil {
		return false, err
	}
	return previous, nil
}

func (r *repository) PayoutMinimum(ctx context.Context, currency string) (int64, bool, error) {
	value, found, err := r.get(ctx, payoutMinimumPrefix+strings.ToUpper(currency))
	if err != nil || !found {
		return 0, false, err
	}
	minimum, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("malformed payout minimum for %s: %w", currency, err)
	}
	return minimum, true, nil
}

func (r *repository) PayoutMinimums(ctx context.Context) (map[string]int64, error) {
	var rows []Setting
	err := r.db.SelectContext(ctx, &rows, `
		SELECT key, value, updated_at FROM platform_settings WHERE key LIKE $1
	`, payoutMinimumPrefix+"%")
	if err != nil {
		return nil, err
	}

	minimums := make(map[string]int64, len(rows))
	for _, row := range rows {
		currency := strings.TrimPrefix(row.Key, payoutMinimumPrefix)
		minimum, err := strconv.ParseInt(row.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed payout minimum for %s: %w", currency, err)
		}
		minimums[currency] = minimum
	}
	return minimums, nil
}

func (r *repository) SetPayoutMinimum(ctx context.Context, currency string, minimum int64) error {
	return r.set(ctx, payoutMinimumPrefix+strings.ToUpper(currency), strconv.FormatInt(minimum, 10))
}
