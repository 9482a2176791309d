package payout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPayoutNotFound      = errors.New("payout not found")
	ErrInvalidTransition   = errors.New("invalid payout state transition")
)

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const payoutColumns = `id, wallet_id, amount_minor, currency, status, method,
	idempotency_key, provider_ref, failure_reason, attempts, initiated_at, completed_at`

func (r *repository) FindByKey(ctx context.Context, idempotencyKey string) (*Payout, error) {
	var p Payout
	err := r.db.GetContext(ctx, &p,
		`SELECT `+payoutColumns+` FROM payouts WHERE idempotency_key = $1`,
		idempotencyKey,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repository) getByID(ctx context.Context, q sqlx.QueryerContext, payoutID string, forUpdate bool) (*Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var p Payout
	err := sqlx.GetContext(ctx, q, &p, query, payoutID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPayoutNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// lockBalance takes the row lock that serializes every read-modify-write of
// one (wallet, currency) balance.
func lockBalance(ctx context.Context, tx *sqlx.Tx, walletID, currency string) (available, pending int64, err error) {
	err = tx.QueryRowxContext(ctx,
		`SELECT available_minor, pending_payout_minor
		 FROM wallet_balances
		 WHERE wallet_id = $1 AND currency = $2
		 FOR UPDATE`,
		walletID, currency,
	).Scan(&available, &pending)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, ErrInsufficientBalance
	}
	return available, pending, err
}

func moveBalance(ctx context.Context, tx *sqlx.Tx, walletID, currency string, availableDelta, pendingDelta, paidOutDelta int64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE wallet_balances
		 SET available_minor = available_minor + $3,
		     pending_payout_minor = pending_payout_minor + $4,
		     total_paid_out_minor = total_paid_out_minor + $5,
		     updated_at = NOW()
		 WHERE wallet_id = $1 AND currency = $2`,
		walletID, currency, availableDelta, pendingDelta, paidOutDelta,
	)
	return err
}

func (r *repository) Reserve(ctx context.Context, p *Payout) (*Payout, bool, error) {
	currency := strings.ToUpper(p.Currency)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	available, _, err := lockBalance(ctx, tx, p.WalletID, currency)
	if err != nil {
		return nil, false, err
	}
	if p.AmountMinor <= 0 || p.AmountMinor > available {
		return nil, false, ErrInsufficientBalance
	}

	if err := moveBalance(ctx, tx, p.WalletID, currency, -p.AmountMinor, p.AmountMinor, 0); err != nil {
		return nil, false, err
	}

	var inserted Payout
	err = tx.QueryRowxContext(ctx,
		`INSERT INTO payouts (id, wallet_id, amount_minor, currency, status, method, idempotency_key, attempts)
		 VALUES ($1, $2, $3, $4, 'processing', $5, $6, 1)
		 RETURNING `+payoutColumns,
		p.ID, p.WalletID, p.AmountMinor, currency, p.Method, p.IdempotencyKey,
	).StructScan(&inserted)
	if err != nil {
		if isUniqueViolation(err) {
			// Another request with the same key won; its reservation
			// stands and ours never happened.
			_ = tx.Rollback()
			existing, ferr := r.FindByKey(ctx, p.IdempotencyKey)
			if ferr != nil {
				return nil, false, ferr
			}
			return existing, false, nil
		}
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return &inserted, true, nil
}

func (r *repository) Reactivate(ctx context.Context, payoutID string) (*Payout, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := r.getByID(ctx, tx, payoutID, true)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot reactivate %s payout", ErrInvalidTransition, p.Status)
	}

	available, _, err := lockBalance(ctx, tx, p.WalletID, p.Currency)
	if err != nil {
		return nil, err
	}
	if p.AmountMinor > available {
		// Leave the row pending; a later sweep may succeed once the
		// wallet re-accumulates balance.
		return nil, ErrInsufficientBalance
	}

	if err := moveBalance(ctx, tx, p.WalletID, p.Currency, -p.AmountMinor, p.AmountMinor, 0); err != nil {
		return nil, err
	}

	var updated Payout
	err = tx.QueryRowxContext(ctx,
		`UPDATE payouts
		 SET status = 'processing', attempts = attempts + 1, failure_reason = NULL, provider_ref = ''
		 WHERE id = $1
		 RETURNING `+payoutColumns,
		payoutID,
	).StructScan(&updated)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *repository) Settle(ctx context.Context, payoutID, providerRef string) (*Payout, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := r.getByID(ctx, tx, payoutID, true)
	if err != nil {
		return nil, err
	}
	if p.Status == StatusCompleted {
		// Already settled; completed is terminal and immutable.
		return p, nil
	}
	if p.Status != StatusProcessing {
		return nil, fmt.Errorf("%w: cannot settle %s payout", ErrInvalidTransition, p.Status)
	}

	if _, _, err := lockBalance(ctx, tx, p.WalletID, p.Currency); err != nil {
		return nil, err
	}
	if err := moveBalance(ctx, tx, p.WalletID, p.Currency, 0, -p.AmountMinor, p.AmountMinor); err != nil {
		return nil, err
	}

	var updated Payout
	err = tx.QueryRowxContext(ctx,
		`UPDATE payouts
		 SET status = 'completed', provider_ref = $2, completed_at = NOW()
		 WHERE id = $1
		 RETURNING `+payoutColumns,
		payoutID, providerRef,
	).StructScan(&updated)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *repository) Rollback(ctx context.Context, payoutID, reason string) (*Payout, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	p, err := r.getByID(ctx, tx, payoutID, true)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusProcessing {
		return nil, fmt.Errorf("%w: cannot roll back %s payout", ErrInvalidTransition, p.Status)
	}

	if _, _, err := lockBalance(ctx, tx, p.WalletID, p.Currency); err != nil {
		return nil, err
	}
	if err := moveBalance(ctx, tx, p.WalletID, p.Currency, p.AmountMinor, -p.AmountMinor, 0); err != nil {
		return nil, err
	}

	var updated Payout
	err = tx.QueryRowxContext(ctx,
		`UPDATE payouts
		 SET status = 'failed', failure_reason = $2
		 WHERE id = $1
		 RETURNING `+payoutColumns,
		payoutID, reason,
	).StructScan(&updated)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *repository) EligibleWallets(ctx context.Context, currency string, minimum int64) ([]EligibleWallet, error) {
	var wallets []EligibleWallet
	err := r.db.SelectContext(ctx, &wallets,
		`SELECT wallet_id, currency, available_minor
		 FROM wallet_balances
		 WHERE currency = $1 AND available_minor >= $2
		 ORDER BY available_minor DESC`,
		strings.ToUpper(currency), minimum,
	)
	if err != nil {
		return nil, err
	}
	return wallets, nil
}

func (r *repository) ResetFailed(ctx context.Context, since time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE payouts
		 SET status = 'pending', failure_reason = NULL
		 WHERE status = 'failed' AND initiated_at >= $1`,
		since,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *repository) ListPending(ctx context.Context, limit int) ([]Payout, error) {
	if limit <= 0 {
		limit = 100
	}
	var payouts []Payout
	err := r.db.SelectContext(ctx, &payouts,
		`SELECT `+payoutColumns+`
		 FROM payouts
		 WHERE status = 'pending'
		 ORDER BY initiated_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	return payouts, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(fmt.Sprintf("%v", err), "duplicate key value")
}
