package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrInvalidCurrency  = errors.New("invalid currency code")
	ErrBalanceNotFound  = errors.New("wallet balance not found")
	ErrDuplicateCharge  = errors.New("charge already recorded for provider reference")
	ErrMissingReference = errors.New("provider reference is required")
)

type repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const balanceColumns = `wallet_id, currency, available_minor, pending_payout_minor,
	total_earnings_minor, total_paid_out_minor, adjustment_minor, updated_at`

// lockBalance loads the (wallet, currency) balance row FOR UPDATE, creating
// a zero row first when the wallet has never earned in that currency.
func lockBalance(ctx context.Context, tx *sqlx.Tx, walletID, currency string) (*WalletBalance, error) {
	var b WalletBalance
	err := tx.QueryRowxContext(ctx,
		`SELECT `+balanceColumns+`
		 FROM wallet_balances
		 WHERE wallet_id = $1 AND currency = $2
		 FOR UPDATE`,
		walletID, currency,
	).StructScan(&b)
	if err == nil {
		return &b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	err = tx.QueryRowxContext(ctx,
		`INSERT INTO wallet_balances (wallet_id, currency)
		 VALUES ($1, $2)
		 RETURNING `+balanceColumns,
		walletID, currency,
	).StructScan(&b)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func updateBalance(ctx context.Context, tx *sqlx.Tx, b *WalletBalance) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE wallet_balances
		 SET available_minor = $3,
		     pending_payout_minor = $4,
		     total_earnings_minor = $5,
		     total_paid_out_minor = $6,
		     adjustment_minor = $7,
		     updated_at = NOW()
		 WHERE wallet_id = $1 AND currency = $2`,
		b.WalletID, b.Currency,
		b.AvailableMinor, b.PendingPayoutMinor, b.TotalEarningsMinor,
		b.TotalPaidOutMinor, b.AdjustmentMinor,
	)
	return err
}

func (r *repository) RecordCharge(ctx context.Context, charge Charge) (*WalletBalance, error) {
	if charge.GrossMinor <= 0 {
		return nil, ErrInvalidAmount
	}
	if charge.ProviderRef == "" {
		return nil, ErrMissingReference
	}
	currency := strings.ToUpper(charge.Currency)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	b, err := lockBalance(ctx, tx, charge.WalletID, currency)
	if err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions (wallet_id, type, status, gross_minor, net_minor, fee_minor, currency, provider, provider_ref)
		 VALUES ($1, 'charge', 'succeeded', $2, $3, $4, $5, $6, $7)`,
		charge.WalletID, charge.GrossMinor, charge.NetMinor, charge.FeeMinor,
		currency, charge.Provider, charge.ProviderRef,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateCharge
		}
		return nil, err
	}

	b.TotalEarningsMinor += charge.GrossMinor
	b.AvailableMinor += charge.GrossMinor
	if err := updateBalance(ctx, tx, b); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *repository) RecordRefund(ctx context.Context, refund Refund) (*WalletBalance, error) {
	if refund.NetMinor <= 0 {
		return nil, ErrInvalidAmount
	}
	currency := strings.ToUpper(refund.Currency)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	b, err := lockBalance(ctx, tx, refund.WalletID, currency)
	if err != nil {
		return nil, err
	}

	// Locate the original charge for linkage and mark it refunded. The
	// refund still records when the original is unknown.
	var linkedTxID *int64
	var originalID int64
	err = tx.GetContext(ctx, &originalID,
		`SELECT id FROM transactions
		 WHERE provider = $1 AND provider_ref = $2 AND type = 'charge'`,
		refund.Provider, refund.OriginalRef,
	)
	switch {
	case err == nil:
		linkedTxID = &originalID
		if _, err := tx.ExecContext(ctx,
			`UPDATE transactions SET status = 'refunded' WHERE id = $1`, originalID,
		); err != nil {
			return nil, err
		}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions (wallet_id, type, status, gross_minor, net_minor, fee_minor, currency, provider, provider_ref, linked_tx_id)
		 VALUES ($1, 'refund', 'succeeded', $2, $2, 0, $3, $4, $5, $6)`,
		refund.WalletID, refund.NetMinor, currency, refund.Provider, refund.ProviderRef, linkedTxID,
	)
	if err != nil {
		return nil, err
	}

	// Debit what the available balance can absorb; the remainder becomes a
	// reconciliation adjustment so available never goes negative.
	absorbed := refund.NetMinor
	if absorbed > b.AvailableMinor {
		absorbed = b.AvailableMinor
	}
	shortfall := refund.NetMinor - absorbed

	b.AvailableMinor -= absorbed
	b.TotalEarningsMinor -= absorbed
	b.AdjustmentMinor += shortfall
	if err := updateBalance(ctx, tx, b); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *repository) GetBalance(ctx context.Context, walletID, currency string) (*WalletBalance, error) {
	var b WalletBalance
	err := r.db.GetContext(ctx, &b,
		`SELECT `+balanceColumns+`
		 FROM wallet_balances
		 WHERE wallet_id = $1 AND currency = $2`,
		walletID, strings.ToUpper(currency),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBalanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *repository) ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	var txs []Transaction
	err := r.db.SelectContext(ctx, &txs, `
		SELECT id, wallet_id, type, status, gross_minor, net_minor, fee_minor, currency, provider, provider_ref, linked_tx_id, created_at
		FROM transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, walletID, limit, offset)
	if err != nil {
		return nil, err
	}

	return txs, nil
}

// isUniqueViolation reports whether err is a postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(fmt.Sprintf("%v", err), "duplicate key value")
}
