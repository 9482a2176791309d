package payout

import (
	"context"
	"time"
)

type Repository interface {
	// FindByKey returns the payout recorded under an idempotency key, or
	// sql.ErrNoRows when the key is unseen.
	FindByKey(ctx context.Context, idempotencyKey string) (*Payout, error)

	// Reserve atomically moves p.AmountMinor from available to
	// pending_payout and inserts the payout row in status processing.
	// created=false means another request holding the same idempotency
	// key won the insert race; the winner's row is returned.
	// Fails with ErrInsufficientBalance without touching anything when
	// the balance cannot cover the amount.
	Reserve(ctx context.Context, p *Payout) (payout *Payout, created bool, err error)

	// Reactivate re-reserves funds for an existing payout that the retry
	// sweep reset to pending, moving it back to processing and bumping
	// the attempt counter.
	Reactivate(ctx context.Context, payoutID string) (*Payout, error)

	// Settle finalizes a processing payout: pending_payout moves to
	// total_paid_out, the row becomes completed with the provider ref.
	Settle(ctx context.Context, payoutID, providerRef string) (*Payout, error)

	// Rollback undoes the reservation of a processing payout:
	// pending_payout moves back to available, the row becomes failed.
	Rollback(ctx context.Context, payoutID, reason string) (*Payout, error)

	// EligibleWallets lists wallets whose available balance in currency
	// is at or above minimum.
	EligibleWallets(ctx context.Context, currency string, minimum int64) ([]EligibleWallet, error)

	// ResetFailed flips failed payouts initiated after since back to
	// pending and clears their failure reason. No transfers are issued.
	ResetFailed(ctx context.Context, since time.Time) (int64, error)

	// ListPending returns payouts awaiting (re-)execution, oldest first.
	ListPending(ctx context.Context, limit int) ([]Payout, error)
}
