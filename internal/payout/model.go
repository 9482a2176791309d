package payout

import "time"

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"

	MethodManual    = "manual"
	MethodThreshold = "threshold"
	MethodRetry     = "retry"
)

// Payout moves through pending -> processing -> {completed | failed};
// failed -> pending only via the retry sweep. completed is terminal: a
// replay of its idempotency key returns the row unchanged.
type Payout struct {
	ID             string     `db:"id" json:"id"`
	WalletID       string     `db:"wallet_id" json:"wallet_id"`
	AmountMinor    int64      `db:"amount_minor" json:"amount_minor"`
	Currency       string     `db:"currency" json:"currency"`
	Status         string     `db:"status" json:"status"`
	Method         string     `db:"method" json:"method"`
	IdempotencyKey string     `db:"idempotency_key" json:"idempotency_key"`
	ProviderRef    string     `db:"provider_ref" json:"provider_ref"`
	FailureReason  *string    `db:"failure_reason" json:"failure_reason,omitempty"`
	Attempts       int        `db:"attempts" json:"attempts"`
	InitiatedAt    time.Time  `db:"initiated_at" json:"initiated_at"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// EligibleWallet is a wallet whose available balance cleared the
// per-currency threshold at selection time.
type EligibleWallet struct {
	WalletID       string `db:"wallet_id"`
	Currency       string `db:"currency"`
	AvailableMinor int64  `db:"available_minor"`
}
