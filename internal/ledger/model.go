package ledger

import "time"

const (
	TxTypeCharge = "charge"
	TxTypeRefund = "refund"

	TxStatusPending   = "pending"
	TxStatusSucceeded = "succeeded"
	TxStatusFailed    = "failed"
	TxStatusRefunded  = "refunded"
)

// Transaction is an append-only record of money received. A refund is a new
// row linked to the original charge, never an in-place mutation.
type Transaction struct {
	ID          int64     `db:"id" json:"id"`
	WalletID    string    `db:"wallet_id" json:"wallet_id"`
	Type        string    `db:"type" json:"type"`
	Status      string    `db:"status" json:"status"`
	GrossMinor  int64     `db:"gross_minor" json:"gross_minor"`
	NetMinor    int64     `db:"net_minor" json:"net_minor"`
	FeeMinor    int64     `db:"fee_minor" json:"fee_minor"`
	Currency    string    `db:"currency" json:"currency"`
	Provider    string    `db:"provider" json:"provider"`
	ProviderRef string    `db:"provider_ref" json:"provider_ref"`
	LinkedTxID  *int64    `db:"linked_tx_id" json:"linked_tx_id,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// WalletBalance holds the derived per-(wallet, currency) balance. It is
// mutated only by this package (charges, refunds) and the payout executor
// (reserve, settle, rollback), always under a row lock, and always keeping
//
//	available + pending_payout + total_paid_out == total_earnings
//	available >= 0
//
// AdjustmentMinor accumulates refund shortfall that could not be absorbed
// by the available balance; it is a reconciliation flag, not part of the
// balance equation.
type WalletBalance struct {
	WalletID           string    `db:"wallet_id" json:"wallet_id"`
	Currency           string    `db:"currency" json:"currency"`
	AvailableMinor     int64     `db:"available_minor" json:"available_minor"`
	PendingPayoutMinor int64     `db:"pending_payout_minor" json:"pending_payout_minor"`
	TotalEarningsMinor int64     `db:"total_earnings_minor" json:"total_earnings_minor"`
	TotalPaidOutMinor  int64     `db:"total_paid_out_minor" json:"total_paid_out_minor"`
	AdjustmentMinor    int64     `db:"adjustment_minor" json:"adjustment_minor"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// Charge describes a successful provider charge to be recorded.
type Charge struct {
	WalletID    string `json:"wallet_id"`
	GrossMinor  int64  `json:"gross_minor"`
	NetMinor    int64  `json:"net_minor"`
	FeeMinor    int64  `json:"fee_minor"`
	Currency    string `json:"currency"`
	Provider    string `json:"provider"`
	ProviderRef string `json:"provider_ref"`
}

// Refund describes a provider refund against an earlier charge.
type Refund struct {
	WalletID    string `json:"wallet_id"`
	NetMinor    int64  `json:"net_minor"`
	Currency    string `json:"currency"`
	Provider    string `json:"provider"`
	ProviderRef string `json:"provider_ref"`
	OriginalRef string `json:"original_ref"`
}
