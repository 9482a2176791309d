package settings

import "time"

const (
	KeyPayoutsEnabled = "payouts_enabled"

	// Per-currency payout minimums are stored under payout_minimum_<CUR>,
	// e.g. payout_minimum_USD = "5000".
	payoutMinimumPrefix = "payout_minimum_"
)

type Setting struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
