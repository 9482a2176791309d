package settings

import "context"

type Repository interface {
	// PayoutsEnabled reads the global switch fresh from storage. A missing
	// row reads as disabled.
	PayoutsEnabled(ctx context.Context) (bool, error)

	// SetPayoutsEnabled flips the switch and returns the previous value.
	SetPayoutsEnabled(ctx context.Context, enabled bool) (bool, error)

	// PayoutMinimum returns the configured minimum for a currency in minor
	// units. ok=false when no minimum is configured for that currency.
	PayoutMinimum(ctx context.Context, currency string) (minimum int64, ok bool, err error)

	// PayoutMinimums returns every configured per-currency minimum.
	PayoutMinimums(ctx context.Context) (map[string]int64, error)

	SetPayoutMinimum(ctx context.Context, currency string, minimum int64) error
}
