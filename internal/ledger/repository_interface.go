package ledger

import "context"

type Repository interface {
	// RecordCharge inserts the transaction row and credits the wallet
	// balance in a single database transaction.
	RecordCharge(ctx context.Context, charge Charge) (*WalletBalance, error)

	// RecordRefund inserts a linked refund row and debits the wallet
	// balance, clamped at zero; any shortfall lands in adjustment_minor.
	RecordRefund(ctx context.Context, refund Refund) (*WalletBalance, error)

	GetBalance(ctx context.Context, walletID, currency string) (*WalletBalance, error)

	ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]Transaction, error)
}
