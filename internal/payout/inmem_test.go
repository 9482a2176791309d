package payout

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"
)

// fakeRepo is an in-memory Repository with the same atomicity guarantees
// the postgres implementation gets from row locks: every reserve, settle
// and rollback is a single critical section per repository.
type fakeRepo struct {
	mu       sync.Mutex
	balances map[string]*fakeBalance
	payouts  map[string]*Payout // by id
	byKey    map[string]string  // idempotency key -> id
}

type fakeBalance struct {
	available int64
	pending   int64
	earnings  int64
	paidOut   int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		balances: make(map[string]*fakeBalance),
		payouts:  make(map[string]*Payout),
		byKey:    make(map[string]string),
	}
}

func balanceKey(walletID, currency string) string { return walletID + "|" + currency }

func (f *fakeRepo) credit(walletID, currency string, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := balanceKey(walletID, currency)
	b, ok := f.balances[key]
	if !ok {
		b = &fakeBalance{}
		f.balances[key] = b
	}
	b.available += amount
	b.earnings += amount
}

func (f *fakeRepo) balance(walletID, currency string) fakeBalance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.balances[balanceKey(walletID, currency)]
}

// invariantHolds checks available + pending + paid_out == earnings and
// available >= 0 for every wallet.
func (f *fakeRepo) invariantHolds() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.balances {
		if b.available < 0 {
			return false
		}
		if b.available+b.pending+b.paidOut != b.earnings {
			return false
		}
	}
	return true
}

func (f *fakeRepo) FindByKey(_ context.Context, idempotencyKey string) (*Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byKey[idempotencyKey]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *f.payouts[id]
	return &clone, nil
}

func (f *fakeRepo) Reserve(_ context.Context, p *Payout) (*Payout, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if id, ok := f.byKey[p.IdempotencyKey]; ok {
		clone := *f.payouts[id]
		return &clone, false, nil
	}

	b, ok := f.balances[balanceKey(p.WalletID, p.Currency)]
	if !ok || p.AmountMinor <= 0 || p.AmountMinor > b.available {
		return nil, false, ErrInsufficientBalance
	}

	b.available -= p.AmountMinor
	b.pending += p.AmountMinor

	stored := *p
	stored.Status = StatusProcessing
	stored.Attempts = 1
	stored.InitiatedAt = time.Now()
	f.payouts[stored.ID] = &stored
	f.byKey[stored.IdempotencyKey] = stored.ID

	clone := stored
	return &clone, true, nil
}

func (f *fakeRepo) Reactivate(_ context.Context, payoutID string) (*Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.payouts[payoutID]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	if p.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot reactivate %s payout", ErrInvalidTransition, p.Status)
	}

	b := f.balances[balanceKey(p.WalletID, p.Currency)]
	if b == nil || p.AmountMinor > b.available {
		return nil, ErrInsufficientBalance
	}
	b.available -= p.AmountMinor
	b.pending += p.AmountMinor

	p.Status = StatusProcessing
	p.Attempts++
	p.FailureReason = nil
	p.ProviderRef = ""

	clone := *p
	return &clone, nil
}

func (f *fakeRepo) Settle(_ context.Context, payoutID, providerRef string) (*Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.payouts[payoutID]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	if p.Status == StatusCompleted {
		clone := *p
		return &clone, nil
	}
	if p.Status != StatusProcessing {
		return nil, fmt.Errorf("%w: cannot settle %s payout", ErrInvalidTransition, p.Status)
	}

	b := f.balances[balanceKey(p.WalletID, p.Currency)]
	b.pending -= p.AmountMinor
	b.paidOut += p.AmountMinor

	now := time.Now()
	p.Status = StatusCompleted
	p.ProviderRef = providerRef
	p.CompletedAt = &now

	clone := *p
	return &clone, nil
}

func (f *fakeRepo) Rollback(_ context.Context, payoutID, reason string) (*Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.payouts[payoutID]
	if !ok {
		return nil, ErrPayoutNotFound
	}
	if p.Status != StatusProcessing {
		return nil, fmt.Errorf("%w: cannot roll back %s payout", ErrInvalidTransition, p.Status)
	}

	b := f.balances[balanceKey(p.WalletID, p.Currency)]
	b.pending -= p.AmountMinor
	b.available += p.AmountMinor

	p.Status = StatusFailed
	p.FailureReason = &reason

	clone := *p
	return &clone, nil
}

func (f *fakeRepo) EligibleWallets(_ context.Context, currency string, minimum int64) ([]EligibleWallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var wallets []EligibleWallet
	for key, b := range f.balances {
		var walletID, cur string
		for i := range key {
			if key[i] == '|' {
				walletID, cur = key[:i], key[i+1:]
				break
			}
		}
		if cur == currency && b.available >= minimum {
			wallets = append(wallets, EligibleWallet{WalletID: walletID, Currency: cur, AvailableMinor: b.available})
		}
	}
	sort.Slice(wallets, func(i, j int) bool { return wallets[i].AvailableMinor > wallets[j].AvailableMinor })
	return wallets, nil
}

func (f *fakeRepo) ResetFailed(_ context.Context, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var count int64
	for _, p := range f.payouts {
		if p.Status == StatusFailed && !p.InitiatedAt.Before(since) {
			p.Status = StatusPending
			p.FailureReason = nil
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) ListPending(_ context.Context, limit int) ([]Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var pending []Payout
	for _, p := range f.payouts {
		if p.Status == StatusPending {
			pending = append(pending, *p)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].InitiatedAt.Before(pending[j].InitiatedAt) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// fakeSettings is an in-memory settings.Repository.
type fakeSettings struct {
	mu       sync.Mutex
	enabled  bool
	minimums map[string]int64
}

func newFakeSettings(enabled bool) *fakeSettings {
	return &fakeSettings{enabled: enabled, minimums: make(map[string]int64)}
}

func (f *fakeSettings) PayoutsEnabled(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled, nil
}

func (f *fakeSettings) SetPayoutsEnabled(_ context.Context, enabled bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	previous := f.enabled
	f.enabled = enabled
	return previous, nil
}

func (f *fakeSettings) PayoutMinimum(_ context.Context, currency string) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.minimums[currency]
	return m, ok, nil
}

func (f *fakeSettings) PayoutMinimums(_ context.Context) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int64, len(f.minimums))
	for k, v := range f.minimums {
		out[k] = v
	}
	return out, nil
}

func (f *fakeSettings) SetPayoutMinimum(_ context.Context, currency string, minimum int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minimums[currency] = minimum
	return nil
}

// stubProvider scripts provider behavior per call.
type stubProvider struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, req ProviderRequest) (*ProviderResult, error)
}

func (s *stubProvider) InitiatePayout(_ context.Context, req ProviderRequest) (*ProviderResult, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		return fn(call, req)
	}
	return &ProviderResult{ProviderRef: fmt.Sprintf("po_%d", call)}, nil
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
