package payout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"lenspay/internal/logger"
	"lenspay/internal/metrics"
	"lenspay/internal/money"
	"lenspay/internal/settings"
)

var (
	ErrValidation          = errors.New("invalid payout request")
	ErrPayoutsDisabled     = errors.New("payouts are disabled")
	ErrNoMinimumConfigured = errors.New("no payout minimum configured for currency")
)

type ExecuteParams struct {
	WalletID       string
	Amount         money.Money
	IdempotencyKey string
	Method         string
}

type Service interface {
	// Execute runs one payout end to end: reserve, provider call, settle
	// or roll back. Replays of a known idempotency key return the
	// existing payout without side effects.
	Execute(ctx context.Context, params ExecuteParams) (*Payout, error)

	// RunBatch pays out every wallet at or above its currency's minimum.
	// Idempotent per runID. Returns the number of completed payouts.
	RunBatch(ctx context.Context, runID string) (int, error)

	// RetryFailed resets failed payouts within the trailing window to
	// pending. It issues no transfers.
	RetryFailed(ctx context.Context, windowHours int) (int, error)

	// ResumePending re-executes payouts the retry sweep reset to pending.
	ResumePending(ctx context.Context, limit int) (int, error)
}

type service struct {
	repo            Repository
	settings        settings.Repository
	provider        Provider
	providerTimeout time.Duration
}

func NewService(repo Repository, settingsRepo settings.Repository, provider Provider, providerTimeout time.Duration) Service {
	if providerTimeout <= 0 {
		providerTimeout = 15 * time.Second
	}
	return &service{
		repo:            repo,
		settings:        settingsRepo,
		provider:        provider,
		providerTimeout: providerTimeout,
	}
}

// BatchRunID buckets a scheduler invocation time to the hour, so that
// re-invocations within the same hour share a run and cannot double-pay a
// wallet. A fresh hour is a fresh run.
func BatchRunID(t time.Time) string {
	return t.UTC().Format("2006-01-02T15")
}

func validate(params ExecuteParams) error {
	if params.WalletID == "" {
		return fmt.Errorf("%w: wallet id is required", ErrValidation)
	}
	if !params.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if !money.ValidCurrency(params.Amount.Currency) {
		return fmt.Errorf("%w: invalid currency %q", ErrValidation, params.Amount.Currency)
	}
	if params.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrValidation)
	}
	switch params.Method {
	case MethodManual, MethodThreshold, MethodRetry:
	default:
		return fmt.Errorf("%w: unknown method %q", ErrValidation, params.Method)
	}
	return nil
}

// ensureEnabled reads the payout switch fresh, never cached. Any transfer
// attempt fails closed while payouts are paused.
func (s *service) ensureEnabled(ctx context.Context) error {
	enabled, err := s.settings.PayoutsEnabled(ctx)
	if err != nil {
		return err
	}
	if !enabled {
		return ErrPayoutsDisabled
	}
	return nil
}

func (s *service) Execute(ctx context.Context, params ExecuteParams) (*Payout, error) {
	if err := validate(params); err != nil {
		return nil, err
	}

	// The key lookup comes first: a replay returns the recorded payout
	// unchanged even while payouts are paused, since no money moves.
	existing, err := s.repo.FindByKey(ctx, params.IdempotencyKey)
	switch {
	case err == nil:
		if existing.Status == StatusPending {
			// A failed attempt the retry sweep reset. Re-reserving is a
			// fresh transfer attempt, so the switch applies.
			if err := s.ensureEnabled(ctx); err != nil {
				return nil, err
			}
			return s.attempt(ctx, existing, true)
		}
		// processing, completed or failed: replay, return unchanged.
		logger.Debug("payout replay",
			"idempotency_key", params.IdempotencyKey,
			"status", existing.Status,
		)
		return existing, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	}

	if err := s.ensureEnabled(ctx); err != nil {
		return nil, err
	}

	p := &Payout{
		ID:             uuid.NewString(),
		WalletID:       params.WalletID,
		AmountMinor:    params.Amount.AmountMinor,
		Currency:       params.Amount.Currency,
		Method:         params.Method,
		IdempotencyKey: params.IdempotencyKey,
	}

	reserved, created, err := s.repo.Reserve(ctx, p)
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			metrics.RecordPayout(params.Method, "rejected")
		}
		return nil, err
	}
	if !created {
		// Lost the insert race to a concurrent duplicate; the winner owns
		// the execution.
		return reserved, nil
	}

	return s.attempt(ctx, reserved, false)
}

// attempt drives a reserved payout through the provider call and settles or
// rolls back. reactivate re-reserves funds first, for payouts coming back
// through the retry path.
func (s *service) attempt(ctx context.Context, p *Payout, reactivate bool) (*Payout, error) {
	if reactivate {
		updated, err := s.repo.Reactivate(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p = updated
	}

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	// A fresh provider token per attempt: if an earlier attempt partially
	// succeeded upstream despite being recorded as failed here, reusing
	// the raw key could collide with the provider's own dedupe.
	token := fmt.Sprintf("%s#%d", p.IdempotencyKey, p.Attempts)

	result, err := s.provider.InitiatePayout(callCtx, ProviderRequest{
		Destination: p.WalletID,
		AmountMinor: p.AmountMinor,
		Currency:    p.Currency,
		Token:       token,
	})
	if err != nil {
		// Failure or ambiguity: the reservation is undone in full and the
		// payout is retryable.
		failed, rbErr := s.repo.Rollback(ctx, p.ID, err.Error())
		if rbErr != nil {
			logger.Errorf("Failed to roll back payout %s: %v", p.ID, rbErr)
			return nil, rbErr
		}
		metrics.RecordPayout(p.Method, StatusFailed)
		logger.Info("payout failed",
			"payout_id", p.ID,
			"wallet_id", p.WalletID,
			"reason", err.Error(),
		)
		return failed, nil
	}

	settled, err := s.repo.Settle(ctx, p.ID, result.ProviderRef)
	if err != nil {
		return nil, err
	}
	metrics.RecordPayout(p.Method, StatusCompleted)
	metrics.RecordPayoutAmount(settled.Currency, settled.AmountMinor)
	logger.Info("payout completed",
		"payout_id", settled.ID,
		"wallet_id", settled.WalletID,
		"amount_minor", settled.AmountMinor,
		"currency", settled.Currency,
	)
	return settled, nil
}

func (s *service) RunBatch(ctx context.Context, runID string) (int, error) {
	if runID == "" {
		runID = BatchRunID(time.Now())
	}

	enabled, err := s.settings.PayoutsEnabled(ctx)
	if err != nil {
		return 0, err
	}
	if !enabled {
		// Fail closed, not an error: the sweep simply does nothing.
		logger.Info("batch sweep skipped: payouts disabled", "run_id", runID)
		return 0, nil
	}

	minimums, err := s.settings.PayoutMinimums(ctx)
	if err != nil {
		return 0, err
	}

	metrics.BatchRunsTotal.Inc()
	processed := 0
	for currency, minimum := range minimums {
		wallets, err := s.repo.EligibleWallets(ctx, currency, minimum)
		if err != nil {
			logger.Errorf("Batch sweep: listing %s wallets failed: %v", currency, err)
			continue
		}

		for _, w := range wallets {
			if ctx.Err() != nil {
				// Cancellation stops issuing new per-wallet calls;
				// whatever already committed stays committed.
				return processed, ctx.Err()
			}

			p, err := s.Execute(ctx, ExecuteParams{
				WalletID:       w.WalletID,
				Amount:         money.New(w.AvailableMinor, currency),
				IdempotencyKey: fmt.Sprintf("threshold:%s:%s", w.WalletID, runID),
				Method:         MethodThreshold,
			})
			if err != nil {
				// One wallet's failure never halts the sweep; the payout
				// row carries the details.
				logger.Error("batch sweep: wallet payout failed",
					"wallet_id", w.WalletID,
					"currency", currency,
					"error", err.Error(),
				)
				continue
			}
			if p.Status == StatusCompleted {
				processed++
			}
		}
	}

	logger.Info("batch sweep finished", "run_id", runID, "processed", processed)
	return processed, nil
}

func (s *service) RetryFailed(ctx context.Context, windowHours int) (int, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	since := time.Now().Add(-time.Duration(windowHours) * time.Hour)

	count, err := s.repo.ResetFailed(ctx, since)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		metrics.RetryResetsTotal.Add(float64(count))
		logger.Info("failed payouts reset to pending", "count", count, "window_hours", windowHours)
	}
	return int(count), nil
}

func (s *service) ResumePending(ctx context.Context, limit int) (int, error) {
	enabled, err := s.settings.PayoutsEnabled(ctx)
	if err != nil {
		return 0, err
	}
	if !enabled {
		return 0, nil
	}

	pending, err := s.repo.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for i := range pending {
		if ctx.Err() != nil {
			return resumed, ctx.Err()
		}
		p, err := s.attempt(ctx, &pending[i], true)
		if err != nil {
			if errors.Is(err, ErrInsufficientBalance) {
				// Stays pending until the wallet re-accumulates funds.
				continue
			}
			logger.Errorf("Resume sweep: payout %s failed: %v", pending[i].ID, err)
			continue
		}
		if p.Status == StatusCompleted {
			resumed++
		}
	}
	return resumed, nil
}
