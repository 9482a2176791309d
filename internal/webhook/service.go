package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"lenspay/internal/ledger"
	"lenspay/internal/logger"
	"lenspay/internal/metrics"
)

var (
	ErrMissingEventID = errors.New("event_id is required")
	ErrBadPayload     = errors.New("malformed event payload")
)

type Service interface {
	// Process ingests one verified delivery. Replays of an already-seen
	// (provider, event_id) pair are a no-op, except failed events, which
	// a redelivery runs again.
	Process(ctx context.Context, d Delivery) (*Result, error)
}

type service struct {
	repo   Repository
	ledger ledger.Repository
}

func NewService(repo Repository, ledgerRepo ledger.Repository) Service {
	return &service{repo: repo, ledger: ledgerRepo}
}

func (s *service) Process(ctx context.Context, d Delivery) (*Result, error) {
	if d.EventID == "" {
		return nil, ErrMissingEventID
	}

	checksum := sha256.Sum256(d.Payload)
	event, created, err := s.repo.Ingest(ctx, d.Provider, d.EventID, hex.EncodeToString(checksum[:]))
	if err != nil {
		return nil, err
	}
	if !created {
		if event.Status != StatusFailed {
			logger.Debug("webhook replay skipped",
				"provider", d.Provider,
				"event_id", d.EventID,
			)
			metrics.RecordWebhookEvent(d.Provider, "replayed")
			return &Result{RecordID: event.ID, AlreadyProcessed: true}, nil
		}
		// A failed event means the ledger write rolled back, so a
		// redelivery can safely run it again.
		logger.Info("reprocessing failed webhook event",
			"provider", d.Provider,
			"event_id", d.EventID,
		)
	}

	if err := s.apply(ctx, d); err != nil {
		if markErr := s.repo.MarkFailed(ctx, event.ID); markErr != nil {
			logger.Errorf("Failed to mark webhook event %d failed: %v", event.ID, markErr)
		}
		metrics.RecordWebhookEvent(d.Provider, "failed")
		return nil, err
	}

	if err := s.repo.MarkProcessed(ctx, event.ID); err != nil {
		return nil, err
	}
	metrics.RecordWebhookEvent(d.Provider, "processed")
	return &Result{RecordID: event.ID}, nil
}

func (s *service) apply(ctx context.Context, d Delivery) error {
	switch d.Type {
	case EventChargeSucceeded:
		var charge ledger.Charge
		if err := json.Unmarshal(d.Payload, &charge); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		charge.Provider = d.Provider
		balance, err := s.ledger.RecordCharge(ctx, charge)
		if err != nil {
			return err
		}
		metrics.RecordCharge(ledger.TxTypeCharge, charge.Currency)
		logger.Info("charge recorded",
			"wallet_id", charge.WalletID,
			"gross_minor", charge.GrossMinor,
			"currency", charge.Currency,
			"available_minor", balance.AvailableMinor,
		)
		return nil

	case EventChargeRefunded:
		var refund ledger.Refund
		if err := json.Unmarshal(d.Payload, &refund); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		refund.Provider = d.Provider
		balance, err := s.ledger.RecordRefund(ctx, refund)
		if err != nil {
			return err
		}
		metrics.RecordCharge(ledger.TxTypeRefund, refund.Currency)
		if balance.AdjustmentMinor > 0 {
			logger.Info("refund shortfall flagged for reconciliation",
				"wallet_id", refund.WalletID,
				"adjustment_minor", balance.AdjustmentMinor,
			)
		}
		return nil

	default:
		// Unknown event types are acknowledged so the provider stops
		// retrying them.
		logger.Debug("ignoring webhook event type", "type", d.Type, "provider", d.Provider)
		return nil
	}
}
