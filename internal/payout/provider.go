package payout

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"lenspay/internal/metrics"
)

var (
	// ErrProviderTransient covers timeouts, 5xx and ambiguous responses.
	// The attempt is recorded as failed and may be retried; it must never
	// be treated as success.
	ErrProviderTransient = errors.New("provider transient failure")

	// ErrProviderPermanent covers definitive rejections (bad destination,
	// unsupported currency). Requires manual intervention.
	ErrProviderPermanent = errors.New("provider permanent failure")
)

type ProviderRequest struct {
	Destination string `json:"destination"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	// Token is the provider-facing idempotency token for this attempt.
	Token string `json:"idempotency_token"`
}

type ProviderResult struct {
	ProviderRef string `json:"provider_ref"`
}

// Provider is the external payout capability. Implementations must treat
// ambiguity (timeout, unknown response) as failure.
type Provider interface {
	InitiatePayout(ctx context.Context, req ProviderRequest) (*ProviderResult, error)
}

// HTTPProvider calls a payout processor over HTTP with a bounded timeout.
type HTTPProvider struct {
	client *resty.Client
}

func NewHTTPProvider(baseURL, token string, timeout time.Duration) *HTTPProvider {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPProvider{client: client}
}

type providerResponse struct {
	Success     bool   `json:"success"`
	ProviderRef string `json:"provider_ref"`
	Reason      string `json:"reason"`
}

func (p *HTTPProvider) InitiatePayout(ctx context.Context, req ProviderRequest) (*ProviderResult, error) {
	start := time.Now()

	var out providerResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.Token).
		SetBody(req).
		SetResult(&out).
		Post("/v1/payouts")

	elapsed := time.Since(start).Seconds()
	switch {
	case err != nil:
		// Network error or timeout: the transfer state is unknown, so it
		// counts as a failure.
		metrics.RecordProviderCall("transient", elapsed)
		return nil, fmt.Errorf("%w: %v", ErrProviderTransient, err)
	case resp.StatusCode() >= 500:
		metrics.RecordProviderCall("transient", elapsed)
		return nil, fmt.Errorf("%w: status %d", ErrProviderTransient, resp.StatusCode())
	case resp.StatusCode() >= 400:
		metrics.RecordProviderCall("permanent", elapsed)
		return nil, fmt.Errorf("%w: status %d: %s", ErrProviderPermanent, resp.StatusCode(), out.Reason)
	case resp.StatusCode() != http.StatusOK || !out.Success:
		metrics.RecordProviderCall("transient", elapsed)
		return nil, fmt.Errorf("%w: ambiguous response (status %d)", ErrProviderTransient, resp.StatusCode())
	}

	metrics.RecordProviderCall("success", elapsed)
	return &ProviderResult{ProviderRef: out.ProviderRef}, nil
}
