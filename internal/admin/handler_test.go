package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lenspay/internal/api"
	"lenspay/internal/audit"
	"lenspay/internal/ledger"
	"lenspay/internal/money"
	"lenspay/internal/payout"
)

type MockPayoutService struct {
	mock.Mock
}

func (m *MockPayoutService) Execute(ctx context.Context, params payout.ExecuteParams) (*payout.Payout, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payout.Payout), args.Error(1)
}

func (m *MockPayoutService) RunBatch(ctx context.Context, runID string) (int, error) {
	args := m.Called(ctx, runID)
	return args.Int(0), args.Error(1)
}

func (m *MockPayoutService) RetryFailed(ctx context.Context, windowHours int) (int, error) {
	args := m.Called(ctx, windowHours)
	return args.Int(0), args.Error(1)
}

func (m *MockPayoutService) ResumePending(ctx context.Context, limit int) (int, error) {
	args := m.Called(ctx, limit)
	return args.Int(0), args.Error(1)
}

type MockSettingsRepo struct {
	mock.Mock
}

func (m *MockSettingsRepo) PayoutsEnabled(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockSettingsRepo) SetPayoutsEnabled(ctx context.Context, enabled bool) (bool, error) {
	args := m.Called(ctx, enabled)
	return args.Bool(0), args.Error(1)
}

func (m *MockSettingsRepo) PayoutMinimum(ctx context.Context, currency string) (int64, bool, error) {
	args := m.Called(ctx, currency)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}

func (m *MockSettingsRepo) PayoutMinimums(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[string]int64), args.Error(1)
}

func (m *MockSettingsRepo) SetPayoutMinimum(ctx context.Context, currency string, minimum int64) error {
	args := m.Called(ctx, currency, minimum)
	return args.Error(0)
}

type MockLedgerRepo struct {
	mock.Mock
}

func (m *MockLedgerRepo) RecordCharge(ctx context.Context, charge ledger.Charge) (*ledger.WalletBalance, error) {
	args := m.Called(ctx, charge)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.WalletBalance), args.Error(1)
}

func (m *MockLedgerRepo) RecordRefund(ctx context.Context, refund ledger.Refund) (*ledger.WalletBalance, error) {
	args := m.Called(ctx, refund)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.WalletBalance), args.Error(1)
}

func (m *MockLedgerRepo) GetBalance(ctx context.Context, walletID, currency string) (*ledger.WalletBalance, error) {
	args := m.Called(ctx, walletID, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.WalletBalance), args.Error(1)
}

func (m *MockLedgerRepo) ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]ledger.Transaction, error) {
	args := m.Called(ctx, walletID, limit, offset)
	return args.Get(0).([]ledger.Transaction), args.Error(1)
}

// recordingEmitter captures emitted audit events for assertions.
type recordingEmitter struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingEmitter) Emit(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEmitter) all() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Event(nil), r.events...)
}

func setupAdminRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("user_id", "admin-1")
		c.Set("user_email", "ops@lenspay.test")
		c.Next()
	})
	router.POST("/admin/payouts", h.HandlePayoutAction)
	router.GET("/admin/wallets/:walletID/balance", h.GetWalletBalance)
	router.PUT("/admin/settings/minimums", h.SetPayoutMinimum)
	router.GET("/admin/settings", h.GetSettings)
	return router
}

func postAction(t *testing.T, router *gin.Engine, body map[string]interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/admin/payouts", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandlePayoutAction_Single(t *testing.T) {
	svc := new(MockPayoutService)
	emitter := &recordingEmitter{}
	h := NewHandler(svc, new(MockSettingsRepo), new(MockLedgerRepo), emitter)
	router := setupAdminRouter(h)

	svc.On("Execute", mock.Anything, payout.ExecuteParams{
		WalletID:       "w1",
		Amount:         money.New(8000, "USD"),
		IdempotencyKey: "k1",
		Method:         payout.MethodManual,
	}).Return(&payout.Payout{ID: "p1", Status: payout.StatusCompleted, AmountMinor: 8000, Currency: "USD"}, nil)

	w := postAction(t, router, map[string]interface{}{
		"action":       "single",
		"wallet_id":    "w1",
		"amount_minor": 8000,
		"currency":     "usd",
	}, map[string]string{"Idempotency-Key": "k1"})

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)

	events := emitter.all()
	require.Len(t, events, 1)
	assert.Equal(t, "ops@lenspay.test", events[0].Actor)
	assert.Equal(t, "payout.execute", events[0].Action)
	assert.Equal(t, "wallet:w1", events[0].Target)
}

func TestHandlePayoutAction_SingleRequiresIdempotencyKey(t *testing.T) {
	svc := new(MockPayoutService)
	h := NewHandler(svc, new(MockSettingsRepo), new(MockLedgerRepo), &recordingEmitter{})
	router := setupAdminRouter(h)

	w := postAction(t, router, map[string]interface{}{
		"action":       "single",
		"wallet_id":    "w1",
		"amount_minor": 8000,
		"currency":     "USD",
	}, nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "Execute")
}

func TestHandlePayoutAction_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		body string
	}{
		{"insufficient balance", payout.ErrInsufficientBalance, http.StatusConflict, "insufficient balance"},
		{"payouts disabled", payout.ErrPayoutsDisabled, http.StatusServiceUnavailable, "payouts are paused"},
		{"validation", payout.ErrValidation, http.StatusBadRequest, payout.ErrValidation.Error()},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(MockPayoutService)
			emitter := &recordingEmitter{}
			h := NewHandler(svc, new(MockSettingsRepo), new(MockLedgerRepo), emitter)
			router := setupAdminRouter(h)

			svc.On("Execute", mock.Anything, mock.Anything).Return(nil, tc.err)

			w := postAction(t, router, map[string]interface{}{
				"action":          "single",
				"wallet_id":       "w1",
				"amount_minor":    8000,
				"currency":        "USD",
				"idempotency_key": "k1",
			}, nil)

			assert.Equal(t, tc.code, w.Code)
			var resp api.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.body, resp.Error)
			assert.Empty(t, emitter.all())
		})
	}
}

func TestHandlePayoutAction_UnknownActionRejected(t *testing.T) {
	h := NewHandler(new(MockPayoutService), new(MockSettingsRepo), new(MockLedgerRepo), &recordingEmitter{})
	router := setupAdminRouter(h)

	w := postAction(t, router, map[string]interface{}{"action": "drain-everything"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlePayoutAction_BatchThreshold(t *testing.T) {
	svc := new(MockPayoutService)
	emitter := &recordingEmitter{}
	h := NewHandler(svc, new(MockSettingsRepo), new(MockLedgerRepo), emitter)
	router := setupAdminRouter(h)

	svc.On("RunBatch", mock.Anything, "run-7").Return(3, nil)

	w := postAction(t, router, map[string]interface{}{
		"action": "batch-threshold",
		"run_id": "run-7",
	}, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(3), resp["processed"])

	events := emitter.all()
	require.Len(t, events, 1)
	assert.Equal(t, "payout.batch", events[0].Action)
}

func TestHandlePayoutAction_RetryFailed(t *testing.T) {
	svc := new(MockPayoutService)
	h := NewHandler(svc, new(MockSettingsRepo), new(MockLedgerRepo), &recordingEmitter{})
	router := setupAdminRouter(h)

	svc.On("RetryFailed", mock.Anything, 12).Return(2, nil)

	w := postAction(t, router, map[string]interface{}{
		"action":       "retry-failed",
		"window_hours": 12,
	}, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(2), resp["retried"])
}

func TestHandlePayoutAction_PauseAndResume(t *testing.T) {
	sett := new(MockSettingsRepo)
	emitter := &recordingEmitter{}
	h := NewHandler(new(MockPayoutService), sett, new(MockLedgerRepo), emitter)
	router := setupAdminRouter(h)

	sett.On("SetPayoutsEnabled", mock.Anything, false).Return(true, nil)
	sett.On("SetPayoutsEnabled", mock.Anything, true).Return(false, nil)

	w := postAction(t, router, map[string]interface{}{"action": "pause"}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = postAction(t, router, map[string]interface{}{"action": "resume"}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	events := emitter.all()
	require.Len(t, events, 2)
	assert.Equal(t, "payouts.pause", events[0].Action)
	assert.Equal(t, true, events[0].Before)
	assert.Equal(t, false, events[0].After)
	assert.Equal(t, "payouts.resume", events[1].Action)
	sett.AssertExpectations(t)
}

func TestGetWalletBalance(t *testing.T) {
	repo := new(MockLedgerRepo)
	h := NewHandler(new(MockPayoutService), new(MockSettingsRepo), repo, &recordingEmitter{})
	router := setupAdminRouter(h)

	repo.On("GetBalance", mock.Anything, "w1", "USD").
		Return(&ledger.WalletBalance{WalletID: "w1", Currency: "USD", AvailableMinor: 4500}, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/wallets/w1/balance?currency=usd", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp ledger.WalletBalance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(4500), resp.AvailableMinor)
}

func TestGetWalletBalance_NotFound(t *testing.T) {
	repo := new(MockLedgerRepo)
	h := NewHandler(new(MockPayoutService), new(MockSettingsRepo), repo, &recordingEmitter{})
	router := setupAdminRouter(h)

	repo.On("GetBalance", mock.Anything, "ghost", "USD").Return(nil, ledger.ErrBalanceNotFound)

	req := httptest.NewRequest(http.MethodGet, "/admin/wallets/ghost/balance?currency=USD", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSetPayoutMinimum(t *testing.T) {
	sett := new(MockSettingsRepo)
	emitter := &recordingEmitter{}
	h := NewHandler(new(MockPayoutService), sett, new(MockLedgerRepo), emitter)
	router := setupAdminRouter(h)

	sett.On("SetPayoutMinimum", mock.Anything, "EUR", int64(5000)).Return(nil)

	body, _ := json.Marshal(map[string]interface{}{"currency": "eur", "minimum_minor": 5000})
	req := httptest.NewRequest(http.MethodPut, "/admin/settings/minimums", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	sett.AssertExpectations(t)

	events := emitter.all()
	require.Len(t, events, 1)
	assert.Equal(t, "payouts.set_minimum", events[0].Action)
	assert.Equal(t, "settings:payout_minimum_EUR", events[0].Target)
}

func TestGetSettings(t *testing.T) {
	sett := new(MockSettingsRepo)
	h := NewHandler(new(MockPayoutService), sett, new(MockLedgerRepo), &recordingEmitter{})
	router := setupAdminRouter(h)

	sett.On("PayoutsEnabled", mock.Anything).Return(true, nil)
	sett.On("PayoutMinimums", mock.Anything).Return(map[string]int64{"USD": 5000}, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/settings", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["payouts_enabled"])
}
