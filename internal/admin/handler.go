package admin

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"lenspay/internal/api"
	"lenspay/internal/audit"
	"lenspay/internal/auth"
	"lenspay/internal/ledger"
	"lenspay/internal/money"
	"lenspay/internal/payout"
	"lenspay/internal/settings"
)

const (
	ActionSingle         = "single"
	ActionBatchThreshold = "batch-threshold"
	ActionRetryFailed    = "retry-failed"
	ActionPause          = "pause"
	ActionResume         = "resume"
)

var validate = validator.New()

type Handler struct {
	payouts  payout.Service
	settings settings.Repository
	ledger   ledger.Repository
	audit    audit.Emitter
}

func NewHandler(payouts payout.Service, settingsRepo settings.Repository, ledgerRepo ledger.Repository, emitter audit.Emitter) *Handler {
	return &Handler{
		payouts:  payouts,
		settings: settingsRepo,
		ledger:   ledgerRepo,
		audit:    emitter,
	}
}

type actionRequest struct {
	Action         string `json:"action" validate:"required,oneof=single batch-threshold retry-failed pause resume"`
	WalletID       string `json:"wallet_id" validate:"required_if=Action single"`
	AmountMinor    int64  `json:"amount_minor" validate:"gte=0"`
	Currency       string `json:"currency" validate:"required_if=Action single"`
	IdempotencyKey string `json:"idempotency_key"`
	RunID          string `json:"run_id"`
	WindowHours    int    `json:"window_hours" validate:"gte=0"`
}

func validationMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required", "required_if":
		return err.Field() + " is required"
	case "oneof":
		return err.Field() + " must be one of: " + err.Param()
	case "gte":
		return err.Field() + " must be greater than or equal to " + err.Param()
	default:
		return err.Field() + " is invalid"
	}
}

func bindAction(c *gin.Context) (*actionRequest, bool) {
	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid request body"})
		return nil, false
	}
	if err := validate.Struct(req); err != nil {
		var details []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details = append(details, validationMessage(fe))
			}
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "details": details})
		return nil, false
	}
	return &req, true
}

// HandlePayoutAction is the single mutating entry point of the control
// plane. Every action that changes state emits an audit event attributed to
// the authenticated caller.
func (h *Handler) HandlePayoutAction(c *gin.Context) {
	req, ok := bindAction(c)
	if !ok {
		return
	}

	switch req.Action {
	case ActionSingle:
		h.executeSingle(c, req)
	case ActionBatchThreshold:
		h.runBatch(c, req)
	case ActionRetryFailed:
		h.retryFailed(c, req)
	case ActionPause:
		h.setEnabled(c, false)
	case ActionResume:
		h.setEnabled(c, true)
	}
}

func (h *Handler) executeSingle(c *gin.Context, req *actionRequest) {
	// Header takes precedence; the body field exists for clients that
	// cannot set custom headers.
	key := c.GetHeader("Idempotency-Key")
	if key == "" {
		key = req.IdempotencyKey
	}
	if key == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "Idempotency-Key header or idempotency_key field is required"})
		return
	}

	p, err := h.payouts.Execute(c.Request.Context(), payout.ExecuteParams{
		WalletID:       req.WalletID,
		Amount:         money.New(req.AmountMinor, req.Currency),
		IdempotencyKey: key,
		Method:         payout.MethodManual,
	})
	if err != nil {
		switch {
		case errors.Is(err, payout.ErrValidation):
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
		case errors.Is(err, payout.ErrInsufficientBalance):
			c.JSON(http.StatusConflict, api.ErrorResponse{Error: "insufficient balance"})
		case errors.Is(err, payout.ErrPayoutsDisabled):
			c.JSON(http.StatusServiceUnavailable, api.ErrorResponse{Error: "payouts are paused"})
		default:
			c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to execute payout"})
		}
		return
	}

	h.audit.Emit(c.Request.Context(), audit.Event{
		Actor:  auth.GetActor(c),
		Action: "payout.execute",
		Target: fmt.Sprintf("wallet:%s", req.WalletID),
		After:  gin.H{"payout_id": p.ID, "status": p.Status, "amount_minor": p.AmountMinor, "currency": p.Currency},
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "payout": p})
}

func (h *Handler) runBatch(c *gin.Context, req *actionRequest) {
	processed, err := h.payouts.RunBatch(c.Request.Context(), req.RunID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "batch run failed"})
		return
	}

	h.audit.Emit(c.Request.Context(), audit.Event{
		Actor:  auth.GetActor(c),
		Action: "payout.batch",
		Target: "payouts",
		After:  gin.H{"processed": processed},
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "processed": processed})
}

func (h *Handler) retryFailed(c *gin.Context, req *actionRequest) {
	retried, err := h.payouts.RetryFailed(c.Request.Context(), req.WindowHours)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "retry sweep failed"})
		return
	}

	h.audit.Emit(c.Request.Context(), audit.Event{
		Actor:  auth.GetActor(c),
		Action: "payout.retry_failed",
		Target: "payouts",
		After:  gin.H{"retried": retried},
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "retried": retried})
}

func (h *Handler) setEnabled(c *gin.Context, enabled bool) {
	previous, err := h.settings.SetPayoutsEnabled(c.Request.Context(), enabled)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to update payout switch"})
		return
	}

	action := "payouts.pause"
	if enabled {
		action = "payouts.resume"
	}
	h.audit.Emit(c.Request.Context(), audit.Event{
		Actor:  auth.GetActor(c),
		Action: action,
		Target: "settings:payouts_enabled",
		Before: previous,
		After:  enabled,
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "payouts_enabled": enabled})
}

// GetWalletBalance is a read-only inspection endpoint for support staff.
func (h *Handler) GetWalletBalance(c *gin.Context) {
	walletID := c.Param("walletID")
	currency := strings.ToUpper(c.Query("currency"))
	if walletID == "" || !money.ValidCurrency(currency) {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "walletID and a valid currency query parameter are required"})
		return
	}

	balance, err := h.ledger.GetBalance(c.Request.Context(), walletID, currency)
	if err != nil {
		if errors.Is(err, ledger.ErrBalanceNotFound) {
			c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "no balance for wallet"})
			return
		}
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load balance"})
		return
	}

	c.JSON(http.StatusOK, balance)
}

type minimumRequest struct {
	Currency     string `json:"currency" validate:"required,len=3"`
	MinimumMinor int64  `json:"minimum_minor" validate:"gte=0"`
}

// SetPayoutMinimum configures the per-currency batch threshold.
func (h *Handler) SetPayoutMinimum(c *gin.Context) {
	var req minimumRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "validation failed"})
		return
	}
	currency := strings.ToUpper(req.Currency)
	if !money.ValidCurrency(currency) {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid currency"})
		return
	}

	if err := h.settings.SetPayoutMinimum(c.Request.Context(), currency, req.MinimumMinor); err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to update minimum"})
		return
	}

	h.audit.Emit(c.Request.Context(), audit.Event{
		Actor:  auth.GetActor(c),
		Action: "payouts.set_minimum",
		Target: fmt.Sprintf("settings:payout_minimum_%s", currency),
		After:  req.MinimumMinor,
	})

	c.JSON(http.StatusOK, gin.H{"success": true, "currency": currency, "minimum_minor": req.MinimumMinor})
}

// GetSettings reports the payout switch and configured minimums.
func (h *Handler) GetSettings(c *gin.Context) {
	enabled, err := h.settings.PayoutsEnabled(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load settings"})
		return
	}
	minimums, err := h.settings.PayoutMinimums(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load settings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"payouts_enabled": enabled, "payout_minimums": minimums})
}
