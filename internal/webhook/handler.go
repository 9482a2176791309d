package webhook

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"lenspay/internal/api"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

type deliveryRequest struct {
	EventID string          `json:"event_id" binding:"required"`
	Type    string          `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

// HandleDelivery accepts a verified provider webhook. Signature checks
// happen at the edge before the request reaches this service.
func (h *Handler) HandleDelivery(c *gin.Context) {
	provider := c.Param("provider")
	if provider == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "provider is required"})
		return
	}

	var req deliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "event_id and type are required"})
		return
	}

	result, err := h.service.Process(c.Request.Context(), Delivery{
		Provider: provider,
		EventID:  req.EventID,
		Type:     req.Type,
		Payload:  req.Payload,
	})
	if err != nil {
		if errors.Is(err, ErrBadPayload) || errors.Is(err, ErrMissingEventID) {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to process event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received":          true,
		"already_processed": result.AlreadyProcessed,
	})
}
