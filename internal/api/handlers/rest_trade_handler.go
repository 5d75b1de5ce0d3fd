package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/models"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/services"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/utils"
)

// RestTradeHandler drives the trade request lifecycle.
type RestTradeHandler struct {
	tradeService services.ITradeService
}

// NewRestTradeHandler creates a new RestTradeHandler.
func NewRestTradeHandler(tradeService services.ITradeService) *RestTradeHandler {
	return &RestTradeHandler{tradeService: tradeService}
}

type proposeRequest struct {
	ResponderID     string           `json:"responder_id" binding:"required"`
	Kind            models.TradeKind `json:"kind" binding:"required"`
	WantedStickerNo int              `json:"wanted_sticker_no" binding:"required"`
	GivenStickerNo  *int             `json:"given_sticker_no,omitempty"`
}

// Propose handles POST /v1/trades
func (h *RestTradeHandler) Propose(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req proposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	responderID, err := utils.ParseSixID(req.ResponderID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid responder id"})
		return
	}

	trade, err := h.tradeService.Propose(c.Request.Context(), userID, responderID, req.Kind, req.WantedStickerNo, req.GivenStickerNo)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, trade)
}

// Accept handles POST /v1/trades/:id/accept
func (h *RestTradeHandler) Accept(c *gin.Context) {
	h.transition(c, h.tradeService.Accept)
}

// Decline handles POST /v1/trades/:id/decline
func (h *RestTradeHandler) Decline(c *gin.Context) {
	h.transition(c, h.tradeService.Decline)
}

// Close handles POST /v1/trades/:id/close
func (h *RestTradeHandler) Close(c *gin.Context) {
	h.transition(c, h.tradeService.Close)
}

// GetTrade handles GET /v1/trades/:id
func (h *RestTradeHandler) GetTrade(c *gin.Context) {
	h.transition(c, h.tradeService.FindByID)
}

// ListTrades handles GET /v1/trades?active=true
func (h *RestTradeHandler) ListTrades(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	activeOnly, err := strconv.ParseBool(c.DefaultQuery("active", "false"))
	if err != nil {
		activeOnly = false
	}

	trades, err := h.tradeService.ListForUser(c.Request.Context(), userID, activeOnly)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, trades)
}

func (h *RestTradeHandler) transition(c *gin.Context, op func(ctx context.Context, tradeID, callerID utils.SixID) (*models.TradeRequest, error)) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	tradeID, ok := parseID(c, "id")
	if !ok {
		return
	}

	trade, err := op(c.Request.Context(), tradeID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, trade)
}
