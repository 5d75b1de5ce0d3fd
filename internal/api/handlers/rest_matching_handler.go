package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/services"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/utils"
)

// RestMatchingHandler exposes the partner ranking queries.
type RestMatchingHandler struct {
	matchingService services.IMatchingService
}

// NewRestMatchingHandler creates a new RestMatchingHandler.
func NewRestMatchingHandler(matchingService services.IMatchingService) *RestMatchingHandler {
	return &RestMatchingHandler{matchingService: matchingService}
}

// GiftMatches handles GET /v1/matches/gift
func (h *RestMatchingHandler) GiftMatches(c *gin.Context) {
	h.serve(c, h.matchingService.GiftMatches)
}

// SaleMatches handles GET /v1/matches/sale
func (h *RestMatchingHandler) SaleMatches(c *gin.Context) {
	h.serve(c, h.matchingService.SaleMatches)
}

// SwapMatches handles GET /v1/matches/swap
func (h *RestMatchingHandler) SwapMatches(c *gin.Context) {
	h.serve(c, h.matchingService.SwapMatches)
}

func (h *RestMatchingHandler) serve(c *gin.Context, query func(context.Context, utils.SixID, int, int) ([]services.MatchPartner, error)) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 || limit > 200 {
		limit = 0 // service falls back to the configured page size
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	partners, err := query(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, partners)
}
