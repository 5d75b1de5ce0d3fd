package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/services"
)

// RestInventoryHandler manages the caller's offer and want rows.
type RestInventoryHandler struct {
	inventoryService services.IInventoryService
}

// NewRestInventoryHandler creates a new RestInventoryHandler.
func NewRestInventoryHandler(inventoryService services.IInventoryService) *RestInventoryHandler {
	return &RestInventoryHandler{inventoryService: inventoryService}
}

type createOfferRequest struct {
	StickerNo int  `json:"sticker_no" binding:"required"`
	Giftable  bool `json:"giftable"`
	Payable   bool `json:"payable"`
	Swappable bool `json:"swappable"`
}

// CreateOffer handles POST /v1/inventory/offers. Posting the same sticker
// twice creates a second row, one per physical duplicate.
func (h *RestInventoryHandler) CreateOffer(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req createOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if !req.Giftable && !req.Payable && !req.Swappable {
		c.JSON(http.StatusBadRequest, gin.H{"error": "At least one of giftable, payable or swappable must be set"})
		return
	}

	offer, err := h.inventoryService.CreateOffer(c.Request.Context(), userID, req.StickerNo, req.Giftable, req.Payable, req.Swappable)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, offer)
}

type updateOfferRequest struct {
	Giftable  bool `json:"giftable"`
	Payable   bool `json:"payable"`
	Swappable bool `json:"swappable"`
}

// UpdateOffer handles PUT /v1/inventory/offers/:id
func (h *RestInventoryHandler) UpdateOffer(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	offerID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req updateOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if !req.Giftable && !req.Payable && !req.Swappable {
		c.JSON(http.StatusBadRequest, gin.H{"error": "At least one of giftable, payable or swappable must be set"})
		return
	}

	if err := h.inventoryService.UpdateOfferFlags(c.Request.Context(), offerID, userID, req.Giftable, req.Payable, req.Swappable); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteOffer handles DELETE /v1/inventory/offers/:id. Trades depending on
// this row are canceled first.
func (h *RestInventoryHandler) DeleteOffer(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	offerID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.inventoryService.DeleteOffer(c.Request.Context(), offerID, userID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListOffers handles GET /v1/inventory/offers
func (h *RestInventoryHandler) ListOffers(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	offers, err := h.inventoryService.ListOffersByOwner(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, offers)
}

type createWantRequest struct {
	StickerNo int `json:"sticker_no" binding:"required"`
}

// CreateWant handles POST /v1/inventory/wants
func (h *RestInventoryHandler) CreateWant(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	var req createWantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	want, err := h.inventoryService.CreateWant(c.Request.Context(), userID, req.StickerNo)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, want)
}

// DeleteWant handles DELETE /v1/inventory/wants/:id
func (h *RestInventoryHandler) DeleteWant(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	wantID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.inventoryService.DeleteWant(c.Request.Context(), wantID, userID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListWants handles GET /v1/inventory/wants
func (h *RestInventoryHandler) ListWants(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	wants, err := h.inventoryService.ListWantsByOwner(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wants)
}
