package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/services"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/storage"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/tasks"
)

// RestStickerHandler serves the sticker catalog and collection statistics.
// Catalog writes are admin-only.
type RestStickerHandler struct {
	stickerService services.IStickerService
	artwork        storage.IArtworkStorage
	taskClient     IAsynqClient
}

// NewRestStickerHandler creates a new RestStickerHandler.
func NewRestStickerHandler(stickerService services.IStickerService, artwork storage.IArtworkStorage, taskClient IAsynqClient) *RestStickerHandler {
	return &RestStickerHandler{stickerService: stickerService, artwork: artwork, taskClient: taskClient}
}

type createStickerRequest struct {
	Number  int    `json:"number" binding:"required"`
	Name    string `json:"name" binding:"required"`
	Section string `json:"section"`
}

// CreateSticker handles POST /v1/admin/stickers
func (h *RestStickerHandler) CreateSticker(c *gin.Context) {
	var req createStickerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	sticker, err := h.stickerService.CreateSticker(c.Request.Context(), req.Number, req.Name, req.Section)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sticker)
}

// GetSticker handles GET /v1/stickers/:number
func (h *RestStickerHandler) GetSticker(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sticker number"})
		return
	}
	sticker, err := h.stickerService.GetSticker(c.Request.Context(), number)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sticker)
}

// ListStickers handles GET /v1/stickers
func (h *RestStickerHandler) ListStickers(c *gin.Context) {
	stickers, err := h.stickerService.ListStickers(c.Request.Context(), c.Query("section"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stickers)
}

// InventoryStats handles GET /v1/stats
func (h *RestStickerHandler) InventoryStats(c *gin.Context) {
	stats, err := h.stickerService.InventoryStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// MostWanted handles GET /v1/stats/most-wanted
func (h *RestStickerHandler) MostWanted(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 10
	}
	ranking, err := h.stickerService.MostWanted(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ranking)
}

type artworkUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type" binding:"required"`
}

// RequestArtworkUpload handles POST /v1/admin/stickers/:number/artwork. It
// returns a pre-signed S3 PUT URL; the client uploads directly and then calls
// CompleteArtworkUpload.
func (h *RestStickerHandler) RequestArtworkUpload(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sticker number"})
		return
	}
	if _, err := h.stickerService.GetSticker(c.Request.Context(), number); err != nil {
		respondError(c, err)
		return
	}

	var req artworkUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	url, key, err := h.artwork.GeneratePresignedPutURL(c.Request.Context(), number, req.Filename, req.ContentType)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"upload_url": url, "s3_key": key})
}

type artworkCompleteRequest struct {
	S3Key string `json:"s3_key" binding:"required"`
}

// CompleteArtworkUpload handles POST /v1/admin/stickers/:number/artwork/complete.
// It enqueues the normalization task that resizes the upload and attaches it
// to the catalog entry.
func (h *RestStickerHandler) CompleteArtworkUpload(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sticker number"})
		return
	}
	var req artworkCompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	task, err := tasks.NewImageProcessTask(req.S3Key, number)
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := h.taskClient.EnqueueContext(c.Request.Context(), task); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "processing"})
}
