package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/api/handlers"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/api/middleware"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/config"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/email"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/services"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/storage"
)

// SetupRouter wires the service graph and returns the Gin engine. The
// inventory/trade and user/trade dependency cycles are closed with setter
// injection after construction.
func SetupRouter(cfg *config.Config, db *mongo.Database, emailSender email.Sender, taskClient handlers.IAsynqClient) *gin.Engine {
	inventoryService := services.NewInventoryService(db, cfg)
	stickerService := services.NewStickerService(db)
	outboxService := services.NewOutboxService(db, cfg, emailSender)
	matchingService := services.NewMatchingService(cfg, inventoryService, stickerService)
	tradeService := services.NewTradeService(db, cfg, inventoryService, stickerService, outboxService)
	userService := services.NewUserService(db, cfg, inventoryService)

	inventoryService.SetDeletionHooks(tradeService)
	tradeService.SetUserDirectory(userService)
	userService.SetTradeService(tradeService)

	artworkStorage, err := storage.NewArtworkStorage(cfg)
	if err != nil {
		log.Fatalf("CRITICAL: Failed to initialize artwork storage for API: %v", err)
	}

	r := gin.Default()
	r.Use(middleware.CORSMiddleware())

	userHandler := handlers.NewRestUserHandler(userService)
	inventoryHandler := handlers.NewRestInventoryHandler(inventoryService)
	matchingHandler := handlers.NewRestMatchingHandler(matchingService)
	tradeHandler := handlers.NewRestTradeHandler(tradeService)
	stickerHandler := handlers.NewRestStickerHandler(stickerService, artworkStorage, taskClient)

	v1 := r.Group("/v1")
	{
		// Public routes
		v1.POST("/auth/register", userHandler.Register)
		v1.POST("/auth/login", userHandler.Login)
		v1.GET("/stickers", stickerHandler.ListStickers)
		v1.GET("/stickers/:number", stickerHandler.GetSticker)
		v1.GET("/stats", stickerHandler.InventoryStats)
		v1.GET("/stats/most-wanted", stickerHandler.MostWanted)

		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// Authenticated routes
		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.GET("/me", userHandler.GetMe)
			authRequired.PUT("/me/contact", userHandler.UpdateContact)
			authRequired.DELETE("/me", userHandler.DeleteMe)

			authRequired.GET("/inventory/offers", inventoryHandler.ListOffers)
			authRequired.POST("/inventory/offers", inventoryHandler.CreateOffer)
			authRequired.PUT("/inventory/offers/:id", inventoryHandler.UpdateOffer)
			authRequired.DELETE("/inventory/offers/:id", inventoryHandler.DeleteOffer)
			authRequired.GET("/inventory/wants", inventoryHandler.ListWants)
			authRequired.POST("/inventory/wants", inventoryHandler.CreateWant)
			authRequired.DELETE("/inventory/wants/:id", inventoryHandler.DeleteWant)

			authRequired.GET("/matches/gift", matchingHandler.GiftMatches)
			authRequired.GET("/matches/sale", matchingHandler.SaleMatches)
			authRequired.GET("/matches/swap", matchingHandler.SwapMatches)

			authRequired.GET("/trades", tradeHandler.ListTrades)
			authRequired.POST("/trades", tradeHandler.Propose)
			authRequired.GET("/trades/:id", tradeHandler.GetTrade)
			authRequired.POST("/trades/:id/accept", tradeHandler.Accept)
			authRequired.POST("/trades/:id/decline", tradeHandler.Decline)
			authRequired.POST("/trades/:id/close", tradeHandler.Close)
		}

		// Admin routes
		adminRequired := v1.Group("/admin")
		adminRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret), middleware.AdminMiddleware())
		{
			adminRequired.POST("/stickers", stickerHandler.CreateSticker)
			adminRequired.POST("/stickers/:number/artwork", stickerHandler.RequestArtworkUpload)
			adminRequired.POST("/stickers/:number/artwork/complete", stickerHandler.CompleteArtworkUpload)
		}
	}

	return r
}
