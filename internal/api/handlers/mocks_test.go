package handlers_test

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/mock"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/models"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/services"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/utils"
)

// --- Mocks ---

// MockTradeService
type MockTradeService struct {
	mock.Mock
}

func (m *MockTradeService) Propose(ctx context.Context, requesterID, responderID utils.SixID, kind models.TradeKind, wantedStickerNo int, givenStickerNo *int) (*models.TradeRequest, error) {
	args := m.Called(ctx, requesterID, responderID, kind, wantedStickerNo, givenStickerNo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TradeRequest), args.Error(1)
}

func (m *MockTradeService) Accept(ctx context.Context, tradeID, callerID utils.SixID) (*models.TradeRequest, error) {
	args := m.Called(ctx, tradeID, callerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TradeRequest), args.Error(1)
}

func (m *MockTradeService) Decline(ctx context.Context, tradeID, callerID utils.SixID) (*models.TradeRequest, error) {
	args := m.Called(ctx, tradeID, callerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TradeRequest), args.Error(1)
}

func (m *MockTradeService) Close(ctx context.Context, tradeID, callerID utils.SixID) (*models.TradeRequest, error) {
	args := m.Called(ctx, tradeID, callerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TradeRequest), args.Error(1)
}

func (m *MockTradeService) FindByID(ctx context.Context, tradeID, callerID utils.SixID) (*models.TradeRequest, error) {
	args := m.Called(ctx, tradeID, callerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.TradeRequest), args.Error(1)
}

func (m *MockTradeService) ListForUser(ctx context.Context, userID utils.SixID, activeOnly bool) ([]models.TradeRequest, error) {
	args := m.Called(ctx, userID, activeOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TradeRequest), args.Error(1)
}

func (m *MockTradeService) SweepAndNotify(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockTradeService) CancelAllForUser(ctx context.Context, userID utils.SixID) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockTradeService) SetUserDirectory(users services.UserDirectory) {
	m.Called(users)
}

func (m *MockTradeService) HandleOfferDeleted(ctx context.Context, offer *models.StickerOffer) error {
	args := m.Called(ctx, offer)
	return args.Error(0)
}

func (m *MockTradeService) HandleWantDeleted(ctx context.Context, want *models.StickerWant) error {
	args := m.Called(ctx, want)
	return args.Error(0)
}

// MockMatchingService
type MockMatchingService struct {
	mock.Mock
}

func (m *MockMatchingService) GiftMatches(ctx context.Context, callerID utils.SixID, limit, offset int) ([]services.MatchPartner, error) {
	args := m.Called(ctx, callerID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]services.MatchPartner), args.Error(1)
}

func (m *MockMatchingService) SaleMatches(ctx context.Context, callerID utils.SixID, limit, offset int) ([]services.MatchPartner, error) {
	args := m.Called(ctx, callerID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]services.MatchPartner), args.Error(1)
}

func (m *MockMatchingService) SwapMatches(ctx context.Context, callerID utils.SixID, limit, offset int) ([]services.MatchPartner, error) {
	args := m.Called(ctx, callerID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]services.MatchPartner), args.Error(1)
}

// MockStickerService
type MockStickerService struct {
	mock.Mock
}

func (m *MockStickerService) CreateSticker(ctx context.Context, number int, name, section string) (*models.Sticker, error) {
	args := m.Called(ctx, number, name, section)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Sticker), args.Error(1)
}

func (m *MockStickerService) GetSticker(ctx context.Context, number int) (*models.Sticker, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Sticker), args.Error(1)
}

func (m *MockStickerService) ListStickers(ctx context.Context, section string) ([]models.Sticker, error) {
	args := m.Called(ctx, section)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Sticker), args.Error(1)
}

func (m *MockStickerService) SetStickerImage(ctx context.Context, number int, imageKey string) error {
	args := m.Called(ctx, number, imageKey)
	return args.Error(0)
}

func (m *MockStickerService) NamesFor(ctx context.Context, numbers []int) (map[int]string, error) {
	args := m.Called(ctx, numbers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int]string), args.Error(1)
}

func (m *MockStickerService) InventoryStats(ctx context.Context) (*models.InventoryStats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.InventoryStats), args.Error(1)
}

func (m *MockStickerService) MostWanted(ctx context.Context, limit int) ([]models.StickerCount, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.StickerCount), args.Error(1)
}

// MockArtworkStorage
type MockArtworkStorage struct {
	mock.Mock
}

func (m *MockArtworkStorage) GeneratePresignedPutURL(ctx context.Context, stickerNo int, filename, contentType string) (string, string, error) {
	args := m.Called(ctx, stickerNo, filename, contentType)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *MockArtworkStorage) GetObject(ctx context.Context, key string) ([]byte, string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

func (m *MockArtworkStorage) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	args := m.Called(ctx, key, data, contentType)
	return args.Error(0)
}

func (m *MockArtworkStorage) DeleteObject(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MockAsynqClient
type MockAsynqClient struct {
	mock.Mock
}

func (m *MockAsynqClient) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	args := m.Called(ctx, task)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*asynq.TaskInfo), args.Error(1)
}
