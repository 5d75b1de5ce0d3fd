package tasks_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/cache"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/config"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/models"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/services"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/tasks"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/utils"
)

// --- Mocks ---

// MockStickerService (only the methods the image task touches get expectations)
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

// MockTradeService only needs SweepAndNotify here; the rest satisfy the
// interface.
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

// --- Helpers ---

func encodePNG(t *testing.T, width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testLease(t *testing.T) *cache.Lease {
	client := redis.NewClient(&redis.Options{Addr: utils.GetTestRedisAddr()})
	require.NoError(t, client.Ping(context.Background()).Err(), "redis must be reachable")
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewLease(client)
}

// --- Tests ---

func TestHandleImageProcessTask_SmallImagePassesThrough(t *testing.T) {
	mockStickerSvc := new(MockStickerService)
	mockStorage := new(MockArtworkStorage)
	cfg := &config.Config{ArtworkMaxDim: 1024, ArtworkMaxSizeMB: 5}
	p := tasks.NewTaskProcessor(cfg, nil, nil, mockStickerSvc, mockStorage, nil)

	imgData := encodePNG(t, 100, 100)
	mockStorage.On("GetObject", mock.Anything, "artwork/7/small.png").Return(imgData, "image/png", nil)
	mockStickerSvc.On("SetStickerImage", mock.Anything, 7, "artwork/7/small.png").Return(nil)

	task, err := tasks.NewImageProcessTask("artwork/7/small.png", 7)
	require.NoError(t, err)

	err = p.HandleImageProcessTask(context.Background(), task)
	assert.NoError(t, err)
	// A small image is attached as uploaded.
	mockStorage.AssertNotCalled(t, "PutObject")
	mockStickerSvc.AssertExpectations(t)
}

func TestHandleImageProcessTask_LargeImageIsResized(t *testing.T) {
	mockStickerSvc := new(MockStickerService)
	mockStorage := new(MockArtworkStorage)
	cfg := &config.Config{ArtworkMaxDim: 64, ArtworkMaxSizeMB: 5}
	p := tasks.NewTaskProcessor(cfg, nil, nil, mockStickerSvc, mockStorage, nil)

	imgData := encodePNG(t, 300, 200)
	mockStorage.On("GetObject", mock.Anything, "artwork/7/big.png").Return(imgData, "image/png", nil)
	mockStorage.On("PutObject", mock.Anything, "artwork/7/big.png", mock.MatchedBy(func(data []byte) bool {
		resized, _, decErr := image.Decode(bytes.NewReader(data))
		if decErr != nil {
			return false
		}
		return resized.Bounds().Dx() <= 64 && resized.Bounds().Dy() <= 64
	}), "image/jpeg").Return(nil)
	mockStickerSvc.On("SetStickerImage", mock.Anything, 7, "artwork/7/big.png").Return(nil)

	task, err := tasks.NewImageProcessTask("artwork/7/big.png", 7)
	require.NoError(t, err)

	assert.NoError(t, p.HandleImageProcessTask(context.Background(), task))
	mockStorage.AssertExpectations(t)
	mockStickerSvc.AssertExpectations(t)
}

func TestHandleImageProcessTask_OversizedUploadIsDeleted(t *testing.T) {
	mockStickerSvc := new(MockStickerService)
	mockStorage := new(MockArtworkStorage)
	cfg := &config.Config{ArtworkMaxDim: 1024, ArtworkMaxSizeMB: 0} // every upload is too big
	p := tasks.NewTaskProcessor(cfg, nil, nil, mockStickerSvc, mockStorage, nil)

	mockStorage.On("GetObject", mock.Anything, "artwork/7/huge.png").Return(encodePNG(t, 10, 10), "image/png", nil)
	mockStorage.On("DeleteObject", mock.Anything, "artwork/7/huge.png").Return(nil)

	task, err := tasks.NewImageProcessTask("artwork/7/huge.png", 7)
	require.NoError(t, err)

	err = p.HandleImageProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry), "oversized uploads must not be retried")
	mockStorage.AssertExpectations(t)
	mockStickerSvc.AssertNotCalled(t, "SetStickerImage")
}

func TestHandleImageProcessTask_CorruptPayload(t *testing.T) {
	p := tasks.NewTaskProcessor(&config.Config{}, nil, nil, nil, nil, nil)

	err := p.HandleImageProcessTask(context.Background(), asynq.NewTask(tasks.TypeImageProcess, []byte("not json")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleTradeSweepTask_LeaseGatesExecution(t *testing.T) {
	lease := testLease(t)
	mockTradeSvc := new(MockTradeService)
	cfg := &config.Config{JobLeaseMinHold: 0, JobLeaseMaxHold: time.Minute}
	p := tasks.NewTaskProcessor(cfg, mockTradeSvc, nil, nil, nil, lease)

	mockTradeSvc.On("SweepAndNotify", mock.Anything).Return(2, nil).Once()

	task := asynq.NewTask(tasks.TypeTradeSweep, nil)
	assert.NoError(t, p.HandleTradeSweepTask(context.Background(), task))
	mockTradeSvc.AssertExpectations(t)

	// While another worker holds the lease the handler is a silent no-op.
	release, acquired, err := lease.Acquire(context.Background(), tasks.TypeTradeSweep, 0, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	defer release()

	assert.NoError(t, p.HandleTradeSweepTask(context.Background(), task))
	mockTradeSvc.AssertNumberOfCalls(t, "SweepAndNotify", 1)
}

func TestNewImageProcessTask_Payload(t *testing.T) {
	task, err := tasks.NewImageProcessTask("artwork/3/a.png", 3)
	require.NoError(t, err)
	assert.Equal(t, tasks.TypeImageProcess, task.Type())

	var payload tasks.ImageTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "artwork/3/a.png", payload.S3Key)
	assert.Equal(t, 3, payload.StickerNo)
}
