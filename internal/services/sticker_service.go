package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/models"
)

// IStickerService manages the album catalog and the read-only inventory
// statistics. Nothing in the trade engine depends on the statistics.
type IStickerService interface {
	CreateSticker(ctx context.Context, number int, name, section string) (*models.Sticker, error)
	GetSticker(ctx context.Context, number int) (*models.Sticker, error)
	ListStickers(ctx context.Context, section string) ([]models.Sticker, error)
	SetStickerImage(ctx context.Context, number int, imageKey string) error
	// NamesFor resolves sticker numbers to display names; unknown numbers are
	// simply absent from the result.
	NamesFor(ctx context.Context, numbers []int) (map[int]string, error)

	InventoryStats(ctx context.Context) (*models.InventoryStats, error)
	MostWanted(ctx context.Context, limit int) ([]models.StickerCount, error)
}

const stickersCollection = "stickers"

// stickerService implements IStickerService.
type stickerService struct {
	db *mongo.Database
}

// NewStickerService creates a new StickerService.
func NewStickerService(database *mongo.Database) IStickerService {
	return &stickerService{db: database}
}

// CreateSticker adds a catalog entry. The album number is the document id, so
// a duplicate number fails with a duplicate key error.
func (s *stickerService) CreateSticker(ctx context.Context, number int, name, section string) (*models.Sticker, error) {
	if number <= 0 {
		return nil, NewValidationError("sticker number must be positive, got %d", number)
	}
	if name == "" {
		return nil, NewValidationError("sticker name must not be empty")
	}

	now := time.Now().UTC()
	sticker := &models.Sticker{
		Number:    number,
		Name:      name,
		Section:   section,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.db.Collection(stickersCollection).InsertOne(ctx, sticker); err != nil {
		return nil, fmt.Errorf("failed to insert sticker %d: %w", number, err)
	}
	return sticker, nil
}

// GetSticker returns one catalog entry or mongo.ErrNoDocuments.
func (s *stickerService) GetSticker(ctx context.Context, number int) (*models.Sticker, error) {
	var sticker models.Sticker
	err := s.db.Collection(stickersCollection).FindOne(ctx, bson.M{"_id": number}).Decode(&sticker)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding sticker %d: %w", number, err)
	}
	return &sticker, nil
}

// ListStickers returns the catalog, optionally restricted to one section,
// ordered by album number.
func (s *stickerService) ListStickers(ctx context.Context, section string) ([]models.Sticker, error) {
	filter := bson.M{}
	if section != "" {
		filter["section"] = section
	}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(stickersCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("db error listing stickers: %w", err)
	}
	defer cursor.Close(ctx)

	var stickers []models.Sticker
	if err := cursor.All(ctx, &stickers); err != nil {
		return nil, fmt.Errorf("failed to decode stickers: %w", err)
	}
	return stickers, nil
}

// SetStickerImage attaches a processed artwork key to a catalog entry. Called
// by the background image task after normalization.
func (s *stickerService) SetStickerImage(ctx context.Context, number int, imageKey string) error {
	update := bson.M{"$set": bson.M{"image_key": imageKey, "updated_at": time.Now().UTC()}}
	result, err := s.db.Collection(stickersCollection).UpdateByID(ctx, number, update)
	if err != nil {
		return fmt.Errorf("db error setting image for sticker %d: %w", number, err)
	}
	if result.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// NamesFor resolves the given sticker numbers to names in one query.
func (s *stickerService) NamesFor(ctx context.Context, numbers []int) (map[int]string, error) {
	names := make(map[int]string, len(numbers))
	if len(numbers) == 0 {
		return names, nil
	}

	cursor, err := s.db.Collection(stickersCollection).Find(ctx, bson.M{"_id": bson.M{"$in": numbers}})
	if err != nil {
		return nil, fmt.Errorf("db error resolving sticker names: %w", err)
	}
	defer cursor.Close(ctx)

	var stickers []models.Sticker
	if err := cursor.All(ctx, &stickers); err != nil {
		return nil, fmt.Errorf("failed to decode stickers: %w", err)
	}
	for _, st := range stickers {
		names[st.Number] = st.Name
	}
	return names, nil
}

// InventoryStats computes aggregate counts over the inventory collections.
func (s *stickerService) InventoryStats(ctx context.Context) (*models.InventoryStats, error) {
	stats := &models.InventoryStats{}

	var err error
	if stats.TotalOffers, err = s.db.Collection(offersCollection).CountDocuments(ctx, bson.M{}); err != nil {
		return nil, fmt.Errorf("db error counting offers: %w", err)
	}
	if stats.TotalWants, err = s.db.Collection(wantsCollection).CountDocuments(ctx, bson.M{}); err != nil {
		return nil, fmt.Errorf("db error counting wants: %w", err)
	}

	distinctOffered, err := s.db.Collection(offersCollection).Distinct(ctx, "sticker_no", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("db error counting distinct offered stickers: %w", err)
	}
	stats.DistinctOffered = len(distinctOffered)

	distinctWanted, err := s.db.Collection(wantsCollection).Distinct(ctx, "sticker_no", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("db error counting distinct wanted stickers: %w", err)
	}
	stats.DistinctWanted = len(distinctWanted)

	return stats, nil
}

// MostWanted returns the stickers with the most unreserved want rows,
// enriched with catalog names.
func (s *stickerService) MostWanted(ctx context.Context, limit int) ([]models.StickerCount, error) {
	if limit <= 0 {
		limit = 10
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"reserved": false}}},
		{{Key: "$group", Value: bson.M{"_id": "$sticker_no", "count": bson.M{"$sum": 1}}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$limit", Value: limit}},
	}
	cursor, err := s.db.Collection(wantsCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("db error aggregating most wanted stickers: %w", err)
	}
	defer cursor.Close(ctx)

	var counts []models.StickerCount
	if err := cursor.All(ctx, &counts); err != nil {
		return nil, fmt.Errorf("failed to decode most wanted counts: %w", err)
	}

	numbers := make([]int, 0, len(counts))
	for _, c := range counts {
		numbers = append(numbers, c.Number)
	}
	names, err := s.NamesFor(ctx, numbers)
	if err != nil {
		return nil, err
	}
	for i := range counts {
		counts[i].Name = names[counts[i].Number]
	}
	return counts, nil
}
