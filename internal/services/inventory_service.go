package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/config"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/db"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/models"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/utils"
)

// DeletionHooks is implemented by the trade engine. The hooks run before an
// inventory row is removed so that trades referencing the row can be canceled
// and their remaining reservations released first.
type DeletionHooks interface {
	HandleOfferDeleted(ctx context.Context, offer *models.StickerOffer) error
	HandleWantDeleted(ctx context.Context, want *models.StickerWant) error
}

// IInventoryService defines the interface for inventory operations: the
// owner-facing CRUD plus the reservation primitives used by the trade engine.
type IInventoryService interface {
	// Owner-facing CRUD
	CreateOffer(ctx context.Context, ownerID utils.SixID, stickerNo int, giftable, payable, swappable bool) (*models.StickerOffer, error)
	UpdateOfferFlags(ctx context.Context, offerID, ownerID utils.SixID, giftable, payable, swappable bool) error
	DeleteOffer(ctx context.Context, offerID, ownerID utils.SixID) error
	CreateWant(ctx context.Context, ownerID utils.SixID, stickerNo int) (*models.StickerWant, error)
	DeleteWant(ctx context.Context, wantID, ownerID utils.SixID) error
	ListOffersByOwner(ctx context.Context, ownerID utils.SixID) ([]models.StickerOffer, error)
	ListWantsByOwner(ctx context.Context, ownerID utils.SixID) ([]models.StickerWant, error)

	// Reservation protocol (trade engine only)
	ReserveOffer(ctx context.Context, ownerID utils.SixID, stickerNo int, kind models.TradeKind) (*models.StickerOffer, error)
	ReserveWant(ctx context.Context, ownerID utils.SixID, stickerNo int) (*models.StickerWant, error)
	ReleaseOffer(ctx context.Context, offerID utils.SixID) error
	ReleaseWant(ctx context.Context, wantID utils.SixID) error
	ConsumeOffer(ctx context.Context, offerID utils.SixID) error
	ConsumeWant(ctx context.Context, wantID utils.SixID) error

	// Proposal validation lookups
	HasUnreservedOffer(ctx context.Context, ownerID utils.SixID, stickerNo int, kind models.TradeKind) (bool, error)
	HasUnreservedWant(ctx context.Context, ownerID utils.SixID, stickerNo int) (bool, error)
	HasOtherUnreservedOffer(ctx context.Context, excludeID, ownerID utils.SixID, stickerNo int, kind models.TradeKind) (bool, error)
	HasOtherUnreservedWant(ctx context.Context, excludeID, ownerID utils.SixID, stickerNo int) (bool, error)

	// Bulk lookups feeding the matching engine
	ListUnreservedOffersByOwner(ctx context.Context, ownerID utils.SixID, kind models.TradeKind) ([]models.StickerOffer, error)
	ListUnreservedWantsByOwner(ctx context.Context, ownerID utils.SixID) ([]models.StickerWant, error)
	ListCandidateOffers(ctx context.Context, excludeOwner utils.SixID, kind models.TradeKind, stickerNos []int) ([]models.StickerOffer, error)
	ListCandidateWants(ctx context.Context, excludeOwner utils.SixID, stickerNos []int) ([]models.StickerWant, error)

	// Account erasure support
	DeleteAllForOwner(ctx context.Context, ownerID utils.SixID) error

	SetDeletionHooks(hooks DeletionHooks)
}

const (
	offersCollection = "sticker_offers"
	wantsCollection  = "sticker_wants"
)

// inventoryService implements IInventoryService.
type inventoryService struct {
	db    *mongo.Database
	cfg   *config.Config
	hooks DeletionHooks // set after construction to break the service cycle
}

// NewInventoryService creates a new InventoryService. The trade engine's
// deletion hooks are injected later via SetDeletionHooks.
func NewInventoryService(database *mongo.Database, cfg *config.Config) IInventoryService {
	return &inventoryService{db: database, cfg: cfg}
}

// SetDeletionHooks wires the trade engine callbacks invoked before deletions.
func (s *inventoryService) SetDeletionHooks(hooks DeletionHooks) {
	s.hooks = hooks
}

// kindFlagFilter returns the availability-flag filter matching a trade kind.
func kindFlagFilter(kind models.TradeKind) (bson.M, error) {
	switch kind {
	case models.TradeKindGift:
		return bson.M{"giftable": true}, nil
	case models.TradeKindSale:
		return bson.M{"payable": true}, nil
	case models.TradeKindSwap:
		return bson.M{"swappable": true}, nil
	}
	return nil, fmt.Errorf("unknown trade kind %q", kind)
}

// CreateOffer inserts a new offer row. Duplicate rows for the same
// (owner, sticker) pair are allowed; each represents one physical copy.
func (s *inventoryService) CreateOffer(ctx context.Context, ownerID utils.SixID, stickerNo int, giftable, payable, swappable bool) (*models.StickerOffer, error) {
	if !giftable && !payable && !swappable {
		return nil, NewValidationError("an offer needs at least one availability flag")
	}

	now := time.Now().UTC()
	var offer *models.StickerOffer

	operation := func() error {
		offer = &models.StickerOffer{
			ID:        utils.NewSixID(),
			OwnerID:   ownerID,
			StickerNo: stickerNo,
			Giftable:  giftable,
			Payable:   payable,
			Swappable: swappable,
			Reserved:  false,
			CreatedAt: now,
			UpdatedAt: now,
		}
		_, insertErr := s.db.Collection(offersCollection).InsertOne(ctx, offer)
		return insertErr
	}

	if err := db.Try(operation); err != nil {
		return nil, fmt.Errorf("failed to insert offer for user %s sticker %d: %w", ownerID.String(), stickerNo, err)
	}
	return offer, nil
}

// UpdateOfferFlags changes the availability flags of an unreserved offer row
// owned by the given user.
func (s *inventoryService) UpdateOfferFlags(ctx context.Context, offerID, ownerID utils.SixID, giftable, payable, swappable bool) error {
	if !giftable && !payable && !swappable {
		return NewValidationError("an offer needs at least one availability flag")
	}

	filter := bson.M{"_id": offerID, "owner_id": ownerID, "reserved": false}
	update := bson.M{"$set": bson.M{
		"giftable":   giftable,
		"payable":    payable,
		"swappable":  swappable,
		"updated_at": time.Now().UTC(),
	}}

	result, err := s.db.Collection(offersCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("db error updating offer %s: %w", offerID.String(), err)
	}
	if result.MatchedCount == 0 {
		// Distinguish reserved from missing/foreign for a useful error
		var offer models.StickerOffer
		checkErr := s.db.Collection(offersCollection).FindOne(ctx, bson.M{"_id": offerID}).Decode(&offer)
		if errors.Is(checkErr, mongo.ErrNoDocuments) {
			return mongo.ErrNoDocuments
		}
		if checkErr == nil && offer.OwnerID != ownerID {
			return NewAuthorizationError("offer %s does not belong to user %s", offerID.String(), ownerID.String())
		}
		return NewConflictError("offer %s is reserved by an active trade", offerID.String())
	}
	return nil
}

// DeleteOffer removes an offer row owned by the given user. The trade engine
// hook runs first so active trades referencing the row are canceled.
func (s *inventoryService) DeleteOffer(ctx context.Context, offerID, ownerID utils.SixID) error {
	var offer models.StickerOffer
	err := s.db.Collection(offersCollection).FindOne(ctx, bson.M{"_id": offerID}).Decode(&offer)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return mongo.ErrNoDocuments
		}
		return fmt.Errorf("error finding offer %s: %w", offerID.String(), err)
	}
	if offer.OwnerID != ownerID {
		return NewAuthorizationError("offer %s does not belong to user %s", offerID.String(), ownerID.String())
	}

	if s.hooks != nil {
		if err := s.hooks.HandleOfferDeleted(ctx, &offer); err != nil {
			return fmt.Errorf("failed to cancel trades for offer %s: %w", offerID.String(), err)
		}
	}

	if _, err := s.db.Collection(offersCollection).DeleteOne(ctx, bson.M{"_id": offerID}); err != nil {
		return fmt.Errorf("db error deleting offer %s: %w", offerID.String(), err)
	}
	return nil
}

// CreateWant inserts a new want row for the owner.
func (s *inventoryService) CreateWant(ctx context.Context, ownerID utils.SixID, stickerNo int) (*models.StickerWant, error) {
	now := time.Now().UTC()
	var want *models.StickerWant

	operation := func() error {
		want = &models.StickerWant{
			ID:        utils.NewSixID(),
			OwnerID:   ownerID,
			StickerNo: stickerNo,
			Reserved:  false,
			CreatedAt: now,
			UpdatedAt: now,
		}
		_, insertErr := s.db.Collection(wantsCollection).InsertOne(ctx, want)
		return insertErr
	}

	if err := db.Try(operation); err != nil {
		return nil, fmt.Errorf("failed to insert want for user %s sticker %d: %w", ownerID.String(), stickerNo, err)
	}
	return want, nil
}

// DeleteWant removes a want row owned by the given user, canceling dependent
// trades through the engine hook first.
func (s *inventoryService) DeleteWant(ctx context.Context, wantID, ownerID utils.SixID) error {
	var want models.StickerWant
	err := s.db.Collection(wantsCollection).FindOne(ctx, bson.M{"_id": wantID}).Decode(&want)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return mongo.ErrNoDocuments
		}
		return fmt.Errorf("error finding want %s: %w", wantID.String(), err)
	}
	if want.OwnerID != ownerID {
		return NewAuthorizationError("want %s does not belong to user %s", wantID.String(), ownerID.String())
	}

	if s.hooks != nil {
		if err := s.hooks.HandleWantDeleted(ctx, &want); err != nil {
			return fmt.Errorf("failed to cancel trades for want %s: %w", wantID.String(), err)
		}
	}

	if _, err := s.db.Collection(wantsCollection).DeleteOne(ctx, bson.M{"_id": wantID}); err != nil {
		return fmt.Errorf("db error deleting want %s: %w", wantID.String(), err)
	}
	return nil
}

// ListOffersByOwner returns all offer rows of a user, reserved ones included.
func (s *inventoryService) ListOffersByOwner(ctx context.Context, ownerID utils.SixID) ([]models.StickerOffer, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sticker_no", Value: 1}})
	cursor, err := s.db.Collection(offersCollection).Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("db error listing offers for user %s: %w", ownerID.String(), err)
	}
	defer cursor.Close(ctx)

	var offers []models.StickerOffer
	if err := cursor.All(ctx, &offers); err != nil {
		return nil, fmt.Errorf("failed to decode offers: %w", err)
	}
	return offers, nil
}

// ListWantsByOwner returns all want rows of a user, reserved ones included.
func (s *inventoryService) ListWantsByOwner(ctx context.Context, ownerID utils.SixID) ([]models.StickerWant, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sticker_no", Value: 1}})
	cursor, err := s.db.Collection(wantsCollection).Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("db error listing wants for user %s: %w", ownerID.String(), err)
	}
	defer cursor.Close(ctx)

	var wants []models.StickerWant
	if err := cursor.All(ctx, &wants); err != nil {
		return nil, fmt.Errorf("failed to decode wants: %w", err)
	}
	return wants, nil
}

// ReserveOffer atomically claims one unreserved offer row for the pair.
// FindOneAndUpdate guarantees that two concurrent accepts can never flip the
// same row; the loser sees ErrNoUnreservedRow once all duplicates are taken.
func (s *inventoryService) ReserveOffer(ctx context.Context, ownerID utils.SixID, stickerNo int, kind models.TradeKind) (*models.StickerOffer, error) {
	flagFilter, err := kindFlagFilter(kind)
	if err != nil {
		return nil, err
	}
	filter := bson.M{"owner_id": ownerID, "sticker_no": stickerNo, "reserved": false}
	for k, v := range flagFilter {
		filter[k] = v
	}
	update := bson.M{"$set": bson.M{"reserved": true, "updated_at": time.Now().UTC()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var offer models.StickerOffer
	err = s.db.Collection(offersCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&offer)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNoUnreservedRow
		}
		return nil, fmt.Errorf("db error reserving offer for user %s sticker %d: %w", ownerID.String(), stickerNo, err)
	}
	return &offer, nil
}

// ReserveWant atomically claims one unreserved want row for the pair.
func (s *inventoryService) ReserveWant(ctx context.Context, ownerID utils.SixID, stickerNo int) (*models.StickerWant, error) {
	filter := bson.M{"owner_id": ownerID, "sticker_no": stickerNo, "reserved": false}
	update := bson.M{"$set": bson.M{"reserved": true, "updated_at": time.Now().UTC()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var want models.StickerWant
	err := s.db.Collection(wantsCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&want)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNoUnreservedRow
		}
		return nil, fmt.Errorf("db error reserving want for user %s sticker %d: %w", ownerID.String(), stickerNo, err)
	}
	return &want, nil
}

// ReleaseOffer sets reserved=false on the given row. Releasing an already
// released or deleted row is a no-op so rollback paths stay idempotent.
func (s *inventoryService) ReleaseOffer(ctx context.Context, offerID utils.SixID) error {
	update := bson.M{"$set": bson.M{"reserved": false, "updated_at": time.Now().UTC()}}
	if _, err := s.db.Collection(offersCollection).UpdateByID(ctx, offerID, update); err != nil {
		return fmt.Errorf("db error releasing offer %s: %w", offerID.String(), err)
	}
	return nil
}

// ReleaseWant sets reserved=false on the given row.
func (s *inventoryService) ReleaseWant(ctx context.Context, wantID utils.SixID) error {
	update := bson.M{"$set": bson.M{"reserved": false, "updated_at": time.Now().UTC()}}
	if _, err := s.db.Collection(wantsCollection).UpdateByID(ctx, wantID, update); err != nil {
		return fmt.Errorf("db error releasing want %s: %w", wantID.String(), err)
	}
	return nil
}

// ConsumeOffer deletes a row whose reservation was fulfilled. The filter
// requires the reservation to still be held, so a row that a concurrent
// cancel already released back into circulation stays in the inventory.
// Consuming an already consumed or released row is a no-op.
func (s *inventoryService) ConsumeOffer(ctx context.Context, offerID utils.SixID) error {
	if _, err := s.db.Collection(offersCollection).DeleteOne(ctx, bson.M{"_id": offerID, "reserved": true}); err != nil {
		return fmt.Errorf("db error consuming offer %s: %w", offerID.String(), err)
	}
	return nil
}

// ConsumeWant deletes a fulfilled want row, only while its reservation is
// still held.
func (s *inventoryService) ConsumeWant(ctx context.Context, wantID utils.SixID) error {
	if _, err := s.db.Collection(wantsCollection).DeleteOne(ctx, bson.M{"_id": wantID, "reserved": true}); err != nil {
		return fmt.Errorf("db error consuming want %s: %w", wantID.String(), err)
	}
	return nil
}

// HasUnreservedOffer checks for an unreserved, flag-matching offer row.
func (s *inventoryService) HasUnreservedOffer(ctx context.Context, ownerID utils.SixID, stickerNo int, kind models.TradeKind) (bool, error) {
	flagFilter, err := kindFlagFilter(kind)
	if err != nil {
		return false, err
	}
	filter := bson.M{"owner_id": ownerID, "sticker_no": stickerNo, "reserved": false}
	for k, v := range flagFilter {
		filter[k] = v
	}
	count, err := s.db.Collection(offersCollection).CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("db error checking offer availability: %w", err)
	}
	return count > 0, nil
}

// HasUnreservedWant checks for an unreserved want row.
func (s *inventoryService) HasUnreservedWant(ctx context.Context, ownerID utils.SixID, stickerNo int) (bool, error) {
	filter := bson.M{"owner_id": ownerID, "sticker_no": stickerNo, "reserved": false}
	count, err := s.db.Collection(wantsCollection).CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("db error checking want availability: %w", err)
	}
	return count > 0, nil
}

// HasOtherUnreservedOffer is HasUnreservedOffer with one row excluded. Used
// when a row is about to be deleted to decide whether a pending trade can
// still be satisfied by a duplicate.
func (s *inventoryService) HasOtherUnreservedOffer(ctx context.Context, excludeID, ownerID utils.SixID, stickerNo int, kind models.TradeKind) (bool, error) {
	flagFilter, err := kindFlagFilter(kind)
	if err != nil {
		return false, err
	}
	filter := bson.M{"_id": bson.M{"$ne": excludeID}, "owner_id": ownerID, "sticker_no": stickerNo, "reserved": false}
	for k, v := range flagFilter {
		filter[k] = v
	}
	count, err := s.db.Collection(offersCollection).CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("db error checking offer availability: %w", err)
	}
	return count > 0, nil
}

// HasOtherUnreservedWant is HasUnreservedWant with one row excluded.
func (s *inventoryService) HasOtherUnreservedWant(ctx context.Context, excludeID, ownerID utils.SixID, stickerNo int) (bool, error) {
	filter := bson.M{"_id": bson.M{"$ne": excludeID}, "owner_id": ownerID, "sticker_no": stickerNo, "reserved": false}
	count, err := s.db.Collection(wantsCollection).CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("db error checking want availability: %w", err)
	}
	return count > 0, nil
}

// ListUnreservedOffersByOwner returns the owner's unreserved offers carrying
// the flag for the given trade kind.
func (s *inventoryService) ListUnreservedOffersByOwner(ctx context.Context, ownerID utils.SixID, kind models.TradeKind) ([]models.StickerOffer, error) {
	flagFilter, err := kindFlagFilter(kind)
	if err != nil {
		return nil, err
	}
	filter := bson.M{"owner_id": ownerID, "reserved": false}
	for k, v := range flagFilter {
		filter[k] = v
	}
	cursor, err := s.db.Collection(offersCollection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("db error listing unreserved offers: %w", err)
	}
	defer cursor.Close(ctx)

	var offers []models.StickerOffer
	if err := cursor.All(ctx, &offers); err != nil {
		return nil, fmt.Errorf("failed to decode offers: %w", err)
	}
	return offers, nil
}

// ListUnreservedWantsByOwner returns the owner's unreserved want rows.
func (s *inventoryService) ListUnreservedWantsByOwner(ctx context.Context, ownerID utils.SixID) ([]models.StickerWant, error) {
	cursor, err := s.db.Collection(wantsCollection).Find(ctx, bson.M{"owner_id": ownerID, "reserved": false})
	if err != nil {
		return nil, fmt.Errorf("db error listing unreserved wants: %w", err)
	}
	defer cursor.Close(ctx)

	var wants []models.StickerWant
	if err := cursor.All(ctx, &wants); err != nil {
		return nil, fmt.Errorf("failed to decode wants: %w", err)
	}
	return wants, nil
}

// ListCandidateOffers returns unreserved, flag-matching offers by other users
// for any of the given stickers. Feeds the matching engine.
func (s *inventoryService) ListCandidateOffers(ctx context.Context, excludeOwner utils.SixID, kind models.TradeKind, stickerNos []int) ([]models.StickerOffer, error) {
	if len(stickerNos) == 0 {
		return nil, nil
	}
	flagFilter, err := kindFlagFilter(kind)
	if err != nil {
		return nil, err
	}
	filter := bson.M{
		"owner_id":   bson.M{"$ne": excludeOwner},
		"sticker_no": bson.M{"$in": stickerNos},
		"reserved":   false,
	}
	for k, v := range flagFilter {
		filter[k] = v
	}
	cursor, err := s.db.Collection(offersCollection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("db error listing candidate offers: %w", err)
	}
	defer cursor.Close(ctx)

	var offers []models.StickerOffer
	if err := cursor.All(ctx, &offers); err != nil {
		return nil, fmt.Errorf("failed to decode candidate offers: %w", err)
	}
	return offers, nil
}

// ListCandidateWants returns unreserved wants by other users for any of the
// given stickers.
func (s *inventoryService) ListCandidateWants(ctx context.Context, excludeOwner utils.SixID, stickerNos []int) ([]models.StickerWant, error) {
	if len(stickerNos) == 0 {
		return nil, nil
	}
	filter := bson.M{
		"owner_id":   bson.M{"$ne": excludeOwner},
		"sticker_no": bson.M{"$in": stickerNos},
		"reserved":   false,
	}
	cursor, err := s.db.Collection(wantsCollection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("db error listing candidate wants: %w", err)
	}
	defer cursor.Close(ctx)

	var wants []models.StickerWant
	if err := cursor.All(ctx, &wants); err != nil {
		return nil, fmt.Errorf("failed to decode candidate wants: %w", err)
	}
	return wants, nil
}

// DeleteAllForOwner removes every inventory row of a user. Used during account
// erasure, after the user's trades have been canceled.
func (s *inventoryService) DeleteAllForOwner(ctx context.Context, ownerID utils.SixID) error {
	if _, err := s.db.Collection(offersCollection).DeleteMany(ctx, bson.M{"owner_id": ownerID}); err != nil {
		return fmt.Errorf("db error deleting offers for user %s: %w", ownerID.String(), err)
	}
	if _, err := s.db.Collection(wantsCollection).DeleteMany(ctx, bson.M{"owner_id": ownerID}); err != nil {
		return fmt.Errorf("db error deleting wants for user %s: %w", ownerID.String(), err)
	}
	return nil
}
