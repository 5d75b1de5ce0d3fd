package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/auth"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/config"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/db"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/models"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/utils"
)

const usersCollection = "users"

// IUserService manages collector accounts. It satisfies the trade engine's
// UserDirectory interface.
type IUserService interface {
	Register(ctx context.Context, name, email, password string) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, string, error)
	FindByID(ctx context.Context, id utils.SixID) (*models.User, error)
	FindByIDs(ctx context.Context, ids []utils.SixID) (map[utils.SixID]*models.User, error)
	UpdateContact(ctx context.Context, id utils.SixID, contact string) error
	DeleteAccount(ctx context.Context, id utils.SixID) error

	SetTradeService(trades ITradeService)
}

type userService struct {
	db         *mongo.Database
	cfg        *config.Config
	inventory  IInventoryService
	trades     ITradeService // set after construction
	passwordRe *regexp.Regexp
}

// NewUserService creates a new UserService. Call SetTradeService before
// serving account deletions.
func NewUserService(database *mongo.Database, cfg *config.Config, inventory IInventoryService) IUserService {
	return &userService{
		db:         database,
		cfg:        cfg,
		inventory:  inventory,
		passwordRe: regexp.MustCompile(cfg.PasswordRegexp),
	}
}

// SetTradeService wires the trade engine used to wind down a deleted
// account's trades.
func (s *userService) SetTradeService(trades ITradeService) {
	s.trades = trades
}

// Register creates a new account with a bcrypt password hash.
func (s *userService) Register(ctx context.Context, name, email, password string) (*models.User, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" {
		return nil, NewValidationError("name cannot be empty")
	}
	if email == "" || !strings.Contains(email, "@") {
		return nil, NewValidationError("invalid email address")
	}
	if !s.passwordRe.MatchString(password) {
		return nil, NewValidationError("password does not meet the requirements")
	}

	count, err := s.db.Collection(usersCollection).CountDocuments(ctx, bson.M{"email": email, "deleted": false})
	if err != nil {
		return nil, fmt.Errorf("db error checking email uniqueness: %w", err)
	}
	if count > 0 {
		return nil, NewConflictError("an account with email %s already exists", email)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	var user *models.User
	operation := func() error {
		user = &models.User{
			Base:         models.NewBase(),
			Name:         name,
			Email:        email,
			PasswordHash: hash,
			Activated:    true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		_, insertErr := s.db.Collection(usersCollection).InsertOne(ctx, user)
		return insertErr
	}
	if err := db.Try(operation); err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return nil, NewConflictError("an account with email %s already exists", email)
		}
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return user, nil
}

// Authenticate verifies the credentials and returns the user with a signed
// JWT. The same error is returned for unknown emails and wrong passwords.
func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var user models.User
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"email": email, "deleted": false}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, "", NewAuthorizationError("invalid credentials")
		}
		return nil, "", fmt.Errorf("db error loading user by email: %w", err)
	}

	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, "", NewAuthorizationError("invalid credentials")
	}

	token, err := auth.GenerateJWT(user.ID, user.IsAdmin, s.cfg.JwtSecret, s.cfg.JwtTTL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to sign token: %w", err)
	}
	return &user, token, nil
}

// FindByID returns a non-deleted user.
func (s *userService) FindByID(ctx context.Context, id utils.SixID) (*models.User, error) {
	var user models.User
	err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"_id": id, "deleted": false}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("db error loading user %s: %w", id.String(), err)
	}
	return &user, nil
}

// FindByIDs bulk-loads non-deleted users. Missing ids are absent from the
// result map, not an error.
func (s *userService) FindByIDs(ctx context.Context, ids []utils.SixID) (map[utils.SixID]*models.User, error) {
	result := make(map[utils.SixID]*models.User, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	cursor, err := s.db.Collection(usersCollection).Find(ctx, bson.M{"_id": bson.M{"$in": ids}, "deleted": false})
	if err != nil {
		return nil, fmt.Errorf("db error loading users: %w", err)
	}
	defer cursor.Close(ctx)

	var users []models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	for i := range users {
		result[users[i].ID] = &users[i]
	}
	return result, nil
}

// UpdateContact replaces the free-form contact details shared with trade
// partners.
func (s *userService) UpdateContact(ctx context.Context, id utils.SixID, contact string) error {
	update := bson.M{"$set": bson.M{"contact": strings.TrimSpace(contact), "updated_at": time.Now().UTC()}}
	res, err := s.db.Collection(usersCollection).UpdateOne(ctx, bson.M{"_id": id, "deleted": false}, update)
	if err != nil {
		return fmt.Errorf("db error updating contact for user %s: %w", id.String(), err)
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// DeleteAccount winds down the account: cancels all active trades, removes
// the entire inventory and soft-deletes the user record. Trades are canceled
// first so their reserved rows are released before the inventory purge.
func (s *userService) DeleteAccount(ctx context.Context, id utils.SixID) error {
	if s.trades == nil {
		return fmt.Errorf("no trade service wired")
	}
	if err := s.trades.CancelAllForUser(ctx, id); err != nil {
		return err
	}
	if err := s.inventory.DeleteAllForOwner(ctx, id); err != nil {
		return err
	}

	update := bson.M{"$set": bson.M{"deleted": true, "updated_at": time.Now().UTC()}}
	res, err := s.db.Collection(usersCollection).UpdateOne(ctx, bson.M{"_id": id, "deleted": false}, update)
	if err != nil {
		return fmt.Errorf("db error deleting user %s: %w", id.String(), err)
	}
	if res.MatchedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}
