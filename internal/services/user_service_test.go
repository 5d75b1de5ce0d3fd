package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/auth"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/config"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/utils"
)

func setupUserEnv(t *testing.T, dbName string) (IUserService, *config.Config) {
	db := utils.SetupTestDB(t, dbName, usersCollection, offersCollection, wantsCollection, tradesCollection)
	cfg := &config.Config{
		PasswordRegexp: "^.{8,}$",
		JwtSecret:      "test-secret",
		JwtTTL:         time.Hour,
	}
	inventory := NewInventoryService(db, cfg)
	users := NewUserService(db, cfg, inventory)
	stickers := NewStickerService(db)
	outbox := NewOutboxService(db, cfg, discardSender{})
	trades := NewTradeService(db, cfg, inventory, stickers, outbox)
	trades.SetUserDirectory(users)
	users.SetTradeService(trades)
	return users, cfg
}

func TestUserService_Register(t *testing.T) {
	users, _ := setupUserEnv(t, "testdb_user_register")
	ctx := context.Background()

	user, err := users.Register(ctx, "Alice", "Alice@Example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email, "emails are normalized to lower case")
	assert.NotEqual(t, "password123", user.PasswordHash)
	assert.False(t, user.IsAdmin)

	// Duplicate email
	_, err = users.Register(ctx, "Other", "alice@example.com", "password123")
	assert.True(t, IsConflict(err))

	// Weak password
	_, err = users.Register(ctx, "Bob", "bob@example.com", "short")
	assert.True(t, IsValidation(err))

	// Broken email
	_, err = users.Register(ctx, "Bob", "not-an-email", "password123")
	assert.True(t, IsValidation(err))
}

func TestUserService_Authenticate(t *testing.T) {
	users, cfg := setupUserEnv(t, "testdb_user_auth")
	ctx := context.Background()

	registered, err := users.Register(ctx, "Alice", "alice@example.com", "password123")
	require.NoError(t, err)

	user, token, err := users.Authenticate(ctx, "alice@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)
	require.NotEmpty(t, token)

	claims, err := auth.ValidateJWT(token, cfg.JwtSecret)
	require.NoError(t, err)
	assert.Equal(t, registered.ID.String(), claims.UserID)

	// Wrong password and unknown email produce the same class of error
	_, _, err = users.Authenticate(ctx, "alice@example.com", "wrong-password")
	assert.True(t, IsAuthorization(err))
	_, _, err = users.Authenticate(ctx, "nobody@example.com", "password123")
	assert.True(t, IsAuthorization(err))
}

func TestUserService_UpdateContact(t *testing.T) {
	users, _ := setupUserEnv(t, "testdb_user_contact")
	ctx := context.Background()

	user, err := users.Register(ctx, "Alice", "alice@example.com", "password123")
	require.NoError(t, err)

	require.NoError(t, users.UpdateContact(ctx, user.ID, "  Musterstrasse 1, Berlin  "))
	reloaded, err := users.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Musterstrasse 1, Berlin", reloaded.Contact)
}

func TestUserService_FindByIDs(t *testing.T) {
	users, _ := setupUserEnv(t, "testdb_user_bulk")
	ctx := context.Background()

	alice, err := users.Register(ctx, "Alice", "alice@example.com", "password123")
	require.NoError(t, err)
	bob, err := users.Register(ctx, "Bob", "bob@example.com", "password123")
	require.NoError(t, err)

	missing := utils.NewSixID()
	found, err := users.FindByIDs(ctx, []utils.SixID{alice.ID, bob.ID, missing})
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.NotNil(t, found[alice.ID])
	assert.NotNil(t, found[bob.ID])
	assert.Nil(t, found[missing])
}

func TestUserService_DeleteAccountHidesUser(t *testing.T) {
	users, _ := setupUserEnv(t, "testdb_user_delete")
	ctx := context.Background()

	user, err := users.Register(ctx, "Alice", "alice@example.com", "password123")
	require.NoError(t, err)

	require.NoError(t, users.DeleteAccount(ctx, user.ID))

	// Deleted accounts can neither be found nor log in, but the email becomes
	// available again.
	_, err = users.FindByID(ctx, user.ID)
	assert.Error(t, err)
	_, _, err = users.Authenticate(ctx, "alice@example.com", "password123")
	assert.True(t, IsAuthorization(err))

	_, err = users.Register(ctx, "Alice II", "alice@example.com", "password123")
	assert.NoError(t, err)
}
