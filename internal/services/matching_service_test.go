package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/config"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/models"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/utils"
)

type matchingEnv struct {
	inventory IInventoryService
	stickers  IStickerService
	matching  IMatchingService
}

func setupMatchingEnv(t *testing.T, dbName string) matchingEnv {
	db := utils.SetupTestDB(t, dbName, offersCollection, wantsCollection, stickersCollection)
	cfg := &config.Config{MatchPageSize: 20}
	inventory := NewInventoryService(db, cfg)
	stickers := NewStickerService(db)
	return matchingEnv{
		inventory: inventory,
		stickers:  stickers,
		matching:  NewMatchingService(cfg, inventory, stickers),
	}
}

func mustOffer(t *testing.T, inv IInventoryService, owner utils.SixID, no int, giftable, payable, swappable bool) *models.StickerOffer {
	offer, err := inv.CreateOffer(context.Background(), owner, no, giftable, payable, swappable)
	require.NoError(t, err)
	return offer
}

func mustWant(t *testing.T, inv IInventoryService, owner utils.SixID, no int) *models.StickerWant {
	want, err := inv.CreateWant(context.Background(), owner, no)
	require.NoError(t, err)
	return want
}

func TestMatchingService_GiftMatches(t *testing.T) {
	env := setupMatchingEnv(t, "testdb_matching_gift")
	ctx := context.Background()

	caller := utils.NewSixID()
	partner := utils.NewSixID()

	// Partner gifts 1 and 2; caller wants both.
	mustOffer(t, env.inventory, partner, 1, true, false, false)
	mustOffer(t, env.inventory, partner, 2, true, false, false)
	mustWant(t, env.inventory, caller, 1)
	mustWant(t, env.inventory, caller, 2)
	// Caller gifts 3; partner wants it.
	mustOffer(t, env.inventory, caller, 3, true, false, false)
	mustWant(t, env.inventory, partner, 3)

	matches, err := env.matching.GiftMatches(ctx, caller, 0, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, partner, matches[0].PartnerID)
	// Both directions add up: they gift 2 stickers plus they want 1 of ours.
	assert.Equal(t, 3, matches[0].MatchCount)
	assert.Len(t, matches[0].TheyOffer, 2)
	assert.Len(t, matches[0].TheyWant, 1)
}

func TestMatchingService_SaleMatchesIgnoresNonPayable(t *testing.T) {
	env := setupMatchingEnv(t, "testdb_matching_sale")
	ctx := context.Background()

	caller := utils.NewSixID()
	seller := utils.NewSixID()
	gifter := utils.NewSixID()

	mustWant(t, env.inventory, caller, 1)
	mustWant(t, env.inventory, caller, 2)
	mustOffer(t, env.inventory, seller, 1, false, true, false)
	// Giftable-only rows never appear in sale matching.
	mustOffer(t, env.inventory, gifter, 2, true, false, false)

	matches, err := env.matching.SaleMatches(ctx, caller, 0, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, seller, matches[0].PartnerID)
	assert.Equal(t, 1, matches[0].MatchCount)
}

func TestMatchingService_SwapMatchesBalancedCount(t *testing.T) {
	env := setupMatchingEnv(t, "testdb_matching_swap")
	ctx := context.Background()

	caller := utils.NewSixID()
	partner := utils.NewSixID()
	oneSided := utils.NewSixID()

	// Partner swaps 1 and 2 which the caller wants; the caller swaps 3 which
	// the partner wants. min(get=2, give=1) = 1.
	mustOffer(t, env.inventory, partner, 1, false, false, true)
	mustOffer(t, env.inventory, partner, 2, false, false, true)
	mustWant(t, env.inventory, partner, 3)
	mustWant(t, env.inventory, caller, 1)
	mustWant(t, env.inventory, caller, 2)
	mustOffer(t, env.inventory, caller, 3, false, false, true)

	// oneSided offers something the caller wants but wants nothing back, so
	// no swap is possible with them.
	mustOffer(t, env.inventory, oneSided, 1, false, false, true)

	matches, err := env.matching.SwapMatches(ctx, caller, 0, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, partner, matches[0].PartnerID)
	assert.Equal(t, 1, matches[0].MatchCount)
}

func TestMatchingService_ReservedRowsExcluded(t *testing.T) {
	env := setupMatchingEnv(t, "testdb_matching_reserved")
	ctx := context.Background()

	caller := utils.NewSixID()
	partner := utils.NewSixID()

	mustWant(t, env.inventory, caller, 1)
	mustOffer(t, env.inventory, partner, 1, true, false, false)

	matches, err := env.matching.GiftMatches(ctx, caller, 0, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	// Reserving the partner's only row removes the match.
	_, err = env.inventory.ReserveOffer(ctx, partner, 1, models.TradeKindGift)
	require.NoError(t, err)

	matches, err = env.matching.GiftMatches(ctx, caller, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMatchingService_OrderingAndPagination(t *testing.T) {
	env := setupMatchingEnv(t, "testdb_matching_paging")
	ctx := context.Background()

	caller := utils.NewSixID()
	small := utils.NewSixID()
	big := utils.NewSixID()

	mustWant(t, env.inventory, caller, 1)
	mustWant(t, env.inventory, caller, 2)
	mustWant(t, env.inventory, caller, 3)

	mustOffer(t, env.inventory, small, 1, true, false, false)
	mustOffer(t, env.inventory, big, 1, true, false, false)
	mustOffer(t, env.inventory, big, 2, true, false, false)
	mustOffer(t, env.inventory, big, 3, true, false, false)

	matches, err := env.matching.GiftMatches(ctx, caller, 0, 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, big, matches[0].PartnerID, "higher match count ranks first")
	assert.Equal(t, small, matches[1].PartnerID)

	// Page of one, then the rest
	page1, err := env.matching.GiftMatches(ctx, caller, 1, 0)
	require.NoError(t, err)
	require.Len(t, page1, 1)
	assert.Equal(t, big, page1[0].PartnerID)

	page2, err := env.matching.GiftMatches(ctx, caller, 1, 1)
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, small, page2[0].PartnerID)

	page3, err := env.matching.GiftMatches(ctx, caller, 1, 2)
	require.NoError(t, err)
	assert.Empty(t, page3)
}

func TestMatchingService_ResolvesStickerNames(t *testing.T) {
	env := setupMatchingEnv(t, "testdb_matching_names")
	ctx := context.Background()

	_, err := env.stickers.CreateSticker(ctx, 1, "Goalkeeper", "Team A")
	require.NoError(t, err)

	caller := utils.NewSixID()
	partner := utils.NewSixID()
	mustWant(t, env.inventory, caller, 1)
	mustOffer(t, env.inventory, partner, 1, true, false, false)

	matches, err := env.matching.GiftMatches(ctx, caller, 0, 0)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Len(t, matches[0].TheyOffer, 1)
	assert.Equal(t, "Goalkeeper", matches[0].TheyOffer[0].Name)
}
