package services

import (
	"bytes"
	"context"
	"sort"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/config"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/models"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/utils"
)

// MatchItem is one sticker contributing to a match, with its catalog name for
// display.
type MatchItem struct {
	StickerNo int    `json:"sticker_no"`
	Name      string `json:"name,omitempty"`
}

// MatchPartner is one ranked counterparty. TheyOffer lists stickers the
// partner has that the caller wants; TheyWant lists stickers the caller has
// that the partner wants. Which sides are populated depends on the trade mode.
type MatchPartner struct {
	PartnerID  utils.SixID `json:"partner_id"`
	MatchCount int         `json:"match_count"`
	TheyOffer  []MatchItem `json:"they_offer,omitempty"`
	TheyWant   []MatchItem `json:"they_want,omitempty"`
}

// IMatchingService ranks candidate trade partners for a caller. All three
// queries are read-only, exclude reserved rows on either side, and order by
// descending match count with ascending partner id as the stable tie-break.
type IMatchingService interface {
	GiftMatches(ctx context.Context, callerID utils.SixID, limit, offset int) ([]MatchPartner, error)
	SaleMatches(ctx context.Context, callerID utils.SixID, limit, offset int) ([]MatchPartner, error)
	SwapMatches(ctx context.Context, callerID utils.SixID, limit, offset int) ([]MatchPartner, error)
}

// matchingService implements IMatchingService on top of the inventory bulk
// lookups. Intersections are computed in memory; the store only filters by
// sticker set, flags and reservation state.
type matchingService struct {
	cfg       *config.Config
	inventory IInventoryService
	stickers  IStickerService
}

// NewMatchingService creates a new MatchingService.
func NewMatchingService(cfg *config.Config, inventory IInventoryService, stickers IStickerService) IMatchingService {
	return &matchingService{cfg: cfg, inventory: inventory, stickers: stickers}
}

// GiftMatches ranks partners for free give-aways in both directions: partners
// who want something the caller gifts, and partners who gift something the
// caller wants. A mutual partner contributes from both directions, so the
// counts add up.
func (s *matchingService) GiftMatches(ctx context.Context, callerID utils.SixID, limit, offset int) ([]MatchPartner, error) {
	callerWants, err := s.inventory.ListUnreservedWantsByOwner(ctx, callerID)
	if err != nil {
		return nil, err
	}
	callerGifts, err := s.inventory.ListUnreservedOffersByOwner(ctx, callerID, models.TradeKindGift)
	if err != nil {
		return nil, err
	}

	// Partners gifting stickers the caller wants
	theirOffers, err := s.inventory.ListCandidateOffers(ctx, callerID, models.TradeKindGift, distinctWantNos(callerWants))
	if err != nil {
		return nil, err
	}
	// Partners wanting stickers the caller gifts
	theirWants, err := s.inventory.ListCandidateWants(ctx, callerID, distinctOfferNos(callerGifts))
	if err != nil {
		return nil, err
	}

	perPartner := map[utils.SixID]*partnerSets{}
	for _, o := range theirOffers {
		getSets(perPartner, o.OwnerID).offer[o.StickerNo] = struct{}{}
	}
	for _, w := range theirWants {
		getSets(perPartner, w.OwnerID).want[w.StickerNo] = struct{}{}
	}

	partners := make([]MatchPartner, 0, len(perPartner))
	for id, sets := range perPartner {
		partners = append(partners, MatchPartner{
			PartnerID:  id,
			MatchCount: len(sets.offer) + len(sets.want),
			TheyOffer:  itemsFromSet(sets.offer),
			TheyWant:   itemsFromSet(sets.want),
		})
	}

	return s.finish(ctx, partners, limit, offset)
}

// SaleMatches ranks partners who sell stickers the caller wants. The count is
// the number of distinct such stickers.
func (s *matchingService) SaleMatches(ctx context.Context, callerID utils.SixID, limit, offset int) ([]MatchPartner, error) {
	callerWants, err := s.inventory.ListUnreservedWantsByOwner(ctx, callerID)
	if err != nil {
		return nil, err
	}
	theirOffers, err := s.inventory.ListCandidateOffers(ctx, callerID, models.TradeKindSale, distinctWantNos(callerWants))
	if err != nil {
		return nil, err
	}

	perPartner := map[utils.SixID]*partnerSets{}
	for _, o := range theirOffers {
		getSets(perPartner, o.OwnerID).offer[o.StickerNo] = struct{}{}
	}

	partners := make([]MatchPartner, 0, len(perPartner))
	for id, sets := range perPartner {
		partners = append(partners, MatchPartner{
			PartnerID:  id,
			MatchCount: len(sets.offer),
			TheyOffer:  itemsFromSet(sets.offer),
		})
	}

	return s.finish(ctx, partners, limit, offset)
}

// SwapMatches ranks partners by min(get, give): get is the number of distinct
// stickers the partner swaps that the caller wants, give the number of
// distinct stickers the caller swaps that the partner wants. A swap needs a
// balanced pair, so a one-sided surplus does not raise the rank, and partners
// with nothing to exchange in one direction are excluded entirely.
func (s *matchingService) SwapMatches(ctx context.Context, callerID utils.SixID, limit, offset int) ([]MatchPartner, error) {
	callerWants, err := s.inventory.ListUnreservedWantsByOwner(ctx, callerID)
	if err != nil {
		return nil, err
	}
	callerSwaps, err := s.inventory.ListUnreservedOffersByOwner(ctx, callerID, models.TradeKindSwap)
	if err != nil {
		return nil, err
	}

	theirOffers, err := s.inventory.ListCandidateOffers(ctx, callerID, models.TradeKindSwap, distinctWantNos(callerWants))
	if err != nil {
		return nil, err
	}
	theirWants, err := s.inventory.ListCandidateWants(ctx, callerID, distinctOfferNos(callerSwaps))
	if err != nil {
		return nil, err
	}

	perPartner := map[utils.SixID]*partnerSets{}
	for _, o := range theirOffers {
		getSets(perPartner, o.OwnerID).offer[o.StickerNo] = struct{}{}
	}
	for _, w := range theirWants {
		getSets(perPartner, w.OwnerID).want[w.StickerNo] = struct{}{}
	}

	partners := make([]MatchPartner, 0, len(perPartner))
	for id, sets := range perPartner {
		get := len(sets.offer)
		give := len(sets.want)
		count := get
		if give < count {
			count = give
		}
		if count == 0 {
			continue
		}
		partners = append(partners, MatchPartner{
			PartnerID:  id,
			MatchCount: count,
			TheyOffer:  itemsFromSet(sets.offer),
			TheyWant:   itemsFromSet(sets.want),
		})
	}

	return s.finish(ctx, partners, limit, offset)
}

// partnerSets accumulates the distinct sticker numbers per direction for one
// partner.
type partnerSets struct {
	offer map[int]struct{}
	want  map[int]struct{}
}

func getSets(m map[utils.SixID]*partnerSets, id utils.SixID) *partnerSets {
	sets, ok := m[id]
	if !ok {
		sets = &partnerSets{offer: map[int]struct{}{}, want: map[int]struct{}{}}
		m[id] = sets
	}
	return sets
}

func distinctWantNos(wants []models.StickerWant) []int {
	seen := map[int]struct{}{}
	nos := make([]int, 0, len(wants))
	for _, w := range wants {
		if _, ok := seen[w.StickerNo]; ok {
			continue
		}
		seen[w.StickerNo] = struct{}{}
		nos = append(nos, w.StickerNo)
	}
	return nos
}

func distinctOfferNos(offers []models.StickerOffer) []int {
	seen := map[int]struct{}{}
	nos := make([]int, 0, len(offers))
	for _, o := range offers {
		if _, ok := seen[o.StickerNo]; ok {
			continue
		}
		seen[o.StickerNo] = struct{}{}
		nos = append(nos, o.StickerNo)
	}
	return nos
}

func itemsFromSet(set map[int]struct{}) []MatchItem {
	if len(set) == 0 {
		return nil
	}
	items := make([]MatchItem, 0, len(set))
	for no := range set {
		items = append(items, MatchItem{StickerNo: no})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].StickerNo < items[j].StickerNo })
	return items
}

// finish sorts, paginates and resolves sticker names for display.
func (s *matchingService) finish(ctx context.Context, partners []MatchPartner, limit, offset int) ([]MatchPartner, error) {
	sort.Slice(partners, func(i, j int) bool {
		if partners[i].MatchCount != partners[j].MatchCount {
			return partners[i].MatchCount > partners[j].MatchCount
		}
		return bytes.Compare(partners[i].PartnerID[:], partners[j].PartnerID[:]) < 0
	})

	if limit <= 0 {
		limit = s.cfg.MatchPageSize
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(partners) {
		return []MatchPartner{}, nil
	}
	end := offset + limit
	if end > len(partners) {
		end = len(partners)
	}
	page := partners[offset:end]

	// Resolve names only for the returned page
	nosSet := map[int]struct{}{}
	for _, p := range page {
		for _, it := range p.TheyOffer {
			nosSet[it.StickerNo] = struct{}{}
		}
		for _, it := range p.TheyWant {
			nosSet[it.StickerNo] = struct{}{}
		}
	}
	nos := make([]int, 0, len(nosSet))
	for no := range nosSet {
		nos = append(nos, no)
	}
	names, err := s.stickers.NamesFor(ctx, nos)
	if err != nil {
		return nil, err
	}
	for pi := range page {
		for ii := range page[pi].TheyOffer {
			page[pi].TheyOffer[ii].Name = names[page[pi].TheyOffer[ii].StickerNo]
		}
		for ii := range page[pi].TheyWant {
			page[pi].TheyWant[ii].Name = names[page[pi].TheyWant[ii].StickerNo]
		}
	}
	return page, nil
}
