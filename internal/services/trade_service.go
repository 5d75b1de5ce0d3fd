package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/config"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/db"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/models"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/utils"
)

const tradesCollection = "trade_requests"

// UserDirectory is the slice of the user service the trade engine needs:
// resolving parties to names and contact details for notifications. Injected
// via SetUserDirectory after construction because the user service in turn
// depends on the trade engine for account deletion.
type UserDirectory interface {
	FindByID(ctx context.Context, id utils.SixID) (*models.User, error)
	FindByIDs(ctx context.Context, ids []utils.SixID) (map[utils.SixID]*models.User, error)
}

// ITradeService runs the trade request state machine. A request moves
// CREATED -> NOTIFIED -> RESERVED -> COMPLETED; CANCELED is reachable from
// every non-terminal state. Inventory rows are only reserved by Accept and
// only released or consumed by Decline, Close and the deletion hooks, so
// every reserved row is always attributable to exactly one RESERVED trade.
type ITradeService interface {
	Propose(ctx context.Context, requesterID, responderID utils.SixID, kind models.TradeKind, wantedStickerNo int, givenStickerNo *int) (*models.TradeRequest, error)
	Accept(ctx context.Context, tradeID, callerID utils.SixID) (*models.TradeRequest, error)
	Decline(ctx context.Context, tradeID, callerID utils.SixID) (*models.TradeRequest, error)
	Close(ctx context.Context, tradeID, callerID utils.SixID) (*models.TradeRequest, error)
	FindByID(ctx context.Context, tradeID, callerID utils.SixID) (*models.TradeRequest, error)
	ListForUser(ctx context.Context, userID utils.SixID, activeOnly bool) ([]models.TradeRequest, error)

	// SweepAndNotify batches all CREATED requests into one notification per
	// responder and advances them to NOTIFIED.
	SweepAndNotify(ctx context.Context) (int, error)

	// CancelAllForUser cancels every active trade the user is party to.
	CancelAllForUser(ctx context.Context, userID utils.SixID) error

	SetUserDirectory(users UserDirectory)

	DeletionHooks
}

type tradeService struct {
	db        *mongo.Database
	cfg       *config.Config
	inventory IInventoryService
	stickers  IStickerService
	outbox    IOutboxService
	users     UserDirectory // set after construction
}

// NewTradeService creates a new TradeService. Call SetUserDirectory before
// serving requests.
func NewTradeService(database *mongo.Database, cfg *config.Config, inventory IInventoryService, stickers IStickerService, outbox IOutboxService) ITradeService {
	return &tradeService{
		db:        database,
		cfg:       cfg,
		inventory: inventory,
		stickers:  stickers,
		outbox:    outbox,
	}
}

// SetUserDirectory wires the user lookup used for notifications.
func (s *tradeService) SetUserDirectory(users UserDirectory) {
	s.users = users
}

// Propose validates a trade request against current inventory and stores it
// in CREATED state. Validation is best-effort: rows may disappear between the
// check and a later Accept, which re-verifies by reserving atomically.
func (s *tradeService) Propose(ctx context.Context, requesterID, responderID utils.SixID, kind models.TradeKind, wantedStickerNo int, givenStickerNo *int) (*models.TradeRequest, error) {
	if !kind.Valid() {
		return nil, NewValidationError("unknown trade kind %q", kind)
	}
	if requesterID == responderID {
		return nil, NewValidationError("cannot trade with yourself")
	}
	if kind == models.TradeKindSwap {
		if givenStickerNo == nil {
			return nil, NewValidationError("swap requests must name the sticker given in return")
		}
		if *givenStickerNo == wantedStickerNo {
			return nil, NewValidationError("cannot swap a sticker for itself")
		}
	} else if givenStickerNo != nil {
		return nil, NewValidationError("%s requests must not name a sticker given in return", kind)
	}

	ok, err := s.inventory.HasUnreservedOffer(ctx, responderID, wantedStickerNo, kind)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewValidationError("responder has no available %s offer for sticker %d", strings.ToLower(string(kind)), wantedStickerNo)
	}
	ok, err = s.inventory.HasUnreservedWant(ctx, requesterID, wantedStickerNo)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewValidationError("requester has no open want for sticker %d", wantedStickerNo)
	}

	if kind == models.TradeKindSwap {
		ok, err = s.inventory.HasUnreservedOffer(ctx, requesterID, *givenStickerNo, models.TradeKindSwap)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, NewValidationError("requester has no available swap offer for sticker %d", *givenStickerNo)
		}
		ok, err = s.inventory.HasUnreservedWant(ctx, responderID, *givenStickerNo)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, NewValidationError("responder has no open want for sticker %d", *givenStickerNo)
		}
	}

	now := time.Now().UTC()
	var trade *models.TradeRequest
	operation := func() error {
		trade = &models.TradeRequest{
			ID:              utils.NewSixID(),
			RequesterID:     requesterID,
			ResponderID:     responderID,
			WantedStickerNo: wantedStickerNo,
			GivenStickerNo:  givenStickerNo,
			Kind:            kind,
			Status:          models.TradeStatusCreated,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		_, insertErr := s.db.Collection(tradesCollection).InsertOne(ctx, trade)
		return insertErr
	}
	if err := db.Try(operation); err != nil {
		return nil, fmt.Errorf("failed to insert trade request: %w", err)
	}
	return trade, nil
}

// Accept reserves the backing inventory rows and moves the request to
// RESERVED. Only the responder may accept. Row claims are atomic per row;
// when any claim fails, or the request itself was concurrently canceled,
// every row claimed so far is released again.
func (s *tradeService) Accept(ctx context.Context, tradeID, callerID utils.SixID) (*models.TradeRequest, error) {
	trade, err := s.load(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if trade.ResponderID != callerID {
		return nil, NewAuthorizationError("only the responder may accept a trade request")
	}
	if trade.Status != models.TradeStatusCreated && trade.Status != models.TradeStatusNotified {
		return nil, NewConflictError("trade request is %s and can no longer be accepted", trade.Status)
	}

	var reservedOffers []utils.SixID
	var reservedWants []utils.SixID
	rollback := func() {
		for _, id := range reservedOffers {
			if relErr := s.inventory.ReleaseOffer(ctx, id); relErr != nil {
				log.Printf("Failed to release offer %s during accept rollback of trade %s: %v", id.String(), tradeID.String(), relErr)
			}
		}
		for _, id := range reservedWants {
			if relErr := s.inventory.ReleaseWant(ctx, id); relErr != nil {
				log.Printf("Failed to release want %s during accept rollback of trade %s: %v", id.String(), tradeID.String(), relErr)
			}
		}
	}

	responderOffer, err := s.inventory.ReserveOffer(ctx, trade.ResponderID, trade.WantedStickerNo, trade.Kind)
	if err != nil {
		if errors.Is(err, ErrNoUnreservedRow) {
			return nil, NewConflictError("your offer for sticker %d is no longer available", trade.WantedStickerNo)
		}
		return nil, err
	}
	reservedOffers = append(reservedOffers, responderOffer.ID)

	requesterWant, err := s.inventory.ReserveWant(ctx, trade.RequesterID, trade.WantedStickerNo)
	if err != nil {
		rollback()
		if errors.Is(err, ErrNoUnreservedRow) {
			return nil, NewConflictError("the requester no longer wants sticker %d", trade.WantedStickerNo)
		}
		return nil, err
	}
	reservedWants = append(reservedWants, requesterWant.ID)

	update := bson.M{
		"status":          models.TradeStatusReserved,
		"responder_offer": responderOffer.ID,
		"requester_want":  requesterWant.ID,
		"updated_at":      time.Now().UTC(),
	}

	if trade.Kind == models.TradeKindSwap {
		requesterOffer, err := s.inventory.ReserveOffer(ctx, trade.RequesterID, *trade.GivenStickerNo, models.TradeKindSwap)
		if err != nil {
			rollback()
			if errors.Is(err, ErrNoUnreservedRow) {
				return nil, NewConflictError("the requester no longer offers sticker %d", *trade.GivenStickerNo)
			}
			return nil, err
		}
		reservedOffers = append(reservedOffers, requesterOffer.ID)

		responderWant, err := s.inventory.ReserveWant(ctx, trade.ResponderID, *trade.GivenStickerNo)
		if err != nil {
			rollback()
			if errors.Is(err, ErrNoUnreservedRow) {
				return nil, NewConflictError("your want for sticker %d is no longer open", *trade.GivenStickerNo)
			}
			return nil, err
		}
		reservedWants = append(reservedWants, responderWant.ID)

		update["requester_offer"] = requesterOffer.ID
		update["responder_want"] = responderWant.ID
	}

	// Rows are held; now win the state race. A concurrent decline changes the
	// status first and makes this update match nothing.
	filter := bson.M{
		"_id":    tradeID,
		"status": bson.M{"$in": []models.TradeStatus{models.TradeStatusCreated, models.TradeStatusNotified}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var accepted models.TradeRequest
	err = s.db.Collection(tradesCollection).FindOneAndUpdate(ctx, filter, bson.M{"$set": update}, opts).Decode(&accepted)
	if err != nil {
		rollback()
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, NewConflictError("trade request was canceled or accepted concurrently")
		}
		return nil, fmt.Errorf("db error accepting trade %s: %w", tradeID.String(), err)
	}

	s.notifyAccepted(ctx, &accepted)
	return &accepted, nil
}

// notifyAccepted queues the acceptance email to the requester, including the
// responder's contact details. Notification failures are logged, never
// surfaced: the reservation already happened.
func (s *tradeService) notifyAccepted(ctx context.Context, trade *models.TradeRequest) {
	if s.users == nil {
		log.Printf("No user directory wired, skipping acceptance notification for trade %s", trade.ID.String())
		return
	}
	parties, err := s.users.FindByIDs(ctx, []utils.SixID{trade.RequesterID, trade.ResponderID})
	if err != nil {
		log.Printf("Failed to load parties for trade %s: %v", trade.ID.String(), err)
		return
	}
	requester, responder := parties[trade.RequesterID], parties[trade.ResponderID]
	if requester == nil || responder == nil {
		log.Printf("Missing party account for trade %s, skipping notification", trade.ID.String())
		return
	}

	numbers := []int{trade.WantedStickerNo}
	if trade.GivenStickerNo != nil {
		numbers = append(numbers, *trade.GivenStickerNo)
	}
	names, err := s.stickers.NamesFor(ctx, numbers)
	if err != nil {
		log.Printf("Failed to resolve sticker names for trade %s: %v", trade.ID.String(), err)
		names = map[int]string{}
	}

	var body strings.Builder
	body.WriteString(fmt.Sprintf("Hello %s,\n\n", requester.Name))
	body.WriteString(fmt.Sprintf("%s accepted your request for %s.\n", responder.Name, describeSticker(trade.WantedStickerNo, names)))
	switch trade.Kind {
	case models.TradeKindSale:
		body.WriteString("Agree on the price and payment directly with each other.\n")
	case models.TradeKindSwap:
		body.WriteString(fmt.Sprintf("In return you give %s.\n", describeSticker(*trade.GivenStickerNo, names)))
	}
	body.WriteString(fmt.Sprintf("\nContact: %s\n", contactLine(responder)))
	body.WriteString("\nOnce the stickers changed hands, both of you confirm the trade in the app.\n")

	subject := fmt.Sprintf("Your trade request for %s was accepted", describeSticker(trade.WantedStickerNo, names))
	if _, err := s.outbox.Enqueue(ctx, requester.Email, subject, body.String()); err != nil {
		log.Printf("Failed to enqueue acceptance notification for trade %s: %v", trade.ID.String(), err)
	}
}

// Decline cancels a trade request. Either party may decline while the request
// is CREATED, NOTIFIED or RESERVED; declining a RESERVED request releases the
// reserved rows back into circulation.
func (s *tradeService) Decline(ctx context.Context, tradeID, callerID utils.SixID) (*models.TradeRequest, error) {
	trade, err := s.load(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !trade.IsParty(callerID) {
		return nil, NewAuthorizationError("only a trade party may decline a trade request")
	}

	reason := models.CancelReasonRequester
	if callerID == trade.ResponderID {
		reason = models.CancelReasonResponder
	}

	before, err := s.cancel(ctx, tradeID, reason)
	if err != nil {
		return nil, err
	}

	canceled := *before
	canceled.Status = models.TradeStatusCanceled
	canceled.CancelReason = &reason
	return &canceled, nil
}

// cancel transitions a trade to CANCELED and releases any rows it had
// reserved. Returns the pre-transition document. The status filter makes
// concurrent cancels and accept-vs-decline races resolve to one winner.
func (s *tradeService) cancel(ctx context.Context, tradeID utils.SixID, reason models.CancelReason) (*models.TradeRequest, error) {
	filter := bson.M{
		"_id": tradeID,
		"status": bson.M{"$in": []models.TradeStatus{
			models.TradeStatusCreated, models.TradeStatusNotified, models.TradeStatusReserved,
		}},
	}
	update := bson.M{"$set": bson.M{
		"status":        models.TradeStatusCanceled,
		"cancel_reason": reason,
		"updated_at":    time.Now().UTC(),
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var before models.TradeRequest
	err := s.db.Collection(tradesCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&before)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, NewConflictError("trade request is already completed or canceled")
		}
		return nil, fmt.Errorf("db error canceling trade %s: %w", tradeID.String(), err)
	}

	if before.Status == models.TradeStatusReserved {
		s.releaseRows(ctx, &before, nil)
	}
	return &before, nil
}

// releaseRows releases every reserved row of the trade except skipID, which
// is the row currently being deleted by an inventory hook.
func (s *tradeService) releaseRows(ctx context.Context, trade *models.TradeRequest, skipID *utils.SixID) {
	skip := func(id *utils.SixID) bool {
		return id == nil || (skipID != nil && *id == *skipID)
	}
	for _, offerID := range []*utils.SixID{trade.ResponderOfferID, trade.RequesterOfferID} {
		if skip(offerID) {
			continue
		}
		if err := s.inventory.ReleaseOffer(ctx, *offerID); err != nil {
			log.Printf("Failed to release offer %s of canceled trade %s: %v", offerID.String(), trade.ID.String(), err)
		}
	}
	for _, wantID := range []*utils.SixID{trade.RequesterWantID, trade.ResponderWantID} {
		if skip(wantID) {
			continue
		}
		if err := s.inventory.ReleaseWant(ctx, *wantID); err != nil {
			log.Printf("Failed to release want %s of canceled trade %s: %v", wantID.String(), trade.ID.String(), err)
		}
	}
}

// Close records that the caller's side of a RESERVED trade was fulfilled and
// consumes the caller's own inventory rows. When the other party has already
// closed, the trade becomes COMPLETED. Closing again is a no-op.
func (s *tradeService) Close(ctx context.Context, tradeID, callerID utils.SixID) (*models.TradeRequest, error) {
	trade, err := s.load(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !trade.IsParty(callerID) {
		return nil, NewAuthorizationError("only a trade party may close a trade request")
	}

	isResponder := callerID == trade.ResponderID
	flagField := "requester_closed"
	if isResponder {
		flagField = "responder_closed"
	}

	// Claim the caller's closed flag. Matching on the flag being unset makes
	// a repeated close idempotent even when two requests race.
	filter := bson.M{"_id": tradeID, "status": models.TradeStatusReserved, flagField: false}
	update := bson.M{"$set": bson.M{flagField: true, "updated_at": time.Now().UTC()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var before models.TradeRequest
	err = s.db.Collection(tradesCollection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&before)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Either the flag was already set or the trade left RESERVED.
			current, loadErr := s.load(ctx, tradeID)
			if loadErr != nil {
				return nil, loadErr
			}
			alreadyClosed := current.RequesterClosed
			if isResponder {
				alreadyClosed = current.ResponderClosed
			}
			if alreadyClosed && (current.Status == models.TradeStatusReserved || current.Status == models.TradeStatusCompleted) {
				return current, nil
			}
			return nil, NewConflictError("trade request is %s and cannot be closed", current.Status)
		}
		return nil, fmt.Errorf("db error closing trade %s: %w", tradeID.String(), err)
	}

	// The flag claim succeeded, so the caller's rows are theirs to consume.
	// Consumption only takes rows whose reservation is still held: when a
	// decline slips in between the claim and this point, the released rows
	// stay in the inventory.
	if isResponder {
		s.consumeRow(ctx, tradeID, before.ResponderOfferID, s.inventory.ConsumeOffer)
		s.consumeRow(ctx, tradeID, before.ResponderWantID, s.inventory.ConsumeWant)
	} else {
		s.consumeRow(ctx, tradeID, before.RequesterWantID, s.inventory.ConsumeWant)
		s.consumeRow(ctx, tradeID, before.RequesterOfferID, s.inventory.ConsumeOffer)
	}

	otherClosed := before.RequesterClosed
	if !isResponder {
		otherClosed = before.ResponderClosed
	}
	if otherClosed {
		complete := bson.M{"$set": bson.M{"status": models.TradeStatusCompleted, "updated_at": time.Now().UTC()}}
		completeFilter := bson.M{"_id": tradeID, "status": models.TradeStatusReserved, "requester_closed": true, "responder_closed": true}
		if _, err := s.db.Collection(tradesCollection).UpdateOne(ctx, completeFilter, complete); err != nil {
			return nil, fmt.Errorf("db error completing trade %s: %w", tradeID.String(), err)
		}
	}

	return s.load(ctx, tradeID)
}

func (s *tradeService) consumeRow(ctx context.Context, tradeID utils.SixID, rowID *utils.SixID, consume func(context.Context, utils.SixID) error) {
	if rowID == nil {
		return
	}
	if err := consume(ctx, *rowID); err != nil {
		log.Printf("Failed to consume row %s of trade %s: %v", rowID.String(), tradeID.String(), err)
	}
}

// FindByID returns a trade request visible to the caller.
func (s *tradeService) FindByID(ctx context.Context, tradeID, callerID utils.SixID) (*models.TradeRequest, error) {
	trade, err := s.load(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if !trade.IsParty(callerID) {
		return nil, NewAuthorizationError("trade request %s does not involve user %s", tradeID.String(), callerID.String())
	}
	return trade, nil
}

// ListForUser returns all trades the user is party to, most recently updated
// first.
func (s *tradeService) ListForUser(ctx context.Context, userID utils.SixID, activeOnly bool) ([]models.TradeRequest, error) {
	filter := bson.M{"$or": []bson.M{{"requester_id": userID}, {"responder_id": userID}}}
	if activeOnly {
		filter["status"] = bson.M{"$in": []models.TradeStatus{
			models.TradeStatusCreated, models.TradeStatusNotified, models.TradeStatusReserved,
		}}
	}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cursor, err := s.db.Collection(tradesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("db error listing trades for user %s: %w", userID.String(), err)
	}
	defer cursor.Close(ctx)

	var trades []models.TradeRequest
	if err := cursor.All(ctx, &trades); err != nil {
		return nil, fmt.Errorf("failed to decode trades: %w", err)
	}
	return trades, nil
}

// SweepAndNotify collects all CREATED requests, writes one digest email per
// responder into the outbox and advances the included requests to NOTIFIED.
// The outbox insert happens before the status flip, so a crash in between
// leads to a duplicate digest rather than a lost one. Returns the number of
// requests advanced.
func (s *tradeService) SweepAndNotify(ctx context.Context) (int, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.db.Collection(tradesCollection).Find(ctx, bson.M{"status": models.TradeStatusCreated}, opts)
	if err != nil {
		return 0, fmt.Errorf("db error loading created trades: %w", err)
	}
	var created []models.TradeRequest
	if err := cursor.All(ctx, &created); err != nil {
		return 0, fmt.Errorf("failed to decode created trades: %w", err)
	}
	if len(created) == 0 {
		return 0, nil
	}

	byResponder := map[utils.SixID][]models.TradeRequest{}
	userIDSet := map[utils.SixID]struct{}{}
	numberSet := map[int]struct{}{}
	for _, t := range created {
		byResponder[t.ResponderID] = append(byResponder[t.ResponderID], t)
		userIDSet[t.ResponderID] = struct{}{}
		userIDSet[t.RequesterID] = struct{}{}
		numberSet[t.WantedStickerNo] = struct{}{}
		if t.GivenStickerNo != nil {
			numberSet[*t.GivenStickerNo] = struct{}{}
		}
	}

	if s.users == nil {
		return 0, fmt.Errorf("no user directory wired")
	}
	userIDs := make([]utils.SixID, 0, len(userIDSet))
	for id := range userIDSet {
		userIDs = append(userIDs, id)
	}
	users, err := s.users.FindByIDs(ctx, userIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to load trade parties: %w", err)
	}

	numbers := make([]int, 0, len(numberSet))
	for no := range numberSet {
		numbers = append(numbers, no)
	}
	names, err := s.stickers.NamesFor(ctx, numbers)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve sticker names: %w", err)
	}

	// Deterministic responder order keeps repeated sweeps comparable in logs
	// and tests.
	responders := make([]utils.SixID, 0, len(byResponder))
	for id := range byResponder {
		responders = append(responders, id)
	}
	sort.Slice(responders, func(i, j int) bool { return responders[i].String() < responders[j].String() })

	notified := 0
	for _, responderID := range responders {
		batch := byResponder[responderID]
		responder := users[responderID]
		if responder == nil {
			log.Printf("Responder %s of %d pending trades has no account, skipping", responderID.String(), len(batch))
			continue
		}

		subject, body := s.buildDigest(responder, batch, users, names)
		if _, err := s.outbox.Enqueue(ctx, responder.Email, subject, body); err != nil {
			// Leave this responder's trades in CREATED for the next sweep.
			log.Printf("Failed to enqueue trade digest for %s: %v", responder.Email, err)
			continue
		}

		ids := make([]utils.SixID, len(batch))
		for i, t := range batch {
			ids[i] = t.ID
		}
		filter := bson.M{"_id": bson.M{"$in": ids}, "status": models.TradeStatusCreated}
		update := bson.M{"$set": bson.M{"status": models.TradeStatusNotified, "updated_at": time.Now().UTC()}}
		res, err := s.db.Collection(tradesCollection).UpdateMany(ctx, filter, update)
		if err != nil {
			log.Printf("Failed to advance trades of responder %s to NOTIFIED: %v", responderID.String(), err)
			continue
		}
		notified += int(res.ModifiedCount)
	}
	return notified, nil
}

// buildDigest renders one notification email listing every new request
// addressed to the responder.
func (s *tradeService) buildDigest(responder *models.User, batch []models.TradeRequest, users map[utils.SixID]*models.User, names map[int]string) (string, string) {
	var body strings.Builder
	body.WriteString(fmt.Sprintf("Hello %s,\n\n", responder.Name))
	if len(batch) == 1 {
		body.WriteString("You have a new trade request:\n\n")
	} else {
		body.WriteString(fmt.Sprintf("You have %d new trade requests:\n\n", len(batch)))
	}

	for _, t := range batch {
		requesterName := "a collector"
		if requester := users[t.RequesterID]; requester != nil {
			requesterName = requester.Name
		}
		wanted := describeSticker(t.WantedStickerNo, names)
		switch t.Kind {
		case models.TradeKindGift:
			body.WriteString(fmt.Sprintf("* %s asks for %s as a gift.\n", requesterName, wanted))
		case models.TradeKindSale:
			body.WriteString(fmt.Sprintf("* %s wants to buy %s.\n", requesterName, wanted))
		case models.TradeKindSwap:
			body.WriteString(fmt.Sprintf("* %s offers %s in exchange for %s.\n", requesterName, describeSticker(*t.GivenStickerNo, names), wanted))
		}
	}

	body.WriteString("\nOpen the app to accept or decline.\n")

	subject := "New trade request"
	if len(batch) > 1 {
		subject = fmt.Sprintf("%d new trade requests", len(batch))
	}
	return subject, body.String()
}

// CancelAllForUser cancels every active trade the user is involved in. Used
// by account deletion; failures on a single trade do not stop the rest.
func (s *tradeService) CancelAllForUser(ctx context.Context, userID utils.SixID) error {
	filter := bson.M{
		"$or": []bson.M{{"requester_id": userID}, {"responder_id": userID}},
		"status": bson.M{"$in": []models.TradeStatus{
			models.TradeStatusCreated, models.TradeStatusNotified, models.TradeStatusReserved,
		}},
	}
	cursor, err := s.db.Collection(tradesCollection).Find(ctx, filter)
	if err != nil {
		return fmt.Errorf("db error loading active trades for user %s: %w", userID.String(), err)
	}
	var active []models.TradeRequest
	if err := cursor.All(ctx, &active); err != nil {
		return fmt.Errorf("failed to decode active trades: %w", err)
	}

	for _, t := range active {
		if _, err := s.cancel(ctx, t.ID, models.CancelReasonAccountDeleted); err != nil {
			if IsConflict(err) {
				continue // lost the race to a terminal transition, nothing to undo
			}
			log.Printf("Failed to cancel trade %s during account deletion of %s: %v", t.ID.String(), userID.String(), err)
		}
	}
	return nil
}

// HandleOfferDeleted cancels trades that depend on an offer row about to be
// deleted. A reserved row cancels its RESERVED trade outright; an unreserved
// row only cancels CREATED or NOTIFIED requests that no duplicate row can
// still satisfy.
func (s *tradeService) HandleOfferDeleted(ctx context.Context, offer *models.StickerOffer) error {
	if offer.Reserved {
		filter := bson.M{
			"status": models.TradeStatusReserved,
			"$or":    []bson.M{{"responder_offer": offer.ID}, {"requester_offer": offer.ID}},
		}
		return s.cancelMatching(ctx, filter, models.CancelReasonOfferRemoved, &offer.ID)
	}

	// Pending requests against this (owner, sticker) pair survive as long as
	// another unreserved row with a matching flag remains.
	pending, err := s.pendingTradesForOffer(ctx, offer)
	if err != nil {
		return err
	}
	for _, t := range pending {
		kind := t.Kind
		if t.RequesterID == offer.OwnerID {
			kind = models.TradeKindSwap
		}
		ok, err := s.inventory.HasOtherUnreservedOffer(ctx, offer.ID, offer.OwnerID, offer.StickerNo, kind)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if _, err := s.cancel(ctx, t.ID, models.CancelReasonOfferRemoved); err != nil && !IsConflict(err) {
			return err
		}
	}
	return nil
}

// HandleWantDeleted is the want-side counterpart of HandleOfferDeleted.
func (s *tradeService) HandleWantDeleted(ctx context.Context, want *models.StickerWant) error {
	if want.Reserved {
		filter := bson.M{
			"status": models.TradeStatusReserved,
			"$or":    []bson.M{{"requester_want": want.ID}, {"responder_want": want.ID}},
		}
		return s.cancelMatching(ctx, filter, models.CancelReasonWantRemoved, &want.ID)
	}

	filter := bson.M{
		"status": bson.M{"$in": []models.TradeStatus{models.TradeStatusCreated, models.TradeStatusNotified}},
		"$or": []bson.M{
			{"requester_id": want.OwnerID, "wanted_sticker_no": want.StickerNo},
			{"responder_id": want.OwnerID, "given_sticker_no": want.StickerNo},
		},
	}
	cursor, err := s.db.Collection(tradesCollection).Find(ctx, filter)
	if err != nil {
		return fmt.Errorf("db error loading trades for want %s: %w", want.ID.String(), err)
	}
	var pending []models.TradeRequest
	if err := cursor.All(ctx, &pending); err != nil {
		return fmt.Errorf("failed to decode trades: %w", err)
	}

	for _, t := range pending {
		ok, err := s.inventory.HasOtherUnreservedWant(ctx, want.ID, want.OwnerID, want.StickerNo)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if _, err := s.cancel(ctx, t.ID, models.CancelReasonWantRemoved); err != nil && !IsConflict(err) {
			return err
		}
	}
	return nil
}

// pendingTradesForOffer loads CREATED and NOTIFIED requests that the given
// offer row could back: requests asking its owner for the sticker, plus swap
// requests in which the owner gives the sticker away.
func (s *tradeService) pendingTradesForOffer(ctx context.Context, offer *models.StickerOffer) ([]models.TradeRequest, error) {
	filter := bson.M{
		"status": bson.M{"$in": []models.TradeStatus{models.TradeStatusCreated, models.TradeStatusNotified}},
		"$or": []bson.M{
			{"responder_id": offer.OwnerID, "wanted_sticker_no": offer.StickerNo},
			{"requester_id": offer.OwnerID, "given_sticker_no": offer.StickerNo},
		},
	}
	cursor, err := s.db.Collection(tradesCollection).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("db error loading trades for offer %s: %w", offer.ID.String(), err)
	}
	var pending []models.TradeRequest
	if err := cursor.All(ctx, &pending); err != nil {
		return nil, fmt.Errorf("failed to decode trades: %w", err)
	}
	return pending, nil
}

// cancelMatching cancels every trade matching the filter, releasing reserved
// rows except the one being deleted.
func (s *tradeService) cancelMatching(ctx context.Context, filter bson.M, reason models.CancelReason, skipRowID *utils.SixID) error {
	cursor, err := s.db.Collection(tradesCollection).Find(ctx, filter)
	if err != nil {
		return fmt.Errorf("db error loading trades to cancel: %w", err)
	}
	var trades []models.TradeRequest
	if err := cursor.All(ctx, &trades); err != nil {
		return fmt.Errorf("failed to decode trades: %w", err)
	}

	for _, t := range trades {
		update := bson.M{"$set": bson.M{
			"status":        models.TradeStatusCanceled,
			"cancel_reason": reason,
			"updated_at":    time.Now().UTC(),
		}}
		stateFilter := bson.M{"_id": t.ID, "status": models.TradeStatusReserved}
		opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

		var before models.TradeRequest
		err := s.db.Collection(tradesCollection).FindOneAndUpdate(ctx, stateFilter, update, opts).Decode(&before)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				continue // already left RESERVED
			}
			return fmt.Errorf("db error canceling trade %s: %w", t.ID.String(), err)
		}
		s.releaseRows(ctx, &before, skipRowID)
	}
	return nil
}

func (s *tradeService) load(ctx context.Context, tradeID utils.SixID) (*models.TradeRequest, error) {
	var trade models.TradeRequest
	err := s.db.Collection(tradesCollection).FindOne(ctx, bson.M{"_id": tradeID}).Decode(&trade)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("db error loading trade %s: %w", tradeID.String(), err)
	}
	return &trade, nil
}

// describeSticker renders "Name (#7)" or "#7" when the catalog has no entry.
func describeSticker(number int, names map[int]string) string {
	if name := names[number]; name != "" {
		return fmt.Sprintf("%s (#%d)", name, number)
	}
	return fmt.Sprintf("#%d", number)
}

// contactLine prefers the user's free-form contact details over the bare
// email address.
func contactLine(u *models.User) string {
	if strings.TrimSpace(u.Contact) != "" {
		return u.Contact
	}
	return u.Email
}
