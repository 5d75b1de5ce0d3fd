package models

import (
	"time"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/utils"
)

// TradeKind distinguishes the three trade modes.
type TradeKind string

const (
	TradeKindGift TradeKind = "GIFT"
	TradeKindSale TradeKind = "SALE"
	TradeKindSwap TradeKind = "SWAP"
)

// Valid reports whether k is one of the three known trade kinds.
func (k TradeKind) Valid() bool {
	switch k {
	case TradeKindGift, TradeKindSale, TradeKindSwap:
		return true
	}
	return false
}

// TradeStatus is the state machine of a trade request.
// CREATED -> NOTIFIED -> RESERVED -> COMPLETED, with CANCELED reachable from
// CREATED, NOTIFIED and RESERVED. COMPLETED and CANCELED are terminal.
type TradeStatus string

const (
	TradeStatusCreated   TradeStatus = "CREATED"
	TradeStatusNotified  TradeStatus = "NOTIFIED"
	TradeStatusReserved  TradeStatus = "RESERVED"
	TradeStatusCompleted TradeStatus = "COMPLETED"
	TradeStatusCanceled  TradeStatus = "CANCELED"
)

// CancelReason records why a trade request was canceled.
type CancelReason string

const (
	CancelReasonRequester      CancelReason = "REQUESTER_CANCELED"
	CancelReasonResponder      CancelReason = "RESPONDER_CANCELED"
	CancelReasonOfferRemoved   CancelReason = "OFFER_REMOVED"
	CancelReasonWantRemoved    CancelReason = "WANT_REMOVED"
	CancelReasonAccountDeleted CancelReason = "ACCOUNT_DELETED"
)

// TradeRequest is a proposed or active one-to-one trade. The requester asks
// the responder for WantedStickerNo; for SWAP trades the requester offers
// GivenStickerNo in return.
type TradeRequest struct {
	ID              utils.SixID   `bson:"_id,omitempty" json:"id,omitempty"`
	RequesterID     utils.SixID   `bson:"requester_id" json:"requester_id"`
	ResponderID     utils.SixID   `bson:"responder_id" json:"responder_id"`
	WantedStickerNo int           `bson:"wanted_sticker_no" json:"wanted_sticker_no"`
	GivenStickerNo  *int          `bson:"given_sticker_no,omitempty" json:"given_sticker_no,omitempty"` // SWAP only
	Kind            TradeKind     `bson:"kind" json:"kind"`
	Status          TradeStatus   `bson:"status" json:"status"`
	RequesterClosed bool          `bson:"requester_closed" json:"requester_closed"`
	ResponderClosed bool          `bson:"responder_closed" json:"responder_closed"`
	CancelReason    *CancelReason `bson:"cancel_reason,omitempty" json:"cancel_reason,omitempty"`

	// The exact inventory rows reserved by Accept. Decline and Close operate
	// on these ids so that duplicate rows for the same (owner, sticker) pair
	// are never confused with each other.
	ResponderOfferID *utils.SixID `bson:"responder_offer,omitempty" json:"responder_offer,omitempty"`
	RequesterWantID  *utils.SixID `bson:"requester_want,omitempty" json:"requester_want,omitempty"`
	RequesterOfferID *utils.SixID `bson:"requester_offer,omitempty" json:"requester_offer,omitempty"` // SWAP only
	ResponderWantID  *utils.SixID `bson:"responder_want,omitempty" json:"responder_want,omitempty"`   // SWAP only

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Active reports whether the request still holds or may still acquire
// reservations (i.e. is in a non-terminal state).
func (t *TradeRequest) Active() bool {
	switch t.Status {
	case TradeStatusCreated, TradeStatusNotified, TradeStatusReserved:
		return true
	}
	return false
}

// IsParty reports whether userID is the requester or the responder.
func (t *TradeRequest) IsParty(userID utils.SixID) bool {
	return t.RequesterID == userID || t.ResponderID == userID
}
