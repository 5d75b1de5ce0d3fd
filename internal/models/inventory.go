package models

import (
	"time"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/utils"
)

// StickerOffer is one physical sticker instance a user has to give away.
// A user holding three copies of sticker 7 has three offer rows; each row is
// reserved and consumed independently.
type StickerOffer struct {
	ID        utils.SixID `bson:"_id,omitempty" json:"id,omitempty"`
	OwnerID   utils.SixID `bson:"owner_id" json:"owner_id"`
	StickerNo int         `bson:"sticker_no" json:"sticker_no"`
	// The three availability flags are independent: a single row may be
	// offered as a gift, for sale and for swap at the same time.
	Giftable  bool      `bson:"giftable" json:"giftable"`
	Payable   bool      `bson:"payable" json:"payable"`
	Swappable bool      `bson:"swappable" json:"swappable"`
	// Reserved rows are held by an accepted trade and invisible to matching.
	// Only the trade engine mutates this flag.
	Reserved  bool      `bson:"reserved" json:"reserved"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// StickerWant is one want entry of a user for a sticker, with the same
// duplicate-row and reservation semantics as StickerOffer.
type StickerWant struct {
	ID        utils.SixID `bson:"_id,omitempty" json:"id,omitempty"`
	OwnerID   utils.SixID `bson:"owner_id" json:"owner_id"`
	StickerNo int         `bson:"sticker_no" json:"sticker_no"`
	Reserved  bool        `bson:"reserved" json:"reserved"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time   `bson:"updated_at" json:"updated_at"`
}
