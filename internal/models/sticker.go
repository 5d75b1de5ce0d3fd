package models

import (
	"time"
)

// Sticker is one entry of the album catalog. Stickers are addressed everywhere
// by their album number, so the number doubles as the document id.
type Sticker struct {
	Number    int       `bson:"_id" json:"number"`
	Name      string    `bson:"name" json:"name"`
	Section   string    `bson:"section,omitempty" json:"section,omitempty"` // album chapter, e.g. a team or region
	ImageKey  string    `bson:"image_key,omitempty" json:"image_key,omitempty"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// StickerCount pairs a sticker with an aggregate count, used by the statistics
// endpoints (most wanted / most offered).
type StickerCount struct {
	Number int    `bson:"_id" json:"number"`
	Name   string `bson:"-" json:"name,omitempty"`
	Count  int    `bson:"count" json:"count"`
}

// InventoryStats is a read-only aggregate snapshot over the inventory.
type InventoryStats struct {
	TotalOffers     int64 `json:"total_offers"`
	TotalWants      int64 `json:"total_wants"`
	DistinctOffered int   `json:"distinct_offered"`
	DistinctWanted  int   `json:"distinct_wanted"`
}
