package models

import (
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/utils"
)

// IBase is implemented by documents stored under a SixID primary key.
type IBase interface {
	GenIDIfEmpty()
	GenID()
	SetID(id utils.SixID)
}

// Base is embedded inline by documents that use a random SixID _id. Inserts
// go through db.Try so the rare id collision is resolved by regenerating.
type Base struct {
	ID utils.SixID `bson:"_id,omitempty" json:"id,omitempty"`
}

// GenIDIfEmpty assigns a fresh id only when none is set, so fixtures and
// imports can pre-assign ids without them being overwritten.
func (m *Base) GenIDIfEmpty() {
	if m.ID.IsZero() {
		m.GenID()
	}
}

// GenID assigns a fresh random id, replacing any existing one.
func (m *Base) GenID() {
	m.ID = utils.NewSixID()
}

// SetID overrides the id with the given value.
func (m *Base) SetID(id utils.SixID) {
	m.ID = id
}

// NewBase returns a Base with a freshly generated id.
func NewBase() Base {
	return Base{ID: utils.NewSixID()}
}
