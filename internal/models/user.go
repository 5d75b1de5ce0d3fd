package models

import (
	"time"
)

// User represents a collector account.
type User struct {
	Base         `bson:",inline"`
	Name         string    `bson:"name" json:"name"`
	Email        string    `bson:"email" json:"email"`
	PasswordHash string    `bson:"password" json:"-"` // Store hash, not plaintext
	IsAdmin      bool      `bson:"is_admin" json:"is_admin"`
	Activated    bool      `bson:"activated" json:"activated"`
	// Contact is free-form contact information (postal address, messenger
	// handle) shared with a trade partner once a trade is accepted.
	Contact   string    `bson:"contact,omitempty" json:"contact,omitempty"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	Deleted   bool      `bson:"deleted" json:"-"` // Soft delete flag
}
