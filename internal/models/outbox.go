package models

import (
	"time"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/utils"
)

// OutboxStatus is the delivery state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "PENDING"
	OutboxStatusSent    OutboxStatus = "SENT"
	OutboxStatusFailed  OutboxStatus = "FAILED"
)

// OutboxMessage is one durable unit of pending notification. Messages are
// written in the same operation that changes trade state and delivered later
// by the background delivery sweep, which retries transient failures with
// exponential backoff until the attempt cap is reached.
type OutboxMessage struct {
	ID        utils.SixID  `bson:"_id,omitempty" json:"id,omitempty"`
	Recipient string       `bson:"recipient" json:"recipient"` // email address
	Subject   string       `bson:"subject" json:"subject"`
	Body      string       `bson:"body" json:"body"`
	Status    OutboxStatus `bson:"status" json:"status"`
	// RetryCount is the number of failed delivery attempts so far.
	RetryCount    int        `bson:"retry_count" json:"retry_count"`
	LastError     string     `bson:"last_error,omitempty" json:"last_error,omitempty"`
	NextAttemptAt *time.Time `bson:"next_attempt_at,omitempty" json:"next_attempt_at,omitempty"`
	SentAt        *time.Time `bson:"sent_at,omitempty" json:"sent_at,omitempty"`
	CreatedAt     time.Time  `bson:"created_at" json:"created_at"`
}
