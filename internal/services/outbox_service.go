package services

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/config"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/email"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/models"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/utils"
)

const outboxCollection = "outbox_messages"

// IOutboxService persists outgoing notifications and delivers them with
// retries. Enqueue only writes to the database; actual sending happens in
// DeliverDue, so a mail outage never fails the request that produced the
// notification.
type IOutboxService interface {
	Enqueue(ctx context.Context, recipient, subject, body string) (*models.OutboxMessage, error)
	DeliverDue(ctx context.Context) (int, error)
	ListFailed(ctx context.Context, limit int64) ([]models.OutboxMessage, error)
}

type outboxService struct {
	db     *mongo.Database
	cfg    *config.Config
	sender email.Sender
}

// NewOutboxService creates a new OutboxService.
func NewOutboxService(database *mongo.Database, cfg *config.Config, sender email.Sender) IOutboxService {
	return &outboxService{db: database, cfg: cfg, sender: sender}
}

// Enqueue stores a message in PENDING state for the next delivery run.
func (s *outboxService) Enqueue(ctx context.Context, recipient, subject, body string) (*models.OutboxMessage, error) {
	if strings.TrimSpace(recipient) == "" {
		return nil, NewValidationError("outbox recipient cannot be empty")
	}

	msg := &models.OutboxMessage{
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		Status:    models.OutboxStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	msg.ID = utils.NewSixID()

	if _, err := s.db.Collection(outboxCollection).InsertOne(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to insert outbox message: %w", err)
	}
	return msg, nil
}

// DeliverDue sends every PENDING message whose backoff window has elapsed and
// returns the number delivered. A failed send increments the retry counter
// and either schedules the next attempt at now + 2^retries minutes or, once
// the attempt budget is spent, parks the message as FAILED. One bad message
// never blocks the rest of the queue.
func (s *outboxService) DeliverDue(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	filter := bson.M{
		"status": models.OutboxStatusPending,
		"$or": []bson.M{
			{"next_attempt_at": nil},
			{"next_attempt_at": bson.M{"$lte": now}},
		},
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := s.db.Collection(outboxCollection).Find(ctx, filter, opts)
	if err != nil {
		return 0, fmt.Errorf("failed to query due outbox messages: %w", err)
	}
	var due []models.OutboxMessage
	if err := cursor.All(ctx, &due); err != nil {
		return 0, fmt.Errorf("failed to decode due outbox messages: %w", err)
	}

	delivered := 0
	for i := range due {
		msg := &due[i]
		if err := s.deliverOne(ctx, msg); err != nil {
			log.Printf("Outbox delivery failed for message %s (attempt %d): %v", msg.ID.String(), msg.RetryCount+1, err)
			if markErr := s.markFailure(ctx, msg, err); markErr != nil {
				log.Printf("Failed to record delivery failure for message %s: %v", msg.ID.String(), markErr)
			}
			continue
		}
		delivered++
	}
	return delivered, nil
}

// deliverOne builds the raw email and sends it, marking the message SENT on
// success.
func (s *outboxService) deliverOne(ctx context.Context, msg *models.OutboxMessage) error {
	raw := s.buildRawMessage(msg)
	if err := s.sender.Send(ctx, []string{msg.Recipient}, msg.Subject, raw); err != nil {
		return err
	}

	now := time.Now().UTC()
	update := bson.M{"$set": bson.M{
		"status":  models.OutboxStatusSent,
		"sent_at": now,
	}}
	if _, err := s.db.Collection(outboxCollection).UpdateByID(ctx, msg.ID, update); err != nil {
		// The email went out but the flag flip failed. The message will be
		// retried next run, so delivery is at-least-once.
		return fmt.Errorf("failed to mark message %s as sent: %w", msg.ID.String(), err)
	}
	return nil
}

// markFailure bumps the retry counter and schedules the next attempt, or
// parks the message as FAILED once the budget is exhausted.
func (s *outboxService) markFailure(ctx context.Context, msg *models.OutboxMessage, sendErr error) error {
	retries := msg.RetryCount + 1
	set := bson.M{
		"retry_count": retries,
		"last_error":  sendErr.Error(),
	}
	if retries >= s.cfg.DeliveryMaxAttempts {
		set["status"] = models.OutboxStatusFailed
	} else {
		backoff := time.Duration(math.Pow(2, float64(retries))) * time.Minute
		set["next_attempt_at"] = time.Now().UTC().Add(backoff)
	}
	if _, err := s.db.Collection(outboxCollection).UpdateByID(ctx, msg.ID, bson.M{"$set": set}); err != nil {
		return fmt.Errorf("failed to update outbox message %s: %w", msg.ID.String(), err)
	}
	return nil
}

// ListFailed returns messages that exhausted their delivery attempts, newest
// first. Exposed for operator inspection.
func (s *outboxService) ListFailed(ctx context.Context, limit int64) ([]models.OutboxMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
	cursor, err := s.db.Collection(outboxCollection).Find(ctx, bson.M{"status": models.OutboxStatusFailed}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query failed outbox messages: %w", err)
	}
	var failed []models.OutboxMessage
	if err := cursor.All(ctx, &failed); err != nil {
		return nil, fmt.Errorf("failed to decode failed outbox messages: %w", err)
	}
	return failed, nil
}

// buildRawMessage assembles a plain-text email with the essential headers.
func (s *outboxService) buildRawMessage(msg *models.OutboxMessage) []byte {
	fromAddress := s.cfg.SmtpFromAddress
	if fromAddress == "" {
		fromAddress = "noreply@example.com"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("To: %s\r\n", msg.Recipient))
	sb.WriteString(fmt.Sprintf("From: %s\r\n", fromAddress))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	sb.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(msg.Body)
	sb.WriteString("\r\n")
	return []byte(sb.String())
}
