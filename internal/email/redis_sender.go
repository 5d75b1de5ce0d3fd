package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/config"
)

// RedisSender stores a copy of the latest email per recipient in Redis.
// Integration tests read these keys to assert on trade notifications without
// a mail server.
type RedisSender struct {
	client *redis.Client
	cfg    *config.Config
}

// NewRedisSender creates a new RedisSender.
func NewRedisSender(client *redis.Client, cfg *config.Config) Sender {
	return &RedisSender{client: client, cfg: cfg}
}

// MockEmailKey returns the Redis key under which the latest email to the
// given recipient is stored.
func MockEmailKey(recipient string) string {
	return fmt.Sprintf("mockemail:%s", recipient)
}

// Send writes the email as JSON under a per-recipient key with a short TTL.
func (s *RedisSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	emailData := map[string]interface{}{
		"to":      strings.Join(to, ", "),
		"from":    s.cfg.SmtpFromAddress,
		"subject": subject,
		"body":    string(rawMessage),
		"sent_at": time.Now().UTC().Format(time.RFC3339Nano),
	}

	jsonData, err := json.Marshal(emailData)
	if err != nil {
		return fmt.Errorf("failed to marshal email data: %w", err)
	}

	ttl := 5 * time.Minute
	for _, recipient := range to {
		key := MockEmailKey(recipient)
		if err := s.client.Set(ctx, key, jsonData, ttl).Err(); err != nil {
			return fmt.Errorf("failed to store email in Redis key '%s': %w", key, err)
		}
	}

	log.Printf("Mock email stored in Redis (TTL: %v, To: %s, Subject: %s)", ttl, strings.Join(to, ", "), subject)
	return nil
}
