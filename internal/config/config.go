package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	// Environment
	RunMode string // Set via flag, not env

	// MongoDB
	MongoURI    string
	MongoDbName string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// JWT
	JwtSecret string
	JwtTTL    time.Duration

	// Server
	ApiPort string

	// Email
	SmtpHost        string
	SmtpPort        int
	SmtpUsername    string
	SmtpPassword    string
	SmtpFromAddress string
	EmailLogFile    string // optional on-disk copy of every outgoing email

	// Outbox delivery
	DeliveryMaxAttempts int           // attempts before a message is marked FAILED
	DeliveryInterval    time.Duration // how often the delivery sweep runs
	SweepInterval       time.Duration // how often the trade notification sweep runs
	JobLeaseMinHold     time.Duration // minimum hold time of the job lease
	JobLeaseMaxHold     time.Duration // lease auto-expiry for abandoned runs

	// AWS S3 (sticker artwork)
	AwsAccessKeyID     string
	AwsSecretAccessKey string
	AwsRegion          string
	AwsS3Bucket        string
	ArtworkMaxDim      int
	ArtworkMaxSizeMB   int

	// App Defaults
	AppName        string
	PasswordRegexp string
	MatchPageSize  int
}

// Load configuration from environment variables.
// RunMode needs to be passed in as it comes from command-line flags.
func Load(runMode string) (*Config, error) {
	// Load .env file, ignoring errors if it doesn't exist
	godotenv.Load()

	cfg := &Config{
		RunMode: runMode, // Set from flag
	}

	var err error

	getEnv := func(key, defaultValue string) string {
		if value, exists := os.LookupEnv(key); exists {
			return value
		}
		return defaultValue
	}

	getRequiredEnv := func(key string) (string, error) {
		value, exists := os.LookupEnv(key)
		if !exists {
			return "", fmt.Errorf("missing required environment variable: %s", key)
		}
		return value, nil
	}

	getInt := func(key string, defaultValue int) (int, error) {
		raw := getEnv(key, strconv.Itoa(defaultValue))
		v, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, convErr)
		}
		return v, nil
	}

	getDuration := func(key string, defaultValue time.Duration) (time.Duration, error) {
		raw := getEnv(key, defaultValue.String())
		v, convErr := time.ParseDuration(raw)
		if convErr != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, convErr)
		}
		return v, nil
	}

	cfg.MongoURI, err = getRequiredEnv("MONGO_URI")
	if err != nil {
		return nil, err
	}
	cfg.MongoDbName = getEnv("MONGO_DB_NAME", "sammelalbum")
	cfg.RedisAddr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.JwtSecret, err = getRequiredEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}
	cfg.ApiPort = getEnv("API_PORT", "8080")

	cfg.SmtpHost = getEnv("SMTP_HOST", "")
	cfg.SmtpUsername = getEnv("SMTP_USERNAME", "")
	cfg.SmtpPassword = getEnv("SMTP_PASSWORD", "")
	cfg.SmtpFromAddress = getEnv("SMTP_FROM_ADDRESS", "noreply@sammelalbum.example.com")
	cfg.EmailLogFile = getEnv("EMAIL_LOG_FILE", "")

	cfg.AwsAccessKeyID = getEnv("AWS_ACCESS_KEY_ID", "")
	cfg.AwsSecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", "")
	cfg.AwsRegion = getEnv("AWS_REGION", "")
	cfg.AwsS3Bucket = getEnv("AWS_S3_BUCKET", "")

	cfg.AppName = getEnv("APP_NAME", "Sammelalbum")
	cfg.PasswordRegexp = getEnv("PASSWORD_REGEXP", "^.{8,}$")

	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.SmtpPort, err = getInt("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	if cfg.DeliveryMaxAttempts, err = getInt("DELIVERY_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.ArtworkMaxDim, err = getInt("ARTWORK_MAX_DIMENSION", 1024); err != nil {
		return nil, err
	}
	if cfg.ArtworkMaxSizeMB, err = getInt("ARTWORK_MAX_SIZE_MB", 5); err != nil {
		return nil, err
	}
	if cfg.MatchPageSize, err = getInt("MATCH_PAGE_SIZE", 20); err != nil {
		return nil, err
	}

	if cfg.JwtTTL, err = getDuration("JWT_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.DeliveryInterval, err = getDuration("DELIVERY_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.JobLeaseMinHold, err = getDuration("JOB_LEASE_MIN_HOLD", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.JobLeaseMaxHold, err = getDuration("JOB_LEASE_MAX_HOLD", 5*time.Minute); err != nil {
		return nil, err
	}

	return cfg, nil
}
