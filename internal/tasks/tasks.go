package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // register the PNG decoder for image.Decode
	"log"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"

	"github.com/DaspawnW/sammelalbum-api-sub000/internal/cache"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/config"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/services"
	"github.com/DaspawnW/sammelalbum-api-sub000/internal/storage"
)

const (
	TypeTradeSweep    = "trade:sweep"
	TypeOutboxDeliver = "outbox:deliver"
	TypeImageProcess  = "image:process"
)

// NewClient returns an asynq client sharing the application's Redis
// connection settings.
func NewClient(rdb *redis.Client) *asynq.Client {
	clientOpt := asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	}
	return asynq.NewClient(clientOpt)
}

// TaskProcessor holds the dependencies of the task handlers. The periodic
// handlers take a Redis lease first, so running several worker processes
// never leads to a sweep executing twice at once.
type TaskProcessor struct {
	cfg            *config.Config
	tradeService   services.ITradeService
	outboxService  services.IOutboxService
	stickerService services.IStickerService
	artwork        storage.IArtworkStorage
	lease          *cache.Lease
}

func NewTaskProcessor(
	cfg *config.Config,
	tradeService services.ITradeService,
	outboxService services.IOutboxService,
	stickerService services.IStickerService,
	artwork storage.IArtworkStorage,
	lease *cache.Lease,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:            cfg,
		tradeService:   tradeService,
		outboxService:  outboxService,
		stickerService: stickerService,
		artwork:        artwork,
		lease:          lease,
	}
}

// SetupServer configures, starts and returns the asynq worker server.
func SetupServer(rdb *redis.Client, processor *TaskProcessor) *asynq.Server {
	serverOpt := asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	}

	srv := asynq.NewServer(
		serverOpt,
		asynq.Config{
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v", task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeTradeSweep, processor.HandleTradeSweepTask)
	mux.HandleFunc(TypeOutboxDeliver, processor.HandleOutboxDeliverTask)
	mux.HandleFunc(TypeImageProcess, processor.HandleImageProcessTask)

	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatalf("Could not run Asynq server: %v", err)
		}
	}()
	return srv
}

// SetupScheduler registers the periodic sweep and delivery tasks and starts
// the scheduler. Every worker process runs one; the lease decides which
// instance actually does the work.
func SetupScheduler(rdb *redis.Client, cfg *config.Config) *asynq.Scheduler {
	schedulerOpt := asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	}
	scheduler := asynq.NewScheduler(schedulerOpt, &asynq.SchedulerOpts{})

	if _, err := scheduler.Register(fmt.Sprintf("@every %s", cfg.SweepInterval), asynq.NewTask(TypeTradeSweep, nil)); err != nil {
		log.Fatalf("Could not register trade sweep schedule: %v", err)
	}
	if _, err := scheduler.Register(fmt.Sprintf("@every %s", cfg.DeliveryInterval), asynq.NewTask(TypeOutboxDeliver, nil)); err != nil {
		log.Fatalf("Could not register outbox delivery schedule: %v", err)
	}

	go func() {
		if err := scheduler.Run(); err != nil {
			log.Fatalf("Could not run Asynq scheduler: %v", err)
		}
	}()
	return scheduler
}

// HandleTradeSweepTask batches new trade requests into notifications. Skips
// silently when another worker holds the sweep lease.
func (p *TaskProcessor) HandleTradeSweepTask(ctx context.Context, t *asynq.Task) error {
	release, acquired, err := p.lease.Acquire(ctx, TypeTradeSweep, p.cfg.JobLeaseMinHold, p.cfg.JobLeaseMaxHold)
	if err != nil {
		return fmt.Errorf("failed to acquire sweep lease: %w", err)
	}
	if !acquired {
		return nil
	}
	defer release()

	notified, err := p.tradeService.SweepAndNotify(ctx)
	if err != nil {
		return fmt.Errorf("trade sweep failed: %w", err)
	}
	if notified > 0 {
		log.Printf("Trade sweep advanced %d requests to NOTIFIED", notified)
	}
	return nil
}

// HandleOutboxDeliverTask sends every due outbox message.
func (p *TaskProcessor) HandleOutboxDeliverTask(ctx context.Context, t *asynq.Task) error {
	release, acquired, err := p.lease.Acquire(ctx, TypeOutboxDeliver, p.cfg.JobLeaseMinHold, p.cfg.JobLeaseMaxHold)
	if err != nil {
		return fmt.Errorf("failed to acquire delivery lease: %w", err)
	}
	if !acquired {
		return nil
	}
	defer release()

	delivered, err := p.outboxService.DeliverDue(ctx)
	if err != nil {
		return fmt.Errorf("outbox delivery failed: %w", err)
	}
	if delivered > 0 {
		log.Printf("Outbox delivery sent %d messages", delivered)
	}
	return nil
}

// ImageTaskPayload names the uploaded artwork object and the catalog entry it
// belongs to.
type ImageTaskPayload struct {
	S3Key     string `json:"s3_key"`
	StickerNo int    `json:"sticker_no"`
}

// NewImageProcessTask builds the task enqueued after an artwork upload.
func NewImageProcessTask(s3Key string, stickerNo int) (*asynq.Task, error) {
	payload, err := json.Marshal(ImageTaskPayload{S3Key: s3Key, StickerNo: stickerNo})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image task payload: %w", err)
	}
	return asynq.NewTask(TypeImageProcess, payload), nil
}

// HandleImageProcessTask normalizes freshly uploaded sticker artwork: it
// enforces the size limit, scales the image down to the configured maximum
// dimension, re-encodes it as JPEG and attaches the key to the catalog entry.
func (p *TaskProcessor) HandleImageProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ImageTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal image task payload: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("Processing artwork: S3Key=%s, StickerNo=%d", payload.S3Key, payload.StickerNo)

	imgData, _, err := p.artwork.GetObject(ctx, payload.S3Key)
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			log.Printf("Artwork object %s not found, upload likely never finished.", payload.S3Key)
			return fmt.Errorf("s3 object not found: %w", asynq.SkipRetry)
		}
		return fmt.Errorf("failed to download artwork: %w", err)
	}

	maxSizeBytes := int64(p.cfg.ArtworkMaxSizeMB) * 1024 * 1024
	if int64(len(imgData)) > maxSizeBytes {
		log.Printf("Artwork %s exceeds max size (%d > %d bytes), deleting.", payload.S3Key, len(imgData), maxSizeBytes)
		if delErr := p.artwork.DeleteObject(ctx, payload.S3Key); delErr != nil {
			log.Printf("Failed to delete oversized artwork %s: %v", payload.S3Key, delErr)
		}
		return fmt.Errorf("artwork exceeds max size: %w", asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		return fmt.Errorf("unsupported image format or corrupt image: %w", asynq.SkipRetry)
	}
	log.Printf("Decoded artwork %s, format: %s, size: %dx%d", payload.S3Key, format, img.Bounds().Dx(), img.Bounds().Dy())

	maxDim := uint(p.cfg.ArtworkMaxDim)
	if uint(img.Bounds().Dx()) > maxDim || uint(img.Bounds().Dy()) > maxDim {
		resized := resize.Thumbnail(maxDim, maxDim, img, resize.Lanczos3)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
			return fmt.Errorf("failed to re-encode resized artwork: %w", err)
		}
		if err := p.artwork.PutObject(ctx, payload.S3Key, buf.Bytes(), "image/jpeg"); err != nil {
			return fmt.Errorf("failed to upload resized artwork: %w", err)
		}
		log.Printf("Resized artwork %s to %dx%d", payload.S3Key, resized.Bounds().Dx(), resized.Bounds().Dy())
	}

	if err := p.stickerService.SetStickerImage(ctx, payload.StickerNo, payload.S3Key); err != nil {
		return fmt.Errorf("failed to attach artwork to sticker %d: %w", payload.StickerNo, err)
	}
	return nil
}
