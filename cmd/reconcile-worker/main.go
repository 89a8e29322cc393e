package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/nanobanana/nanobanana-api/internal/config"
	"github.com/nanobanana/nanobanana-api/internal/domain/archive"
	"github.com/nanobanana/nanobanana-api/internal/domain/credit"
	"github.com/nanobanana/nanobanana-api/internal/domain/generation"
	"github.com/nanobanana/nanobanana-api/internal/domain/notify"
	"github.com/nanobanana/nanobanana-api/internal/pkg/apimart"
	"github.com/nanobanana/nanobanana-api/internal/pkg/database"
	"github.com/nanobanana/nanobanana-api/internal/pkg/imaging"
	"github.com/nanobanana/nanobanana-api/internal/pkg/logger"
	"github.com/nanobanana/nanobanana-api/internal/pkg/storage"
)

const (
	archiveInterval = 30 * time.Second
	idleLogEvery    = 1 * time.Minute
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
		Service:     "reconcile-worker",
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	log.Info().Msg("Starting reconcile-worker")

	db, err := database.NewPostgres(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	jobRepo := generation.NewRepository(db)

	var events notify.Publisher = notify.Nop{}
	if rdb != nil {
		events = notify.NewRedisPublisher(rdb)
	}

	svc := generation.NewService(generation.Config{
		Costs: generation.CostTable{
			"1K": cfg.Cost1K,
			"2K": cfg.Cost2K,
			"4K": cfg.Cost4K,
		},
	}, credit.NewService(credit.NewRepository(db)), jobRepo, apimart.NewClient(apimart.Config{
		BaseURL:  cfg.APIMartBaseURL,
		APIKey:   cfg.APIMartAPIKey,
		Model:    cfg.APIMartModel,
		Language: cfg.StatusLanguage,
		Timeout:  cfg.APIMartTimeout(),
	}), events)

	sweeper := generation.NewSweeper(svc, generation.SweeperConfig{
		Interval: cfg.ReconcileInterval,
		MinAge:   cfg.ReconcileMinAge,
		Batch:    cfg.ReconcileBatch,
	})

	var archiver *archive.Service
	if cfg.ArchiveEnabled {
		store, err := storage.New(storageConfig(cfg))
		if err != nil {
			log.Fatal().Err(err).Str("backend", cfg.ArchiveBackend).Msg("Failed to create archive storage")
		}
		archiver = archive.NewService(archive.Config{
			Batch:       cfg.ArchiveBatch,
			MaxAttempts: cfg.ArchiveAttempts,
		}, jobRepo, store, imaging.NewProcessor(imaging.DefaultConfig()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper.Start()
	defer sweeper.Stop()

	// Redis wake-ups only shorten the wait; the sweeper ticker still runs.
	if rdb != nil {
		go subscribeWakeups(ctx, rdb, cfg.ReconcileMinAge, sweeper.Wake)
	}

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()
	}()

	if archiver == nil {
		<-ctx.Done()
		log.Info().Msg("reconcile-worker stopped")
		return
	}

	runArchiver(ctx, archiver)
	log.Info().Msg("reconcile-worker stopped")
}

func runArchiver(ctx context.Context, archiver *archive.Service) {
	ticker := time.NewTicker(archiveInterval)
	defer ticker.Stop()
	lastIdleLog := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := time.Now()
		out, err := archiver.ArchivePending(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Archive pass failed")
			continue
		}
		if out.Archived == 0 && out.Failed == 0 {
			now := time.Now()
			if lastIdleLog.IsZero() || now.Sub(lastIdleLog) >= idleLogEvery {
				log.Info().Msg("Idle: no results to archive")
				lastIdleLog = now
			}
			continue
		}

		log.Info().
			Int("archived", out.Archived).
			Int("failed", out.Failed).
			Dur("took", time.Since(start)).
			Msg("Archive pass done")
	}
}

// subscribeWakeups schedules a sweep once a freshly submitted job is old
// enough to be picked up.
func subscribeWakeups(ctx context.Context, rdb *redis.Client, minAge time.Duration, wake func()) {
	sub := rdb.Subscribe(ctx, notify.Channel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			handleWakeup(msg.Payload, minAge, wake)
		}
	}
}

// handleWakeup reports whether payload scheduled a sweep.
func handleWakeup(payload string, minAge time.Duration, wake func()) bool {
	event, err := notify.DecodeEvent(payload)
	if err != nil {
		log.Warn().Err(err).Msg("Ignoring malformed job event")
		return false
	}
	if event.Type != notify.EventSubmitted {
		return false
	}
	if minAge <= 0 {
		wake()
		return true
	}
	time.AfterFunc(minAge, wake)
	return true
}

func storageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Backend: cfg.ArchiveBackend,
		R2: storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		},
		S3Endpoint:  cfg.S3Endpoint,
		S3Region:    cfg.S3Region,
		S3AccessKey: cfg.S3AccessKey,
		S3SecretKey: cfg.S3SecretKey,
		S3Bucket:    cfg.S3Bucket,
		LocalPath:   cfg.ArchiveLocalPath,
		LocalURL:    cfg.ArchiveLocalURL,
	}
}
