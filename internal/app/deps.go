package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/partsmarket/backend/internal/auth"
	"github.com/partsmarket/backend/internal/config"
	"github.com/partsmarket/backend/internal/db"
	"github.com/partsmarket/backend/internal/handlers"
	"github.com/partsmarket/backend/internal/imaging"
	"github.com/partsmarket/backend/internal/metrics"
	"github.com/partsmarket/backend/internal/middleware"
	"github.com/partsmarket/backend/internal/repositories"
	"github.com/partsmarket/backend/internal/storage"
	"github.com/partsmarket/backend/internal/telegram"
)

// Database is the pool serve hands to repositories and the health check.
type Database interface {
	db.Pool
	Ping(ctx context.Context) error
}

// buildDependencies wires together concrete implementations used by the HTTP
// handlers. The returned cleanup drains the compression pool.
func buildDependencies(ctx context.Context, pool Database, cfg config.Config, logger *slog.Logger, m *metrics.Metrics) (handlers.Dependencies, func(context.Context) error, error) {
	format, err := imaging.ParseFormat(cfg.Images.Format)
	if err != nil {
		return handlers.Dependencies{}, nil, fmt.Errorf("image format: %w", err)
	}

	imageStorage, err := newImageStorage(ctx, cfg.ObjectStore, logger)
	if err != nil {
		return handlers.Dependencies{}, nil, err
	}

	compressor := imaging.NewCompressor(imaging.Config{
		MaxSide:         cfg.Images.MaxSide,
		Quality:         cfg.Images.Quality,
		Format:          format,
		MaxPixels:       cfg.Images.MaxPixels,
		MaxDecodePixels: cfg.Images.MaxDecodePixels,
	})
	workers := imaging.NewPool(compressor, imaging.PoolConfig{
		Workers:   cfg.Workers.Count,
		QueueSize: cfg.Workers.QueueSize,
	}, logger)

	sessions := auth.NewManager(cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL, repositories.NewPostgresSessionStore(pool))

	limiter := func() *middleware.IPRateLimiter {
		return middleware.NewIPRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst, cfg.RateLimit.TTL)
	}

	deps := handlers.Dependencies{
		DB:       pool,
		Users:    repositories.NewPostgresUserRepository(pool),
		Sessions: sessions,
		Images: &imaging.Client{
			Pool:       workers,
			Compressor: compressor,
			Timeout:    cfg.Workers.TaskTimeout,
			Metrics:    m,
		},
		ImageStorage:   imageStorage,
		ImageRecords:   repositories.NewPostgresImageRepository(pool),
		MaxUploadBytes: cfg.Images.MaxUploadBytes,
		SizedMaxBytes:  cfg.Images.SizedMaxBytes,
		AuthLimiter:    limiter(),
		UploadLimiter:  limiter(),
		RejectRecorder: m,
		Metrics:        m.Handler(),
	}

	if cfg.Telegram.BotToken != "" {
		deps.Telegram = &auth.TelegramAuthenticator{
			Verifier:   telegram.NewVerifier(cfg.Telegram.BotToken, cfg.Telegram.AuthWindow),
			Identities: repositories.NewPostgresIdentityRepository(pool),
			Sessions:   sessions,
			Metrics:    m,
		}
	} else {
		logger.Warn("telegram bot token not configured, telegram login disabled")
	}

	return deps, workers.Shutdown, nil
}

func newImageStorage(ctx context.Context, cfg config.ObjectStoreConfig, logger *slog.Logger) (handlers.ImageStorage, error) {
	if cfg.Bucket == "" {
		logger.Warn("object store bucket not configured, keeping images in memory")
		return storage.NewMemoryStorage(cfg.PublicBaseURL), nil
	}
	s3, err := storage.NewS3Storage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("configure object store: %w", err)
	}
	return s3, nil
}
