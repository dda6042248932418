package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"

	"github.com/partsmarket/backend/internal/config"
	"github.com/partsmarket/backend/internal/metrics"
	"github.com/partsmarket/backend/internal/storage"
)

func testConfig(t *testing.T, vars map[string]string) config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(vars)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func TestBuildDependencies(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("create mock pool: %v", err)
	}
	defer mock.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig(t, map[string]string{"PARTSMARKET_S3_PUBLIC_BASE_URL": "https://cdn.example.com"})

	deps, cleanup, err := buildDependencies(context.Background(), mock, cfg, logger, metrics.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cleanup == nil {
		t.Fatal("expected cleanup function")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := cleanup(ctx); err != nil {
			t.Errorf("cleanup: %v", err)
		}
	}()

	if deps.DB == nil || deps.Users == nil || deps.Sessions == nil {
		t.Fatal("expected database backed collaborators to be configured")
	}
	if deps.Images == nil || deps.ImageRecords == nil {
		t.Fatal("expected image pipeline to be configured")
	}
	if _, ok := deps.ImageStorage.(*storage.MemoryStorage); !ok {
		t.Fatalf("expected in-memory storage without a bucket, got %T", deps.ImageStorage)
	}
	if deps.AuthLimiter == nil || deps.UploadLimiter == nil || deps.Metrics == nil {
		t.Fatal("expected limiters and metrics to be configured")
	}
	if deps.Telegram != nil {
		t.Fatal("expected telegram login to stay disabled without a bot token")
	}
	if deps.MaxUploadBytes != cfg.Images.MaxUploadBytes || deps.SizedMaxBytes != cfg.Images.SizedMaxBytes {
		t.Fatal("expected image limits from config")
	}
}

func TestBuildDependenciesEnablesTelegram(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("create mock pool: %v", err)
	}
	defer mock.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig(t, map[string]string{"PARTSMARKET_TELEGRAM_BOT_TOKEN": "123:abc"})

	deps, cleanup, err := buildDependencies(context.Background(), mock, cfg, logger, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = cleanup(context.Background()) }()

	if deps.Telegram == nil {
		t.Fatal("expected telegram authenticator when a bot token is set")
	}
}
