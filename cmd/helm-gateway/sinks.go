package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/helm-gateway/pkg/config"
	"github.com/Mindburn-Labs/helm-gateway/pkg/eventsink"

	_ "github.com/lib/pq" // Postgres Driver
	_ "modernc.org/sqlite"
)

// openSink builds the configured event sink. The returned close function is
// never nil.
func openSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (eventsink.Sink, func() error, error) {
	noop := func() error { return nil }

	switch cfg.EventSink {
	case config.SinkMemory:
		logger.Warn("event sink: memory; events are not delivered outside this process",
			"retain", cfg.MemoryRetain)
		return eventsink.NewMemory(64, cfg.MemoryRetain), noop, nil

	case config.SinkRedis:
		s := eventsink.NewRedisSink(eventsink.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			List:     cfg.RedisList,
			MaxLen:   cfg.RedisMaxLen,
		})
		logger.Info("event sink: redis", "addr", cfg.RedisAddr)
		return s, s.Close, nil

	case config.SinkSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, noop, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open sqlite: %w", err)
		}
		// Serialize writers on the single file.
		db.SetMaxOpenConns(1)
		return initOutbox(ctx, db, logger.With("path", cfg.SQLitePath), "sqlite")

	case config.SinkPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to connect to DB: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, noop, fmt.Errorf("DB ping failed: %w", err)
		}
		return initOutbox(ctx, db, logger, "postgres")
	}
	return nil, noop, fmt.Errorf("unknown event sink %q", cfg.EventSink)
}

func initOutbox(ctx context.Context, db *sql.DB, logger *slog.Logger, kind string) (eventsink.Sink, func() error, error) {
	s := eventsink.NewOutboxSink(db)
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, func() error { return nil }, err
	}
	logger.Info("event sink: outbox", "driver", kind)
	return s, db.Close, nil
}
