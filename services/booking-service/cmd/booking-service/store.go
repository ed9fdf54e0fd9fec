package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/md-rashed-zaman/chairbook/libs/config"
	"github.com/md-rashed-zaman/chairbook/libs/db"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/storage"
)

type stores struct {
	driver string
	store  storage.Store
	// pool and outbox are nil for the embedded store; the outbox publisher
	// then stays idle.
	pool   *db.Pool
	outbox *outbox.Repository
}

// openStore selects the store from STORE_DRIVER and applies its schema.
func openStore(ctx context.Context, logger *slog.Logger) (*stores, error) {
	switch driver := config.String("STORE_DRIVER", "sqlite"); driver {
	case "postgres":
		dbURL, err := config.RequiredString("DATABASE_URL")
		if err != nil {
			return nil, err
		}
		pool, err := db.Open(ctx, dbURL, db.PoolOptions{
			MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		repo := outbox.NewRepository()
		pg := storage.NewPostgres(pool, repo)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return &stores{driver: driver, store: pg, pool: pool, outbox: repo}, nil

	case "sqlite":
		path := config.String("SQLITE_PATH", "chairbook.db")
		conn, err := db.OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		lite := storage.NewSQLite(conn)
		if err := lite.EnsureSchema(ctx); err != nil {
			_ = conn.Close()
			return nil, err
		}
		logger.Info("using embedded sqlite store", "path", path)
		return &stores{driver: driver, store: lite}, nil

	default:
		return nil, fmt.Errorf("STORE_DRIVER must be sqlite or postgres (got %q)", driver)
	}
}
