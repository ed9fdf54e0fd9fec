package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/md-rashed-zaman/chairbook/libs/runtime"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/tenants"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWatchHealthReflectsChecks(t *testing.T) {
	hs := health.NewServer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := []runtime.ReadyCheck{{Name: "store", Check: func(context.Context) error { return errors.New("down") }}}
	go watchHealth(ctx, hs, checks, time.Hour)

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := hs.Check(ctx, &healthpb.HealthCheckRequest{Service: "chairbook.booking"})
		if err == nil && resp.Status == healthpb.HealthCheckResponse_NOT_SERVING {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("health never went NOT_SERVING (resp=%v err=%v)", resp, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestOpenStoreSQLiteAndSeed(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", ":memory:")
	ctx := context.Background()

	st, err := openStore(ctx, quietLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = st.store.Close() }()
	if st.pool != nil || st.outbox != nil {
		t.Fatalf("sqlite store should not carry a postgres pool")
	}

	path := filepath.Join(t.TempDir(), "seed.yaml")
	doc := "tenants:\n  - id: t1\n    slug: corner-cuts\n    name: Corner Cuts\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	cache := tenants.NewCache(st.store, nil, 0, quietLogger())
	if err := applySeed(ctx, path, st, cache, quietLogger()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if got, err := cache.TenantBySlug(ctx, "corner-cuts"); err != nil || got.ID != "t1" {
		t.Fatalf("seeded tenant: %+v %v", got, err)
	}
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")
	if _, err := openStore(context.Background(), quietLogger()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
