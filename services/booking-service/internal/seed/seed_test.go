package seed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/md-rashed-zaman/chairbook/libs/db"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/storage"
)

const sample = `
tenants:
  - id: tenant-1
    slug: Fade-Factory
    name: Fade Factory
    timezone: Europe/Berlin
    requires_approval: true
    opening_hours:
      Monday: {open: true, start: "09:00", end: "18:00"}
      sunday: {open: false}
    staff:
      - id: anna
        name: Anna
      - id: ben
        name: Ben
        active: false
`

func TestLoadAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store := storage.NewSQLite(conn)
	t.Cleanup(func() { _ = store.Close() })
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	tenants, err := Apply(ctx, store, f)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(tenants) != 1 || tenants[0].Slug != "fade-factory" {
		t.Fatalf("expected 1 tenant with a lowercased slug, got %+v", tenants)
	}

	got, err := store.TenantBySlug(ctx, "fade-factory")
	if err != nil {
		t.Fatalf("tenant by slug: %v", err)
	}
	if !got.RequiresApproval || got.Timezone != "Europe/Berlin" {
		t.Fatalf("unexpected tenant %+v", got)
	}
	if day, ok := got.OpeningHours["monday"]; !ok || day.Start != "09:00" {
		t.Fatalf("monday hours not normalised: %+v", got.OpeningHours)
	}

	staff, err := store.ListStaff(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("list staff: %v", err)
	}
	if len(staff) != 1 || staff[0].ID != "anna" {
		t.Fatalf("expected only active staff, got %+v", staff)
	}

	// Applying twice is an upsert.
	if _, err := Apply(ctx, store, f); err != nil {
		t.Fatalf("second apply: %v", err)
	}
}

func TestParseRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"unknown field": "tenants:\n  - id: a\n    slug: a\n    colour: red\n",
		"missing slug":  "tenants:\n  - id: a\n",
		"duplicate":     "tenants:\n  - {id: a, slug: a}\n  - {id: a, slug: b}\n",
		"slug case":     "tenants:\n  - {id: a, slug: Fade}\n  - {id: b, slug: fade}\n",
		"bad zone":      "tenants:\n  - {id: a, slug: a, timezone: Mars/Base}\n",
		"bad hours":     "tenants:\n  - id: a\n    slug: a\n    opening_hours:\n      monday: {open: true, start: \"18:00\", end: \"09:00\"}\n",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	f, err := Parse([]byte(""))
	if err != nil || len(f.Tenants) != 0 {
		t.Fatalf("empty document: %+v %v", f, err)
	}
	if _, err := Parse([]byte(strings.TrimSpace(sample))); err != nil {
		t.Fatalf("sample: %v", err)
	}
}
