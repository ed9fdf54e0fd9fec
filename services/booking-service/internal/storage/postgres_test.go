package storage

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/chairbook/libs/db"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/outbox"
)

// newTestPostgres connects to BOOKING_TEST_DATABASE_URL and isolates the test
// under a fresh tenant.
func newTestPostgres(t *testing.T) (*Postgres, string) {
	t.Helper()
	url := os.Getenv("BOOKING_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("BOOKING_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, url, db.PoolOptions{MaxConns: 8})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	p := NewPostgres(pool, outbox.NewRepository())
	t.Cleanup(func() { _ = p.Close() })
	if err := p.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	tenantID := "t-" + uuid.NewString()
	if err := p.UpsertTenant(ctx, model.Tenant{ID: tenantID, Slug: tenantID, Name: "Test", Timezone: "UTC"}); err != nil {
		t.Fatalf("tenant: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM tenants WHERE id = $1`, tenantID)
	})
	return p, tenantID
}

func pgGroup(tenantID, staffID, clock string, services ...string) []model.Booking {
	groupID := uuid.NewString()
	rows := make([]model.Booking, 0, len(services))
	for _, svc := range services {
		rows = append(rows, model.Booking{
			ID:        uuid.NewString(),
			GroupID:   groupID,
			TenantID:  tenantID,
			StaffID:   staffID,
			ServiceID: svc,
			Date:      model.Date{Year: 2026, Month: time.March, Day: 2},
			Time:      clock,
			Customer:  model.Customer{Name: "Sam", Phone: "+15550100"},
			Status:    model.StatusConfirmed,
		})
	}
	return rows
}

func TestPostgresConcurrentSubmissions(t *testing.T) {
	p, tenantID := newTestPostgres(t)
	ctx := context.Background()

	const n = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok, taken int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.InsertBookingsAtomic(ctx, pgGroup(tenantID, "anna", "10:00", "cut", "wash"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if errors.Is(err, ErrSlotTaken) {
				taken++
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || taken != n-1 {
		t.Fatalf("expected 1 winner, got ok=%d taken=%d", ok, taken)
	}

	rows, err := p.ListBookings(ctx, model.BookingFilter{TenantID: tenantID, Date: model.Date{Year: 2026, Month: time.March, Day: 2}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || rows[0].Time != "10:00" {
		t.Fatalf("expected winner's rows with HH:mm time, got %+v", rows)
	}
}

func TestPostgresCancelReleasesClaimAndWritesOutbox(t *testing.T) {
	p, tenantID := newTestPostgres(t)
	ctx := context.Background()

	rows, err := p.InsertBookingsAtomic(ctx, pgGroup(tenantID, "", "11:00", "cut"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := p.UpdateBookingStatus(ctx, tenantID, rows[0].ID, model.StatusConfirmed, model.StatusCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := p.InsertBookingsAtomic(ctx, pgGroup(tenantID, "", "11:00", "cut")); err != nil {
		t.Fatalf("slot should be free after cancel: %v", err)
	}

	var events int
	err = p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM outbox_events
		WHERE aggregate_id = $1 OR aggregate_id = $2
	`, rows[0].GroupID, rows[0].ID).Scan(&events)
	if err != nil {
		t.Fatalf("count outbox: %v", err)
	}
	if events != 2 {
		t.Fatalf("expected created + status_changed events, got %d", events)
	}

	_, err = p.UpdateBookingStatus(ctx, tenantID, rows[0].ID, model.StatusConfirmed, model.StatusCompleted)
	if !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected status mismatch, got %v", err)
	}
}

func TestClassifyPG(t *testing.T) {
	if !isPGSlotConflict(&pgconn.PgError{Code: "23505", ConstraintName: pgSlotConstraint}) {
		t.Fatalf("unique violation on the slot constraint is a conflict")
	}
	if isPGSlotConflict(&pgconn.PgError{Code: "23505", ConstraintName: "bookings_pkey"}) {
		t.Fatalf("other unique violations are not slot conflicts")
	}
	if !IsTransient(classifyPG("x", &pgconn.PgError{Code: "08006"})) {
		t.Fatalf("connection failure should be transient")
	}
	if !IsTransient(classifyPG("x", context.DeadlineExceeded)) {
		t.Fatalf("deadline should be transient")
	}
	if IsTransient(classifyPG("x", &pgconn.PgError{Code: "23503"})) {
		t.Fatalf("foreign key violation is not transient")
	}
}

func TestPGBookingIDRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "42", "not-a-uuid", "' OR 1=1 --"} {
		if _, err := pgBookingID(raw); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%q: expected ErrNotFound, got %v", raw, err)
		}
	}

	want := uuid.New()
	got, err := pgBookingID(" " + strings.ToUpper(want.String()) + " ")
	if err != nil || got != want.String() {
		t.Fatalf("expected %s, got %q %v", want, got, err)
	}

	// Malformed ids are answered before the pool is touched.
	p := &Postgres{}
	if _, err := p.GetBooking(context.Background(), "tenant-1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	if _, err := p.UpdateBookingStatus(context.Background(), "tenant-1", "nope", model.StatusPending, model.StatusCancelled); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update: expected ErrNotFound, got %v", err)
	}
}

