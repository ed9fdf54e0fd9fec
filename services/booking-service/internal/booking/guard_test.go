package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/chairbook/libs/db"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/storage"
)

var (
	monday   = model.Date{Year: 2026, Month: time.March, Day: 2}
	fixedNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
)

type fixture struct {
	store *storage.SQLite
	guard *Guard
}

func newFixture(t *testing.T, requiresApproval bool) fixture {
	t.Helper()
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
	if err := store.UpsertTenant(ctx, model.Tenant{
		ID:       "tenant-1",
		Slug:     "fade-factory",
		Name:     "Fade Factory",
		Timezone: "UTC",
		OpeningHours: model.OpeningHours{
			"monday": {Open: true, Start: "09:00", End: "12:00"},
		},
		RequiresApproval: requiresApproval,
	}); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	for _, id := range []string{"anna", "ben"} {
		if err := store.UpsertStaff(ctx, model.StaffMember{ID: id, TenantID: "tenant-1", Name: id, Active: true}); err != nil {
			t.Fatalf("seed staff: %v", err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := func() time.Time { return fixedNow }
	avail := availability.NewService(store, store, availability.Options{Now: now, Logger: logger})
	return fixture{
		store: store,
		guard: NewGuard(store, avail, Options{Now: now, Logger: logger}),
	}
}

func request(staffID, clock string, services ...string) SubmitRequest {
	return SubmitRequest{
		TenantID:   "tenant-1",
		StaffID:    staffID,
		Date:       monday,
		Time:       clock,
		ServiceIDs: services,
		Customer:   model.Customer{Name: "Sam", Phone: "+15550100"},
	}
}

func TestSubmitCreatesOneRowPerService(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	created, err := f.guard.Submit(ctx, request("anna", "10:00", "cut", "beard", "wash"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(created) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(created))
	}
	for _, b := range created {
		if b.GroupID != created[0].GroupID || b.Time != "10:00" || b.Status != model.StatusConfirmed {
			t.Fatalf("unexpected row %+v", b)
		}
	}
	if created[0].ID == created[1].ID {
		t.Fatalf("rows share an id")
	}
}

func TestSubmitUsesPendingWhenApprovalRequired(t *testing.T) {
	f := newFixture(t, true)
	created, err := f.guard.Submit(context.Background(), request("", "09:30", "cut"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if created[0].Status != model.StatusPending {
		t.Fatalf("expected pending, got %s", created[0].Status)
	}
}

func TestSubmitTwiceConflicts(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	if _, err := f.guard.Submit(ctx, request("anna", "10:00", "cut")); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	_, err := f.guard.Submit(ctx, request("anna", "10:00:00", "beard"))
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.StaffID != "anna" || conflict.Time != "10:00" || conflict.HeldByCompleted {
		t.Fatalf("unexpected conflict %+v", conflict)
	}

	// Another barber is still free at the same time.
	if _, err := f.guard.Submit(ctx, request("ben", "10:00", "cut")); err != nil {
		t.Fatalf("other staff submit: %v", err)
	}
}

func TestConcurrentSubmitsHaveOneWinner(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
		others    []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.guard.Submit(ctx, request("anna", "11:00", "cut", "beard"))
			mu.Lock()
			defer mu.Unlock()
			var conflict *ConflictError
			switch {
			case err == nil:
				wins++
			case errors.As(err, &conflict):
				conflicts++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 || conflicts != n-1 || len(others) != 0 {
		t.Fatalf("wins=%d conflicts=%d others=%v", wins, conflicts, others)
	}
	rows, err := f.store.ListBookings(ctx, model.BookingFilter{TenantID: "tenant-1", Date: monday, StaffID: "anna"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 stored rows, got %d", len(rows))
	}
}

func TestSubmitRejectsTimesOffTheGrid(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	for _, clock := range []string{"10:15", "08:30", "12:00"} {
		if _, err := f.guard.Submit(ctx, request("anna", clock, "cut")); !errors.Is(err, ErrSlotUnavailable) {
			t.Fatalf("%s: expected ErrSlotUnavailable, got %v", clock, err)
		}
	}

	closed := request("anna", "10:00", "cut")
	closed.Date = monday.AddDays(1)
	if _, err := f.guard.Submit(ctx, closed); !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("closed day: expected ErrSlotUnavailable, got %v", err)
	}
}

func TestSubmitValidatesRequest(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	cases := map[string]SubmitRequest{
		"no services":   request("anna", "10:00"),
		"dup services":  request("anna", "10:00", "cut", "cut"),
		"bad time":      request("anna", "10h", "cut"),
		"unknown staff": request("zoe", "10:00", "cut"),
	}
	noName := request("anna", "10:00", "cut")
	noName.Customer.Name = " "
	cases["no customer name"] = noName

	for name, req := range cases {
		if _, err := f.guard.Submit(ctx, req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("%s: expected ErrInvalidRequest, got %v", name, err)
		}
	}

	missing := request("anna", "10:00", "cut")
	missing.TenantID = "nope"
	if _, err := f.guard.Submit(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown tenant: expected ErrNotFound, got %v", err)
	}
}

func TestTransitions(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	created, err := f.guard.Submit(ctx, request("anna", "09:00", "cut"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	id := created[0].ID

	_, err = f.guard.Complete(ctx, "tenant-1", id)
	var stateErr *StateError
	if !errors.As(err, &stateErr) || stateErr.Current != model.StatusPending {
		t.Fatalf("complete pending: expected StateError, got %v", err)
	}

	if b, err := f.guard.Confirm(ctx, "tenant-1", id); err != nil || b.Status != model.StatusConfirmed {
		t.Fatalf("confirm: %+v %v", b, err)
	}
	if b, err := f.guard.Complete(ctx, "tenant-1", id); err != nil || b.Status != model.StatusCompleted {
		t.Fatalf("complete: %+v %v", b, err)
	}
	if _, err := f.guard.Cancel(ctx, "tenant-1", id); !errors.As(err, &stateErr) {
		t.Fatalf("cancel completed: expected StateError, got %v", err)
	}
	if _, err := f.guard.Confirm(ctx, "tenant-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelFreesTheSlot(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	created, err := f.guard.Submit(ctx, request("anna", "09:00", "cut"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.guard.Cancel(ctx, "tenant-1", created[0].ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.guard.Submit(ctx, request("anna", "09:00", "cut")); err != nil {
		t.Fatalf("rebook after cancel: %v", err)
	}
}

func TestCompletedBookingKeepsItsClaim(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	created, err := f.guard.Submit(ctx, request("anna", "09:00", "cut"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.guard.Complete(ctx, "tenant-1", created[0].ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// Availability no longer counts the completed row, so the guard gets as
	// far as the claim and must say who holds it.
	_, err = f.guard.Submit(ctx, request("anna", "09:00", "cut"))
	var conflict *ConflictError
	if !errors.As(err, &conflict) || !conflict.HeldByCompleted {
		t.Fatalf("expected conflict held by completed booking, got %v", err)
	}
	if !strings.Contains(conflict.Error(), "completed booking") {
		t.Fatalf("unexpected message %q", conflict.Error())
	}

	if _, err := f.guard.Submit(ctx, request("ben", "09:00", "cut")); err != nil {
		t.Fatalf("other staff submit: %v", err)
	}
}

type failingStore struct {
	Store
	err error
}

func (s failingStore) GetTenant(context.Context, string) (model.Tenant, error) {
	return model.Tenant{}, s.err
}

func TestTransientStoreErrorsPassThrough(t *testing.T) {
	transient := &storage.TransientStoreError{Op: "load tenant", Err: context.DeadlineExceeded}
	g := NewGuard(failingStore{err: transient}, nil, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	_, err := g.Submit(context.Background(), request("", "09:00", "cut"))
	if !storage.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
