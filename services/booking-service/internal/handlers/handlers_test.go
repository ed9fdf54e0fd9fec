package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/chairbook/libs/auth"
	"github.com/md-rashed-zaman/chairbook/libs/db"
	"github.com/md-rashed-zaman/chairbook/libs/httpx"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/storage"
)

const testSecret = "test-secret"

var fixedNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) *httptest.Server {
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
			"monday": {Open: true, Start: "09:00", End: "13:00"},
			"sunday": {Open: false},
		},
		RequiresApproval: true,
	}); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	if err := store.UpsertStaff(ctx, model.StaffMember{ID: "anna", TenantID: "tenant-1", Name: "Anna", Active: true}); err != nil {
		t.Fatalf("seed staff: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := func() time.Time { return fixedNow }
	avail := availability.NewService(store, store, availability.Options{Now: now, Logger: logger})
	guard := booking.NewGuard(store, avail, booking.Options{Now: now, Logger: logger})

	mux := http.NewServeMux()
	NewPublicHandler(store, store, avail, guard, logger).Register(mux, httpx.WithBodyLimit(1<<16))
	NewStaffHandler(store, guard, logger).Register(mux, auth.RequireStaff(testSecret))

	srv := httptest.NewServer(httpx.WithRequestID(mux))
	t.Cleanup(srv.Close)
	return srv
}

func staffToken(t *testing.T, tenantID string) string {
	t.Helper()
	tok, err := auth.SignHS256(auth.NewClaims("user-1", tenantID, auth.RoleStaff, time.Now(), time.Hour), testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func do(t *testing.T, method, url, token, body string) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, b
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return v
}

const bookBody = `{"staff_id":"anna","date":"2026-03-02","time":"10:00","service_ids":["cut","beard"],"customer":{"name":"Sam","phone":"+15550100"}}`

func TestPublicTenantCard(t *testing.T) {
	srv := newTestServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/public/fade-factory", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	card := decode[tenantResponse](t, body)
	if card.Name != "Fade Factory" || len(card.Staff) != 1 || !card.OpeningHours["monday"].Open || card.SlotMinutes != 30 {
		t.Fatalf("unexpected card %+v", card)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/public/Fade-Factory", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mixed-case slug: status %d: %s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/public/nope", "", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown slug: status %d: %s", resp.StatusCode, body)
	}
	if e := decode[httpx.ErrorBody](t, body); e.Error != "not_found" || e.RequestID == "" {
		t.Fatalf("unexpected error body %+v", e)
	}
}

func TestPublicSlots(t *testing.T) {
	srv := newTestServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/api/v1/public/fade-factory/slots?date=2026-03-02&staff_id=anna", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	res := decode[availability.Result](t, body)
	if len(res.Slots) != 8 || len(res.Morning) != 6 || len(res.Afternoon) != 2 {
		t.Fatalf("unexpected slots %+v", res)
	}

	// Sunday is closed: arrays are present and empty.
	_, body = do(t, http.MethodGet, srv.URL+"/api/v1/public/fade-factory/slots?date=2026-03-01", "", "")
	if !strings.Contains(string(body), `"slots":[]`) || !strings.Contains(string(body), `"morning":[]`) {
		t.Fatalf("closed day should return empty arrays, got %s", body)
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/public/fade-factory/slots?date=03/02/2026", "", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad date: status %d", resp.StatusCode)
	}
}

func TestPublicBookAndConflict(t *testing.T) {
	srv := newTestServer(t)
	url := srv.URL + "/api/v1/public/fade-factory/book"

	resp, body := do(t, http.MethodPost, url, "", bookBody)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	created := decode[bookResponse](t, body)
	if created.GroupID == "" || created.Status != model.StatusPending || len(created.Bookings) != 2 {
		t.Fatalf("unexpected response %+v", created)
	}

	resp, body = do(t, http.MethodPost, url, "", bookBody)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second booking: status %d: %s", resp.StatusCode, body)
	}
	if e := decode[httpx.ErrorBody](t, body); e.Error != "slot_taken" {
		t.Fatalf("unexpected error %+v", e)
	}

	_, body = do(t, http.MethodGet, srv.URL+"/api/v1/public/fade-factory/slots?date=2026-03-02&staff_id=anna", "", "")
	if strings.Contains(string(body), `"10:00"`) {
		t.Fatalf("booked slot still offered: %s", body)
	}
}

func TestPublicBookErrors(t *testing.T) {
	srv := newTestServer(t)
	url := srv.URL + "/api/v1/public/fade-factory/book"

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"off grid", strings.Replace(bookBody, "10:00", "10:10", 1), http.StatusUnprocessableEntity},
		{"no services", strings.Replace(bookBody, `["cut","beard"]`, `[]`, 1), http.StatusBadRequest},
		{"unknown field", strings.Replace(bookBody, `"staff_id"`, `"barber"`, 1), http.StatusBadRequest},
		{"bad date", strings.Replace(bookBody, "2026-03-02", "2026-13-02", 1), http.StatusBadRequest},
		{"empty", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		resp, body := do(t, http.MethodPost, url, "", tc.body)
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: status %d want %d: %s", tc.name, resp.StatusCode, tc.status, body)
		}
	}
}

func TestStaffAgendaAndTransitions(t *testing.T) {
	srv := newTestServer(t)

	_, body := do(t, http.MethodPost, srv.URL+"/api/v1/public/fade-factory/book", "", bookBody)
	id := decode[bookResponse](t, body).Bookings[0].ID

	resp, _ := do(t, http.MethodGet, srv.URL+"/api/v1/bookings?date=2026-03-02", "", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", resp.StatusCode)
	}

	token := staffToken(t, "tenant-1")
	resp, body = do(t, http.MethodGet, srv.URL+"/api/v1/bookings?date=2026-03-02&status=pending", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("agenda: status %d: %s", resp.StatusCode, body)
	}
	if agenda := decode[agendaResponse](t, body); len(agenda.Bookings) != 2 {
		t.Fatalf("expected 2 pending rows, got %+v", agenda)
	}

	// Another tenant's staff cannot see or touch the booking.
	other := staffToken(t, "tenant-2")
	_, body = do(t, http.MethodGet, srv.URL+"/api/v1/bookings?date=2026-03-02", other, "")
	if agenda := decode[agendaResponse](t, body); len(agenda.Bookings) != 0 {
		t.Fatalf("cross-tenant agenda leaked %+v", agenda)
	}
	resp, _ = do(t, http.MethodPost, srv.URL+"/api/v1/bookings/"+id+"/confirm", other, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-tenant confirm: status %d", resp.StatusCode)
	}

	resp, body = do(t, http.MethodPost, srv.URL+"/api/v1/bookings/"+id+"/complete", token, "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("complete pending: status %d: %s", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodPost, srv.URL+"/api/v1/bookings/"+id+"/confirm", token, "")
	if resp.StatusCode != http.StatusOK || decode[model.Booking](t, body).Status != model.StatusConfirmed {
		t.Fatalf("confirm: status %d: %s", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodPost, srv.URL+"/api/v1/bookings/"+id+"/cancel", token, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel: status %d: %s", resp.StatusCode, body)
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/api/v1/bookings?date=2026-03-02&status=archived", token, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad status filter: status %d", resp.StatusCode)
	}
}
