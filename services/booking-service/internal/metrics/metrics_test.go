package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveSlotQuery("ok", time.Millisecond)
	m.IncConflict()
	m.AddBookingsCreated("confirmed", 2)
	if m.Registry() != nil {
		t.Fatalf("nil metrics must not expose a registry")
	}
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.AddBookingsCreated("confirmed", 3)
	m.IncConflict()
	m.IncConflict()
	m.IncStateError("completed")
	m.IncConfigError("")

	rw := httptest.NewRecorder()
	m.Handler().ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rw.Body.String()
	for _, want := range []string{
		`chairbook_bookings_created_total{status="confirmed"} 3`,
		"chairbook_booking_conflicts_total 2",
		`chairbook_booking_state_errors_total{to="completed"} 1`,
		`chairbook_opening_hours_config_errors_total{weekday="unknown"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
