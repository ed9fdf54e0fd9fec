package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/chairbook/libs/auth"
	"github.com/md-rashed-zaman/chairbook/libs/httpx"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/model"
)

type Agenda interface {
	ListBookings(ctx context.Context, f model.BookingFilter) ([]model.Booking, error)
}

type Transitioner interface {
	Confirm(ctx context.Context, tenantID, bookingID string) (model.Booking, error)
	Complete(ctx context.Context, tenantID, bookingID string) (model.Booking, error)
	Cancel(ctx context.Context, tenantID, bookingID string) (model.Booking, error)
}

// StaffHandler serves a tenant's agenda to its staff. The tenant always
// comes from the verified token, never from the request.
type StaffHandler struct {
	agenda Agenda
	guard  Transitioner
	logger *slog.Logger
}

func NewStaffHandler(agenda Agenda, guard Transitioner, logger *slog.Logger) *StaffHandler {
	return &StaffHandler{agenda: agenda, guard: guard, logger: logger}
}

// Register mounts the staff routes behind requireStaff.
func (h *StaffHandler) Register(mux *http.ServeMux, requireStaff httpx.Middleware) {
	mux.Handle("GET /api/v1/bookings", httpx.Chain(http.HandlerFunc(h.List), requireStaff))
	mux.Handle("POST /api/v1/bookings/{id}/confirm", httpx.Chain(h.transition((Transitioner).Confirm), requireStaff))
	mux.Handle("POST /api/v1/bookings/{id}/complete", httpx.Chain(h.transition((Transitioner).Complete), requireStaff))
	mux.Handle("POST /api/v1/bookings/{id}/cancel", httpx.Chain(h.transition((Transitioner).Cancel), requireStaff))
}

type agendaResponse struct {
	Date     model.Date      `json:"date"`
	Bookings []model.Booking `json:"bookings"`
}

func (h *StaffHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "missing claims")
		return
	}

	q := r.URL.Query()
	date, err := model.ParseDate(strings.TrimSpace(q.Get("date")))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}
	filter := model.BookingFilter{
		TenantID: claims.TenantID,
		Date:     date,
		StaffID:  strings.TrimSpace(q.Get("staff_id")),
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := model.ParseStatus(strings.TrimSpace(part))
			if err != nil {
				httpx.WriteError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}

	rows, err := h.agenda.ListBookings(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if rows == nil {
		rows = []model.Booking{}
	}
	httpx.WriteJSON(w, http.StatusOK, agendaResponse{Date: date, Bookings: rows})
}

func (h *StaffHandler) transition(op func(Transitioner, context.Context, string, string) (model.Booking, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "missing claims")
			return
		}
		updated, err := op(h.guard, r.Context(), claims.TenantID, r.PathValue("id"))
		if err != nil {
			writeServiceError(w, r, h.logger, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, updated)
	})
}
