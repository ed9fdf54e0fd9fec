package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/chairbook/libs/httpx"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/model"
)

type TenantLookup interface {
	TenantBySlug(ctx context.Context, slug string) (model.Tenant, error)
}

type StaffDirectory interface {
	ListStaff(ctx context.Context, tenantID string) ([]model.StaffMember, error)
}

type SlotSource interface {
	Available(ctx context.Context, tenantID string, date model.Date, staffID string) (availability.Result, error)
	Granularity() time.Duration
}

type Booker interface {
	Submit(ctx context.Context, req booking.SubmitRequest) ([]model.Booking, error)
}

// PublicHandler serves the customer-facing booking widget of a tenant,
// addressed by its slug.
type PublicHandler struct {
	tenants TenantLookup
	staff   StaffDirectory
	slots   SlotSource
	booker  Booker
	logger  *slog.Logger
}

func NewPublicHandler(tenants TenantLookup, staff StaffDirectory, slots SlotSource, booker Booker, logger *slog.Logger) *PublicHandler {
	return &PublicHandler{tenants: tenants, staff: staff, slots: slots, booker: booker, logger: logger}
}

// Register mounts the public routes. mw wraps each route, outermost first.
func (h *PublicHandler) Register(mux *http.ServeMux, mw ...httpx.Middleware) {
	mux.Handle("GET /api/v1/public/{slug}", httpx.Chain(http.HandlerFunc(h.Tenant), mw...))
	mux.Handle("GET /api/v1/public/{slug}/slots", httpx.Chain(http.HandlerFunc(h.Slots), mw...))
	mux.Handle("POST /api/v1/public/{slug}/book", httpx.Chain(http.HandlerFunc(h.Book), mw...))
}

type staffItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type tenantResponse struct {
	Slug             string             `json:"slug"`
	Name             string             `json:"name"`
	Timezone         string             `json:"timezone"`
	OpeningHours     model.OpeningHours `json:"opening_hours"`
	RequiresApproval bool               `json:"requires_approval"`
	SlotMinutes      int                `json:"slot_minutes"`
	Staff            []staffItem        `json:"staff"`
}

func (h *PublicHandler) Tenant(w http.ResponseWriter, r *http.Request) {
	tenant, ok := h.resolve(w, r)
	if !ok {
		return
	}
	members, err := h.staff.ListStaff(r.Context(), tenant.ID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	resp := tenantResponse{
		Slug:             tenant.Slug,
		Name:             tenant.Name,
		Timezone:         tenant.Timezone,
		OpeningHours:     tenant.OpeningHours,
		RequiresApproval: tenant.RequiresApproval,
		SlotMinutes:      int(h.slots.Granularity() / time.Minute),
		Staff:            make([]staffItem, 0, len(members)),
	}
	for _, m := range members {
		resp.Staff = append(resp.Staff, staffItem{ID: m.ID, Name: m.Name})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

func (h *PublicHandler) Slots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := model.ParseDate(strings.TrimSpace(q.Get("date")))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}
	tenant, ok := h.resolve(w, r)
	if !ok {
		return
	}

	res, err := h.slots.Available(r.Context(), tenant.ID, date, strings.TrimSpace(q.Get("staff_id")))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, res)
}

type bookRequest struct {
	StaffID    string         `json:"staff_id"`
	Date       model.Date     `json:"date"`
	Time       string         `json:"time"`
	ServiceIDs []string       `json:"service_ids"`
	Customer   model.Customer `json:"customer"`
}

type bookResponse struct {
	GroupID  string          `json:"group_id"`
	Status   model.Status    `json:"status"`
	Bookings []model.Booking `json:"bookings"`
}

func (h *PublicHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	tenant, ok := h.resolve(w, r)
	if !ok {
		return
	}

	created, err := h.booker.Submit(r.Context(), booking.SubmitRequest{
		TenantID:   tenant.ID,
		StaffID:    req.StaffID,
		Date:       req.Date,
		Time:       req.Time,
		ServiceIDs: req.ServiceIDs,
		Customer:   req.Customer,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, bookResponse{
		GroupID:  created[0].GroupID,
		Status:   created[0].Status,
		Bookings: created,
	})
}

func (h *PublicHandler) resolve(w http.ResponseWriter, r *http.Request) (model.Tenant, bool) {
	slug := strings.ToLower(strings.TrimSpace(r.PathValue("slug")))
	if slug == "" {
		httpx.WriteError(w, r, http.StatusNotFound, "not_found", "not found")
		return model.Tenant{}, false
	}
	tenant, err := h.tenants.TenantBySlug(r.Context(), slug)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return model.Tenant{}, false
	}
	return tenant, true
}
