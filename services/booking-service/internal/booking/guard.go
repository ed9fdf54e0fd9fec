// Package booking guards booking writes: submissions claim a slot under the
// store's uniqueness constraint, and staff status changes are conditional on
// the current status.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	otelx "github.com/md-rashed-zaman/chairbook/libs/otel"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "chairbook/booking"

// MaxServicesPerBooking bounds one submission.
const MaxServicesPerBooking = 10

type Store interface {
	GetTenant(ctx context.Context, tenantID string) (model.Tenant, error)
	ListStaff(ctx context.Context, tenantID string) ([]model.StaffMember, error)
	GetBooking(ctx context.Context, tenantID, bookingID string) (model.Booking, error)
	ListBookings(ctx context.Context, f model.BookingFilter) ([]model.Booking, error)
	InsertBookingsAtomic(ctx context.Context, rows []model.Booking) ([]model.Booking, error)
	UpdateBookingStatus(ctx context.Context, tenantID, bookingID string, from, to model.Status) (model.Booking, error)
}

// SlotChecker answers whether a time is one of the date's generated slots
// and whether it is still free.
type SlotChecker interface {
	IsBookable(ctx context.Context, tenantID string, date model.Date, staffID, clock string) (candidate, free bool, err error)
}

type SubmitRequest struct {
	TenantID   string
	StaffID    string
	Date       model.Date
	Time       string
	ServiceIDs []string
	Customer   model.Customer
}

type Options struct {
	Now     func() time.Time
	NewID   func() string
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type Guard struct {
	store   Store
	slots   SlotChecker
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewGuard(store Store, slots SlotChecker, opts Options) *Guard {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Guard{
		store:   store,
		slots:   slots,
		now:     opts.Now,
		newID:   opts.NewID,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// Submit books one slot for every requested service, all or nothing.
//
// The availability check up front only spares the store a doomed write; the
// slot claim inside InsertBookingsAtomic decides races. Either way a taken
// slot is reported as *ConflictError. Nothing is retried here.
func (g *Guard) Submit(ctx context.Context, req SubmitRequest) (created []model.Booking, err error) {
	ctx, span := otelx.StartSpan(ctx, tracerName, "booking.Submit", trace.WithAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.String("booking.date", req.Date.String()),
		attribute.String("booking.time", req.Time),
		attribute.String("staff.id", req.StaffID),
		attribute.Int("booking.services", len(req.ServiceIDs)),
	))
	defer func() {
		otelx.RecordError(span, err)
		span.End()
	}()

	req, err = normalizeSubmit(req)
	if err != nil {
		return nil, err
	}

	tenant, err := g.store.GetTenant(ctx, req.TenantID)
	if err != nil {
		return nil, storeErr("load tenant", err)
	}
	if req.StaffID != "" {
		if err := g.checkStaff(ctx, req.TenantID, req.StaffID); err != nil {
			return nil, err
		}
	}

	candidate, free, err := g.slots.IsBookable(ctx, req.TenantID, req.Date, req.StaffID, req.Time)
	if err != nil {
		return nil, storeErr("check availability", err)
	}
	if !candidate {
		return nil, fmt.Errorf("%w: %s %s", ErrSlotUnavailable, req.Date, req.Time)
	}
	if !free {
		return nil, g.conflict(ctx, req, false)
	}

	now := g.now().UTC()
	groupID := g.newID()
	rows := make([]model.Booking, 0, len(req.ServiceIDs))
	for _, svc := range req.ServiceIDs {
		rows = append(rows, model.Booking{
			ID:        g.newID(),
			GroupID:   groupID,
			TenantID:  req.TenantID,
			StaffID:   req.StaffID,
			ServiceID: svc,
			Date:      req.Date,
			Time:      req.Time,
			Customer:  req.Customer,
			Status:    tenant.InitialStatus(),
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	created, err = g.store.InsertBookingsAtomic(ctx, rows)
	if errors.Is(err, storage.ErrSlotTaken) {
		return nil, g.conflict(ctx, req, g.heldByCompleted(ctx, req))
	}
	if err != nil {
		return nil, storeErr("insert bookings", err)
	}

	g.metrics.AddBookingsCreated(string(tenant.InitialStatus()), len(created))
	g.logger.InfoContext(ctx, "booking created",
		"tenant_id", req.TenantID,
		"group_id", groupID,
		"date", req.Date.String(),
		"time", req.Time,
		"staff_id", req.StaffID,
		"services", len(created),
		"status", string(tenant.InitialStatus()),
	)
	return created, nil
}

// Confirm moves a pending booking to confirmed.
func (g *Guard) Confirm(ctx context.Context, tenantID, bookingID string) (model.Booking, error) {
	return g.transition(ctx, tenantID, bookingID, model.StatusConfirmed)
}

// Complete moves a confirmed booking to completed.
func (g *Guard) Complete(ctx context.Context, tenantID, bookingID string) (model.Booking, error) {
	return g.transition(ctx, tenantID, bookingID, model.StatusCompleted)
}

// Cancel cancels a pending or confirmed booking.
func (g *Guard) Cancel(ctx context.Context, tenantID, bookingID string) (model.Booking, error) {
	return g.transition(ctx, tenantID, bookingID, model.StatusCancelled)
}

func (g *Guard) transition(ctx context.Context, tenantID, bookingID string, to model.Status) (updated model.Booking, err error) {
	ctx, span := otelx.StartSpan(ctx, tracerName, "booking.Transition", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("booking.id", bookingID),
		attribute.String("booking.to", string(to)),
	))
	defer func() {
		otelx.RecordError(span, err)
		span.End()
	}()

	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(bookingID) == "" {
		return model.Booking{}, invalid("tenant and booking id are required")
	}

	current, err := g.store.GetBooking(ctx, tenantID, bookingID)
	if err != nil {
		return model.Booking{}, storeErr("load booking", err)
	}
	if !current.Status.CanTransitionTo(to) {
		return model.Booking{}, g.stateError(ctx, bookingID, current.Status, to)
	}

	updated, err = g.store.UpdateBookingStatus(ctx, tenantID, bookingID, current.Status, to)
	if err != nil {
		var mismatch *storage.StatusMismatchError
		if errors.As(err, &mismatch) {
			// Someone else changed it between the read and the write.
			return model.Booking{}, g.stateError(ctx, bookingID, mismatch.Current, to)
		}
		return model.Booking{}, storeErr("update status", err)
	}

	g.metrics.IncStatusChange(string(to))
	g.logger.InfoContext(ctx, "booking status changed",
		"tenant_id", tenantID,
		"booking_id", bookingID,
		"from", string(current.Status),
		"to", string(to),
	)
	return updated, nil
}

func (g *Guard) checkStaff(ctx context.Context, tenantID, staffID string) error {
	staff, err := g.store.ListStaff(ctx, tenantID)
	if err != nil {
		return storeErr("list staff", err)
	}
	for _, s := range staff {
		if s.ID == staffID {
			return nil
		}
	}
	return invalid("unknown staff member %q", staffID)
}

func (g *Guard) conflict(ctx context.Context, req SubmitRequest, heldByCompleted bool) error {
	g.metrics.IncConflict()
	g.logger.InfoContext(ctx, "booking conflict",
		"tenant_id", req.TenantID,
		"date", req.Date.String(),
		"time", req.Time,
		"staff_id", req.StaffID,
		"held_by_completed", heldByCompleted,
	)
	return &ConflictError{
		TenantID:        req.TenantID,
		StaffID:         req.StaffID,
		Date:            req.Date,
		Time:            req.Time,
		HeldByCompleted: heldByCompleted,
	}
}

// heldByCompleted reports whether the claim that beat req belongs to a
// completed booking. Lookup failures only cost the explanation.
func (g *Guard) heldByCompleted(ctx context.Context, req SubmitRequest) bool {
	rows, err := g.store.ListBookings(ctx, model.BookingFilter{
		TenantID: req.TenantID,
		Date:     req.Date,
		StaffID:  req.StaffID,
		Statuses: []model.Status{model.StatusCompleted},
	})
	if err != nil {
		g.logger.WarnContext(ctx, "conflict lookup failed", "tenant_id", req.TenantID, "err", err)
		return false
	}
	for _, b := range rows {
		if b.StaffID == req.StaffID && b.Time == req.Time {
			return true
		}
	}
	return false
}

func (g *Guard) stateError(ctx context.Context, bookingID string, current, to model.Status) error {
	g.metrics.IncStateError(string(to))
	g.logger.InfoContext(ctx, "booking transition rejected",
		"booking_id", bookingID, "current", string(current), "requested", string(to))
	return &StateError{BookingID: bookingID, Current: current, Requested: to}
}

// storeErr keeps transient failures recognisable and maps missing rows to
// ErrNotFound.
func storeErr(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func normalizeSubmit(req SubmitRequest) (SubmitRequest, error) {
	req.TenantID = strings.TrimSpace(req.TenantID)
	req.StaffID = strings.TrimSpace(req.StaffID)
	req.Customer.Name = strings.TrimSpace(req.Customer.Name)
	req.Customer.Phone = strings.TrimSpace(req.Customer.Phone)

	if req.TenantID == "" {
		return req, invalid("tenant is required")
	}
	if req.Date.IsZero() {
		return req, invalid("date is required")
	}
	clock, err := model.NormalizeClock(req.Time)
	if err != nil {
		return req, invalid("%v", err)
	}
	req.Time = clock

	if len(req.ServiceIDs) == 0 {
		return req, invalid("at least one service is required")
	}
	if len(req.ServiceIDs) > MaxServicesPerBooking {
		return req, invalid("at most %d services per booking", MaxServicesPerBooking)
	}
	seen := make(map[string]struct{}, len(req.ServiceIDs))
	services := make([]string, 0, len(req.ServiceIDs))
	for _, svc := range req.ServiceIDs {
		svc = strings.TrimSpace(svc)
		if svc == "" {
			return req, invalid("service id must not be empty")
		}
		if _, dup := seen[svc]; dup {
			return req, invalid("service %q listed twice", svc)
		}
		seen[svc] = struct{}{}
		services = append(services, svc)
	}
	req.ServiceIDs = services

	if req.Customer.Name == "" || req.Customer.Phone == "" {
		return req, invalid("customer name and phone are required")
	}
	return req, nil
}
