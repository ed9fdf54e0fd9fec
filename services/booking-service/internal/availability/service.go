package availability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	otelx "github.com/md-rashed-zaman/chairbook/libs/otel"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/slots"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "chairbook/availability"

// TenantSettings provides a tenant's opening hours and time zone.
type TenantSettings interface {
	GetTenant(ctx context.Context, tenantID string) (model.Tenant, error)
}

// BookingLookup lists bookings matching a filter.
type BookingLookup interface {
	ListBookings(ctx context.Context, f model.BookingFilter) ([]model.Booking, error)
}

// Result is the availability of one tenant, date and optional staff member.
type Result struct {
	Date      model.Date `json:"date"`
	StaffID   string     `json:"staff_id,omitempty"`
	Slots     []string   `json:"slots"`
	Morning   []string   `json:"morning"`
	Afternoon []string   `json:"afternoon"`

	// Candidates are the generated slots before bookings were subtracted.
	Candidates []string `json:"-"`
}

type Options struct {
	Granularity time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

type Service struct {
	settings    TenantSettings
	bookings    BookingLookup
	granularity time.Duration
	now         func() time.Time
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

func NewService(settings TenantSettings, bookings BookingLookup, opts Options) *Service {
	if opts.Granularity <= 0 {
		opts.Granularity = slots.DefaultGranularity
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		settings:    settings,
		bookings:    bookings,
		granularity: opts.Granularity,
		now:         opts.Now,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
	}
}

func (s *Service) Granularity() time.Duration { return s.granularity }

// Available computes the open slots for date. Bookings are re-read on every
// call. An empty staffID scopes the query to the whole tenant, so any booking
// at a time blocks it.
//
// Closed days, past dates and unusable opening hours produce an empty result
// rather than an error; only store failures are returned.
func (s *Service) Available(ctx context.Context, tenantID string, date model.Date, staffID string) (res Result, err error) {
	started := time.Now()
	ctx, span := otelx.StartSpan(ctx, tracerName, "availability.Available", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("booking.date", date.String()),
		attribute.String("staff.id", staffID),
	))
	defer func() {
		otelx.RecordError(span, err)
		span.End()
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case len(res.Candidates) == 0:
			outcome = "closed"
		}
		s.metrics.ObserveSlotQuery(outcome, time.Since(started))
	}()

	res = Result{Date: date, StaffID: staffID, Slots: []string{}, Morning: []string{}, Afternoon: []string{}}

	tenant, err := s.settings.GetTenant(ctx, tenantID)
	if err != nil {
		return res, fmt.Errorf("load tenant settings: %w", err)
	}

	now := s.now().In(tenant.Location())
	if date.Before(model.DateOf(now)) {
		return res, nil
	}

	candidates, cfgErr := slots.Generate(date, tenant.OpeningHours, s.granularity, now)
	if cfgErr != nil {
		var ce *slots.ConfigError
		weekday := ""
		if errors.As(cfgErr, &ce) {
			weekday = ce.Weekday
		}
		s.logger.WarnContext(ctx, "opening hours unusable, treating day as closed",
			"tenant_id", tenantID, "date", date.String(), "err", cfgErr)
		s.metrics.IncConfigError(weekday)
	}
	if len(candidates) == 0 {
		return res, nil
	}
	res.Candidates = candidates

	booked, err := s.bookings.ListBookings(ctx, model.BookingFilter{
		TenantID: tenantID,
		Date:     date,
		StaffID:  staffID,
		Statuses: model.BlockingStatuses,
	})
	if err != nil {
		return res, fmt.Errorf("list bookings: %w", err)
	}

	res.Slots = ComputeAvailable(candidates, BookedTimes(booked))
	res.Morning, res.Afternoon = slots.SplitByNoon(res.Slots)
	span.SetAttributes(
		attribute.Int("slots.candidates", len(candidates)),
		attribute.Int("slots.available", len(res.Slots)),
	)
	return res, nil
}

// IsBookable reports whether time is a generated slot of date and whether it
// is still free. A candidate that is taken returns (true, false).
func (s *Service) IsBookable(ctx context.Context, tenantID string, date model.Date, staffID, clock string) (candidate, free bool, err error) {
	res, err := s.Available(ctx, tenantID, date, staffID)
	if err != nil {
		return false, false, err
	}
	return contains(res.Candidates, clock), contains(res.Slots, clock), nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
