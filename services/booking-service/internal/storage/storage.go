// Package storage persists tenants, staff and bookings. Two implementations
// share one contract: Postgres for deployments and an embedded SQLite store
// for development and tests. In both, a UNIQUE index on slot_claims is the
// authority on who holds a slot.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/model"
)

var (
	// ErrSlotTaken is returned by InsertBookingsAtomic when another live
	// submission already holds the slot.
	ErrSlotTaken = errors.New("storage: slot already claimed")
	ErrNotFound  = errors.New("storage: not found")
	// ErrStatusMismatch matches *StatusMismatchError.
	ErrStatusMismatch = errors.New("storage: booking status changed")
)

// StatusMismatchError reports that a conditional status update found the
// booking in a different status than expected.
type StatusMismatchError struct {
	Current model.Status
}

func (e *StatusMismatchError) Error() string {
	return fmt.Sprintf("storage: booking is %s", e.Current)
}

func (e *StatusMismatchError) Is(target error) bool { return target == ErrStatusMismatch }

// TransientStoreError wraps connectivity failures and timeouts. The
// operation may succeed if retried later.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("storage %s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientStoreError
	return errors.As(err, &te)
}

// Store is the persistence contract of the booking service.
type Store interface {
	GetTenant(ctx context.Context, tenantID string) (model.Tenant, error)
	TenantBySlug(ctx context.Context, slug string) (model.Tenant, error)
	UpsertTenant(ctx context.Context, t model.Tenant) error

	// ListStaff returns the active staff of a tenant ordered by name.
	ListStaff(ctx context.Context, tenantID string) ([]model.StaffMember, error)
	UpsertStaff(ctx context.Context, s model.StaffMember) error

	ListBookings(ctx context.Context, f model.BookingFilter) ([]model.Booking, error)
	GetBooking(ctx context.Context, tenantID, bookingID string) (model.Booking, error)
	// InsertBookingsAtomic claims the slot shared by rows and inserts every
	// row in one transaction. Nothing is written when any step fails.
	InsertBookingsAtomic(ctx context.Context, rows []model.Booking) ([]model.Booking, error)
	// UpdateBookingStatus moves a booking from one status to another only if
	// it is still in from. Cancelling the last live row of a group releases
	// the slot claim in the same transaction.
	UpdateBookingStatus(ctx context.Context, tenantID, bookingID string, from, to model.Status) (model.Booking, error)

	Ping(ctx context.Context) error
	Close() error
}

// staffKey is the slot-claim partition for a booking; "" stands for the
// whole tenant.
func staffKey(staffID string) string { return staffID }

// validateGroup checks that rows form one submission: same group, tenant,
// staff, date and time, distinct services.
func validateGroup(rows []model.Booking) error {
	if len(rows) == 0 {
		return errors.New("storage: no bookings to insert")
	}
	first := rows[0]
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if r.ID == "" || r.GroupID == "" || r.TenantID == "" || r.ServiceID == "" || r.Time == "" || r.Date.IsZero() {
			return errors.New("storage: booking row missing required fields")
		}
		if r.GroupID != first.GroupID || r.TenantID != first.TenantID || r.StaffID != first.StaffID ||
			r.Date != first.Date || r.Time != first.Time {
			return errors.New("storage: booking rows do not share one slot")
		}
		if _, dup := seen[r.ServiceID]; dup {
			return fmt.Errorf("storage: service %s listed twice", r.ServiceID)
		}
		seen[r.ServiceID] = struct{}{}
	}
	return nil
}
