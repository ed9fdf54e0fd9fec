package booking

import (
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/model"
)

var (
	ErrInvalidRequest = errors.New("invalid booking request")
	// ErrSlotUnavailable means the requested time is not a bookable slot of
	// the date at all (closed, outside opening hours, off-grid or past).
	ErrSlotUnavailable = errors.New("requested time is not a bookable slot")
	ErrNotFound        = errors.New("not found")
)

// ConflictError means another booking holds the slot. Callers should
// refresh availability before offering the slot again.
//
// A completed booking keeps its claim even though availability no longer
// lists it as busy; HeldByCompleted marks that case.
type ConflictError struct {
	TenantID        string
	StaffID         string
	Date            model.Date
	Time            string
	HeldByCompleted bool
}

func (e *ConflictError) Error() string {
	who := "tenant"
	if e.StaffID != "" {
		who = "staff " + e.StaffID
	}
	if e.HeldByCompleted {
		return fmt.Sprintf("slot %s %s for %s is held by a completed booking", e.Date, e.Time, who)
	}
	return fmt.Sprintf("slot %s %s already booked for %s", e.Date, e.Time, who)
}

// StateError means the booking's current status does not allow the
// requested transition.
type StateError struct {
	BookingID string
	Current   model.Status
	Requested model.Status
}

func (e *StateError) Error() string {
	return fmt.Sprintf("booking %s is %s and cannot become %s", e.BookingID, e.Current, e.Requested)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
