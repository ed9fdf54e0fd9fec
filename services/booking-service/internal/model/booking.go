package model

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// BlockingStatuses are the statuses that hide a slot from availability.
var BlockingStatuses = []Status{StatusPending, StatusConfirmed}

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return st, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// CanTransitionTo reports whether staff may move a booking from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCompleted || next == StatusCancelled
	}
	return false
}

type Customer struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Birthday *Date  `json:"birthday,omitempty"`
}

// Booking is one service reserved at one slot. Rows created by the same
// submission share GroupID and every slot field.
type Booking struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	TenantID  string    `json:"tenant_id"`
	StaffID   string    `json:"staff_id,omitempty"`
	ServiceID string    `json:"service_id"`
	Date      Date      `json:"date"`
	Time      string    `json:"time"`
	Customer  Customer  `json:"customer"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BookingFilter selects bookings of one tenant on one date. Empty StaffID
// matches every staff member; empty Statuses matches every status.
type BookingFilter struct {
	TenantID string
	Date     Date
	StaffID  string
	Statuses []Status
}
