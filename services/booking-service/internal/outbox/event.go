package outbox

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/model"
)

// Event types double as Kafka topic names.
const (
	EventBookingCreated       = "booking.created.v1"
	EventBookingStatusChanged = "booking.status_changed.v1"
)

const (
	AggregateBookingGroup = "booking_group"
	AggregateBooking      = "booking"
)

// Event is the envelope written to the outbox table.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type bookingCreatedPayload struct {
	GroupID    string         `json:"group_id"`
	TenantID   string         `json:"tenant_id"`
	StaffID    string         `json:"staff_id,omitempty"`
	Date       string         `json:"date"`
	Time       string         `json:"time"`
	Status     string         `json:"status"`
	BookingIDs []string       `json:"booking_ids"`
	ServiceIDs []string       `json:"service_ids"`
	Customer   model.Customer `json:"customer"`
	CreatedAt  string         `json:"created_at"`
}

type statusChangedPayload struct {
	BookingID string `json:"booking_id"`
	GroupID   string `json:"group_id"`
	TenantID  string `json:"tenant_id"`
	StaffID   string `json:"staff_id,omitempty"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	From      string `json:"from"`
	To        string `json:"to"`
	ChangedAt string `json:"changed_at"`
}

// BookingCreated describes one submission. rows must share a group.
func BookingCreated(rows []model.Booking) (Event, error) {
	if len(rows) == 0 {
		return Event{}, errors.New("booking created event: no rows")
	}
	first := rows[0]
	p := bookingCreatedPayload{
		GroupID:   first.GroupID,
		TenantID:  first.TenantID,
		StaffID:   first.StaffID,
		Date:      first.Date.String(),
		Time:      first.Time,
		Status:    string(first.Status),
		Customer:  first.Customer,
		CreatedAt: first.CreatedAt.UTC().Format(time.RFC3339),
	}
	for _, r := range rows {
		p.BookingIDs = append(p.BookingIDs, r.ID)
		p.ServiceIDs = append(p.ServiceIDs, r.ServiceID)
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: AggregateBookingGroup,
		AggregateID:   first.GroupID,
		EventType:     EventBookingCreated,
		Payload:       payload,
	}, nil
}

func BookingStatusChanged(b model.Booking, from model.Status) (Event, error) {
	payload, err := json.Marshal(statusChangedPayload{
		BookingID: b.ID,
		GroupID:   b.GroupID,
		TenantID:  b.TenantID,
		StaffID:   b.StaffID,
		Date:      b.Date.String(),
		Time:      b.Time,
		From:      string(from),
		To:        string(b.Status),
		ChangedAt: b.UpdatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: AggregateBooking,
		AggregateID:   b.ID,
		EventType:     EventBookingStatusChanged,
		Payload:       payload,
	}, nil
}
