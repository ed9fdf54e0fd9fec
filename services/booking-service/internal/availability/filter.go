// Package availability derives the open slots of a tenant on a date by
// subtracting live bookings from the generated candidates.
package availability

import "github.com/md-rashed-zaman/chairbook/services/booking-service/internal/model"

// ComputeAvailable returns candidates minus booked, preserving candidate
// order. Both sides are compared as "HH:mm", so a stored "09:00:00" blocks a
// generated "09:00". Entries that are not a time of day never match.
func ComputeAvailable(candidates, booked []string) []string {
	taken := make(map[string]struct{}, len(booked))
	for _, b := range booked {
		if n, err := model.NormalizeClock(b); err == nil {
			taken[n] = struct{}{}
		}
	}

	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		n, err := model.NormalizeClock(c)
		if err != nil {
			continue
		}
		if _, ok := taken[n]; ok {
			continue
		}
		out = append(out, n)
	}
	return out
}

// BookedTimes extracts the slot times held by bookings.
func BookedTimes(bookings []model.Booking) []string {
	out := make([]string, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, b.Time)
	}
	return out
}
