package model

import "time"

type Tenant struct {
	ID               string       `json:"id"`
	Slug             string       `json:"slug"`
	Name             string       `json:"name"`
	Timezone         string       `json:"timezone"`
	OpeningHours     OpeningHours `json:"opening_hours"`
	RequiresApproval bool         `json:"requires_approval"`
}

// Location resolves the tenant's IANA zone, falling back to UTC when the
// zone is unset or unknown.
func (t Tenant) Location() *time.Location {
	if t.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// InitialStatus is the status new bookings of this tenant start in.
func (t Tenant) InitialStatus() Status {
	if t.RequiresApproval {
		return StatusPending
	}
	return StatusConfirmed
}

type StaffMember struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
}
