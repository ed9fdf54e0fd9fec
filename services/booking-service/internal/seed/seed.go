// Package seed loads tenants and staff from a YAML file into a store. It is
// how the embedded SQLite store gets its data in development.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/model"
	"gopkg.in/yaml.v3"
)

type File struct {
	Tenants []Tenant `yaml:"tenants"`
}

type Tenant struct {
	ID               string                    `yaml:"id"`
	Slug             string                    `yaml:"slug"`
	Name             string                    `yaml:"name"`
	Timezone         string                    `yaml:"timezone"`
	RequiresApproval bool                      `yaml:"requires_approval"`
	OpeningHours     map[string]model.DayHours `yaml:"opening_hours"`
	Staff            []Staff                   `yaml:"staff"`
}

type Staff struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	// Active defaults to true.
	Active *bool `yaml:"active"`
}

type Writer interface {
	UpsertTenant(ctx context.Context, t model.Tenant) error
	UpsertStaff(ctx context.Context, s model.StaffMember) error
}

func LoadFile(path string) (File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(b)
}

// Parse decodes and validates a seed document. Unknown fields are rejected.
func Parse(b []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("decode seed file: %w", err)
	}
	if err := f.validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

func (f File) validate() error {
	ids := map[string]bool{}
	slugs := map[string]bool{}
	for i, t := range f.Tenants {
		if strings.TrimSpace(t.ID) == "" || strings.TrimSpace(t.Slug) == "" {
			return fmt.Errorf("tenant %d: id and slug are required", i)
		}
		slug := t.slug()
		if ids[t.ID] || slugs[slug] {
			return fmt.Errorf("tenant %s: duplicate id or slug", t.ID)
		}
		ids[t.ID], slugs[slug] = true, true

		if t.Timezone != "" {
			if _, err := time.LoadLocation(t.Timezone); err != nil {
				return fmt.Errorf("tenant %s: timezone: %w", t.ID, err)
			}
		}
		if err := t.hours().Validate(); err != nil {
			return fmt.Errorf("tenant %s: opening hours: %w", t.ID, err)
		}
		for _, s := range t.Staff {
			if strings.TrimSpace(s.ID) == "" {
				return fmt.Errorf("tenant %s: staff id is required", t.ID)
			}
		}
	}
	return nil
}

func (t Tenant) hours() model.OpeningHours {
	out := make(model.OpeningHours, len(t.OpeningHours))
	for k, v := range t.OpeningHours {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

// slug is lowercased to match how public routes look tenants up.
func (t Tenant) slug() string {
	return strings.ToLower(strings.TrimSpace(t.Slug))
}

func (t Tenant) toModel() model.Tenant {
	return model.Tenant{
		ID:               t.ID,
		Slug:             t.slug(),
		Name:             t.Name,
		Timezone:         t.Timezone,
		OpeningHours:     t.hours(),
		RequiresApproval: t.RequiresApproval,
	}
}

// Apply upserts every tenant and its staff and returns the tenants written.
func Apply(ctx context.Context, w Writer, f File) ([]model.Tenant, error) {
	out := make([]model.Tenant, 0, len(f.Tenants))
	for _, t := range f.Tenants {
		mt := t.toModel()
		if err := w.UpsertTenant(ctx, mt); err != nil {
			return out, fmt.Errorf("seed tenant %s: %w", t.ID, err)
		}
		for _, s := range t.Staff {
			active := s.Active == nil || *s.Active
			if err := w.UpsertStaff(ctx, model.StaffMember{ID: s.ID, TenantID: t.ID, Name: s.Name, Active: active}); err != nil {
				return out, fmt.Errorf("seed staff %s/%s: %w", t.ID, s.ID, err)
			}
		}
		out = append(out, mt)
	}
	return out, nil
}
