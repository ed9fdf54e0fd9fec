package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/chairbook/libs/db"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/outbox"
)

const pgSlotConstraint = "slot_claims_slot_key"

// Postgres is the production store. Booking writes also append outbox
// events in the same transaction.
type Postgres struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewPostgres(pool *db.Pool, outboxRepo *outbox.Repository) *Postgres {
	return &Postgres{pool: pool, outbox: outboxRepo}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return classifyPG("ping", p.pool.Ping(ctx))
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) UpsertTenant(ctx context.Context, t model.Tenant) error {
	hours, err := json.Marshal(t.OpeningHours)
	if err != nil {
		return fmt.Errorf("encode opening hours: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO tenants (id, slug, name, timezone, opening_hours, requires_approval, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug,
			name = EXCLUDED.name,
			timezone = EXCLUDED.timezone,
			opening_hours = EXCLUDED.opening_hours,
			requires_approval = EXCLUDED.requires_approval,
			updated_at = now()
	`, t.ID, t.Slug, t.Name, t.Timezone, hours, t.RequiresApproval)
	return classifyPG("upsert tenant", err)
}

func (p *Postgres) GetTenant(ctx context.Context, tenantID string) (model.Tenant, error) {
	return p.tenantWhere(ctx, "id = $1", tenantID)
}

func (p *Postgres) TenantBySlug(ctx context.Context, slug string) (model.Tenant, error) {
	return p.tenantWhere(ctx, "slug = $1", slug)
}

func (p *Postgres) tenantWhere(ctx context.Context, cond, arg string) (model.Tenant, error) {
	var (
		t     model.Tenant
		hours []byte
	)
	err := p.pool.QueryRow(ctx, `
		SELECT id, slug, name, timezone, opening_hours, requires_approval
		FROM tenants
		WHERE `+cond, arg).Scan(&t.ID, &t.Slug, &t.Name, &t.Timezone, &hours, &t.RequiresApproval)
	if err != nil {
		return model.Tenant{}, classifyPG("get tenant", err)
	}
	if err := json.Unmarshal(hours, &t.OpeningHours); err != nil {
		t.OpeningHours = model.OpeningHours{}
	}
	return t, nil
}

func (p *Postgres) UpsertStaff(ctx context.Context, m model.StaffMember) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO staff_members (id, tenant_id, name, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			name = EXCLUDED.name,
			active = EXCLUDED.active
	`, m.ID, m.TenantID, m.Name, m.Active)
	return classifyPG("upsert staff", err)
}

func (p *Postgres) ListStaff(ctx context.Context, tenantID string) ([]model.StaffMember, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, tenant_id, name, active
		FROM staff_members
		WHERE tenant_id = $1 AND active
		ORDER BY name, id
	`, tenantID)
	if err != nil {
		return nil, classifyPG("list staff", err)
	}
	defer rows.Close()

	var out []model.StaffMember
	for rows.Next() {
		var m model.StaffMember
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Name, &m.Active); err != nil {
			return nil, classifyPG("list staff", err)
		}
		out = append(out, m)
	}
	return out, classifyPG("list staff", rows.Err())
}

const pgBookingColumns = `id::text, group_id::text, tenant_id, staff_id, service_id, booking_date::text, booking_time::text,
	customer_name, customer_phone, COALESCE(customer_birthday::text, ''), status, created_at, updated_at`

func (p *Postgres) ListBookings(ctx context.Context, f model.BookingFilter) ([]model.Booking, error) {
	conds := []string{"tenant_id = $1", "booking_date = $2::date"}
	args := []any{f.TenantID, f.Date.String()}
	if f.StaffID != "" {
		args = append(args, f.StaffID)
		conds = append(conds, fmt.Sprintf("staff_id = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		conds = append(conds, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	rows, err := p.pool.Query(ctx, `
		SELECT `+pgBookingColumns+`
		FROM bookings
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY booking_time, created_at, service_id`, args...)
	if err != nil {
		return nil, classifyPG("list bookings", err)
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		b, err := scanPGBooking(rows)
		if err != nil {
			return nil, classifyPG("list bookings", err)
		}
		out = append(out, b)
	}
	return out, classifyPG("list bookings", rows.Err())
}

func (p *Postgres) GetBooking(ctx context.Context, tenantID, bookingID string) (model.Booking, error) {
	id, err := pgBookingID(bookingID)
	if err != nil {
		return model.Booking{}, err
	}
	return getPGBooking(ctx, p.pool, tenantID, id)
}

// pgBookingID canonicalises a booking id so lookups compare against the uuid
// primary key. Anything that is not a uuid cannot name a booking.
func pgBookingID(raw string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", ErrNotFound
	}
	return id.String(), nil
}

func (p *Postgres) InsertBookingsAtomic(ctx context.Context, rows []model.Booking) ([]model.Booking, error) {
	if err := validateGroup(rows); err != nil {
		return nil, err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, classifyPG("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	first := rows[0]
	_, err = tx.Exec(ctx, `
		INSERT INTO slot_claims (group_id, tenant_id, staff_key, booking_date, booking_time)
		VALUES ($1::uuid, $2, $3, $4::date, $5::time)
	`, first.GroupID, first.TenantID, staffKey(first.StaffID), first.Date.String(), first.Time)
	if err != nil {
		if isPGSlotConflict(err) {
			return nil, ErrSlotTaken
		}
		return nil, classifyPG("claim slot", err)
	}

	out := make([]model.Booking, 0, len(rows))
	for _, r := range rows {
		err := tx.QueryRow(ctx, `
			INSERT INTO bookings
				(id, group_id, tenant_id, staff_id, service_id, booking_date, booking_time,
				 customer_name, customer_phone, customer_birthday, status)
			VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6::date, $7::time, $8, $9, $10::date, $11)
			RETURNING created_at, updated_at
		`, r.ID, r.GroupID, r.TenantID, r.StaffID, r.ServiceID, r.Date.String(), r.Time,
			r.Customer.Name, r.Customer.Phone, birthdayValue(r.Customer.Birthday), string(r.Status),
		).Scan(&r.CreatedAt, &r.UpdatedAt)
		if err != nil {
			return nil, classifyPG("insert booking", err)
		}
		out = append(out, r)
	}

	if p.outbox != nil {
		evt, err := outbox.BookingCreated(out)
		if err != nil {
			return nil, fmt.Errorf("build booking event: %w", err)
		}
		if err := p.outbox.Insert(ctx, tx, evt); err != nil {
			return nil, classifyPG("write outbox", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyPG("commit", err)
	}
	return out, nil
}

func (p *Postgres) UpdateBookingStatus(ctx context.Context, tenantID, bookingID string, from, to model.Status) (model.Booking, error) {
	bookingID, err := pgBookingID(bookingID)
	if err != nil {
		return model.Booking{}, err
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return model.Booking{}, classifyPG("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var groupID string
	err = tx.QueryRow(ctx, `
		UPDATE bookings
		SET status = $4, updated_at = now()
		WHERE tenant_id = $1 AND id = $2::uuid AND status = $3
		RETURNING group_id::text
	`, tenantID, bookingID, string(from), string(to)).Scan(&groupID)
	if errors.Is(err, pgx.ErrNoRows) {
		current, err := getPGBooking(ctx, tx, tenantID, bookingID)
		if err != nil {
			return model.Booking{}, err
		}
		return model.Booking{}, &StatusMismatchError{Current: current.Status}
	}
	if err != nil {
		return model.Booking{}, classifyPG("update status", err)
	}

	if to == model.StatusCancelled {
		// Serialise with concurrent cancels of sibling rows.
		if _, err := tx.Exec(ctx, `SELECT 1 FROM slot_claims WHERE group_id = $1::uuid FOR UPDATE`, groupID); err != nil {
			return model.Booking{}, classifyPG("lock claim", err)
		}
		_, err = tx.Exec(ctx, `
			DELETE FROM slot_claims
			WHERE group_id = $1::uuid
				AND NOT EXISTS (
					SELECT 1 FROM bookings WHERE group_id = $1::uuid AND status <> 'cancelled'
				)
		`, groupID)
		if err != nil {
			return model.Booking{}, classifyPG("release slot", err)
		}
	}

	updated, err := getPGBooking(ctx, tx, tenantID, bookingID)
	if err != nil {
		return model.Booking{}, err
	}
	if p.outbox != nil {
		evt, err := outbox.BookingStatusChanged(updated, from)
		if err != nil {
			return model.Booking{}, fmt.Errorf("build status event: %w", err)
		}
		if err := p.outbox.Insert(ctx, tx, evt); err != nil {
			return model.Booking{}, classifyPG("write outbox", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Booking{}, classifyPG("commit", err)
	}
	return updated, nil
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getPGBooking(ctx context.Context, q pgQuerier, tenantID, bookingID string) (model.Booking, error) {
	b, err := scanPGBooking(q.QueryRow(ctx, `
		SELECT `+pgBookingColumns+`
		FROM bookings
		WHERE tenant_id = $1 AND id = $2::uuid`, tenantID, bookingID))
	if err != nil {
		return model.Booking{}, classifyPG("get booking", err)
	}
	return b, nil
}

func scanPGBooking(row pgx.Row) (model.Booking, error) {
	var (
		b                         model.Booking
		date, clock, status, bday string
	)
	if err := row.Scan(&b.ID, &b.GroupID, &b.TenantID, &b.StaffID, &b.ServiceID, &date, &clock,
		&b.Customer.Name, &b.Customer.Phone, &bday, &status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return model.Booking{}, err
	}
	return finishBooking(b, date, clock, status, bday)
}

func isPGSlotConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == pgSlotConstraint
}

// classifyPG maps pgx errors onto the storage taxonomy. nil stays nil.
func classifyPG(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if isPGTransient(err) {
		return &TransientStoreError{Op: op, Err: err}
	}
	return fmt.Errorf("storage %s: %w", op, err)
}

func isPGTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"): // connection exception
			return true
		case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization failure, deadlock
			return true
		case pgErr.Code == "57P01", pgErr.Code == "53300": // admin shutdown, too many connections
			return true
		}
		return false
	}
	return pgconn.SafeToRetry(err)
}
