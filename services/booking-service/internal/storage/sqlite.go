package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/model"
)

const sqliteTimeLayout = time.RFC3339Nano

// SQLite is the embedded store. It expects a handle from db.OpenSQLite,
// which pins the pool to one connection, so every statement inside a
// transaction must go through that transaction.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(conn *sql.DB) *SQLite {
	return &SQLite{db: conn, now: time.Now}
}

// EnsureSchema creates missing tables and indexes.
func (s *SQLite) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

// DB exposes the handle, mainly so tests can inject faults.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Ping(ctx context.Context) error {
	return classifySQLite("ping", s.db.PingContext(ctx))
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) UpsertTenant(ctx context.Context, t model.Tenant) error {
	hours, err := json.Marshal(t.OpeningHours)
	if err != nil {
		return fmt.Errorf("encode opening hours: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, slug, name, timezone, opening_hours, requires_approval, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			slug = excluded.slug,
			name = excluded.name,
			timezone = excluded.timezone,
			opening_hours = excluded.opening_hours,
			requires_approval = excluded.requires_approval,
			updated_at = excluded.updated_at
	`, t.ID, t.Slug, t.Name, t.Timezone, string(hours), t.RequiresApproval, s.timestamp())
	return classifySQLite("upsert tenant", err)
}

func (s *SQLite) GetTenant(ctx context.Context, tenantID string) (model.Tenant, error) {
	return s.tenantWhere(ctx, "id = ?", tenantID)
}

func (s *SQLite) TenantBySlug(ctx context.Context, slug string) (model.Tenant, error) {
	return s.tenantWhere(ctx, "slug = ?", slug)
}

func (s *SQLite) tenantWhere(ctx context.Context, cond string, arg string) (model.Tenant, error) {
	var (
		t     model.Tenant
		hours string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, timezone, opening_hours, requires_approval
		FROM tenants
		WHERE `+cond, arg).Scan(&t.ID, &t.Slug, &t.Name, &t.Timezone, &hours, &t.RequiresApproval)
	if err != nil {
		return model.Tenant{}, classifySQLite("get tenant", err)
	}
	if err := json.Unmarshal([]byte(hours), &t.OpeningHours); err != nil {
		// Unreadable hours leave every day without an entry.
		t.OpeningHours = model.OpeningHours{}
	}
	return t, nil
}

func (s *SQLite) UpsertStaff(ctx context.Context, m model.StaffMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO staff_members (id, tenant_id, name, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			name = excluded.name,
			active = excluded.active
	`, m.ID, m.TenantID, m.Name, m.Active)
	return classifySQLite("upsert staff", err)
}

func (s *SQLite) ListStaff(ctx context.Context, tenantID string) ([]model.StaffMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, active
		FROM staff_members
		WHERE tenant_id = ? AND active = 1
		ORDER BY name, id
	`, tenantID)
	if err != nil {
		return nil, classifySQLite("list staff", err)
	}
	defer rows.Close()

	var out []model.StaffMember
	for rows.Next() {
		var m model.StaffMember
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Name, &m.Active); err != nil {
			return nil, classifySQLite("list staff", err)
		}
		out = append(out, m)
	}
	return out, classifySQLite("list staff", rows.Err())
}

const sqliteBookingColumns = `id, group_id, tenant_id, staff_id, service_id, booking_date, booking_time,
	customer_name, customer_phone, customer_birthday, status, created_at, updated_at`

func (s *SQLite) ListBookings(ctx context.Context, f model.BookingFilter) ([]model.Booking, error) {
	var (
		conds = []string{"tenant_id = ?", "booking_date = ?"}
		args  = []any{f.TenantID, f.Date.String()}
	)
	if f.StaffID != "" {
		conds = append(conds, "staff_id = ?")
		args = append(args, f.StaffID)
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "status IN ("+strings.Join(marks, ", ")+")")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteBookingColumns+`
		FROM bookings
		WHERE `+strings.Join(conds, " AND ")+`
		ORDER BY booking_time, created_at, service_id`, args...)
	if err != nil {
		return nil, classifySQLite("list bookings", err)
	}
	defer rows.Close()

	var out []model.Booking
	for rows.Next() {
		b, err := scanSQLiteBooking(rows)
		if err != nil {
			return nil, classifySQLite("list bookings", err)
		}
		out = append(out, b)
	}
	return out, classifySQLite("list bookings", rows.Err())
}

func (s *SQLite) GetBooking(ctx context.Context, tenantID, bookingID string) (model.Booking, error) {
	return getSQLiteBooking(ctx, s.db, tenantID, bookingID)
}

func (s *SQLite) InsertBookingsAtomic(ctx context.Context, rows []model.Booking) ([]model.Booking, error) {
	if err := validateGroup(rows); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifySQLite("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	first := rows[0]
	_, err = tx.ExecContext(ctx, `
		INSERT INTO slot_claims (group_id, tenant_id, staff_key, booking_date, booking_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, first.GroupID, first.TenantID, staffKey(first.StaffID), first.Date.String(), first.Time, now.Format(sqliteTimeLayout))
	if err != nil {
		if isSQLiteUnique(err) {
			return nil, ErrSlotTaken
		}
		return nil, classifySQLite("claim slot", err)
	}

	out := make([]model.Booking, 0, len(rows))
	for _, r := range rows {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		r.UpdatedAt = r.CreatedAt
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bookings (`+sqliteBookingColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, r.ID, r.GroupID, r.TenantID, r.StaffID, r.ServiceID, r.Date.String(), r.Time,
			r.Customer.Name, r.Customer.Phone, birthdayValue(r.Customer.Birthday), string(r.Status),
			r.CreatedAt.UTC().Format(sqliteTimeLayout), r.UpdatedAt.UTC().Format(sqliteTimeLayout))
		if err != nil {
			return nil, classifySQLite("insert booking", err)
		}
		out = append(out, r)
	}

	if err := tx.Commit(); err != nil {
		return nil, classifySQLite("commit", err)
	}
	return out, nil
}

func (s *SQLite) UpdateBookingStatus(ctx context.Context, tenantID, bookingID string, from, to model.Status) (model.Booking, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Booking{}, classifySQLite("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var groupID string
	err = tx.QueryRowContext(ctx, `
		UPDATE bookings
		SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND status = ?
		RETURNING group_id
	`, string(to), s.timestamp(), tenantID, bookingID, string(from)).Scan(&groupID)
	if errors.Is(err, sql.ErrNoRows) {
		current, err := getSQLiteBooking(ctx, tx, tenantID, bookingID)
		if err != nil {
			return model.Booking{}, err
		}
		return model.Booking{}, &StatusMismatchError{Current: current.Status}
	}
	if err != nil {
		return model.Booking{}, classifySQLite("update status", err)
	}

	if to == model.StatusCancelled {
		if err := releaseSQLiteClaimIfIdle(ctx, tx, groupID); err != nil {
			return model.Booking{}, err
		}
	}

	updated, err := getSQLiteBooking(ctx, tx, tenantID, bookingID)
	if err != nil {
		return model.Booking{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Booking{}, classifySQLite("commit", err)
	}
	return updated, nil
}

func releaseSQLiteClaimIfIdle(ctx context.Context, tx *sql.Tx, groupID string) error {
	var live int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM bookings WHERE group_id = ? AND status <> 'cancelled'
	`, groupID).Scan(&live)
	if err != nil {
		return classifySQLite("count live bookings", err)
	}
	if live > 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM slot_claims WHERE group_id = ?`, groupID)
	return classifySQLite("release slot", err)
}

type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getSQLiteBooking(ctx context.Context, q sqliteQuerier, tenantID, bookingID string) (model.Booking, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+sqliteBookingColumns+`
		FROM bookings
		WHERE tenant_id = ? AND id = ?
	`, tenantID, bookingID)
	b, err := scanSQLiteBooking(row)
	if err != nil {
		return model.Booking{}, classifySQLite("get booking", err)
	}
	return b, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteBooking(row rowScanner) (model.Booking, error) {
	var (
		b                    model.Booking
		date, clock, status  string
		birthday             sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&b.ID, &b.GroupID, &b.TenantID, &b.StaffID, &b.ServiceID, &date, &clock,
		&b.Customer.Name, &b.Customer.Phone, &birthday, &status, &createdAt, &updatedAt); err != nil {
		return model.Booking{}, err
	}
	b, err := finishBooking(b, date, clock, status, birthday.String)
	if err != nil {
		return model.Booking{}, err
	}
	if b.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
		return model.Booking{}, err
	}
	if b.UpdatedAt, err = time.Parse(sqliteTimeLayout, updatedAt); err != nil {
		return model.Booking{}, err
	}
	return b, nil
}

// finishBooking parses the textual columns shared by both stores.
func finishBooking(b model.Booking, date, clock, status, birthday string) (model.Booking, error) {
	var err error
	if b.Date, err = model.ParseDate(date); err != nil {
		return model.Booking{}, err
	}
	if b.Time, err = model.NormalizeClock(clock); err != nil {
		return model.Booking{}, err
	}
	if b.Status, err = model.ParseStatus(status); err != nil {
		return model.Booking{}, err
	}
	if birthday != "" {
		d, err := model.ParseDate(birthday)
		if err != nil {
			return model.Booking{}, err
		}
		b.Customer.Birthday = &d
	}
	return b, nil
}

func birthdayValue(d *model.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func (s *SQLite) timestamp() string {
	return s.now().UTC().Format(sqliteTimeLayout)
}

func isSQLiteUnique(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// classifySQLite maps driver errors onto the storage taxonomy. nil stays nil.
func classifySQLite(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientStoreError{Op: op, Err: err}
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return &TransientStoreError{Op: op, Err: err}
	}
	return fmt.Errorf("storage %s: %w", op, err)
}
