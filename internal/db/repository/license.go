// Package repository holds the SQL-backed stores.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/coder/quartz"
	"github.com/jmoiron/sqlx"

	"staffsched/internal/license"
)

const licenseColumns = `id, start_date, end_date, region, status, created_at`

// LicenseRepository stores license records in SQLite. It implements
// license.Store and holds no evaluation logic.
type LicenseRepository struct {
	db    *sqlx.DB
	clock quartz.Clock
}

// NewLicenseRepository creates a new license repository
func NewLicenseRepository(db *sqlx.DB) *LicenseRepository {
	return &LicenseRepository{db: db, clock: quartz.NewReal()}
}

// WithClock sets the clock used for created_at stamps
func (r *LicenseRepository) WithClock(clock quartz.Clock) *LicenseRepository {
	r.clock = clock
	return r
}

// Upsert updates the row with the same start and end instants, or inserts a
// new one. An existing row keeps its stored status. rec.ID, rec.Status and
// rec.CreatedAt are filled in on success.
func (r *LicenseRepository) Upsert(ctx context.Context, rec *license.Record) error {
	start, end := rec.StartDate.UTC(), rec.EndDate.UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistErr("upsert", err)
	}
	defer tx.Rollback()

	var existing license.Record
	err = tx.GetContext(ctx, &existing,
		`SELECT `+licenseColumns+` FROM licenses WHERE start_date = ? AND end_date = ? ORDER BY id LIMIT 1`,
		start, end)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		created := r.clock.Now().UTC().Truncate(time.Second)
		res, err := tx.ExecContext(ctx,
			`INSERT INTO licenses (start_date, end_date, region, status, created_at) VALUES (?, ?, ?, ?, ?)`,
			start, end, rec.Region, rec.Status, created)
		if err != nil {
			return persistErr("upsert", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return persistErr("upsert", err)
		}
		rec.ID = id
		rec.CreatedAt = created
	case err != nil:
		return persistErr("upsert", err)
	default:
		// Status belongs to the evaluation pass once a row exists
		if _, err := tx.ExecContext(ctx,
			`UPDATE licenses SET region = ? WHERE id = ?`,
			rec.Region, existing.ID); err != nil {
			return persistErr("upsert", err)
		}
		rec.ID = existing.ID
		rec.Status = existing.Status
		rec.CreatedAt = existing.CreatedAt
	}

	if err := tx.Commit(); err != nil {
		return persistErr("upsert", err)
	}
	rec.StartDate, rec.EndDate = start, end
	return nil
}

// List returns every record in insertion order
func (r *LicenseRepository) List(ctx context.Context) ([]license.Record, error) {
	records := []license.Record{}
	if err := r.db.SelectContext(ctx, &records,
		`SELECT `+licenseColumns+` FROM licenses ORDER BY id`); err != nil {
		return nil, persistErr("list", err)
	}
	return records, nil
}

// Get retrieves a record by ID
func (r *LicenseRepository) Get(ctx context.Context, id int64) (*license.Record, error) {
	var rec license.Record
	err := r.db.GetContext(ctx, &rec, `SELECT `+licenseColumns+` FROM licenses WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistErr("get", license.ErrRecordNotFound)
	}
	if err != nil {
		return nil, persistErr("get", err)
	}
	return &rec, nil
}

// UpdateStatus overwrites the status of one record
func (r *LicenseRepository) UpdateStatus(ctx context.Context, id int64, status license.Status) error {
	res, err := r.db.ExecContext(ctx, `UPDATE licenses SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return persistErr("update status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("update status", err)
	}
	if n == 0 {
		return persistErr("update status", license.ErrRecordNotFound)
	}
	return nil
}

// Delete removes the records with the given ids and reports how many rows
// went away. Unknown ids are ignored.
func (r *LicenseRepository) Delete(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(`DELETE FROM licenses WHERE id IN (?)`, ids)
	if err != nil {
		return 0, persistErr("delete", err)
	}

	res, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return 0, persistErr("delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr("delete", err)
	}
	return n, nil
}

func persistErr(op string, err error) error {
	return &license.PersistenceError{Op: op, Err: err}
}

var _ license.Store = (*LicenseRepository)(nil)
