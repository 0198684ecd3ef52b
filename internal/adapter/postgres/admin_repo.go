package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"conclave/internal/domain"
)

// FindActiveAdminByID retrieves an active admin by identity-service user ID.
func (d *DB) FindActiveAdminByID(ctx context.Context, id string) (*domain.AdminRecord, error) {
	// IDs that are not UUIDs cannot match and would make the query fail.
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	var r domain.AdminRecord
	err := d.sql.QueryRowContext(ctx,
		"SELECT id, email, name, role, is_active FROM admin_users WHERE id = $1 AND is_active",
		id,
	).Scan(&r.ID, &r.Email, &r.Name, &r.Role, &r.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CountAdmins returns the total number of admin records, active or not.
func (d *DB) CountAdmins(ctx context.Context) (int, error) {
	var count int
	err := d.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM admin_users").Scan(&count)
	return count, err
}

// CreateAdmin inserts an admin record.
func (d *DB) CreateAdmin(ctx context.Context, r domain.AdminRecord) error {
	if _, err := uuid.Parse(r.ID); err != nil {
		return fmt.Errorf("admin id %q: %w", r.ID, domain.ErrValidation)
	}
	now := time.Now().UTC()
	_, err := d.sql.ExecContext(ctx,
		"INSERT INTO admin_users (id, email, name, role, is_active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $6)",
		r.ID, r.Email, r.Name, r.Role, r.IsActive, now,
	)
	return err
}

// TouchLastLogin records a successful login.
func (d *DB) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := d.sql.ExecContext(ctx,
		"UPDATE admin_users SET last_login = $2, updated_at = $2 WHERE id = $1",
		id, at.UTC(),
	)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
