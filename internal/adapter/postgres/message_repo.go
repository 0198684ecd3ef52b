package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"conclave/internal/domain"
)

const messageColumns = "id, name, email, subject, message, status, created_at, updated_at"

// AddMessage inserts a contact message.
func (d *DB) AddMessage(ctx context.Context, m domain.ContactMessage) error {
	_, err := d.sql.ExecContext(ctx,
		"INSERT INTO contact_messages("+messageColumns+") VALUES($1, $2, $3, $4, $5, $6, $7, $8);",
		m.ID, m.Name, m.Email, m.Subject, m.Message, string(m.Status), m.CreatedAt.UTC(), m.UpdatedAt.UTC(),
	)
	return err
}

// GetMessage returns a message by ID, or nil if absent.
func (d *DB) GetMessage(ctx context.Context, id uuid.UUID) (*domain.ContactMessage, error) {
	row := d.sql.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM contact_messages WHERE id=$1;", id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns messages newest first. An empty status lists all.
func (d *DB) ListMessages(ctx context.Context, status domain.MessageStatus, limit int) ([]domain.ContactMessage, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if status == "" {
		rows, err = d.sql.QueryContext(ctx,
			"SELECT "+messageColumns+" FROM contact_messages ORDER BY created_at DESC LIMIT $1;", limit)
	} else {
		rows, err = d.sql.QueryContext(ctx,
			"SELECT "+messageColumns+" FROM contact_messages WHERE status=$1 ORDER BY created_at DESC LIMIT $2;", string(status), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	out := make([]domain.ContactMessage, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMessageStatus sets the status of a message.
func (d *DB) UpdateMessageStatus(ctx context.Context, id uuid.UUID, status domain.MessageStatus, at time.Time) error {
	res, err := d.sql.ExecContext(ctx,
		"UPDATE contact_messages SET status=$2, updated_at=$3 WHERE id=$1;", id, string(status), at.UTC())
	if err != nil {
		return err
	}
	return expectOne(res)
}

// DeleteMessage removes a message.
func (d *DB) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	res, err := d.sql.ExecContext(ctx, "DELETE FROM contact_messages WHERE id=$1;", id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// CountMessages returns inbox totals by status.
func (d *DB) CountMessages(ctx context.Context) (domain.MessageCounts, error) {
	var c domain.MessageCounts
	err := d.sql.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE status='new'),
		COUNT(*) FILTER (WHERE status='read'),
		COUNT(*) FILTER (WHERE status='replied')
		FROM contact_messages;`,
	).Scan(&c.Total, &c.New, &c.Read, &c.Replied)
	return c, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (domain.ContactMessage, error) {
	var (
		m      domain.ContactMessage
		status string
	)
	if err := s.Scan(&m.ID, &m.Name, &m.Email, &m.Subject, &m.Message, &status, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return domain.ContactMessage{}, err
	}
	m.Status = domain.MessageStatus(status)
	return m, nil
}
