// Package memory implements in-memory repositories and a development
// credential verifier for local runs and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"conclave/internal/domain"
)

// DB implements an in-memory database storage.
type DB struct {
	mu       sync.Mutex
	admins   map[string]*adminRow
	messages map[uuid.UUID]domain.ContactMessage
	sessions map[string]domain.Session
}

type adminRow struct {
	rec       domain.AdminRecord
	lastLogin time.Time
}

// New creates a new in-memory database.
func New() *DB {
	return &DB{
		admins:   make(map[string]*adminRow),
		messages: make(map[uuid.UUID]domain.ContactMessage),
		sessions: make(map[string]domain.Session),
	}
}

// Ensure interfaces are met.
var _ domain.AdminRepository = (*DB)(nil)
var _ domain.MessageRepository = (*DB)(nil)
var _ domain.SessionStorage = (*DB)(nil)

// --- AdminRepository ---

// FindActiveAdminByID returns the active admin with id, or nil.
func (db *DB) FindActiveAdminByID(_ context.Context, id string) (*domain.AdminRecord, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	row, ok := db.admins[id]
	if !ok || !row.rec.IsActive {
		return nil, nil
	}
	rec := row.rec
	return &rec, nil
}

// CountAdmins returns the number of admin records.
func (db *DB) CountAdmins(context.Context) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.admins), nil
}

// CreateAdmin inserts an admin record. IDs and emails are unique.
func (db *DB) CreateAdmin(_ context.Context, r domain.AdminRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.admins[r.ID]; ok {
		return domain.ErrValidation
	}
	for _, row := range db.admins {
		if strings.EqualFold(row.rec.Email, r.Email) {
			return domain.ErrValidation
		}
	}
	db.admins[r.ID] = &adminRow{rec: r}
	return nil
}

// SetAdminActive toggles an admin's active flag.
func (db *DB) SetAdminActive(id string, active bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	row, ok := db.admins[id]
	if !ok {
		return domain.ErrNotFound
	}
	row.rec.IsActive = active
	return nil
}

// TouchLastLogin records a successful login.
func (db *DB) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	row, ok := db.admins[id]
	if !ok {
		return domain.ErrNotFound
	}
	row.lastLogin = at.UTC()
	return nil
}

// LastLogin returns when id last logged in.
func (db *DB) LastLogin(id string) time.Time {
	db.mu.Lock()
	defer db.mu.Unlock()
	if row, ok := db.admins[id]; ok {
		return row.lastLogin
	}
	return time.Time{}
}

// --- MessageRepository ---

// AddMessage stores a contact message.
func (db *DB) AddMessage(_ context.Context, m domain.ContactMessage) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	db.messages[m.ID] = m
	return nil
}

// GetMessage returns a copy of the message, or nil.
func (db *DB) GetMessage(_ context.Context, id uuid.UUID) (*domain.ContactMessage, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	m, ok := db.messages[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

// ListMessages lists messages newest first.
func (db *DB) ListMessages(_ context.Context, status domain.MessageStatus, limit int) ([]domain.ContactMessage, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	result := make([]domain.ContactMessage, 0, len(db.messages))
	for _, m := range db.messages {
		if status == "" || m.Status == status {
			result = append(result, m)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// UpdateMessageStatus sets a message's status.
func (db *DB) UpdateMessageStatus(_ context.Context, id uuid.UUID, status domain.MessageStatus, at time.Time) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	m, ok := db.messages[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.Status = status
	m.UpdatedAt = at.UTC()
	db.messages[id] = m
	return nil
}

// DeleteMessage removes a message.
func (db *DB) DeleteMessage(_ context.Context, id uuid.UUID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.messages[id]; !ok {
		return domain.ErrNotFound
	}
	delete(db.messages, id)
	return nil
}

// CountMessages returns inbox totals.
func (db *DB) CountMessages(context.Context) (domain.MessageCounts, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var c domain.MessageCounts
	for _, m := range db.messages {
		c.Total++
		switch m.Status {
		case domain.StatusNew:
			c.New++
		case domain.StatusRead:
			c.Read++
		case domain.StatusReplied:
			c.Replied++
		}
	}
	return c, nil
}

// --- SessionStorage ---

// Load returns the session under key or domain.ErrSessionNotFound.
func (db *DB) Load(_ context.Context, key string) (*domain.Session, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	s, ok := db.sessions[key]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return &s, nil
}

// Save stores a session under key.
func (db *DB) Save(_ context.Context, key string, s domain.Session) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.sessions[key] = s
	return nil
}

// Delete removes the session under key.
func (db *DB) Delete(_ context.Context, key string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.sessions, key)
	return nil
}
