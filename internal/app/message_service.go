package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"conclave/internal/domain"
)

// Paging bounds for message listings.
const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// MessageService encapsulates the contact inbox use cases.
type MessageService struct {
	repo domain.MessageRepository
	now  func() time.Time
}

// NewMessageService creates a MessageService backed by the given repository.
func NewMessageService(repo domain.MessageRepository) *MessageService {
	return &MessageService{repo: repo, now: time.Now}
}

// Submit validates and stores a message from the public contact form.
func (s *MessageService) Submit(ctx context.Context, form domain.ContactForm) (domain.ContactMessage, error) {
	form = form.Normalize()
	if err := form.Validate(); err != nil {
		return domain.ContactMessage{}, err
	}

	now := s.now().UTC()
	m := domain.ContactMessage{
		ID:        uuid.New(),
		Name:      form.Name,
		Email:     form.Email,
		Subject:   form.Subject,
		Message:   form.Message,
		Status:    domain.StatusNew,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.AddMessage(ctx, m); err != nil {
		return domain.ContactMessage{}, err
	}
	return m, nil
}

// List returns messages newest first, optionally filtered by status.
func (s *MessageService) List(ctx context.Context, status domain.MessageStatus, limit int) ([]domain.ContactMessage, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", status, domain.ErrValidation)
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return s.repo.ListMessages(ctx, status, limit)
}

// Open returns a message and marks it read if it was new.
func (s *MessageService) Open(ctx context.Context, id uuid.UUID) (*domain.ContactMessage, error) {
	m, err := s.repo.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, domain.ErrNotFound
	}
	if m.Status == domain.StatusNew {
		now := s.now().UTC()
		if err := s.repo.UpdateMessageStatus(ctx, id, domain.StatusRead, now); err != nil {
			return nil, err
		}
		m.Status = domain.StatusRead
		m.UpdatedAt = now
	}
	return m, nil
}

// UpdateStatus moves a message to status.
func (s *MessageService) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.MessageStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown status %q: %w", status, domain.ErrValidation)
	}
	return s.repo.UpdateMessageStatus(ctx, id, status, s.now().UTC())
}

// Delete removes a message.
func (s *MessageService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteMessage(ctx, id)
}
