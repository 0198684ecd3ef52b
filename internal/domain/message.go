package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageStatus tracks how far a contact message has been handled.
type MessageStatus string

const (
	StatusNew     MessageStatus = "new"
	StatusRead    MessageStatus = "read"
	StatusReplied MessageStatus = "replied"
)

// Valid reports whether s is a known status.
func (s MessageStatus) Valid() bool {
	switch s {
	case StatusNew, StatusRead, StatusReplied:
		return true
	}
	return false
}

// ContactMessage is a message submitted through the public contact form.
type ContactMessage struct {
	ID        uuid.UUID     `json:"id"`
	Name      string        `json:"name"`
	Email     string        `json:"email"`
	Subject   string        `json:"subject,omitempty"`
	Message   string        `json:"message"`
	Status    MessageStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// MessageCounts summarizes the inbox for the admin dashboard.
type MessageCounts struct {
	Total   int `json:"total"`
	New     int `json:"new"`
	Read    int `json:"read"`
	Replied int `json:"replied"`
}

// MessageRepository is the port for contact message persistence.
type MessageRepository interface {
	AddMessage(ctx context.Context, m ContactMessage) error
	GetMessage(ctx context.Context, id uuid.UUID) (*ContactMessage, error)
	// ListMessages returns newest first; an empty status lists everything.
	ListMessages(ctx context.Context, status MessageStatus, limit int) ([]ContactMessage, error)
	UpdateMessageStatus(ctx context.Context, id uuid.UUID, status MessageStatus, at time.Time) error
	DeleteMessage(ctx context.Context, id uuid.UUID) error
	CountMessages(ctx context.Context) (MessageCounts, error)
}
