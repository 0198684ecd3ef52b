package app

import (
	"context"

	"conclave/internal/domain"
)

// RecentMessages is how many messages the dashboard previews.
const RecentMessages = 5

// DashboardService assembles the admin landing page.
type DashboardService struct {
	messages domain.MessageRepository
}

// NewDashboardService creates a DashboardService backed by the given repository.
func NewDashboardService(messages domain.MessageRepository) *DashboardService {
	return &DashboardService{messages: messages}
}

// Dashboard is the payload of the admin landing page.
type Dashboard struct {
	Messages domain.MessageCounts   `json:"messages"`
	Recent   []domain.ContactMessage `json:"recent"`
}

// Summary returns inbox counts and the newest unread messages.
func (s *DashboardService) Summary(ctx context.Context) (Dashboard, error) {
	counts, err := s.messages.CountMessages(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	recent, err := s.messages.ListMessages(ctx, domain.StatusNew, RecentMessages)
	if err != nil {
		return Dashboard{}, err
	}
	if recent == nil {
		recent = []domain.ContactMessage{}
	}
	return Dashboard{Messages: counts, Recent: recent}, nil
}
