// Package app holds the application services behind the admin back office.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"conclave/internal/domain"
)

// ErrAdminsExist indicates that the directory was already seeded.
var ErrAdminsExist = errors.New("admins already exist")

// AdminService manages the admin directory.
type AdminService struct {
	admins domain.AdminRepository
	now    func() time.Time
}

// NewAdminService creates an AdminService backed by the given repository.
func NewAdminService(admins domain.AdminRepository) *AdminService {
	return &AdminService{admins: admins, now: time.Now}
}

// RecordLogin stamps the admin's last successful login.
func (s *AdminService) RecordLogin(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("record login: %w", domain.ErrValidation)
	}
	return s.admins.TouchLastLogin(ctx, id, s.now())
}

// CreateInitialAdmin creates the first admin record if the directory is empty.
// The record must carry the identity service's user ID.
func (s *AdminService) CreateInitialAdmin(ctx context.Context, r domain.AdminRecord) error {
	r.ID = strings.TrimSpace(r.ID)
	r.Email = strings.TrimSpace(strings.ToLower(r.Email))
	if r.ID == "" || r.Email == "" {
		return fmt.Errorf("initial admin needs id and email: %w", domain.ErrValidation)
	}
	if r.Role == "" {
		r.Role = "admin"
	}
	r.IsActive = true

	count, err := s.admins.CountAdmins(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrAdminsExist
	}
	return s.admins.CreateAdmin(ctx, r)
}
