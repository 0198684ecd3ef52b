// Package domain contains the core business entities and interfaces.
package domain

import (
	"context"
	"time"
)

// Session is a signed credential issued by the identity service. It proves who
// the caller is, not that they may administer the site.
type Session struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	UserID       string    `json:"userId"`
	Email        string    `json:"email"`
}

// Valid reports whether the access token may still be used at now.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.AccessToken != "" && now.Before(s.ExpiresAt)
}

// AdminRecord is a row of the admin directory.
type AdminRecord struct {
	ID       string
	Email    string
	Name     string
	Role     string
	IsActive bool
}

// AdminIdentity is the authorized administrator held by a session guard.
type AdminIdentity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	IsActive    bool   `json:"isActive"`
}

// IdentityFromRecord materializes an AdminIdentity from a directory row.
func IdentityFromRecord(r *AdminRecord) *AdminIdentity {
	return &AdminIdentity{
		ID:          r.ID,
		Email:       r.Email,
		DisplayName: r.Name,
		Role:        r.Role,
		IsActive:    r.IsActive,
	}
}

// AuthStatus enumerates the externally observable guard states.
type AuthStatus int

const (
	StatusUnknown AuthStatus = iota
	StatusUnauthenticated
	StatusAuthenticated
)

func (s AuthStatus) String() string {
	switch s {
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// AuthState is a snapshot of a guard. User is set only when Status is
// StatusAuthenticated.
type AuthState struct {
	Status AuthStatus
	User   *AdminIdentity
}

// UnknownState is the state of a guard that has not finished restoring.
func UnknownState() AuthState { return AuthState{Status: StatusUnknown} }

// UnauthenticatedState is the state of a guard with no authorized admin.
func UnauthenticatedState() AuthState { return AuthState{Status: StatusUnauthenticated} }

// AuthenticatedState wraps an authorized admin.
func AuthenticatedState(id *AdminIdentity) AuthState {
	return AuthState{Status: StatusAuthenticated, User: id}
}

// IsLoading reports whether the guard is still deciding.
func (s AuthState) IsLoading() bool { return s.Status == StatusUnknown }

// IsAuthenticated reports whether an authorized admin is present.
func (s AuthState) IsAuthenticated() bool {
	return s.Status == StatusAuthenticated && s.User != nil
}

// Equal compares two states by status and identity fields.
func (s AuthState) Equal(o AuthState) bool {
	if s.Status != o.Status {
		return false
	}
	if s.User == nil || o.User == nil {
		return s.User == o.User
	}
	return *s.User == *o.User
}

// SessionEventKind identifies a lifecycle event pushed by the identity service.
type SessionEventKind int

const (
	EventSignedIn SessionEventKind = iota + 1
	EventSignedOut
	EventTokenRefreshed
)

func (k SessionEventKind) String() string {
	switch k {
	case EventSignedIn:
		return "signed_in"
	case EventSignedOut:
		return "signed_out"
	case EventTokenRefreshed:
		return "token_refreshed"
	default:
		return "unknown"
	}
}

// SessionEvent is a lifecycle notification. Session is nil for EventSignedOut.
type SessionEvent struct {
	Kind    SessionEventKind
	Session *Session
}

// CredentialVerifier is the port to the hosted identity service, bound to a
// single browser.
type CredentialVerifier interface {
	// Authenticate exchanges an email/password pair for a session.
	Authenticate(ctx context.Context, email, password string) (*Session, error)
	// PersistedSession returns the stored session, or nil if there is none.
	PersistedSession(ctx context.Context) (*Session, error)
	// SignOut revokes the current session.
	SignOut(ctx context.Context) error
	// Events streams lifecycle events. The channel is closed by Close.
	Events() <-chan SessionEvent
	Close() error
}

// AdminDirectory defines the port for looking up authorized administrators.
type AdminDirectory interface {
	// FindActiveAdminByID returns nil, nil when no active record matches.
	FindActiveAdminByID(ctx context.Context, id string) (*AdminRecord, error)
}

// AdminRepository extends the directory with the writes the back office needs.
type AdminRepository interface {
	AdminDirectory
	CountAdmins(ctx context.Context) (int, error)
	CreateAdmin(ctx context.Context, r AdminRecord) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}

// SessionStorage defines the port the identity adapter persists sessions through.
type SessionStorage interface {
	Load(ctx context.Context, key string) (*Session, error)
	Save(ctx context.Context, key string, s Session) error
	Delete(ctx context.Context, key string) error
}
