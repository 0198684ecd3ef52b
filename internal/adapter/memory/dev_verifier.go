package memory

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"conclave/internal/domain"
)

// DevConfig describes the single development credential.
type DevConfig struct {
	UserID          string
	Email           string
	Password        string
	SessionDuration time.Duration // default 8h when zero
}

// DevAuth is a stand-in identity service that knows one credential. It issues
// opaque tokens and persists sessions through the given storage.
type DevAuth struct {
	userID  string
	email   string
	hash    []byte
	dur     time.Duration
	storage domain.SessionStorage
}

// NewDevAuth hashes the configured password and returns a DevAuth.
func NewDevAuth(cfg DevConfig, storage domain.SessionStorage) (*DevAuth, error) {
	if cfg.UserID == "" {
		return nil, errors.New("dev auth: UserID is required")
	}
	if cfg.Email == "" {
		return nil, errors.New("dev auth: Email is required")
	}
	if cfg.Password == "" {
		return nil, errors.New("dev auth: Password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	dur := cfg.SessionDuration
	if dur == 0 {
		dur = 8 * time.Hour
	}
	return &DevAuth{
		userID:  cfg.UserID,
		email:   strings.ToLower(cfg.Email),
		hash:    hash,
		dur:     dur,
		storage: storage,
	}, nil
}

// NewVerifier returns a verifier bound to browserKey.
func (a *DevAuth) NewVerifier(browserKey string) *DevVerifier {
	return &DevVerifier{auth: a, key: browserKey, events: make(chan domain.SessionEvent, 8)}
}

// DevVerifier implements domain.CredentialVerifier on top of DevAuth.
type DevVerifier struct {
	auth *DevAuth
	key  string

	mu     sync.Mutex
	events chan domain.SessionEvent
	closed bool
}

var _ domain.CredentialVerifier = (*DevVerifier)(nil)

// Authenticate checks the credential and persists a new session.
func (v *DevVerifier) Authenticate(ctx context.Context, email, password string) (*domain.Session, error) {
	emailOK := strings.EqualFold(strings.TrimSpace(email), v.auth.email)
	// Always compare to keep timing independent of the email.
	pwErr := bcrypt.CompareHashAndPassword(v.auth.hash, []byte(password))
	if !emailOK || pwErr != nil {
		return nil, domain.InvalidCredentials("", nil)
	}

	token, err := generateToken()
	if err != nil {
		return nil, domain.VerifierUnavailable(err)
	}
	s := &domain.Session{
		AccessToken: token,
		ExpiresAt:   time.Now().Add(v.auth.dur),
		UserID:      v.auth.userID,
		Email:       v.auth.email,
	}
	if err := v.auth.storage.Save(ctx, v.key, *s); err != nil {
		return nil, domain.VerifierUnavailable(err)
	}
	v.emit(domain.SessionEvent{Kind: domain.EventSignedIn, Session: s})
	return s, nil
}

// PersistedSession returns the stored session, or nil.
func (v *DevVerifier) PersistedSession(ctx context.Context) (*domain.Session, error) {
	s, err := v.auth.storage.Load(ctx, v.key)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil, nil
	}
	return s, err
}

// SignOut deletes the stored session.
func (v *DevVerifier) SignOut(ctx context.Context) error {
	err := v.auth.storage.Delete(ctx, v.key)
	v.emit(domain.SessionEvent{Kind: domain.EventSignedOut})
	return err
}

// Events implements domain.CredentialVerifier.
func (v *DevVerifier) Events() <-chan domain.SessionEvent { return v.events }

// Close closes the event channel.
func (v *DevVerifier) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.closed {
		v.closed = true
		close(v.events)
	}
	return nil
}

func (v *DevVerifier) emit(ev domain.SessionEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	for {
		select {
		case v.events <- ev:
			return
		default:
		}
		select {
		case <-v.events:
		default:
		}
	}
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
