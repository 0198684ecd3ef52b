package gotrue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"conclave/internal/domain"
)

// Verifier defaults.
const (
	DefaultRefreshMargin = time.Minute
	DefaultEventBuffer   = 8
	refreshRetry         = 15 * time.Second
	refreshTimeout       = 10 * time.Second
)

var errSignedOut = errors.New("signed out while the session was being issued")

// VerifierOptions configures a Verifier.
type VerifierOptions struct {
	Storage domain.SessionStorage
	// Validator checks access tokens before they are trusted. Nil trusts the
	// identity service's response.
	Validator     TokenValidator
	RefreshMargin time.Duration
	EventBuffer   int
	Logger        *slog.Logger
}

// Verifier is the credential verifier of one browser. It implements
// domain.CredentialVerifier.
type Verifier struct {
	client    *Client
	key       string
	storage   domain.SessionStorage
	validator TokenValidator
	margin    time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	current *domain.Session
	gen     uint64
	// signOuts counts sign-outs; work started before one must not persist.
	signOuts uint64
	timer    *time.Timer
	events   chan domain.SessionEvent
	closed   bool
}

var _ domain.CredentialVerifier = (*Verifier)(nil)

// NewVerifier creates a verifier whose session is persisted under browserKey.
func (c *Client) NewVerifier(browserKey string, opts VerifierOptions) *Verifier {
	if opts.RefreshMargin <= 0 {
		opts.RefreshMargin = DefaultRefreshMargin
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Verifier{
		client:    c,
		key:       browserKey,
		storage:   opts.Storage,
		validator: opts.Validator,
		margin:    opts.RefreshMargin,
		logger:    opts.Logger,
		now:       time.Now,
		events:    make(chan domain.SessionEvent, opts.EventBuffer),
	}
}

// Authenticate implements domain.CredentialVerifier.
func (v *Verifier) Authenticate(ctx context.Context, email, password string) (*domain.Session, error) {
	v.mu.Lock()
	signOuts := v.signOuts
	v.mu.Unlock()

	tok, user, err := v.client.PasswordGrant(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s, err := v.sessionFromToken(ctx, tok, user)
	if err != nil {
		v.discard(ctx, tok.AccessToken, "login token failed validation")
		return nil, domain.VerifierUnavailable(err)
	}

	v.mu.Lock()
	if v.closed || v.signOuts != signOuts {
		v.mu.Unlock()
		v.discard(ctx, s.AccessToken, "signed out during login")
		return nil, domain.VerifierUnavailable(errSignedOut)
	}
	v.persist(ctx, s)
	v.install(s)
	v.emitLocked(domain.SessionEvent{Kind: domain.EventSignedIn, Session: s})
	v.mu.Unlock()
	return s, nil
}

// PersistedSession implements domain.CredentialVerifier. A stored session
// whose token fails validation is discarded and an expired one is refreshed
// when it still carries a refresh token.
func (v *Verifier) PersistedSession(ctx context.Context) (*domain.Session, error) {
	v.mu.Lock()
	signOuts := v.signOuts
	v.mu.Unlock()

	s, err := v.storage.Load(ctx, v.key)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s == nil {
		return nil, nil
	}
	if !s.Valid(v.now()) {
		if s.RefreshToken == "" {
			return s, nil
		}
		return v.redeem(ctx, s, signOuts)
	}

	if v.validator != nil {
		claims, err := v.validator.Validate(ctx, s.AccessToken)
		if err != nil || claims.UserID != s.UserID {
			v.logger.WarnContext(ctx, "discarding persisted session with invalid token", "user_id", s.UserID, "error", err)
			if derr := v.storage.Delete(ctx, v.key); derr != nil {
				v.logger.WarnContext(ctx, "delete session", "error", derr)
			}
			return nil, nil
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.signOuts != signOuts {
		return nil, nil
	}
	v.install(s)
	return s, nil
}

// redeem exchanges the refresh token of an expired stored session. A
// rejected refresh token removes the stored session.
func (v *Verifier) redeem(ctx context.Context, old *domain.Session, signOuts uint64) (*domain.Session, error) {
	tok, user, err := v.client.RefreshGrant(ctx, old.RefreshToken)
	var s *domain.Session
	if err == nil {
		s, err = v.sessionFromToken(ctx, tok, user)
		if err != nil {
			v.discard(ctx, tok.AccessToken, "refreshed token failed validation")
		}
	}
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidCredentials):
		v.logger.InfoContext(ctx, "stored refresh token rejected", "user_id", old.UserID)
		if derr := v.storage.Delete(ctx, v.key); derr != nil {
			v.logger.WarnContext(ctx, "delete session", "error", derr)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("redeem stored session: %w", err)
	}

	v.mu.Lock()
	if v.closed || v.signOuts != signOuts {
		v.mu.Unlock()
		v.discard(ctx, s.AccessToken, "signed out during restore")
		return nil, nil
	}
	v.persist(ctx, s)
	v.install(s)
	v.mu.Unlock()
	return s, nil
}

// SignOut implements domain.CredentialVerifier. Local state is cleared even
// when the remote call fails.
func (v *Verifier) SignOut(ctx context.Context) error {
	v.mu.Lock()
	s := v.current
	v.signOuts++
	v.install(nil)
	v.mu.Unlock()

	if err := v.storage.Delete(ctx, v.key); err != nil {
		v.logger.WarnContext(ctx, "delete session", "error", err)
	}

	var err error
	if s != nil {
		err = v.client.Logout(ctx, &oauth2.Token{AccessToken: s.AccessToken, TokenType: "Bearer"})
	}

	v.mu.Lock()
	v.emitLocked(domain.SessionEvent{Kind: domain.EventSignedOut})
	v.mu.Unlock()
	return err
}

// Events implements domain.CredentialVerifier.
func (v *Verifier) Events() <-chan domain.SessionEvent { return v.events }

// Close stops the refresh timer and closes the event channel.
func (v *Verifier) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	v.stopTimerLocked()
	close(v.events)
	return nil
}

func (v *Verifier) sessionFromToken(ctx context.Context, tok *oauth2.Token, user User) (*domain.Session, error) {
	s := &domain.Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		UserID:       user.ID,
		Email:        user.Email,
	}
	if v.validator == nil {
		return s, nil
	}
	claims, err := v.validator.Validate(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	if claims.UserID != user.ID {
		return nil, fmt.Errorf("token subject %q does not match user %q", claims.UserID, user.ID)
	}
	if !claims.ExpiresAt.IsZero() {
		s.ExpiresAt = claims.ExpiresAt
	}
	return s, nil
}

// discard revokes a token the verifier will not keep.
func (v *Verifier) discard(ctx context.Context, accessToken, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
	defer cancel()
	v.logger.InfoContext(ctx, "revoking unused session", "reason", reason)
	if err := v.client.Logout(ctx, &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}); err != nil {
		v.logger.WarnContext(ctx, "revoke unused session", "error", err)
	}
}

// persist stores s. Callers hold v.mu so a concurrent sign-out cannot
// interleave between the generation check and the write.
func (v *Verifier) persist(ctx context.Context, s *domain.Session) {
	if err := v.storage.Save(ctx, v.key, *s); err != nil {
		v.logger.WarnContext(ctx, "persist session", "user_id", s.UserID, "error", err)
	}
}

// install makes s current and schedules its refresh. Caller holds v.mu.
func (v *Verifier) install(s *domain.Session) {
	v.current = s
	v.gen++
	v.stopTimerLocked()
	if s == nil || v.closed || s.RefreshToken == "" {
		return
	}
	v.scheduleLocked(s.ExpiresAt.Sub(v.now()) - v.margin)
}

func (v *Verifier) scheduleLocked(d time.Duration) {
	if d < 0 {
		d = 0
	}
	gen := v.gen
	v.timer = time.AfterFunc(d, func() { v.refresh(gen) })
}

func (v *Verifier) stopTimerLocked() {
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
}

func (v *Verifier) refresh(gen uint64) {
	v.mu.Lock()
	if v.closed || gen != v.gen || v.current == nil {
		v.mu.Unlock()
		return
	}
	old := v.current
	v.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	tok, user, err := v.client.RefreshGrant(ctx, old.RefreshToken)
	var s *domain.Session
	if err == nil {
		s, err = v.sessionFromToken(ctx, tok, user)
		if err != nil {
			v.discard(ctx, tok.AccessToken, "refreshed token failed validation")
		}
	}

	switch {
	case err == nil:
		v.mu.Lock()
		if gen != v.gen {
			v.mu.Unlock()
			v.discard(ctx, s.AccessToken, "session changed during refresh")
			return
		}
		// The old refresh token is spent, so a closed verifier still stores
		// the new session for the next restore.
		v.persist(ctx, s)
		if !v.closed {
			v.install(s)
			v.emitLocked(domain.SessionEvent{Kind: domain.EventTokenRefreshed, Session: s})
		}
		v.mu.Unlock()

	case errors.Is(err, domain.ErrInvalidCredentials) || !old.Valid(v.now()):
		v.logger.WarnContext(ctx, "session refresh failed, signing out", "user_id", old.UserID, "error", err)
		v.mu.Lock()
		if gen == v.gen {
			if derr := v.storage.Delete(ctx, v.key); derr != nil {
				v.logger.WarnContext(ctx, "delete session", "error", derr)
			}
			if !v.closed {
				v.signOuts++
				v.install(nil)
				v.emitLocked(domain.SessionEvent{Kind: domain.EventSignedOut})
			}
		}
		v.mu.Unlock()

	default:
		v.logger.WarnContext(ctx, "session refresh failed, retrying", "user_id", old.UserID, "error", err)
		v.mu.Lock()
		if gen == v.gen && !v.closed {
			retry := refreshRetry
			if left := old.ExpiresAt.Sub(v.now()); left < retry {
				retry = left
			}
			v.scheduleLocked(retry)
		}
		v.mu.Unlock()
	}
}

// emitLocked delivers ev, dropping the oldest pending event when the buffer
// is full. Caller holds v.mu.
func (v *Verifier) emitLocked(ev domain.SessionEvent) {
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
		case dropped := <-v.events:
			v.logger.Warn("session event buffer full, dropping oldest", "dropped", dropped.Kind.String())
		default:
		}
	}
}
