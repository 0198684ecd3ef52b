// Package redis persists identity sessions in Redis, keyed by browser.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"conclave/internal/domain"
)

// DefaultPrefix namespaces session keys.
const DefaultPrefix = "conclave:session:"

// SessionStore implements domain.SessionStorage. Entries expire with the
// session's access token plus an optional grace period.
type SessionStore struct {
	client redis.UniversalClient
	prefix string
	grace  time.Duration
}

var _ domain.SessionStorage = (*SessionStore)(nil)

// NewSessionStore creates a store using DefaultPrefix.
func NewSessionStore(client redis.UniversalClient, grace time.Duration) *SessionStore {
	return NewSessionStoreWithPrefix(client, DefaultPrefix, grace)
}

// NewSessionStoreWithPrefix creates a store with a custom key prefix.
func NewSessionStoreWithPrefix(client redis.UniversalClient, prefix string, grace time.Duration) *SessionStore {
	return &SessionStore{client: client, prefix: prefix, grace: grace}
}

// Save stores s under key.
func (s *SessionStore) Save(ctx context.Context, key string, sess domain.Session) error {
	if key == "" {
		return errors.New("session key cannot be empty")
	}

	ttl := time.Until(sess.ExpiresAt) + s.grace
	if ttl <= 0 {
		return errors.New("session is expired")
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return s.client.Set(ctx, s.prefix+key, data, ttl).Err()
}

// Load returns the session under key or domain.ErrSessionNotFound.
func (s *SessionStore) Load(ctx context.Context, key string) (*domain.Session, error) {
	if key == "" {
		return nil, domain.ErrSessionNotFound
	}

	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// Delete removes the session under key.
func (s *SessionStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Ping reports whether Redis is reachable.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
