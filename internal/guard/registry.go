package guard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"conclave/internal/domain"
)

// Registry defaults.
const (
	// DefaultIdleTTL is how long an untouched guard is kept before it is closed.
	DefaultIdleTTL   = 30 * time.Minute
	DefaultMaxGuards = 10000
)

// ErrRegistryFull is returned by Get when every guard slot is in use.
var ErrRegistryFull = errors.New("guard: registry is full")

// VerifierFactory builds a credential verifier bound to one browser key.
type VerifierFactory func(browserKey string) (domain.CredentialVerifier, error)

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Guard   Options
	IdleTTL time.Duration
	// SweepInterval defaults to one minute.
	SweepInterval time.Duration
	// MaxGuards caps the number of live guards.
	MaxGuards int
}

type registryEntry struct {
	guard    *Guard
	lastSeen time.Time
}

// Registry keeps one running Guard per browser key.
type Registry struct {
	newVerifier VerifierFactory
	directory   domain.AdminDirectory
	opts        Options
	idleTTL     time.Duration
	interval    time.Duration
	maxGuards   int
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	entries map[string]*registryEntry
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry(factory VerifierFactory, directory domain.AdminDirectory, opts RegistryOptions) *Registry {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.MaxGuards <= 0 {
		opts.MaxGuards = DefaultMaxGuards
	}
	logger := opts.Guard.Logger
	if logger == nil {
		logger = slog.Default()
		opts.Guard.Logger = logger
	}
	return &Registry{
		newVerifier: factory,
		directory:   directory,
		opts:        opts.Guard,
		idleTTL:     opts.IdleTTL,
		interval:    opts.SweepInterval,
		maxGuards:   opts.MaxGuards,
		logger:      logger,
		now:         time.Now,
		entries:     make(map[string]*registryEntry),
	}
}

// Get returns the guard for browserKey, creating and starting one if needed.
// A freshly created guard starts in the Unknown state and restores from the
// verifier's persisted session. When the registry is at capacity idle guards
// are evicted first; if none are idle Get fails with ErrRegistryFull.
func (r *Registry) Get(browserKey string) (*Guard, error) {
	if browserKey == "" {
		return nil, errors.New("guard: empty browser key")
	}

	var evicted []*Guard
	defer func() {
		for _, g := range evicted {
			_ = g.Close()
		}
	}()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, domain.ErrGuardClosed
	}
	now := r.now()
	if e, ok := r.entries[browserKey]; ok {
		e.lastSeen = now
		return e.guard, nil
	}
	if len(r.entries) >= r.maxGuards {
		evicted = r.evictLocked(now)
		if len(r.entries) >= r.maxGuards {
			r.logger.Warn("guard registry full", "max_guards", r.maxGuards)
			return nil, ErrRegistryFull
		}
	}

	v, err := r.newVerifier(browserKey)
	if err != nil {
		return nil, err
	}
	g := New(v, r.directory, Options{
		Logger:         r.opts.Logger.With("browser_key", shortKey(browserKey)),
		RestoreTimeout: r.opts.RestoreTimeout,
		CheckTimeout:   r.opts.CheckTimeout,
	})
	g.Start(context.Background())
	r.entries[browserKey] = &registryEntry{guard: g, lastSeen: now}
	return g, nil
}

// Forget closes and removes the guard for browserKey, if any.
func (r *Registry) Forget(browserKey string) {
	r.mu.Lock()
	e, ok := r.entries[browserKey]
	delete(r.entries, browserKey)
	r.mu.Unlock()

	if ok {
		if err := e.guard.Close(); err != nil {
			r.logger.Warn("close guard", "browser_key", shortKey(browserKey), "error", err)
		}
	}
}

// Len returns the number of live guards.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep closes guards idle since before now minus the idle TTL and reports
// how many were removed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	stale := r.evictLocked(now)
	r.mu.Unlock()

	for _, g := range stale {
		_ = g.Close()
	}
	if len(stale) > 0 {
		r.logger.Debug("swept idle guards", "count", len(stale))
	}
	return len(stale)
}

// evictLocked removes idle entries and returns their guards for closing.
func (r *Registry) evictLocked(now time.Time) []*Guard {
	var stale []*Guard
	for key, e := range r.entries {
		if now.Sub(e.lastSeen) > r.idleTTL {
			stale = append(stale, e.guard)
			delete(r.entries, key)
		}
	}
	return stale
}

// Run sweeps idle guards until ctx is done, then closes the registry.
func (r *Registry) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return r.Close()
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

// Close closes every guard. Subsequent Get calls fail with ErrGuardClosed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := e.guard.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// shortKey keeps browser keys out of logs in full.
func shortKey(k string) string {
	if len(k) <= 8 {
		return k
	}
	return k[:8]
}
