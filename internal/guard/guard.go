// Package guard holds the admin session guard: the single source of truth for
// whether a browser currently has an authorized administrator.
//
// A Guard owns one worker goroutine. Commands (Login, Logout), lifecycle events
// from the credential verifier and the results of asynchronous authorization
// checks are all delivered to that worker, which is the only writer of the
// guard's state.
package guard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"conclave/internal/domain"
)

// Default bounds for network round-trips made on behalf of the guard.
const (
	DefaultRestoreTimeout = 10 * time.Second
	DefaultCheckTimeout   = 10 * time.Second
)

// Errors returned by Login when its decision was overtaken before it could
// be committed.
var (
	// ErrLoginSuperseded: a newer login or sign-in was decided first.
	ErrLoginSuperseded = errors.New("login superseded by a newer sign-in")
	// ErrSignedOutDuringLogin: a sign-out arrived while the login was being
	// authorized.
	ErrSignedOutDuringLogin = errors.New("signed out while login was in progress")
)

// Options configures a Guard. Zero values select defaults.
type Options struct {
	Logger         *slog.Logger
	RestoreTimeout time.Duration
	CheckTimeout   time.Duration
}

// phase tags what the worker is currently allowed to decide.
type phase int

const (
	// phaseRestoring: the startup restore owns the next decision. SignedIn and
	// TokenRefreshed are dropped and logins wait.
	phaseRestoring phase = iota
	phaseReady
)

func (p phase) String() string {
	if p == phaseRestoring {
		return "restoring"
	}
	return "ready"
}

type loginCmd struct {
	ctx      context.Context
	email    string
	password string
	reply    chan error
}

type logoutCmd struct {
	reply chan struct{}
}

// decision is the outcome of an asynchronous check, committed by the worker
// only if its epoch is still current.
type decision struct {
	epoch  uint64
	origin string
	state  domain.AuthState
	token  string
	keep   bool // leave the state untouched (failed login)
	login  bool
	err    error
	reply  chan error
}

// Guard tracks the authorization state of one browser.
type Guard struct {
	verifier       domain.CredentialVerifier
	directory      domain.AdminDirectory
	logger         *slog.Logger
	restoreTimeout time.Duration
	checkTimeout   time.Duration
	now            func() time.Time

	cmds    chan any
	results chan decision
	quit    chan struct{}
	stopped chan struct{}

	startOnce sync.Once
	closeOnce sync.Once

	mu       sync.RWMutex
	state    domain.AuthState
	settled  chan struct{}
	isSettle bool
	subs     map[uint64]chan domain.AuthState
	nextSub  uint64

	// Owned by the worker goroutine.
	phase         phase
	epoch         uint64
	signOutEpoch  uint64
	logins        int
	decidedToken  string
	deferred      []loginCmd
	cancelRestore context.CancelFunc
}

// New creates a guard in the Unknown state. The guard takes ownership of
// verifier and closes it on Close. Call Start to begin restoring.
func New(verifier domain.CredentialVerifier, directory domain.AdminDirectory, opts Options) *Guard {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RestoreTimeout <= 0 {
		opts.RestoreTimeout = DefaultRestoreTimeout
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = DefaultCheckTimeout
	}
	return &Guard{
		verifier:       verifier,
		directory:      directory,
		logger:         opts.Logger,
		restoreTimeout: opts.RestoreTimeout,
		checkTimeout:   opts.CheckTimeout,
		now:            time.Now,
		cmds:           make(chan any),
		results:        make(chan decision),
		quit:           make(chan struct{}),
		stopped:        make(chan struct{}),
		state:          domain.UnknownState(),
		settled:        make(chan struct{}),
		subs:           make(map[uint64]chan domain.AuthState),
	}
}

// Start launches the worker and the one-time session restore. Calling Start
// more than once has no effect.
func (g *Guard) Start(ctx context.Context) {
	g.startOnce.Do(func() {
		events := g.verifier.Events()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.restoreTimeout)
		g.phase = phaseRestoring
		g.cancelRestore = cancel
		go g.restore(rctx, g.epoch)
		go g.run(events)
	})
}

// State returns the latest committed state.
func (g *Guard) State() domain.AuthState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Settled blocks until the guard has left the Unknown state or ctx is done.
func (g *Guard) Settled(ctx context.Context) (domain.AuthState, error) {
	select {
	case <-g.settled:
		return g.State(), nil
	case <-ctx.Done():
		return g.State(), ctx.Err()
	}
}

// Subscribe returns a channel that receives the current state and then every
// change. The channel holds only the newest undelivered state. The returned
// func unsubscribes and closes the channel.
func (g *Guard) Subscribe() (<-chan domain.AuthState, func()) {
	ch := make(chan domain.AuthState, 1)

	g.mu.Lock()
	if g.subs == nil {
		g.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := g.nextSub
	g.nextSub++
	g.subs[id] = ch
	ch <- g.state
	g.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if c, ok := g.subs[id]; ok {
				delete(g.subs, id)
				close(c)
			}
		})
	}
}

// Login authenticates against the identity service and, only if the identity
// is an active admin, commits Authenticated. Failures are returned as
// *domain.AuthError.
func (g *Guard) Login(ctx context.Context, email, password string) error {
	if email == "" || password == "" {
		return domain.InvalidCredentials("Email and password are required", nil)
	}

	reply := make(chan error, 1)
	cmd := loginCmd{ctx: ctx, email: email, password: password, reply: reply}
	select {
	case g.cmds <- cmd:
	case <-g.stopped:
		return domain.ErrGuardClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-g.stopped:
		return domain.ErrGuardClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Logout revokes the session with the identity service and then commits
// Unauthenticated. It is safe to call repeatedly.
func (g *Guard) Logout(ctx context.Context) {
	if err := g.verifier.SignOut(ctx); err != nil {
		g.logger.WarnContext(ctx, "sign-out failed", "error", err)
	}

	reply := make(chan struct{})
	select {
	case g.cmds <- logoutCmd{reply: reply}:
	case <-g.stopped:
		return
	case <-ctx.Done():
		return
	}
	select {
	case <-reply:
	case <-g.stopped:
	case <-ctx.Done():
	}
}

// Close stops the worker, closes all subscriptions and the verifier.
func (g *Guard) Close() error {
	var err error
	g.closeOnce.Do(func() {
		// A guard that was never started has no worker to close stopped.
		g.startOnce.Do(func() { close(g.stopped) })
		close(g.quit)
		<-g.stopped

		g.mu.Lock()
		for id, ch := range g.subs {
			delete(g.subs, id)
			close(ch)
		}
		g.subs = nil
		g.mu.Unlock()

		err = g.verifier.Close()
	})
	return err
}

func (g *Guard) run(events <-chan domain.SessionEvent) {
	defer close(g.stopped)

	restoreTimer := time.NewTimer(g.restoreTimeout)
	defer restoreTimer.Stop()

	for {
		select {
		case <-g.quit:
			g.abortRestore()
			return
		case <-restoreTimer.C:
			if g.phase == phaseRestoring {
				g.logger.Warn("session restore timed out", "timeout", g.restoreTimeout)
				g.epoch++
				g.finishRestore()
				g.commit(domain.UnauthenticatedState(), "restore_timeout")
				g.flushDeferred()
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			g.handleEvent(ev)
		case cmd := <-g.cmds:
			g.handleCommand(cmd)
		case d := <-g.results:
			g.handleDecision(d)
		}
	}
}

func (g *Guard) handleEvent(ev domain.SessionEvent) {
	log := g.logger.With("event", ev.Kind.String(), "phase", g.phase.String())

	switch ev.Kind {
	case domain.EventSignedOut:
		g.epoch++
		g.signOutEpoch = g.epoch
		g.decidedToken = ""
		if g.phase == phaseRestoring {
			g.abortRestore()
			g.finishRestore()
			defer g.flushDeferred()
		}
		g.commit(domain.UnauthenticatedState(), "signed_out")

	case domain.EventSignedIn, domain.EventTokenRefreshed:
		switch {
		case g.phase == phaseRestoring:
			log.Debug("ignoring event while restore is in flight")
			return
		case g.logins > 0:
			log.Debug("ignoring event while login is in flight")
			return
		case ev.Session == nil:
			return
		case ev.Kind == domain.EventSignedIn && ev.Session.AccessToken == g.decidedToken:
			log.Debug("ignoring sign-in already decided")
			return
		}
		g.epoch++
		g.startCheck(ev.Kind.String(), ev.Session)

	default:
		log.Warn("unknown session event")
	}
}

func (g *Guard) handleCommand(cmd any) {
	switch c := cmd.(type) {
	case loginCmd:
		if g.phase == phaseRestoring {
			g.deferred = append(g.deferred, c)
			return
		}
		g.epoch++
		g.logins++
		go g.login(c, g.epoch)

	case logoutCmd:
		g.epoch++
		g.signOutEpoch = g.epoch
		g.decidedToken = ""
		if g.phase == phaseRestoring {
			g.abortRestore()
			g.finishRestore()
			defer g.flushDeferred()
		}
		g.commit(domain.UnauthenticatedState(), "logout")
		close(c.reply)
	}
}

func (g *Guard) handleDecision(d decision) {
	if d.login {
		g.logins--
	}
	current := d.epoch == g.epoch

	if d.origin == "restore" {
		if !current || g.phase != phaseRestoring {
			return
		}
		g.finishRestore()
		defer g.flushDeferred()
	}

	if current && !d.keep {
		g.decidedToken = d.token
		g.commit(d.state, d.origin)
	}

	if d.reply != nil {
		err := d.err
		if !current && err == nil {
			err = ErrLoginSuperseded
			if g.signOutEpoch > d.epoch {
				err = ErrSignedOutDuringLogin
			}
		}
		d.reply <- err
	}
}

func (g *Guard) finishRestore() {
	g.phase = phaseReady
	if g.cancelRestore != nil {
		g.cancelRestore()
		g.cancelRestore = nil
	}
}

func (g *Guard) abortRestore() {
	if g.cancelRestore != nil {
		g.cancelRestore()
	}
}

func (g *Guard) flushDeferred() {
	pending := g.deferred
	g.deferred = nil
	for _, c := range pending {
		g.handleCommand(c)
	}
}

// commit publishes next if it differs from the current state.
func (g *Guard) commit(next domain.AuthState, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state.Equal(next) {
		return
	}
	g.state = next
	if next.Status != domain.StatusUnknown && !g.isSettle {
		g.isSettle = true
		close(g.settled)
	}
	for _, ch := range g.subs {
		offer(ch, next)
	}

	attrs := []any{"status", next.Status.String(), "reason", reason}
	if next.User != nil {
		attrs = append(attrs, "admin_id", next.User.ID, "role", next.User.Role)
	}
	g.logger.Info("auth state changed", attrs...)
}

// offer replaces any undelivered state in ch with s.
func offer(ch chan domain.AuthState, s domain.AuthState) {
	for {
		select {
		case ch <- s:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (g *Guard) post(d decision) {
	select {
	case g.results <- d:
	case <-g.quit:
		if d.reply != nil {
			d.reply <- domain.ErrGuardClosed
		}
	}
}

func (g *Guard) restore(ctx context.Context, epoch uint64) {
	d := decision{epoch: epoch, origin: "restore", state: domain.UnauthenticatedState()}

	s, err := g.verifier.PersistedSession(ctx)
	switch {
	case err != nil:
		g.logger.WarnContext(ctx, "session restore failed", "error", err)
	case s == nil:
	case !s.Valid(g.now()):
		g.logger.InfoContext(ctx, "persisted session expired", "user_id", s.UserID)
	default:
		d.token = s.AccessToken
		if id := g.authorize(ctx, s); id != nil {
			d.state = domain.AuthenticatedState(id)
		} else {
			g.revoke(ctx, s, "restore")
		}
	}
	g.post(d)
}

func (g *Guard) startCheck(origin string, s *domain.Session) {
	epoch := g.epoch
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.checkTimeout)
		defer cancel()

		d := decision{epoch: epoch, origin: origin, state: domain.UnauthenticatedState(), token: s.AccessToken}
		if id := g.authorize(ctx, s); id != nil {
			d.state = domain.AuthenticatedState(id)
		} else {
			g.revoke(ctx, s, origin)
		}
		g.post(d)
	}()
}

func (g *Guard) login(c loginCmd, epoch uint64) {
	ctx, cancel := context.WithTimeout(c.ctx, g.checkTimeout)
	defer cancel()

	d := decision{epoch: epoch, origin: "login", login: true, reply: c.reply}

	s, err := g.verifier.Authenticate(ctx, c.email, c.password)
	switch {
	case err != nil:
		d.keep = true
		d.err = classifyLoginError(err)
		g.logger.InfoContext(ctx, "login rejected by identity service", "error", err)
	case s == nil:
		d.keep = true
		d.err = domain.VerifierUnavailable(errors.New("identity service returned no session"))
	default:
		d.token = s.AccessToken
		if id := g.authorize(ctx, s); id != nil {
			d.state = domain.AuthenticatedState(id)
		} else {
			g.revoke(ctx, s, "login")
			d.state = domain.UnauthenticatedState()
			d.err = domain.AccessDenied()
		}
	}
	g.post(d)
}

func classifyLoginError(err error) error {
	var ae *domain.AuthError
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, domain.ErrInvalidCredentials) {
		return domain.InvalidCredentials("", err)
	}
	return domain.VerifierUnavailable(err)
}

// authorize performs the admin directory half of the two-step check. Any
// failure yields nil.
func (g *Guard) authorize(ctx context.Context, s *domain.Session) *domain.AdminIdentity {
	if !s.Valid(g.now()) || s.UserID == "" {
		return nil
	}
	rec, err := g.directory.FindActiveAdminByID(ctx, s.UserID)
	if err != nil {
		g.logger.WarnContext(ctx, "admin directory lookup failed", "user_id", s.UserID, "error", err)
		return nil
	}
	if rec == nil || !rec.IsActive || rec.ID != s.UserID {
		return nil
	}
	id := domain.IdentityFromRecord(rec)
	if id.Email == "" {
		id.Email = s.Email
	}
	return id
}

func (g *Guard) revoke(ctx context.Context, s *domain.Session, origin string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.checkTimeout)
	defer cancel()

	g.logger.WarnContext(rctx, "revoking session without admin access", "user_id", s.UserID, "origin", origin)
	if err := g.verifier.SignOut(rctx); err != nil {
		g.logger.WarnContext(rctx, "revoke failed", "user_id", s.UserID, "error", err)
	}
}
