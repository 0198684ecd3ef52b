package adapthttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"conclave/internal/app"
	"conclave/internal/guard"
)

// Defaults for Options.
const (
	DefaultSettleWait    = 3 * time.Second
	DefaultLoginRatePerM = 10
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// Options configures a Server. Zero values select defaults.
type Options struct {
	Logger       *slog.Logger
	WebDir       string
	CookieSecure bool
	// CookieSecret signs browser keys. Nil uses a random per-process secret,
	// which invalidates every browser key on restart.
	CookieSecret []byte
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool
	LoginRatePerM     int
	AllowedOrigins    []string
	// SettleWait bounds how long a protected request waits for a restoring
	// guard before the loading response is sent.
	SettleWait time.Duration
	Checks     map[string]HealthCheck
}

// Server is the driving HTTP adapter that routes requests to the session
// guards and application services.
type Server struct {
	guards    *guard.Registry
	admins    *app.AdminService
	messages  *app.MessageService
	dashboard *app.DashboardService

	logger       *slog.Logger
	webDir       string
	cookieSecure bool
	keys         *keySigner
	trustProxy   bool
	origins      []string
	settleWait   time.Duration
	checks       map[string]HealthCheck
	loginLimiter *rateLimiter
}

// New creates a Server wired to the given registry and application services.
func New(guards *guard.Registry, as *app.AdminService, ms *app.MessageService, ds *app.DashboardService, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SettleWait <= 0 {
		opts.SettleWait = DefaultSettleWait
	}
	if opts.LoginRatePerM <= 0 {
		opts.LoginRatePerM = DefaultLoginRatePerM
	}
	return &Server{
		guards:       guards,
		admins:       as,
		messages:     ms,
		dashboard:    ds,
		logger:       opts.Logger,
		webDir:       opts.WebDir,
		cookieSecure: opts.CookieSecure,
		keys:         newKeySigner(opts.CookieSecret),
		trustProxy:   opts.TrustProxyHeaders,
		origins:      opts.AllowedOrigins,
		settleWait:   opts.SettleWait,
		checks:       opts.Checks,
		loginLimiter: newRateLimiter(opts.LoginRatePerM),
	}
}

// Handler returns the root http.Handler for the application.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(withNoCache)
	if len(s.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.origins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", s.handleHealth)
		api.Post("/contact", s.handleContactSubmit)

		api.Route("/admin", func(ad chi.Router) {
			ad.Use(s.browserKeyMiddleware)
			ad.With(s.loginLimiter.middleware).Post("/login", s.handleLogin)
			ad.Post("/logout", s.handleLogout)
			ad.Get("/session", s.handleSession)

			ad.Group(func(p chi.Router) {
				p.Use(s.requireAdminAPI)
				p.Get("/dashboard", s.handleDashboard)
				p.Get("/messages", s.handleMessageList)
				p.Get("/messages/{id}", s.handleMessageGet)
				p.Patch("/messages/{id}", s.handleMessageUpdate)
				p.Delete("/messages/{id}", s.handleMessageDelete)
			})
		})

		api.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "endpoint not found"})
		})
	})

	spa := spaFromDisk(s.webDir)
	admin := chi.Chain(s.browserKeyMiddleware, s.requireAdminPage).Handler(spa)
	r.Handle("/admin", admin)
	r.Handle("/admin/*", admin)
	r.Handle("/*", spa)

	return r
}
