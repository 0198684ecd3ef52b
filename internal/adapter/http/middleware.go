package adapthttp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"conclave/internal/domain"
	"conclave/internal/guard"
	"conclave/internal/route"
)

type contextKey string

const (
	guardContextKey      contextKey = "guard"
	browserKeyContextKey contextKey = "browser_key"
	adminContextKey      contextKey = "admin"
)

// BrowserKeyCookie carries the signed key of the browser's session guard.
const BrowserKeyCookie = "conclave_bk"

const browserKeyMaxAge = 30 * 24 * 60 * 60

// browserKeyMiddleware resolves the caller's session guard. Only keys this
// server signed reach the registry; anything else is treated as a browser
// without a session. Keys are minted at login, never here.
func (s *Server) browserKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(BrowserKeyCookie)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		key, ok := s.keys.verify(c.Value)
		if !ok {
			s.clearBrowserKey(w)
			next.ServeHTTP(w, r)
			return
		}

		g, err := s.guards.Get(key)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "session guard unavailable", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": domain.MsgUnexpected})
			return
		}
		ctx := context.WithValue(r.Context(), guardContextKey, g)
		ctx = context.WithValue(ctx, browserKeyContextKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) setBrowserKey(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     BrowserKeyCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   browserKeyMaxAge,
	})
}

func (s *Server) clearBrowserKey(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     BrowserKeyCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// guardFromContext returns nil for browsers without a signed key.
func guardFromContext(ctx context.Context) *guard.Guard {
	g, _ := ctx.Value(guardContextKey).(*guard.Guard)
	return g
}

func browserKeyFromContext(ctx context.Context) string {
	k, _ := ctx.Value(browserKeyContextKey).(string)
	return k
}

func adminFromContext(ctx context.Context) *domain.AdminIdentity {
	a, _ := ctx.Value(adminContextKey).(*domain.AdminIdentity)
	return a
}

// settle waits up to settleWait for the guard to leave Unknown and returns
// whatever state it holds then. A missing guard is Unauthenticated.
func (s *Server) settle(ctx context.Context, g *guard.Guard) domain.AuthState {
	if g == nil {
		return domain.UnauthenticatedState()
	}
	ctx, cancel := context.WithTimeout(ctx, s.settleWait)
	defer cancel()
	st, err := g.Settled(ctx)
	if err != nil {
		return g.State()
	}
	return st
}

// requireAdminAPI admits only requests whose guard holds an authorized admin.
func (s *Server) requireAdminAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := s.settle(r.Context(), guardFromContext(r.Context()))
		switch route.Decide(st) {
		case route.Render:
			ctx := context.WithValue(r.Context(), adminContextKey, st.User)
			next.ServeHTTP(w, r.WithContext(ctx))
		case route.Loading:
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error":     "session is still being restored",
				"isLoading": true,
			})
		default:
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "authentication required"})
		}
	})
}

// requireAdminPage protects the admin views of the single page app. The
// login view is left open but sends an authenticated admin onwards.
func (s *Server) requireAdminPage(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g := guardFromContext(r.Context())
		if !route.IsAdminView(r.URL.Path) {
			if g != nil && g.State().IsAuthenticated() {
				http.Redirect(w, r, route.SafeNext(r.URL.Query().Get("next")), http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		out := route.Protect(s.settle(r.Context(), g), route.View(r.URL.Path))
		switch out.Decision {
		case route.Render:
			next.ServeHTTP(w, r)
		case route.Redirect:
			http.Redirect(w, r, out.Location, http.StatusSeeOther)
		default:
			w.Header().Set("Retry-After", "1")
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = fmt.Fprint(w, loadingPage)
		}
	})
}

const loadingPage = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="1">
<title>Loading</title>
</head>
<body>
<p>Checking your session&hellip;</p>
</body>
</html>
`

// loggingMiddleware writes one structured line per request.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter throttles requests per client IP with a token bucket.
type rateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    perMinute,
		ttl:      3 * time.Minute,
		now:      time.Now,
	}
}

func (rl *rateLimiter) get(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) > rl.ttl {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lastSweep = now
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		lim := rl.get(ip)
		if !lim.Allow() {
			wait := time.Duration(float64(time.Second) / float64(rl.limit))
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "too many login attempts, try again later"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
