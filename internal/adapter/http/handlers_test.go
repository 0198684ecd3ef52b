package adapthttp_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	adapthttp "conclave/internal/adapter/http"
	"conclave/internal/adapter/memory"
	"conclave/internal/app"
	"conclave/internal/domain"
	"conclave/internal/guard"
)

const (
	adminID       = "6f1c1b8e-4d7a-4c3e-9a55-0d2f3b1e7a10"
	adminEmail    = "admin@example.com"
	adminPassword = "correct horse battery"
)

// ---------------------------------------------------------------------------
// Test-server helper
// ---------------------------------------------------------------------------

type testEnv struct {
	ts  *httptest.Server
	db  *memory.DB
	reg *guard.Registry
}

func newTestEnv(t *testing.T, factory guard.VerifierFactory, opts adapthttp.Options) *testEnv {
	t.Helper()

	db := memory.New()
	if err := db.CreateAdmin(context.Background(), domain.AdminRecord{
		ID: adminID, Email: adminEmail, Name: "Ada Admin", Role: "admin", IsActive: true,
	}); err != nil {
		t.Fatal(err)
	}

	if factory == nil {
		dev, err := memory.NewDevAuth(memory.DevConfig{
			UserID:   adminID,
			Email:    adminEmail,
			Password: adminPassword,
		}, db)
		if err != nil {
			t.Fatal(err)
		}
		factory = func(key string) (domain.CredentialVerifier, error) {
			return dev.NewVerifier(key), nil
		}
	}

	reg := guard.NewRegistry(factory, db, guard.RegistryOptions{})
	t.Cleanup(func() { _ = reg.Close() })

	webDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(webDir, "index.html"), []byte("<html>app</html>"), 0o600); err != nil {
		t.Fatal(err)
	}
	opts.WebDir = webDir

	srv := adapthttp.New(reg,
		app.NewAdminService(db),
		app.NewMessageService(db),
		app.NewDashboardService(db),
		opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, db: db, reg: reg}
}

// client returns a browser-like client with its own cookie jar that does not
// follow redirects.
func (e *testEnv) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func do(t *testing.T, c *http.Client, method, u string, payload any) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, u, body)
	if err != nil {
		t.Fatal(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return m
}

func (e *testEnv) login(t *testing.T, c *http.Client) {
	t.Helper()
	resp := do(t, c, http.MethodPost, e.ts.URL+"/api/admin/login",
		map[string]any{"email": adminEmail, "password": adminPassword})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
}

func (e *testEnv) browserKey(t *testing.T, c *http.Client) string {
	t.Helper()
	u, err := url.Parse(e.ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	for _, ck := range c.Jar.Cookies(u) {
		if ck.Name == adapthttp.BrowserKeyCookie {
			return ck.Value
		}
	}
	return ""
}

func (e *testEnv) setBrowserKey(t *testing.T, c *http.Client, value string) {
	t.Helper()
	u, err := url.Parse(e.ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	c.Jar.SetCookies(u, []*http.Cookie{{Name: adapthttp.BrowserKeyCookie, Value: value, Path: "/"}})
}

// blockingVerifier never finishes restoring until released.
type blockingVerifier struct {
	release chan struct{}
	events  chan domain.SessionEvent
}

func (v *blockingVerifier) Authenticate(context.Context, string, string) (*domain.Session, error) {
	return nil, domain.InvalidCredentials("", nil)
}

func (v *blockingVerifier) PersistedSession(ctx context.Context) (*domain.Session, error) {
	select {
	case <-v.release:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (v *blockingVerifier) SignOut(context.Context) error      { return nil }
func (v *blockingVerifier) Events() <-chan domain.SessionEvent { return v.events }
func (v *blockingVerifier) Close() error                       { return nil }

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	e := newTestEnv(t, nil, adapthttp.Options{
		Checks: map[string]adapthttp.HealthCheck{
			"store": func(context.Context) error { return nil },
		},
	})

	resp := do(t, e.ts.Client(), http.MethodGet, e.ts.URL+"/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["ok"] != true {
		t.Fatalf("expected ok=true, got %v", body["ok"])
	}
}

func TestHealthEndpoint_FailingCheck(t *testing.T) {
	e := newTestEnv(t, nil, adapthttp.Options{
		Checks: map[string]adapthttp.HealthCheck{
			"store": func(context.Context) error { return io.ErrUnexpectedEOF },
		},
	})

	resp := do(t, e.ts.Client(), http.MethodGet, e.ts.URL+"/api/health", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestSession_Anonymous(t *testing.T) {
	e := newTestEnv(t, nil, adapthttp.Options{})
	c := e.client(t)

	resp := do(t, c, http.MethodGet, e.ts.URL+"/api/admin/session", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["isLoading"] != false || body["isAuthenticated"] != false || body["user"] != nil {
		t.Fatalf("unexpected session body: %v", body)
	}

	if len(resp.Cookies()) != 0 {
		t.Fatalf("anonymous session check must not set cookies, got %v", resp.Cookies())
	}
	if n := e.reg.Len(); n != 0 {
		t.Fatalf("expected no guards, got %d", n)
	}
}

func TestAnonymousRequestsCreateNoGuards(t *testing.T) {
	e := newTestEnv(t, nil, adapthttp.Options{})

	cookies := []string{
		"",
		"0b7d8a52-3c4e-4f1a-9d2b-6e5f4a3b2c1d",
		"0b7d8a52-3c4e-4f1a-9d2b-6e5f4a3b2c1d.c2lnbmF0dXJl",
		"not-a-key.c2lnbmF0dXJl",
	}
	paths := []string{"/api/admin/session", "/api/admin/dashboard", "/admin", "/admin/messages", "/admin/login"}
	for _, ck := range cookies {
		c := e.client(t)
		if ck != "" {
			e.setBrowserKey(t, c, ck)
		}
		for _, p := range paths {
			for i := 0; i < 3; i++ {
				do(t, c, http.MethodGet, e.ts.URL+p, nil)
			}
		}
	}

	if n := e.reg.Len(); n != 0 {
		t.Fatalf("expected no guards for unsigned browsers, got %d", n)
	}
}

func TestLogin_RotatesBrowserKey(t *testing.T) {
	e := newTestEnv(t, nil, adapthttp.Options{})

	// A key obtained by one browser and planted in another.
	planted := e.client(t)
	e.login(t, planted)
	fixed := e.browserKey(t, planted)
	if fixed == "" {
		t.Fatal("expected a browser key after login")
	}

	victim := e.client(t)
	e.setBrowserKey(t, victim, fixed)
	e.login(t, victim)

	issued := e.browserKey(t, victim)
	if issued == "" || issued == fixed {
		t.Fatalf("login must issue a new browser key, got %q", issued)
	}
	if resp := do(t, victim, http.MethodGet, e.ts.URL+"/api/admin/dashboard", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("victim dashboard: expected 200, got %d", resp.StatusCode)
	}
	if n := e.reg.Len(); n != 1 {
		t.Fatalf("expected the old guard to be dropped, got %d guards", n)
	}
	if resp := do(t, planted, http.MethodGet, e.ts.URL+"/api/admin/dashboard", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("old key dashboard: expected 401, got %d", resp.StatusCode)
	}
}

func TestLogout_RetiresBrowserKey(t *testing.T) {
	e := newTestEnv(t, nil, adapthttp.Options{})
	c := e.client(t)
	e.login(t, c)
	old := e.browserKey(t, c)

	if resp := do(t, c, http.MethodPost, e.ts.URL+"/api/admin/logout", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", resp.StatusCode)
	}
	if k := e.browserKey(t, c); k != "" {
		t.Fatalf("expected browser key cookie to be cleared, got %q", k)
	}
	if n := e.reg.Len(); n != 0 {
		t.Fatalf("expected no guards after logout, got %d", n)
	}

	replay := e.client(t)
	e.setBrowserKey(t, replay, old)
	if resp := do(t, replay, http.MethodGet, e.ts.URL+"/api/admin/dashboard", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replayed key: expected 401, got %d", resp.StatusCode)
	}
}

func TestLoginLogoutFlow(t *testing.T) {
	e := newTestEnv(t, nil, adapthttp.Options{})
	c := e.client(t)

	resp := do(t, c, http.MethodPost, e.ts.URL+"/api/admin/login", map[string]any{
		"email": adminEmail, "password": adminPassword, "next": "/admin/messages",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["isAuthenticated"] != true {
		t.Fatalf("expected authenticated, got %v", body)
	}
	if body["redirect"] != "/admin/messages" {
		t.Fatalf("expected redirect to /admin/messages, got %v", body["redirect"])
	}
	user, _ := body["user"].(map[string]any)
	if user["id"] != adminID || user["email"] != adminEmail {
		t.Fatalf("unexpected user: %v", user)
	}
	if e.db.LastLogin(adminID).IsZero() {
		t.Fatal("expected last login to be recorded")
	}
	var found bool
	for _, ck := range resp.Cookies() {
		if ck.Name == adapthttp.BrowserKeyCookie {
			found = true
			if !ck.HttpOnly {
				t.Fatal("browser key cookie must be HttpOnly")
			}
		}
	}
	if !found {
		t.Fatal("expected login to set the browser key cookie")
	}

	resp = do(t, c, http.MethodGet, e.ts.URL+"/api/admin/dashboard", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard: expected 200, got %d", resp.StatusCode)
	}

	resp = do(t, c, http.MethodPost, e.ts.URL+"/api/admin/logout", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", resp.StatusCode)
	}
	body = decodeBody(t, resp)
	if body["isAuthenticated"] != false {
		t.Fatalf("expected signed out, got %v", body)
	}

	resp = do(t, c, http.MethodGet, e.ts.URL+"/api/admin/dashboard", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dashboard after logout: expected 401, got %d", resp.StatusCode)
	}
}

func TestLogin_UnsafeNextFallsBackToAdminHome(t *testing.T) {
	e := newTestEnv(t, nil, adapthttp.Options{})
	c := e.client(t)

	resp := do(t, c, http.MethodPost, e.ts.URL+"/api/admin/login", map[string]any{
		"email": adminEmail, "password": adminPassword, "next": "//evil.example/admin",
	})
	body := decodeBody(t, resp)
	if body["redirect"] != "/admin" {
		t.Fatalf("expected redirect to /admin, got %v", body["redirect"])
	}
}

func TestLogin_Failures(t *testing.T) {
	tests := []struct {
		name       string
		deactivate bool
		payload    any
		wantStatus int
		wantError  string
	}{
		{
			name:       "wrong password",
			payload:    map[string]any{"email": adminEmail, "password": "nope"},
			wantStatus: http.StatusUnauthorized,
			wantError:  "Invalid login credentials",
		},
		{
			name:       "missing fields",
			payload:    map[string]any{"email": adminEmail},
			wantStatus: http.StatusUnauthorized,
			wantError:  "Email and password are required",
		},
		{
			name:       "not an active admin",
			deactivate: true,
			payload:    map[string]any{"email": adminEmail, "password": adminPassword},
			wantStatus: http.StatusForbidden,
			wantError:  domain.MsgAccessDenied,
		},
		{
			name:       "unknown field",
			payload:    map[string]any{"username": "ada"},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t, nil, adapthttp.Options{})
			if tt.deactivate {
				if err := e.db.SetAdminActive(adminID, false); err != nil {
					t.Fatal(err)
				}
			}
			c := e.client(t)

			resp := do(t, c, http.MethodPost, e.ts.URL+"/api/admin/login", tt.payload)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			body := decodeBody(t, resp)
			if tt.wantError != "" && body["error"] != tt.wantError {
				t.Fatalf("expected error %q, got %v", tt.wantError, body["error"])
			}

			resp = do(t, c, http.MethodGet, e.ts.URL+"/api/admin/session", nil)
			if decodeBody(t, resp)["isAuthenticated"] != false {
				t.Fatal("failed login must leave the browser signed out")
			}
			if n := e.reg.Len(); n != 0 {
				t.Fatalf("failed login must not keep a guard, got %d", n)
			}
		})
	}
}

func TestLogin_RateLimited(t *testing.T) {
	e := newTestEnv(t, nil, adapthttp.Options{LoginRatePerM: 2})
	c := e.client(t)

	payload := map[string]any{"email": adminEmail, "password": "nope"}
	for i := 0; i < 2; i++ {
		if resp := do(t, c, http.MethodPost, e.ts.URL+"/api/admin/login", payload); resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, resp.StatusCode)
		}
	}
	resp := do(t, c, http.MethodPost, e.ts.URL+"/api/admin/login", payload)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestLogin_RateLimitIgnoresForwardedFor(t *testing.T) {
	e := newTestEnv(t, nil, adapthttp.Options{LoginRatePerM: 2})
	c := e.client(t)

	attempt := func(i int) *http.Response {
		b, _ := json.Marshal(map[string]any{"email": adminEmail, "password": "nope"})
		req, err := http.NewRequest(http.MethodPost, e.ts.URL+"/api/admin/login", bytes.NewReader(b))
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		req.Header.Set("X-Real-IP", fmt.Sprintf("198.51.100.%d", i+1))
		resp, err := c.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	for i := 0; i < 2; i++ {
		if resp := attempt(i); resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, resp.StatusCode)
		}
	}
	if resp := attempt(2); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("spoofed forwarding headers must not reset the limit, got %d", resp.StatusCode)
	}
}

func TestLogin_RateLimitTrustsConfiguredProxy(t *testing.T) {
	e := newTestEnv(t, nil, adapthttp.Options{LoginRatePerM: 1, TrustProxyHeaders: true})
	c := e.client(t)

	for i, ip := range []string{"203.0.113.1", "203.0.113.2"} {
		b, _ := json.Marshal(map[string]any{"email": adminEmail, "password": "nope"})
		req, err := http.NewRequest(http.MethodPost, e.ts.URL+"/api/admin/login", bytes.NewReader(b))
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", ip)
		resp, err := c.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d from %s: expected 401, got %d", i, ip, resp.StatusCode)
		}
	}
}

func TestAdminAPI_RequiresAdmin(t *testing.T) {
	e := newTestEnv(t, nil, adapthttp.Options{})
	c := e.client(t)

	for _, p := range []string{"/api/admin/dashboard", "/api/admin/messages"} {
		resp := do(t, c, http.MethodGet, e.ts.URL+p, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", p, resp.StatusCode)
		}
	}
}

func TestAdminPages(t *testing.T) {
	e := newTestEnv(t, nil, adapthttp.Options{})
	c := e.client(t)

	resp := do(t, c, http.MethodGet, e.ts.URL+"/admin/messages", nil)
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", resp.StatusCode)
	}
	want := "/admin/login?next=" + url.QueryEscape("/admin/messages")
	if loc := resp.Header.Get("Location"); loc != want {
		t.Fatalf("expected Location %q, got %q", want, loc)
	}

	resp = do(t, c, http.MethodGet, e.ts.URL+"/admin/login", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login page: expected 200, got %d", resp.StatusCode)
	}

	e.login(t, c)

	resp = do(t, c, http.MethodGet, e.ts.URL+"/admin/messages", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after login, got %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), "app") {
		t.Fatalf("expected app shell, got %q", b)
	}

	resp = do(t, c, http.MethodGet, e.ts.URL+"/admin/login?next=%2Fadmin%2Fgallery", nil)
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/admin/gallery" {
		t.Fatalf("expected redirect to /admin/gallery, got %d %q", resp.StatusCode, resp.Header.Get("Location"))
	}
}

func TestRestoringSessionShowsLoading(t *testing.T) {
	dev, err := memory.NewDevAuth(memory.DevConfig{
		UserID:   adminID,
		Email:    adminEmail,
		Password: adminPassword,
	}, memory.New())
	if err != nil {
		t.Fatal(err)
	}
	v := &blockingVerifier{release: make(chan struct{}), events: make(chan domain.SessionEvent)}
	var built atomic.Int32
	factory := func(key string) (domain.CredentialVerifier, error) {
		if built.Add(1) == 1 {
			return dev.NewVerifier(key), nil
		}
		return v, nil
	}
	e := newTestEnv(t, factory, adapthttp.Options{SettleWait: 20 * time.Millisecond})
	t.Cleanup(func() { close(v.release) })
	c := e.client(t)
	e.login(t, c)

	// The idle guard is dropped; the next request restores from scratch.
	if n := e.reg.Sweep(time.Now().Add(time.Hour)); n != 1 {
		t.Fatalf("expected the guard to be swept, got %d", n)
	}

	resp := do(t, c, http.MethodGet, e.ts.URL+"/admin", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected loading page, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Location") != "" {
		t.Fatal("must not redirect while the session is unknown")
	}
	b, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(b), `http-equiv="refresh"`) || strings.Contains(string(b), "app") {
		t.Fatalf("expected loading page, got %q", b)
	}

	resp = do(t, c, http.MethodGet, e.ts.URL+"/api/admin/messages", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	resp = do(t, c, http.MethodGet, e.ts.URL+"/api/admin/session", nil)
	if decodeBody(t, resp)["isLoading"] != true {
		t.Fatal("expected isLoading=true")
	}
}

func TestContactAndMessages(t *testing.T) {
	e := newTestEnv(t, nil, adapthttp.Options{})
	anon := e.ts.Client()

	resp := do(t, anon, http.MethodPost, e.ts.URL+"/api/contact", map[string]any{
		"name": "Grace", "email": "grace@example.com", "subject": "Tickets", "message": "Are there student tickets?",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit: expected 201, got %d", resp.StatusCode)
	}
	id, _ := decodeBody(t, resp)["id"].(string)
	if id == "" {
		t.Fatal("expected message id")
	}

	resp = do(t, anon, http.MethodPost, e.ts.URL+"/api/contact", map[string]any{
		"name": "G", "email": "not-an-email", "message": "short",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid submit: expected 400, got %d", resp.StatusCode)
	}

	c := e.client(t)
	e.login(t, c)

	resp = do(t, c, http.MethodGet, e.ts.URL+"/api/admin/messages?status=new", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	list, _ := decodeBody(t, resp)["messages"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected 1 new message, got %d", len(list))
	}

	resp = do(t, c, http.MethodGet, e.ts.URL+"/api/admin/messages/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	if st := decodeBody(t, resp)["status"]; st != string(domain.StatusRead) {
		t.Fatalf("expected opened message to be read, got %v", st)
	}

	tests := []struct {
		name       string
		path       string
		payload    any
		wantStatus int
	}{
		{"replied", "/api/admin/messages/" + id, map[string]any{"status": "replied"}, http.StatusOK},
		{"unknown status", "/api/admin/messages/" + id, map[string]any{"status": "archived"}, http.StatusBadRequest},
		{"bad id", "/api/admin/messages/nope", map[string]any{"status": "read"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, c, http.MethodPatch, e.ts.URL+tt.path, tt.payload)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}

	resp = do(t, c, http.MethodGet, e.ts.URL+"/api/admin/dashboard", nil)
	dash, _ := decodeBody(t, resp)["dashboard"].(map[string]any)
	counts, _ := dash["messages"].(map[string]any)
	if counts["replied"] != float64(1) {
		t.Fatalf("expected 1 replied message, got %v", counts)
	}

	resp = do(t, c, http.MethodDelete, e.ts.URL+"/api/admin/messages/"+id, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}
	resp = do(t, c, http.MethodGet, e.ts.URL+"/api/admin/messages/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted: expected 404, got %d", resp.StatusCode)
	}
}

func TestUnknownAPIEndpoint(t *testing.T) {
	e := newTestEnv(t, nil, adapthttp.Options{})

	resp := do(t, e.ts.Client(), http.MethodGet, e.ts.URL+"/api/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		t.Fatalf("expected JSON error, got %q", resp.Header.Get("Content-Type"))
	}
}
