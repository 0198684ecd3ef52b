// Package adapthttp implements the HTTP adapter for the application.
package adapthttp

import (
	"context"
	"net/http"

	"conclave/internal/domain"
	"conclave/internal/route"
)

type sessionResponse struct {
	IsLoading       bool                  `json:"isLoading"`
	IsAuthenticated bool                  `json:"isAuthenticated"`
	User            *domain.AdminIdentity `json:"user"`
	Redirect        string                `json:"redirect,omitempty"`
}

func sessionPayload(st domain.AuthState) sessionResponse {
	resp := sessionResponse{
		IsLoading:       st.IsLoading(),
		IsAuthenticated: st.IsAuthenticated(),
	}
	if resp.IsAuthenticated {
		resp.User = st.User
	}
	return resp
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Next     string `json:"next"`
	}
	if err := parseJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	// Every login gets a fresh browser key so a key planted before sign-in
	// never ends up holding the admin's session.
	key, value := s.keys.mint()
	g, err := s.guards.Get(key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := g.Login(r.Context(), req.Email, req.Password); err != nil {
		s.guards.Forget(key)
		s.logger.InfoContext(r.Context(), "admin login failed", "error", err)
		s.fail(w, r, err)
		return
	}
	s.setBrowserKey(w, value)
	s.retire(r.Context())

	st := g.State()
	if st.IsAuthenticated() {
		if err := s.admins.RecordLogin(r.Context(), st.User.ID); err != nil {
			s.logger.WarnContext(r.Context(), "record admin login", "admin_id", st.User.ID, "error", err)
		}
		s.logger.InfoContext(r.Context(), "admin logged in", "admin_id", st.User.ID)
	}

	resp := sessionPayload(st)
	resp.Redirect = route.SafeNext(req.Next)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.retire(r.Context())
	s.clearBrowserKey(w)
	resp := sessionPayload(domain.UnauthenticatedState())
	resp.Redirect = route.LoginPath
	writeJSON(w, http.StatusOK, resp)
}

// retire signs out the guard the request arrived with and drops its key.
func (s *Server) retire(ctx context.Context) {
	g := guardFromContext(ctx)
	if g == nil {
		return
	}
	g.Logout(ctx)
	s.guards.Forget(browserKeyFromContext(ctx))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	st := s.settle(r.Context(), guardFromContext(r.Context()))
	writeJSON(w, http.StatusOK, sessionPayload(st))
}
