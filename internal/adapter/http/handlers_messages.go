package adapthttp

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"conclave/internal/app"
	"conclave/internal/domain"
)

func (s *Server) handleContactSubmit(w http.ResponseWriter, r *http.Request) {
	var form domain.ContactForm
	if err := parseJSON(r, &form); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	m, err := s.messages.Submit(r.Context(), form)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": m.ID})
}

func (s *Server) handleMessageList(w http.ResponseWriter, r *http.Request) {
	status := domain.MessageStatus(r.URL.Query().Get("status"))
	limit := intQuery(r, "limit", app.DefaultListLimit)

	list, err := s.messages.List(r.Context(), status, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []domain.ContactMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": list})
}

func (s *Server) handleMessageGet(w http.ResponseWriter, r *http.Request) {
	id, err := messageID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	m, err := s.messages.Open(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleMessageUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := messageID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req struct {
		Status domain.MessageStatus `json:"status"`
	}
	if err := parseJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.messages.UpdateStatus(r.Context(), id, req.Status); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "message status updated",
		"message_id", id, "status", req.Status, "admin_id", adminFromContext(r.Context()).ID)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": req.Status})
}

func (s *Server) handleMessageDelete(w http.ResponseWriter, r *http.Request) {
	id, err := messageID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.messages.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.InfoContext(r.Context(), "message deleted",
		"message_id", id, "admin_id", adminFromContext(r.Context()).ID)
	w.WriteHeader(http.StatusNoContent)
}

func messageID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid message id %q: %w", raw, domain.ErrValidation)
	}
	return id, nil
}
