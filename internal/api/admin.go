package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/satchelhq/satchel/internal/portal"
)

func (s *Server) handleRulesList(w http.ResponseWriter, r *http.Request) {
	rules, err := s.store.Rules(r.Context())
	if err != nil {
		s.logger.Error("list rules failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load rules")
		return
	}
	if rules == nil {
		rules = []portal.Rule{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"rules": rules}, s.logger)
}

func (s *Server) handleRuleCreate(w http.ResponseWriter, r *http.Request) {
	var rule portal.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := s.store.CreateRule(r.Context(), rule)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, created, s.logger)
}

func (s *Server) handleRuleUpdate(w http.ResponseWriter, r *http.Request) {
	var rule portal.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rule.ID = r.PathValue("id")

	if err := s.store.UpdateRule(r.Context(), rule); err != nil {
		s.storeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "updated"}, s.logger)
}

func (s *Server) handleRuleToggle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.store.SetRuleActive(r.Context(), r.PathValue("id"), body.Active); err != nil {
		s.storeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"status": "updated", "active": body.Active}, s.logger)
}

func (s *Server) handleRuleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRule(r.Context(), r.PathValue("id")); err != nil {
		s.storeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "deleted"}, s.logger)
}

func (s *Server) handleLinkCreate(w http.ResponseWriter, r *http.Request) {
	var link portal.QuickLink
	if err := json.NewDecoder(r.Body).Decode(&link); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	created, err := s.store.CreateLink(r.Context(), link)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, created, s.logger)
}

func (s *Server) handleLinkUpdate(w http.ResponseWriter, r *http.Request) {
	var link portal.QuickLink
	if err := json.NewDecoder(r.Body).Decode(&link); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	link.ID = r.PathValue("id")

	if err := s.store.UpdateLink(r.Context(), link); err != nil {
		s.storeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "updated"}, s.logger)
}

func (s *Server) handleLinkDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteLink(r.Context(), r.PathValue("id")); err != nil {
		s.storeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "deleted"}, s.logger)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}
	role, err := roleFor(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if role != portal.RoleStaff {
		s.errorResponse(w, http.StatusForbidden, "history is staff-only")
		return
	}

	records, err := s.store.RecentHistory(r.Context(), queryLimit(r))
	if err != nil {
		s.logger.Error("list history failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"history": records}, s.logger)
}

func (s *Server) handleReviews(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}
	role, err := roleFor(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if role != portal.RoleStaff {
		s.errorResponse(w, http.StatusForbidden, "reviews are staff-only")
		return
	}

	entries, err := s.store.OpenReviews(r.Context(), queryLimit(r))
	if err != nil {
		s.logger.Error("list reviews failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load reviews")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"reviews": entries}, s.logger)
}

func (s *Server) handleReviewResolve(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ResolveReview(r.Context(), r.PathValue("id")); err != nil {
		s.storeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "resolved"}, s.logger)
}

// storeError maps store failures onto status codes: not-found is the
// caller's problem, anything else is ours.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	if strings.Contains(err.Error(), "not found") {
		s.errorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Error("store operation failed", "error", err)
	s.errorResponse(w, http.StatusInternalServerError, "storage failure")
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return 0 // store default
	}
	return n
}
