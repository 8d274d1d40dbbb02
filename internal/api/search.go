package api

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/satchelhq/satchel/internal/orchestrator"
	"github.com/satchelhq/satchel/internal/portal"
)

// RoleHeader carries the caller's role, set by the identity proxy in
// front of this service. Absent or empty means guest.
const RoleHeader = "X-Satchel-Role"

// roleFor resolves the caller's role from the request. Unknown values
// are an error rather than a silent downgrade so a misconfigured proxy
// is visible.
func roleFor(r *http.Request) (portal.Role, error) {
	h := r.Header.Get(RoleHeader)
	if h == "" {
		return portal.RoleGuest, nil
	}
	return portal.ParseRole(h)
}

// answerMarkdown renders instant-answer text for the widget. GFM
// tables and strikethrough match what the model tends to emit.
var answerMarkdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
)

// searchResponse is the wire shape of a search: the pipeline response
// plus the answer rendered to HTML for direct widget injection.
type searchResponse struct {
	*portal.Response
	AnswerHTML string `json:"answer_html,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.errorResponse(w, http.StatusBadRequest, "q parameter is required")
		return
	}

	role, err := roleFor(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.searcher.Search(r.Context(), query, role)
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidRole) {
			s.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("search failed", "query", query, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "search failed")
		return
	}

	out := searchResponse{Response: resp}
	if resp.Answer != nil {
		out.AnswerHTML = renderAnswer(resp.Answer.Text)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, out, s.logger)
}

// renderAnswer converts answer markdown to HTML. On renderer failure
// the raw text still reaches the client via the JSON answer field, so
// an empty string here is acceptable.
func renderAnswer(text string) string {
	var buf bytes.Buffer
	if err := answerMarkdown.Convert([]byte(text), &buf); err != nil {
		return ""
	}
	return buf.String()
}

func (s *Server) handleLinksList(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "persistence not configured")
		return
	}
	role, err := roleFor(r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	links, err := s.store.LinksForRole(r.Context(), role)
	if err != nil {
		s.logger.Error("list links failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load links")
		return
	}
	if links == nil {
		links = []portal.QuickLink{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"links": links}, s.logger)
}
