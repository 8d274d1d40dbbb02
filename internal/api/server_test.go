package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/satchelhq/satchel/internal/cache"
	"github.com/satchelhq/satchel/internal/llm"
	"github.com/satchelhq/satchel/internal/orchestrator"
	"github.com/satchelhq/satchel/internal/portal"
	"github.com/satchelhq/satchel/internal/provider"
	"github.com/satchelhq/satchel/internal/safety"
	"github.com/satchelhq/satchel/internal/store"
)

type stubProvider struct{ results []portal.RawResult }

func (p *stubProvider) Name() string    { return "stub" }
func (p *stubProvider) Available() bool { return true }

func (p *stubProvider) Search(ctx context.Context, query string, opts provider.Options) ([]portal.RawResult, error) {
	return p.results, nil
}

type stubLLM struct{ reply string }

func (c *stubLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{Text: c.reply}, nil
}

func (c *stubLLM) CompleteStream(ctx context.Context, req llm.Request, fn llm.StreamFunc) (*llm.Response, error) {
	if fn != nil {
		fn(c.reply)
	}
	return &llm.Response{Text: c.reply}, nil
}

func (c *stubLLM) Ping(ctx context.Context) error { return nil }

const adminToken = "test-admin-token"

func testServer(t *testing.T) *Server {
	t.Helper()

	raw := []portal.RawResult{
		{Title: "Photosynthesis", URL: "https://en.wikipedia.org/wiki/Photosynthesis", Snippet: "How plants make food.", Domain: "en.wikipedia.org"},
		{Title: "Plant biology", URL: "https://www.khanacademy.org/biology", Snippet: "Cells and chloroplasts.", Domain: "www.khanacademy.org"},
	}
	chain := provider.NewChain(nil, &stubProvider{results: raw})
	filter := safety.NewFilter(nil, nil)
	searcher := orchestrator.NewSearcher(chain, filter, cache.New[[]portal.Result](10), nil, orchestrator.Options{})

	st, err := store.Open(filepath.Join(t.TempDir(), "api-test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	hash, err := HashToken(adminToken)
	if err != nil {
		t.Fatalf("hash token: %v", err)
	}

	srv := NewServer("", 0, searcher, nil)
	srv.SetStore(st)
	srv.SetAdminAuth(NewAdminAuth(hash))
	srv.SetChatManager(orchestrator.NewChatManager(&stubLLM{reply: "a detailed staff answer"}, nil, nil))
	return srv
}

func doJSON(t *testing.T, handler http.Handler, method, path, role, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if role != "" {
		req.Header.Set(RoleHeader, role)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSearchEndpoint(t *testing.T) {
	h := testServer(t).Handler()

	rec := doJSON(t, h, "GET", "/api/search?q=photosynthesis", "student", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Query   string          `json:"query"`
		Results []portal.Result `json:"results"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Query != "photosynthesis" || len(resp.Results) != 2 {
		t.Errorf("response = %+v", resp)
	}
}

func TestSearchEndpointValidation(t *testing.T) {
	h := testServer(t).Handler()

	if rec := doJSON(t, h, "GET", "/api/search", "student", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing q: status = %d, want 400", rec.Code)
	}
	if rec := doJSON(t, h, "GET", "/api/search?q=plants", "superuser", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad role: status = %d, want 400", rec.Code)
	}
	// No role header defaults to guest.
	if rec := doJSON(t, h, "GET", "/api/search?q=plants", "", "", nil); rec.Code != http.StatusOK {
		t.Errorf("guest default: status = %d, want 200", rec.Code)
	}
}

func TestRulesEndpointAuth(t *testing.T) {
	h := testServer(t).Handler()

	rule := portal.Rule{Type: portal.RuleDomain, Action: portal.ActionBlock, Value: "badsite.example"}

	if rec := doJSON(t, h, "POST", "/api/rules", "staff", "", rule); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rec.Code)
	}
	if rec := doJSON(t, h, "POST", "/api/rules", "staff", "wrong-token", rule); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}

	rec := doJSON(t, h, "POST", "/api/rules", "staff", adminToken, rule)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", rec.Code, rec.Body.String())
	}

	var created portal.Rule
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || !created.Active {
		t.Errorf("created rule = %+v", created)
	}

	rec = doJSON(t, h, "GET", "/api/rules", "staff", adminToken, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "badsite.example") {
		t.Errorf("list: status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, "POST", "/api/rules/"+created.ID+"/active", "staff", adminToken, map[string]bool{"active": false})
	if rec.Code != http.StatusOK {
		t.Errorf("toggle: status = %d", rec.Code)
	}

	rec = doJSON(t, h, "DELETE", "/api/rules/"+created.ID, "staff", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("delete: status = %d", rec.Code)
	}
	rec = doJSON(t, h, "DELETE", "/api/rules/"+created.ID, "staff", adminToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete missing: status = %d, want 404", rec.Code)
	}
}

func TestLinksEndpoint(t *testing.T) {
	h := testServer(t).Handler()

	link := portal.QuickLink{Title: "Gradebook", URL: "https://grades.example.edu", MinRole: portal.RoleStaff}
	rec := doJSON(t, h, "POST", "/api/links", "staff", adminToken, link)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Role-visible filtering: the staff-only link is hidden from guests.
	rec = doJSON(t, h, "GET", "/api/links", "guest", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("guest list: status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "Gradebook") {
		t.Error("staff link visible to guest")
	}

	rec = doJSON(t, h, "GET", "/api/links", "staff", "", nil)
	if !strings.Contains(rec.Body.String(), "Gradebook") {
		t.Error("staff link missing for staff")
	}
}

func TestHistoryStaffOnly(t *testing.T) {
	h := testServer(t).Handler()

	if rec := doJSON(t, h, "GET", "/api/history", "student", "", nil); rec.Code != http.StatusForbidden {
		t.Errorf("student history: status = %d, want 403", rec.Code)
	}
	if rec := doJSON(t, h, "GET", "/api/history", "staff", "", nil); rec.Code != http.StatusOK {
		t.Errorf("staff history: status = %d, want 200", rec.Code)
	}
	if rec := doJSON(t, h, "GET", "/api/reviews", "guest", "", nil); rec.Code != http.StatusForbidden {
		t.Errorf("guest reviews: status = %d, want 403", rec.Code)
	}
}

func TestChatEndpointRoleGate(t *testing.T) {
	srv := httptest.NewServer(testServer(t).Handler())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat"

	t.Run("student rejected", func(t *testing.T) {
		header := http.Header{}
		header.Set(RoleHeader, "student")
		_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
		if err == nil {
			t.Fatal("expected dial failure for student")
		}
		if resp == nil || resp.StatusCode != http.StatusForbidden {
			t.Errorf("status = %v, want 403", resp)
		}
	})

	t.Run("staff chats", func(t *testing.T) {
		header := http.Header{}
		header.Set(RoleHeader, "staff")
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		defer conn.Close()

		// Session greeting frame.
		var greeting chatOutbound
		if err := conn.ReadJSON(&greeting); err != nil {
			t.Fatalf("read greeting: %v", err)
		}
		if greeting.SessionID == "" {
			t.Error("greeting missing session id")
		}

		if err := conn.WriteJSON(chatInbound{Text: "hello"}); err != nil {
			t.Fatalf("write: %v", err)
		}

		// Streamed token, then the final turn.
		sawTurn := false
		for i := 0; i < 4 && !sawTurn; i++ {
			var frame chatOutbound
			if err := conn.ReadJSON(&frame); err != nil {
				t.Fatalf("read frame: %v", err)
			}
			if frame.Type == "turn" {
				sawTurn = true
				if frame.Text != "a detailed staff answer" {
					t.Errorf("turn text = %q", frame.Text)
				}
			}
		}
		if !sawTurn {
			t.Error("never saw a turn frame")
		}
	})
}

func TestHealthAndVersion(t *testing.T) {
	h := testServer(t).Handler()

	if rec := doJSON(t, h, "GET", "/healthz", "", "", nil); rec.Code != http.StatusOK {
		t.Errorf("healthz: status = %d", rec.Code)
	}
	rec := doJSON(t, h, "GET", "/api/version", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("version: status = %d", rec.Code)
	}
}

func TestRenderAnswer(t *testing.T) {
	html := renderAnswer("Plants use **chlorophyll**.")
	if !strings.Contains(html, "<strong>chlorophyll</strong>") {
		t.Errorf("html = %q", html)
	}
}

func TestReviewResolveEndpoint(t *testing.T) {
	srv := testServer(t)
	h := srv.Handler()

	if err := srv.store.AddReview(context.Background(), store.ReviewEntry{
		Query: "sketchy", Role: portal.RoleStudent, Reason: "test",
		Trigger: portal.TriggerQuestionable, Score: 50,
	}); err != nil {
		t.Fatalf("seed review: %v", err)
	}

	rec := doJSON(t, h, "GET", "/api/reviews", "staff", "", nil)
	var listed struct {
		Reviews []store.ReviewEntry `json:"reviews"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed.Reviews) != 1 {
		t.Fatalf("got %d reviews, want 1", len(listed.Reviews))
	}

	path := fmt.Sprintf("/api/reviews/%s/resolve", listed.Reviews[0].ID)
	if rec := doJSON(t, h, "POST", path, "staff", adminToken, nil); rec.Code != http.StatusOK {
		t.Errorf("resolve: status = %d", rec.Code)
	}

	rec = doJSON(t, h, "GET", "/api/reviews", "staff", "", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed.Reviews) != 0 {
		t.Errorf("resolved review still listed")
	}
}
