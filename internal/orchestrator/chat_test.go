package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/satchelhq/satchel/internal/events"
	"github.com/satchelhq/satchel/internal/llm"
	"github.com/satchelhq/satchel/internal/portal"
)

type scriptedChat struct {
	reply   string
	err     error
	lastReq llm.Request
}

func (c *scriptedChat) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	c.lastReq = req
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Response{Text: c.reply, InputTokens: 10, OutputTokens: 20}, nil
}

func (c *scriptedChat) CompleteStream(ctx context.Context, req llm.Request, fn llm.StreamFunc) (*llm.Response, error) {
	resp, err := c.Complete(ctx, req)
	if err == nil && fn != nil {
		fn(resp.Text)
	}
	return resp, err
}

func (c *scriptedChat) Ping(ctx context.Context) error { return nil }

func TestChatStaffOnly(t *testing.T) {
	m := NewChatManager(&scriptedChat{reply: "hello"}, nil, nil)

	for _, role := range []portal.Role{portal.RoleGuest, portal.RoleStudent} {
		if _, err := m.Open(role); !errors.Is(err, ErrChatForbidden) {
			t.Errorf("Open(%s) err = %v, want ErrChatForbidden", role, err)
		}
	}

	if _, err := m.Open(portal.RoleStaff); err != nil {
		t.Errorf("Open(staff) err = %v", err)
	}
}

func TestChatTranscriptGrows(t *testing.T) {
	client := &scriptedChat{reply: "answer one"}
	m := NewChatManager(client, events.New(), nil)

	s, err := m.Open(portal.RoleStaff)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	reply, err := s.Send(context.Background(), "question one", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply != "answer one" {
		t.Errorf("reply = %q", reply)
	}

	client.reply = "answer two"
	if _, err := s.Send(context.Background(), "question two", nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Each turn forwards the full transcript so far.
	msgs := client.lastReq.Messages
	want := []llm.Message{
		{Role: "user", Content: "question one"},
		{Role: "assistant", Content: "answer one"},
		{Role: "user", Content: "question two"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("forwarded %d messages, want %d", len(msgs), len(want))
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, msgs[i], want[i])
		}
	}

	transcript := s.Transcript()
	if len(transcript) != 4 {
		t.Errorf("transcript length = %d, want 4", len(transcript))
	}
}

func TestChatErrorKeepsQuestion(t *testing.T) {
	client := &scriptedChat{err: errors.New("overloaded")}
	m := NewChatManager(client, nil, nil)

	s, _ := m.Open(portal.RoleStaff)
	if _, err := s.Send(context.Background(), "question", nil); err == nil {
		t.Fatal("expected error")
	}

	transcript := s.Transcript()
	if len(transcript) != 1 || transcript[0].Content != "question" {
		t.Errorf("transcript after failure = %+v, want the user turn retained", transcript)
	}
}

func TestChatSessionLookup(t *testing.T) {
	m := NewChatManager(&scriptedChat{reply: "hi"}, nil, nil)
	s, _ := m.Open(portal.RoleStaff)

	got, err := m.Session(s.ID)
	if err != nil || got.ID != s.ID {
		t.Errorf("Session(%s) = %v, %v", s.ID, got, err)
	}

	m.Close(s.ID)
	if _, err := m.Session(s.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}
