package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/satchelhq/satchel/internal/events"
	"github.com/satchelhq/satchel/internal/llm"
	"github.com/satchelhq/satchel/internal/portal"
)

// ErrChatForbidden is returned when a non-staff role tries to open a
// chat session.
var ErrChatForbidden = errors.New("chat is a staff-only capability")

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("chat session not found")

const chatSystemPrompt = "You are a research assistant for school staff. Answer " +
	"questions directly and cite uncertainty where it exists. Keep answers focused."

const chatMaxTokens = 1024

// ChatManager owns staff chat sessions. Chat bypasses the search
// pipeline entirely: each turn forwards the full transcript to the
// model.
type ChatManager struct {
	client llm.Client
	bus    *events.Bus
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*ChatSession
}

// ChatSession is one append-only staff conversation.
type ChatSession struct {
	ID        string
	CreatedAt time.Time

	mgr *ChatManager

	mu         sync.Mutex
	transcript []llm.Message
}

// NewChatManager creates a manager backed by the given model client.
func NewChatManager(client llm.Client, bus *events.Bus, logger *slog.Logger) *ChatManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatManager{
		client:   client,
		bus:      bus,
		logger:   logger.With("component", "chat"),
		sessions: make(map[string]*ChatSession),
	}
}

// Open creates a session for the given role. Only staff may chat.
func (m *ChatManager) Open(role portal.Role) (*ChatSession, error) {
	if role != portal.RoleStaff {
		return nil, fmt.Errorf("%w (role %q)", ErrChatForbidden, role)
	}
	if m.client == nil {
		return nil, errors.New("chat unavailable: no model configured")
	}

	s := &ChatSession{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		mgr:       m,
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.logger.Debug("chat session opened", "session_id", s.ID)
	return s, nil
}

// Session looks up an open session by id.
func (m *ChatManager) Session(id string) (*ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Close removes a session. Its transcript is gone; chat history is
// deliberately not persisted.
func (m *ChatManager) Close(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Send appends a user turn, forwards the full transcript to the
// model, appends the reply, and returns it. stream may be nil for
// non-streaming callers.
func (s *ChatSession) Send(ctx context.Context, text string, stream llm.StreamFunc) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transcript = append(s.transcript, llm.Message{Role: "user", Content: text})

	req := llm.Request{
		System:    chatSystemPrompt,
		Messages:  append([]llm.Message(nil), s.transcript...),
		MaxTokens: chatMaxTokens,
	}

	var resp *llm.Response
	var err error
	if stream != nil {
		resp, err = s.mgr.client.CompleteStream(ctx, req, stream)
	} else {
		resp, err = s.mgr.client.Complete(ctx, req)
	}
	if err != nil {
		// The failed turn stays in the transcript so a retry carries
		// the user's question.
		return "", fmt.Errorf("chat completion: %w", err)
	}

	s.transcript = append(s.transcript, llm.Message{Role: "assistant", Content: resp.Text})

	s.mgr.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceChat,
		Kind:      events.KindChatTurn,
		Data: map[string]any{
			"session_id": s.ID,
			"turns":      len(s.transcript),
			"tokens_in":  resp.InputTokens,
			"tokens_out": resp.OutputTokens,
		},
	})

	return resp.Text, nil
}

// Transcript returns a copy of the conversation so far.
func (s *ChatSession) Transcript() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.transcript...)
}
