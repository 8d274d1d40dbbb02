// Package events provides a publish/subscribe bus for pipeline
// telemetry. Events flow from the search pipeline to subscribers (the
// history recorder, the moderation review queue, the optional district
// MQTT bridge). The bus is nil-safe: calling Publish on a nil *Bus is
// a no-op, so components do not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceSearch identifies events from the search orchestrator.
	SourceSearch = "search"
	// SourceProvider identifies events from the provider chain.
	SourceProvider = "provider"
	// SourceSafety identifies events from the safety filter and rater.
	SourceSafety = "safety"
	// SourceChat identifies events from staff chat sessions.
	SourceChat = "chat"
)

// Kind constants describe the type of event within a source.
const (
	// KindSearchComplete signals a finished search pipeline run.
	// Data: query, role, results, fallback, answered, trigger,
	// score, provider, duration_ms.
	KindSearchComplete = "search_complete"
	// KindProviderFailed signals one provider attempt that did not
	// produce results. Data: provider, reason.
	KindProviderFailed = "provider_failed"
	// KindResultFlagged signals a flag-rule match kept a result but
	// marked it for review. Data: query, role, url, domain, rule_id.
	KindResultFlagged = "result_flagged"
	// KindRated signals a content rating outcome.
	// Data: query, role, score, trigger, findings.
	KindRated = "rated"
	// KindChatTurn signals one completed staff chat exchange.
	// Data: session_id, turns, tokens_in, tokens_out.
	KindChatTurn = "chat_turn"
)

// Event is a single telemetry event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive
// events on buffered channels; slow subscribers miss events rather
// than blocking the search pipeline.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so that
	// Unsubscribe can accept <-chan Event (the caller's view).
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full — drop rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// the telemetry consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
