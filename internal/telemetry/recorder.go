// Package telemetry turns pipeline events into durable records: the
// search history trail, the moderation review queue, and (optionally)
// a district MQTT feed. Everything here is best-effort — a failed
// write is logged and dropped, never surfaced to the search path.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/satchelhq/satchel/internal/events"
	"github.com/satchelhq/satchel/internal/portal"
	"github.com/satchelhq/satchel/internal/store"
)

// Sink is the subset of the store the recorder writes to.
type Sink interface {
	AddHistory(ctx context.Context, rec store.HistoryRecord) error
	AddReview(ctx context.Context, e store.ReviewEntry) error
}

// Recorder subscribes to the event bus and persists history and
// review entries.
type Recorder struct {
	sink   Sink
	bus    *events.Bus
	logger *slog.Logger

	ch   <-chan events.Event
	done chan struct{}
}

// NewRecorder creates a recorder wired to the bus and sink.
func NewRecorder(bus *events.Bus, sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		sink:   sink,
		bus:    bus,
		logger: logger.With("component", "telemetry"),
		done:   make(chan struct{}),
	}
}

// Start begins consuming events until ctx is cancelled.
func (r *Recorder) Start(ctx context.Context) {
	r.ch = r.bus.Subscribe(64)
	go func() {
		defer close(r.done)
		for {
			select {
			case <-ctx.Done():
				r.bus.Unsubscribe(r.ch)
				return
			case e, ok := <-r.ch:
				if !ok {
					return
				}
				r.handle(e)
			}
		}
	}()
}

// Wait blocks until the consumer goroutine has exited.
func (r *Recorder) Wait() {
	<-r.done
}

func (r *Recorder) handle(e events.Event) {
	// Writes get their own deadline so a stuck database cannot pin
	// the consumer forever.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch {
	case e.Source == events.SourceSearch && e.Kind == events.KindSearchComplete:
		r.recordSearch(ctx, e)
	case e.Source == events.SourceSafety && e.Kind == events.KindRated:
		r.recordRating(ctx, e)
	case e.Source == events.SourceSafety && e.Kind == events.KindResultFlagged:
		r.recordFlag(ctx, e)
	}
}

func (r *Recorder) recordSearch(ctx context.Context, e events.Event) {
	rec := store.HistoryRecord{
		Query:       str(e.Data, "query"),
		Role:        portal.Role(str(e.Data, "role")),
		ResultCount: integer(e.Data, "results"),
		Fallback:    boolean(e.Data, "fallback"),
		Answered:    boolean(e.Data, "answered"),
		Trigger:     portal.Trigger(str(e.Data, "trigger")),
		DurationMS:  int64(integer(e.Data, "duration_ms")),
	}
	if rec.Query == "" {
		return
	}
	if err := r.sink.AddHistory(ctx, rec); err != nil {
		r.logger.Warn("failed to record history", "query", rec.Query, "error", err)
	}
}

func (r *Recorder) recordRating(ctx context.Context, e events.Event) {
	trigger := portal.Trigger(str(e.Data, "trigger"))
	if trigger == "" || trigger == portal.TriggerSafe {
		return
	}
	entry := store.ReviewEntry{
		Query:   str(e.Data, "query"),
		Role:    portal.Role(str(e.Data, "role")),
		Reason:  "content rating below safe band",
		Trigger: trigger,
		Score:   integer(e.Data, "score"),
	}
	if err := r.sink.AddReview(ctx, entry); err != nil {
		r.logger.Warn("failed to queue review", "query", entry.Query, "error", err)
	}
}

func (r *Recorder) recordFlag(ctx context.Context, e events.Event) {
	entry := store.ReviewEntry{
		Query:   str(e.Data, "query"),
		Role:    portal.Role(str(e.Data, "role")),
		Reason:  "flag rule match: " + str(e.Data, "rule_id"),
		Trigger: portal.TriggerQuestionable,
		URL:     str(e.Data, "url"),
	}
	if err := r.sink.AddReview(ctx, entry); err != nil {
		r.logger.Warn("failed to queue flag review", "url", entry.URL, "error", err)
	}
}

func str(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

func integer(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func boolean(data map[string]any, key string) bool {
	b, _ := data[key].(bool)
	return b
}
