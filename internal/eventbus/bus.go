// Package eventbus implements the per-run publish/subscribe facility that
// fans progress events out to SSE subscribers: a mutex-guarded map of
// per-topic subscriber sets, each subscriber a buffered mailbox channel,
// with a non-blocking send that drops a message for a slow consumer rather
// than blocking the publisher or affecting other subscribers. No event
// history is kept; late subscribers only see the current status echo, never
// replayed events.
package eventbus

import (
	"sync"

	"github.com/rs/zerolog"
)

// EventKind discriminates the progress event payloads.
type EventKind string

const (
	EventRunStatus             EventKind = "run_status"
	EventModelStarted          EventKind = "model_started"
	EventModelStreamingStarted EventKind = "model_streaming_started"
	EventCandidateToken        EventKind = "candidate_token"
	EventCandidateDone         EventKind = "candidate_done"
	EventHTMLCandidateDone     EventKind = "html_candidate_done"
	EventJudgeDone             EventKind = "judge_done"
	EventModelError            EventKind = "model_error"
	EventModelCancelled        EventKind = "model_cancelled"
	EventRunCancelled          EventKind = "run_cancelled"
)

// ContentKind distinguishes a candidate_token event's delta content.
type ContentKind string

const (
	ContentText ContentKind = "text"
	ContentHTML ContentKind = "html"
)

// Event is one typed progress event published on a run's topic.
type Event struct {
	Event       EventKind   `json:"event"`
	RunID       string      `json:"run_id"`
	ProblemID   string      `json:"problem_id,omitempty"`
	ModelID     string      `json:"model_id,omitempty"`
	ModelName   string      `json:"model_name,omitempty"`
	Status      string      `json:"status,omitempty"`
	Attempt     int         `json:"attempt,omitempty"`
	Streaming   bool        `json:"streaming,omitempty"`
	Delta       string      `json:"delta,omitempty"`
	Kind        ContentKind `json:"kind,omitempty"`
	Text        string      `json:"text,omitempty"`
	HTML        string      `json:"html,omitempty"`
	Verdict     string      `json:"verdict,omitempty"`
	Reasoning   string      `json:"reasoning,omitempty"`
	Score       *int        `json:"score,omitempty"`
	Error       string      `json:"error,omitempty"`
	CancelledBy string      `json:"cancelled_by,omitempty"`
}

const mailboxSize = 64

// Subscription is a live attachment to a run's topic.
type Subscription struct {
	ch    chan Event
	bus   *Bus
	runID string
}

// Events returns the channel new events are delivered on.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscription from its run's topic.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.runID, s)
}

// Bus fans out events to every live subscriber of a run topic.
type Bus struct {
	mu       sync.RWMutex
	topics   map[string]map[*Subscription]struct{}
	statuses map[string]string
	logger   zerolog.Logger
}

// New constructs an empty Bus.
func New(logger zerolog.Logger) *Bus {
	return &Bus{
		topics:   make(map[string]map[*Subscription]struct{}),
		statuses: make(map[string]string),
		logger:   logger.With().Str("component", "event_bus").Logger(),
	}
}

// SetStatus records the run's current status so a subscriber attaching later
// receives an accurate synthetic echo. It does not itself publish an event.
func (b *Bus) SetStatus(runID, status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses[runID] = status
}

// Subscribe attaches a new subscriber to runID's topic and immediately
// enqueues a synthetic run_status event reflecting the current status.
func (b *Bus) Subscribe(runID string) *Subscription {
	sub := &Subscription{ch: make(chan Event, mailboxSize), bus: b, runID: runID}

	b.mu.Lock()
	if _, ok := b.topics[runID]; !ok {
		b.topics[runID] = make(map[*Subscription]struct{})
	}
	b.topics[runID][sub] = struct{}{}
	status := b.statuses[runID]
	b.mu.Unlock()

	sub.ch <- Event{Event: EventRunStatus, RunID: runID, Status: status}

	return sub
}

func (b *Bus) unsubscribe(runID string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.topics[runID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.topics, runID)
		}
	}
}

// Publish fans event out to every live subscriber of its run, non-blocking:
// a full mailbox drops the event for that subscriber rather than stalling
// the publisher or affecting any other subscriber.
func (b *Bus) Publish(event Event) {
	if event.Event == EventRunStatus {
		b.SetStatus(event.RunID, event.Status)
	}

	b.mu.RLock()
	subs := b.topics[event.RunID]
	recipients := make([]*Subscription, 0, len(subs))
	for sub := range subs {
		recipients = append(recipients, sub)
	}
	b.mu.RUnlock()

	for _, sub := range recipients {
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn().Str("run_id", event.RunID).Str("event", string(event.Event)).Msg("dropping event for slow subscriber")
		}
	}
}

// CleanupRun drops all bookkeeping for a finished run. Live subscriptions
// are left to close naturally as their consumers disconnect.
func (b *Bus) CleanupRun(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.statuses, runID)
}
