// Package events publishes build lifecycle events for external observers.
// Events are advisory: a publish failure is logged, never fatal to the
// build, and session state is always persisted before its event goes out.
package events

import (
	"context"
	"sync"
	"time"
)

// Type names a lifecycle event.
type Type string

const (
	TypeStarted          Type = "started"
	TypeTasksPartitioned Type = "tasks_partitioned"
	TypeTaskStarted      Type = "task_started"
	TypeTaskCompleted    Type = "task_completed"
	TypeTaskFailed       Type = "task_failed"
	TypePhase            Type = "phase"
	TypeVerdict          Type = "verdict"
	TypeEscalated        Type = "escalated"
	TypeAwaitingDecision Type = "awaiting_decision"
	TypeBudgetExceeded   Type = "budget_exceeded"
	TypeHandoff          Type = "handoff"
	TypeCompleted        Type = "completed"
	TypeFailed           Type = "failed"
	TypeCancelled        Type = "cancelled"
)

// Event is one lifecycle notification.
type Event struct {
	SessionID string         `json:"session_id"`
	Type      Type           `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink receives lifecycle events.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards all events.
type Nop struct{}

func (Nop) Publish(ctx context.Context, ev Event) error { return nil }

// Recorder keeps published events in memory for tests and local runs.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of what was published.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the published event types in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
