// Package agent runs build, verify, and fix work on a bounded worker pool.
// The pool enforces per-task deadlines, throttles dispatch, and supports
// cooperative cancellation of in-flight tasks.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies the work a task carries.
type Kind string

const (
	KindBuild  Kind = "build"
	KindVerify Kind = "verify"
	KindFix    Kind = "fix"
)

// Status is the terminal state of a task result.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

var (
	// ErrPoolShutdown is returned when dispatching to a stopped pool.
	ErrPoolShutdown = errors.New("agent: pool is shut down")
	// ErrQueueFull is returned when the dispatch queue is at capacity.
	ErrQueueFull = errors.New("agent: task queue full")
)

// Task is one unit of work for the pool.
type Task struct {
	ID          string
	SessionID   string
	Kind        Kind
	ContractRef string

	// Payload is the task description handed to the runner.
	Payload string

	// Timeout overrides the pool's default per-task deadline when > 0.
	Timeout time.Duration

	// runCtx is installed at dispatch; CancelTask cancels it.
	runCtx context.Context
}

// NewTask creates a task with a generated ID.
func NewTask(sessionID string, kind Kind, contractRef, payload string) *Task {
	return &Task{
		ID:          "task_" + uuid.New().String()[:8],
		SessionID:   sessionID,
		Kind:        kind,
		ContractRef: contractRef,
		Payload:     payload,
	}
}

// Validate checks the task is dispatchable.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("agent: task requires an ID")
	}
	if t.SessionID == "" {
		return fmt.Errorf("agent: task requires a session ID")
	}
	switch t.Kind {
	case KindBuild, KindVerify, KindFix:
	default:
		return fmt.Errorf("agent: unknown task kind %q", t.Kind)
	}
	if t.Payload == "" {
		return fmt.Errorf("agent: task requires a payload")
	}
	return nil
}

// RunOutput is what a runner produces for a task.
type RunOutput struct {
	Output  string
	CostUSD float64
}

// TaskResult is the terminal outcome of a task, delivered exactly once on
// the pool's results channel. Cancelled tasks deliver nothing.
type TaskResult struct {
	TaskID    string
	SessionID string
	Kind      Kind
	Status    Status
	Output    string
	CostUSD   float64

	// Err is the failure message when Status is failed.
	Err string

	// FailureSignature is set for failures the pool itself classifies,
	// currently task deadline expiry as "timeout:<kind>".
	FailureSignature string

	Duration time.Duration
}

// Failed reports whether the result is a failure.
func (r TaskResult) Failed() bool {
	return r.Status == StatusFailed
}

// timeoutSignature is the stable signature for deadline expiry, keyed by
// task kind so build and verify timeouts escalate independently.
func timeoutSignature(kind Kind) string {
	return "timeout:" + string(kind)
}
