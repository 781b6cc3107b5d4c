// Package orchestrator drives a build session through its phases: parallel
// construction, swarm verification, fix loops, intent satisfaction, and
// completion. One goroutine per session owns all session mutation; the
// engine's public surface only registers sessions, snapshots state, and
// feeds control messages into the owning loop.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/agent"
	"github.com/fyrsmithlabs/forged/internal/artifacts"
	"github.com/fyrsmithlabs/forged/internal/contract"
	"github.com/fyrsmithlabs/forged/internal/escalation"
	"github.com/fyrsmithlabs/forged/internal/events"
	"github.com/fyrsmithlabs/forged/internal/session"
	"github.com/fyrsmithlabs/forged/internal/store"
	"github.com/fyrsmithlabs/forged/internal/swarm"
)

const instrumentationName = "github.com/fyrsmithlabs/forged/internal/orchestrator"

var (
	// ErrNoBuildTasks is returned when a session is started without work.
	ErrNoBuildTasks = errors.New("orchestrator: at least one build task required")

	// ErrEmptyBuildTask is returned when a task description is blank.
	ErrEmptyBuildTask = errors.New("orchestrator: build task description is empty")

	// ErrNotAwaitingDecision is returned when a decision arrives for a
	// session that is not paused.
	ErrNotAwaitingDecision = errors.New("orchestrator: session is not awaiting a decision")

	// ErrUnknownDecision is returned for decision values outside the enum.
	ErrUnknownDecision = errors.New("orchestrator: unknown decision")
)

// Decision is an operator's answer to an awaiting_decision pause.
type Decision string

const (
	// DecisionResume continues the session; optional guidance feeds the
	// next fix attempt and the blocking signature's comprehensive counter
	// is cleared (never its occurrence count).
	DecisionResume Decision = "resume"

	// DecisionAbandon ends the session as failed.
	DecisionAbandon Decision = "abandon"

	// DecisionOverride clears the blocking signature entirely and retries.
	DecisionOverride Decision = "override_and_retry"
)

// VerifierRunner runs one verification round. *swarm.Coordinator satisfies
// this.
type VerifierRunner interface {
	Run(ctx context.Context, round int, in swarm.Input, prev *swarm.VerdictSet) (*swarm.VerdictSet, error)
}

// ArtifactStore persists build outputs and scores them against the goal.
// *artifacts.Store satisfies this.
type ArtifactStore interface {
	Add(ctx context.Context, sessionID string, arts []artifacts.Artifact) error
	SimilarityToGoal(ctx context.Context, sessionID, goal string) (float64, error)
}

// Config holds orchestration policy.
type Config struct {
	// IntentThreshold is the 0-1 semantic score the artifact set must reach
	// against the contract goal.
	IntentThreshold float64 `json:"intent_threshold" koanf:"intent_threshold"`

	// BudgetUSD pauses the session in awaiting_decision when accumulated
	// task cost crosses it. Zero means unlimited.
	BudgetUSD float64 `json:"budget_usd" koanf:"budget_usd"`

	// CancelGraceSeconds bounds how long Cancel waits for the session loop
	// before forcing the terminal state.
	CancelGraceSeconds int `json:"cancel_grace_seconds" koanf:"cancel_grace_seconds"`

	Escalation *escalation.Config `json:"escalation" koanf:"escalation"`
	Pool       *agent.PoolConfig  `json:"pool" koanf:"pool"`
}

// DefaultConfig returns the default policy.
func DefaultConfig() *Config {
	return &Config{
		IntentThreshold:    0.8,
		BudgetUSD:          0,
		CancelGraceSeconds: 30,
		Escalation:         escalation.DefaultConfig(),
		Pool:               agent.DefaultPoolConfig(),
	}
}

// Validate checks the config.
func (c *Config) Validate() error {
	if c.IntentThreshold < 0 || c.IntentThreshold > 1 {
		return fmt.Errorf("orchestrator: intent threshold must be 0-1")
	}
	if c.BudgetUSD < 0 {
		return fmt.Errorf("orchestrator: budget must be non-negative")
	}
	if c.CancelGraceSeconds <= 0 {
		return fmt.Errorf("orchestrator: cancel grace must be positive")
	}
	return nil
}

// Engine owns the session arena and spawns one loop per build session.
type Engine struct {
	config    *Config
	runner    agent.Runner
	verifiers VerifierRunner
	artifacts ArtifactStore
	store     store.Store
	sink      events.Sink
	sessions  *session.Store
	logger    *zap.Logger

	sessionsTotal    metric.Int64Counter
	completionsTotal metric.Int64Counter

	mu   sync.Mutex
	runs map[string]*run
}

// NewEngine wires an engine. All collaborators are required except the
// logger.
func NewEngine(cfg *Config, runner agent.Runner, verifiers VerifierRunner, arts ArtifactStore, st store.Store, sink events.Sink, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if runner == nil || verifiers == nil || arts == nil || st == nil || sink == nil {
		return nil, fmt.Errorf("orchestrator: all collaborators required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	meter := otel.Meter(instrumentationName)
	sessionsTotal, _ := meter.Int64Counter("forged.orchestrator.sessions_total",
		metric.WithDescription("Build sessions started"),
		metric.WithUnit("{session}"))
	completionsTotal, _ := meter.Int64Counter("forged.orchestrator.completions_total",
		metric.WithDescription("Build sessions reaching completion"),
		metric.WithUnit("{session}"))

	return &Engine{
		config:           cfg,
		runner:           runner,
		verifiers:        verifiers,
		artifacts:        arts,
		store:            st,
		sink:             sink,
		sessions:         session.NewStore(),
		logger:           logger,
		sessionsTotal:    sessionsTotal,
		completionsTotal: completionsTotal,
		runs:             make(map[string]*run),
	}, nil
}

// Start builds a session for a locked contract and begins driving it.
// Returns the session ID immediately; progress is observable via Status
// and the event sink.
func (e *Engine) Start(ctx context.Context, c *contract.Contract, buildTasks []string) (string, error) {
	if c == nil || !c.Locked {
		return "", contract.ErrNotLocked
	}
	if err := c.Validate(); err != nil {
		return "", err
	}
	if len(buildTasks) == 0 {
		return "", ErrNoBuildTasks
	}
	for i, task := range buildTasks {
		if strings.TrimSpace(task) == "" {
			return "", fmt.Errorf("%w: task %d", ErrEmptyBuildTask, i+1)
		}
	}

	id := "sess_" + uuid.New().String()[:8]
	sess := session.New(id, c)

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		engine:       e,
		sess:         sess,
		pool:         agent.NewPool(e.config.Pool, e.runner, e.logger),
		ladder:       escalation.NewLadder(e.config.Escalation, e.logger),
		cancel:       cancel,
		ctrl:         make(chan ctrlMsg),
		done:         make(chan struct{}),
		pendingBuild: append([]string(nil), buildTasks...),
		artifactSet:  make(map[string]swarm.Artifact),
	}

	if err := e.sessions.Register(sess); err != nil {
		cancel()
		return "", err
	}
	e.mu.Lock()
	e.runs[id] = r
	e.mu.Unlock()

	r.persist(ctx)
	r.emit(ctx, events.TypeStarted, map[string]any{
		"contract_id":   c.ID,
		"contract_hash": sess.ContractHash,
		"build_tasks":   len(buildTasks),
	})

	e.sessionsTotal.Add(ctx, 1)
	e.logger.Info("build session started",
		zap.String("session_id", id),
		zap.String("contract_id", c.ID),
		zap.Int("build_tasks", len(buildTasks)),
	)

	go r.loop(runCtx)
	return id, nil
}

// Status returns a read-only snapshot of the session.
func (e *Engine) Status(id string) (*session.Session, error) {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	if !ok {
		return nil, session.ErrNotFound
	}
	return r.snapshot(), nil
}

// List returns all known session IDs.
func (e *Engine) List() []string {
	return e.sessions.IDs()
}

// Cancel cancels a session: live tasks are cancelled cooperatively and the
// session reaches the cancelled state within the grace period even if tasks
// are unresponsive. Idempotent; cancelling a terminal session is a no-op.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	if !ok {
		return session.ErrNotFound
	}

	if r.snapshot().Phase.IsTerminal() {
		return nil
	}

	r.pool.CancelSession(id)
	r.cancel()

	grace := time.Duration(e.config.CancelGraceSeconds) * time.Second
	select {
	case <-r.done:
	case <-time.After(grace):
		r.forceCancel(ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Decision submits an operator decision for a session sitting in
// awaiting_decision.
func (e *Engine) Decision(ctx context.Context, id string, d Decision, guidance string) error {
	switch d {
	case DecisionResume, DecisionAbandon, DecisionOverride:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDecision, d)
	}

	e.mu.Lock()
	r, ok := e.runs[id]
	e.mu.Unlock()
	if !ok {
		return session.ErrNotFound
	}

	msg := ctrlMsg{decision: d, guidance: guidance, reply: make(chan error, 1)}
	select {
	case r.ctrl <- msg:
	case <-r.done:
		return ErrNotAwaitingDecision
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-msg.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels every live session and waits for their loops.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	runs := make([]*run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	for _, r := range runs {
		r.cancel()
	}
	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			return fmt.Errorf("orchestrator: shutdown wait: %w", ctx.Err())
		}
	}
	return nil
}
