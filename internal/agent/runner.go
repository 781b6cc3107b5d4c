package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/events"
	"github.com/fyrsmithlabs/forged/internal/overflow"
	"github.com/fyrsmithlabs/forged/internal/provider"
)

// continuationMarker is emitted by the model at the end of a turn when it
// has more work to do. Its absence ends the task.
const continuationMarker = "[CONTINUE]"

var systemPrompts = map[Kind]string{
	KindBuild: "You are a build agent. Implement the assigned task completely. " +
		"End your reply with " + continuationMarker + " only if more turns are needed.",
	KindVerify: "You are a verification agent. Check the work against the stated " +
		"criteria and report findings with a score from 0 to 100.",
	KindFix: "You are a fix agent. Resolve the reported failure without " +
		"regressing completed work. End your reply with " + continuationMarker +
		" only if more turns are needed.",
}

// RunnerConfig holds completion-runner behavior.
type RunnerConfig struct {
	MaxTurns          int     `json:"max_turns" koanf:"max_turns"`
	MaxTries          uint    `json:"max_tries" koanf:"max_tries"`
	MaxTokensPerTurn  int     `json:"max_tokens_per_turn" koanf:"max_tokens_per_turn"`
	InputCostPerMTok  float64 `json:"input_cost_per_mtok" koanf:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `json:"output_cost_per_mtok" koanf:"output_cost_per_mtok"`
}

// DefaultRunnerConfig returns sensible defaults.
func DefaultRunnerConfig() *RunnerConfig {
	return &RunnerConfig{
		MaxTurns:          8,
		MaxTries:          4,
		MaxTokensPerTurn:  8192,
		InputCostPerMTok:  3.0,
		OutputCostPerMTok: 15.0,
	}
}

// CompletionRunner drives the completion provider for a task, turn by turn.
// Transient provider errors retry with exponential backoff; permanent errors
// fail the task. Working state accumulates in an overflow tracker, and a
// compressed handoff replaces the transcript when thresholds are crossed.
type CompletionRunner struct {
	completer provider.Completer
	config    *RunnerConfig
	overflow  *overflow.Manager
	ovConfig  *overflow.Config
	sink      events.Sink
	logger    *zap.Logger
}

// NewCompletionRunner creates a runner backed by a completion provider.
// Handoff events are published to sink.
func NewCompletionRunner(completer provider.Completer, cfg *RunnerConfig, ovCfg *overflow.Config, sink events.Sink, logger *zap.Logger) *CompletionRunner {
	if cfg == nil {
		cfg = DefaultRunnerConfig()
	}
	if ovCfg == nil {
		ovCfg = overflow.DefaultConfig()
	}
	if sink == nil {
		sink = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompletionRunner{
		completer: completer,
		config:    cfg,
		overflow:  overflow.NewManager(ovCfg, logger),
		ovConfig:  ovCfg,
		sink:      sink,
		logger:    logger,
	}
}

// Run executes the task to completion or error.
func (r *CompletionRunner) Run(ctx context.Context, task *Task) (*RunOutput, error) {
	tracker := overflow.NewTracker(task.ID, task.ContractRef, r.ovConfig)
	tracker.SetCurrentTask(task.Payload)
	tracker.AppendTranscript(task.Payload)

	// A handoff swaps the accumulated transcript for the compressed seed;
	// the successor turn continues from it. Acknowledgement is the seed
	// being accepted as the next prompt.
	var seeded string
	spawn := func(ctx context.Context, seed string) error {
		seeded = seed
		return nil
	}

	var (
		lastOutput string
		totalCost  float64
	)
	prompt := task.Payload

	for turn := 0; turn < r.config.MaxTurns; turn++ {
		comp, err := r.complete(ctx, task.Kind, prompt)
		if err != nil {
			return nil, fmt.Errorf("agent: turn %d: %w", turn+1, err)
		}

		totalCost += r.cost(comp)
		lastOutput = strings.TrimSuffix(strings.TrimSpace(comp.Content), continuationMarker)
		lastOutput = strings.TrimSpace(lastOutput)
		tracker.AppendTranscript(comp.Content)

		if !strings.HasSuffix(strings.TrimSpace(comp.Content), continuationMarker) {
			return &RunOutput{Output: lastOutput, CostUSD: totalCost}, nil
		}

		// Between turns is a safe boundary.
		seeded = ""
		snap, err := r.overflow.MaybeHandoff(ctx, tracker, true, spawn)
		if err != nil {
			return nil, fmt.Errorf("agent: overflow handoff: %w", err)
		}
		if seeded != "" {
			r.emitHandoff(ctx, task, snap, turn+1)
			prompt = seeded + "\n\nContinue the task."
			continue
		}
		prompt = "Continue the task. Your previous turn ended with:\n" + tail(lastOutput, 2048)
	}

	return nil, fmt.Errorf("agent: task %s exceeded %d turns", task.ID, r.config.MaxTurns)
}

// emitHandoff publishes the context handoff as a session lifecycle event.
// Delivery is best-effort; a dropped event never fails the task.
func (r *CompletionRunner) emitHandoff(ctx context.Context, task *Task, snap *overflow.Snapshot, turn int) {
	payload := map[string]any{
		"task_id": task.ID,
		"turn":    turn,
	}
	if snap != nil {
		payload["snapshot_id"] = snap.ID
		payload["original_bytes"] = snap.OriginalBytes
		payload["forced"] = snap.Forced
	}
	err := r.sink.Publish(ctx, events.Event{
		SessionID: task.SessionID,
		Type:      events.TypeHandoff,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		r.logger.Warn("handoff event publish failed",
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
}

// complete calls the provider with backoff-wrapped retries. Only transient
// provider errors retry.
func (r *CompletionRunner) complete(ctx context.Context, kind Kind, prompt string) (*provider.Completion, error) {
	op := func() (*provider.Completion, error) {
		comp, err := r.completer.Complete(ctx, provider.Request{
			System:    systemPrompts[kind],
			Prompt:    prompt,
			MaxTokens: r.config.MaxTokensPerTurn,
		})
		if err != nil {
			if provider.IsTransient(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return comp, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(r.config.MaxTries),
	)
}

func (r *CompletionRunner) cost(comp *provider.Completion) float64 {
	return float64(comp.InputTokens)/1e6*r.config.InputCostPerMTok +
		float64(comp.OutputTokens)/1e6*r.config.OutputCostPerMTok
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
