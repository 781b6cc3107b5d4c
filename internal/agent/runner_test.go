package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/forged/internal/events"
	"github.com/fyrsmithlabs/forged/internal/overflow"
	"github.com/fyrsmithlabs/forged/internal/provider"
)

// mockCompleter scripts provider responses per call.
type mockCompleter struct {
	calls     int
	responses []func(req provider.Request) (*provider.Completion, error)
}

func (m *mockCompleter) Complete(ctx context.Context, req provider.Request) (*provider.Completion, error) {
	i := m.calls
	m.calls++
	if i >= len(m.responses) {
		i = len(m.responses) - 1
	}
	return m.responses[i](req)
}

func fastRunnerConfig() *RunnerConfig {
	cfg := DefaultRunnerConfig()
	cfg.MaxTries = 3
	return cfg
}

func TestRunnerSingleTurn(t *testing.T) {
	completer := &mockCompleter{responses: []func(provider.Request) (*provider.Completion, error){
		func(req provider.Request) (*provider.Completion, error) {
			assert.Contains(t, req.System, "build agent")
			return &provider.Completion{Content: "done: wrote module", InputTokens: 1000, OutputTokens: 500}, nil
		},
	}}

	runner := NewCompletionRunner(completer, fastRunnerConfig(), nil, nil, nil)
	out, err := runner.Run(context.Background(), NewTask("sess_1", KindBuild, "ct_1", "write module"))
	require.NoError(t, err)
	assert.Equal(t, "done: wrote module", out.Output)
	assert.Equal(t, 1, completer.calls)
	// 1000 in at $3/MTok + 500 out at $15/MTok.
	assert.InDelta(t, 0.003+0.0075, out.CostUSD, 1e-9)
}

func TestRunnerMultiTurn(t *testing.T) {
	completer := &mockCompleter{responses: []func(provider.Request) (*provider.Completion, error){
		func(req provider.Request) (*provider.Completion, error) {
			return &provider.Completion{Content: "half way there [CONTINUE]"}, nil
		},
		func(req provider.Request) (*provider.Completion, error) {
			assert.Contains(t, req.Prompt, "half way there")
			return &provider.Completion{Content: "finished"}, nil
		},
	}}

	runner := NewCompletionRunner(completer, fastRunnerConfig(), nil, nil, nil)
	out, err := runner.Run(context.Background(), NewTask("sess_1", KindBuild, "ct_1", "big job"))
	require.NoError(t, err)
	assert.Equal(t, "finished", out.Output)
	assert.Equal(t, 2, completer.calls)
}

func TestRunnerRetriesTransient(t *testing.T) {
	completer := &mockCompleter{responses: []func(provider.Request) (*provider.Completion, error){
		func(req provider.Request) (*provider.Completion, error) {
			return nil, &provider.Error{StatusCode: 429, Message: "rate limited", Transient: true}
		},
		func(req provider.Request) (*provider.Completion, error) {
			return &provider.Completion{Content: "recovered"}, nil
		},
	}}

	runner := NewCompletionRunner(completer, fastRunnerConfig(), nil, nil, nil)
	out, err := runner.Run(context.Background(), NewTask("sess_1", KindFix, "ct_1", "patch"))
	require.NoError(t, err)
	assert.Equal(t, "recovered", out.Output)
	assert.Equal(t, 2, completer.calls)
}

func TestRunnerPermanentErrorFailsFast(t *testing.T) {
	completer := &mockCompleter{responses: []func(provider.Request) (*provider.Completion, error){
		func(req provider.Request) (*provider.Completion, error) {
			return nil, &provider.Error{StatusCode: 400, Message: "bad request"}
		},
	}}

	runner := NewCompletionRunner(completer, fastRunnerConfig(), nil, nil, nil)
	_, err := runner.Run(context.Background(), NewTask("sess_1", KindBuild, "ct_1", "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad request")
	assert.Equal(t, 1, completer.calls, "permanent errors do not retry")
}

func TestRunnerTurnCap(t *testing.T) {
	completer := &mockCompleter{responses: []func(provider.Request) (*provider.Completion, error){
		func(req provider.Request) (*provider.Completion, error) {
			return &provider.Completion{Content: "still going [CONTINUE]"}, nil
		},
	}}

	cfg := fastRunnerConfig()
	cfg.MaxTurns = 3
	runner := NewCompletionRunner(completer, cfg, nil, nil, nil)
	_, err := runner.Run(context.Background(), NewTask("sess_1", KindBuild, "ct_1", "loop"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded 3 turns")
	assert.Equal(t, 3, completer.calls)
}

func TestRunnerOverflowHandoffSeedsNextTurn(t *testing.T) {
	big := strings.Repeat("The agent reasoned at great length about the module layout. ", 40)
	var secondPrompt string
	completer := &mockCompleter{responses: []func(provider.Request) (*provider.Completion, error){
		func(req provider.Request) (*provider.Completion, error) {
			return &provider.Completion{Content: big + " [CONTINUE]"}, nil
		},
		func(req provider.Request) (*provider.Completion, error) {
			secondPrompt = req.Prompt
			return &provider.Completion{Content: "done"}, nil
		},
	}}

	ovCfg := overflow.DefaultConfig()
	ovCfg.SoftLimitBytes = 512
	ovCfg.HardLimitBytes = 4096

	runner := NewCompletionRunner(completer, fastRunnerConfig(), ovCfg, nil, nil)
	out, err := runner.Run(context.Background(), NewTask("sess_1", KindBuild, "ct_ref_1", "long job"))
	require.NoError(t, err)
	assert.Equal(t, "done", out.Output)
	assert.Contains(t, secondPrompt, "Contract: ct_ref_1", "handoff seed carries the contract reference")
	assert.Contains(t, secondPrompt, "Continue the task")
}

func TestRunnerHandoffPublishesEvent(t *testing.T) {
	big := strings.Repeat("The agent reasoned at great length about the module layout. ", 40)
	completer := &mockCompleter{responses: []func(provider.Request) (*provider.Completion, error){
		func(req provider.Request) (*provider.Completion, error) {
			return &provider.Completion{Content: big + " [CONTINUE]"}, nil
		},
		func(req provider.Request) (*provider.Completion, error) {
			return &provider.Completion{Content: "done"}, nil
		},
	}}

	ovCfg := overflow.DefaultConfig()
	ovCfg.SoftLimitBytes = 512
	ovCfg.HardLimitBytes = 4096

	rec := &events.Recorder{}
	runner := NewCompletionRunner(completer, fastRunnerConfig(), ovCfg, rec, nil)
	task := NewTask("sess_1", KindBuild, "ct_ref_1", "long job")
	_, err := runner.Run(context.Background(), task)
	require.NoError(t, err)

	evs := rec.Events()
	require.Len(t, evs, 1)
	assert.Equal(t, events.TypeHandoff, evs[0].Type)
	assert.Equal(t, "sess_1", evs[0].SessionID)
	assert.Equal(t, task.ID, evs[0].Payload["task_id"])
}

func TestRunnerNoHandoffNoEvent(t *testing.T) {
	completer := &mockCompleter{responses: []func(provider.Request) (*provider.Completion, error){
		func(req provider.Request) (*provider.Completion, error) {
			return &provider.Completion{Content: "short and done"}, nil
		},
	}}

	rec := &events.Recorder{}
	runner := NewCompletionRunner(completer, fastRunnerConfig(), nil, rec, nil)
	_, err := runner.Run(context.Background(), NewTask("sess_1", KindBuild, "ct_1", "small job"))
	require.NoError(t, err)
	assert.Empty(t, rec.Events())
}
