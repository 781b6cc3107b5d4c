package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/forged/internal/agent"
	"github.com/fyrsmithlabs/forged/internal/artifacts"
	"github.com/fyrsmithlabs/forged/internal/contract"
	"github.com/fyrsmithlabs/forged/internal/escalation"
	"github.com/fyrsmithlabs/forged/internal/events"
	"github.com/fyrsmithlabs/forged/internal/session"
	"github.com/fyrsmithlabs/forged/internal/store"
	"github.com/fyrsmithlabs/forged/internal/swarm"
)

// scriptRunner delegates to a test-provided function.
type scriptRunner struct {
	mu      sync.Mutex
	seen    []string
	runFunc func(ctx context.Context, task *agent.Task) (*agent.RunOutput, error)
}

func (s *scriptRunner) Run(ctx context.Context, task *agent.Task) (*agent.RunOutput, error) {
	s.mu.Lock()
	s.seen = append(s.seen, task.Payload)
	s.mu.Unlock()
	if s.runFunc != nil {
		return s.runFunc(ctx, task)
	}
	return &agent.RunOutput{Output: "artifact for: " + task.Payload, CostUSD: 0.01}, nil
}

func (s *scriptRunner) payloads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

// scriptVerifiers answers verification rounds from a test function.
type scriptVerifiers struct {
	mu    sync.Mutex
	calls int
	fn    func(call, round int, in swarm.Input) (*swarm.VerdictSet, error)
}

func (s *scriptVerifiers) Run(ctx context.Context, round int, in swarm.Input, prev *swarm.VerdictSet) (*swarm.VerdictSet, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.fn(call, round, in)
}

func passSet(round int, score float64) *swarm.VerdictSet {
	return swarm.NewVerdictSet(round, 85, []swarm.Verdict{
		{VerifierID: "review", Required: true, Weight: 1, Passed: true, Score: score},
	})
}

func failSet(round int, verifierID string, score float64, errMsg string) *swarm.VerdictSet {
	return swarm.NewVerdictSet(round, 85, []swarm.Verdict{
		{VerifierID: verifierID, Required: true, Weight: 1, Passed: false, Score: score, Err: errMsg,
			Findings: []string{"check failed"}},
	})
}

// memArtifacts records adds and scripts similarity scores.
type memArtifacts struct {
	mu     sync.Mutex
	adds   int
	scores []float64
	calls  int
}

func (m *memArtifacts) Add(ctx context.Context, sessionID string, arts []artifacts.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adds++
	return nil
}

func (m *memArtifacts) SimilarityToGoal(ctx context.Context, sessionID, goal string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	if i >= len(m.scores) {
		i = len(m.scores) - 1
	}
	if i < 0 {
		return 0.95, nil
	}
	return m.scores[i], nil
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.CancelGraceSeconds = 2
	cfg.Pool = &agent.PoolConfig{
		Workers:            4,
		QueueSize:          64,
		TaskTimeoutSeconds: 5,
		DispatchPerSecond:  1000,
		DispatchBurst:      64,
	}
	return cfg
}

func lockedContract() *contract.Contract {
	return &contract.Contract{
		ID:              "ct_1",
		Goal:            "build a payment service",
		SuccessCriteria: []string{"handles refunds"},
		Locked:          true,
	}
}

func newTestEngine(t *testing.T, cfg *Config, runner agent.Runner, verifiers VerifierRunner, arts ArtifactStore) (*Engine, *events.Recorder) {
	t.Helper()
	rec := &events.Recorder{}
	eng, err := NewEngine(cfg, runner, verifiers, arts, store.NewMemory(), rec, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})
	return eng, rec
}

func waitPhase(t *testing.T, eng *Engine, id string, want session.Phase) *session.Session {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := eng.Status(id)
		require.NoError(t, err)
		if snap.Phase == want {
			return snap
		}
		if snap.Phase.IsTerminal() && !want.IsTerminal() {
			t.Fatalf("session reached terminal %s while waiting for %s", snap.Phase, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
	snap, _ := eng.Status(id)
	t.Fatalf("session never reached %s, stuck at %s", want, snap.Phase)
	return nil
}

func TestStartRequiresLockedContract(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(), &scriptRunner{}, &scriptVerifiers{
		fn: func(call, round int, in swarm.Input) (*swarm.VerdictSet, error) {
			return passSet(round, 92), nil
		}}, &memArtifacts{})

	c := lockedContract()
	c.Locked = false
	_, err := eng.Start(context.Background(), c, []string{"task"})
	assert.ErrorIs(t, err, contract.ErrNotLocked)

	_, err = eng.Start(context.Background(), lockedContract(), nil)
	assert.ErrorIs(t, err, ErrNoBuildTasks)
}

func TestStartRejectsBlankTaskDescriptions(t *testing.T) {
	eng, rec := newTestEngine(t, testConfig(), &scriptRunner{}, &scriptVerifiers{
		fn: func(call, round int, in swarm.Input) (*swarm.VerdictSet, error) {
			return passSet(round, 92), nil
		}}, &memArtifacts{})

	_, err := eng.Start(context.Background(), lockedContract(), []string{"module a", ""})
	assert.ErrorIs(t, err, ErrEmptyBuildTask)

	_, err = eng.Start(context.Background(), lockedContract(), []string{"   \t"})
	assert.ErrorIs(t, err, ErrEmptyBuildTask)

	assert.Empty(t, eng.List(), "rejected intake must not register a session")
	assert.Empty(t, rec.Events())
}

func TestHappyPathToCompletion(t *testing.T) {
	runner := &scriptRunner{}
	verifiers := &scriptVerifiers{fn: func(call, round int, in swarm.Input) (*swarm.VerdictSet, error) {
		return passSet(round, 92), nil
	}}
	arts := &memArtifacts{scores: []float64{0.93}}
	eng, rec := newTestEngine(t, testConfig(), runner, verifiers, arts)

	c := lockedContract()
	id, err := eng.Start(context.Background(), c, []string{"module a", "module b", "module c"})
	require.NoError(t, err)

	snap := waitPhase(t, eng, id, session.PhaseCompletion)

	assert.Equal(t, c.Hash(), snap.ContractHash, "contract hash unchanged at completion")
	require.NotNil(t, snap.Result)
	assert.True(t, snap.Result.Success)
	assert.InDelta(t, 0.93, snap.Result.SemanticScore, 1e-9)
	assert.Equal(t, 3, snap.Tasks.Succeeded)
	assert.Zero(t, snap.Tasks.Failed)
	require.NotNil(t, snap.LastVerdict)
	assert.True(t, snap.LastVerdict.Passed)

	types := rec.Types()
	assert.Contains(t, types, events.TypeStarted)
	assert.Contains(t, types, events.TypeTasksPartitioned)
	assert.Contains(t, types, events.TypeVerdict)
	assert.Contains(t, types, events.TypeCompleted)

	// Fan-in: all three build tasks completed before the verdict.
	verdictAt, lastTaskAt := -1, -1
	for i, typ := range types {
		if typ == events.TypeVerdict && verdictAt == -1 {
			verdictAt = i
		}
		if typ == events.TypeTaskCompleted {
			lastTaskAt = i
		}
	}
	require.GreaterOrEqual(t, verdictAt, 0)
	assert.Less(t, lastTaskAt, verdictAt, "no verdict before every task is terminal")
}

func TestSessionPersistedBeforeEvents(t *testing.T) {
	runner := &scriptRunner{}
	verifiers := &scriptVerifiers{fn: func(call, round int, in swarm.Input) (*swarm.VerdictSet, error) {
		return passSet(round, 92), nil
	}}
	rec := &events.Recorder{}
	mem := store.NewMemory()
	eng, err := NewEngine(testConfig(), runner, verifiers, &memArtifacts{}, mem, rec, nil)
	require.NoError(t, err)
	defer eng.Shutdown(context.Background())

	id, err := eng.Start(context.Background(), lockedContract(), []string{"task"})
	require.NoError(t, err)
	waitPhase(t, eng, id, session.PhaseCompletion)

	data, err := mem.Get(context.Background(), store.BucketSessions, id)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"completion"`)
}

func TestVerificationFailureLoopsThroughFix(t *testing.T) {
	runner := &scriptRunner{}
	verifiers := &scriptVerifiers{fn: func(call, round int, in swarm.Input) (*swarm.VerdictSet, error) {
		if call == 1 {
			// Required verifier timed out: gate fails despite high average.
			return failSet(round, "review", 0, "verifier timed out after 300s"), nil
		}
		return passSet(round, 95), nil
	}}
	eng, rec := newTestEngine(t, testConfig(), runner, verifiers, &memArtifacts{scores: []float64{0.9}})

	id, err := eng.Start(context.Background(), lockedContract(), []string{"module a"})
	require.NoError(t, err)

	snap := waitPhase(t, eng, id, session.PhaseCompletion)
	assert.Equal(t, 2, snap.Round, "one failed round, one passing round")

	var phases []string
	for _, ev := range rec.Events() {
		if ev.Type == events.TypePhase {
			phases = append(phases, ev.Payload["to"].(string))
		}
	}
	assert.Contains(t, phases, "fix")

	// The fix attempt carries the failing findings.
	found := false
	for _, p := range runner.payloads() {
		if strings.Contains(p, "Previous attempt failed") && strings.Contains(p, "review") {
			found = true
		}
	}
	assert.True(t, found, "fix payload carries the verdict findings")
}

func TestRepeatedSignatureEngagesComprehensive(t *testing.T) {
	cfg := testConfig()
	cfg.Escalation = &escalation.Config{RepeatThreshold: 3, ComprehensiveCap: 5}

	runner := &scriptRunner{}
	verifiers := &scriptVerifiers{fn: func(call, round int, in swarm.Input) (*swarm.VerdictSet, error) {
		if call <= 3 {
			return failSet(round, "review", 20, "missing refund handling"), nil
		}
		return passSet(round, 95), nil
	}}
	eng, _ := newTestEngine(t, cfg, runner, verifiers, &memArtifacts{scores: []float64{0.9}})

	id, err := eng.Start(context.Background(), lockedContract(), []string{"module a"})
	require.NoError(t, err)
	waitPhase(t, eng, id, session.PhaseCompletion)

	comprehensive := false
	for _, p := range runner.payloads() {
		if strings.Contains(p, "Re-derive your approach from the full session history") {
			comprehensive = true
		}
	}
	assert.True(t, comprehensive, "third identical failure engages comprehensive mode")
}

func TestEscalationCapPausesForDecisionAndResumeClears(t *testing.T) {
	cfg := testConfig()
	cfg.Escalation = &escalation.Config{RepeatThreshold: 1, ComprehensiveCap: 1}

	var afterResume bool
	var mu sync.Mutex
	verifiers := &scriptVerifiers{fn: func(call, round int, in swarm.Input) (*swarm.VerdictSet, error) {
		mu.Lock()
		resumed := afterResume
		mu.Unlock()
		if resumed {
			return passSet(round, 95), nil
		}
		return failSet(round, "review", 10, "always broken"), nil
	}}
	eng, rec := newTestEngine(t, cfg, &scriptRunner{}, verifiers, &memArtifacts{scores: []float64{0.9}})

	id, err := eng.Start(context.Background(), lockedContract(), []string{"module a"})
	require.NoError(t, err)

	snap := waitPhase(t, eng, id, session.PhaseAwaitingDecision)
	assert.NotEmpty(t, snap.BlockingSignature)
	assert.Contains(t, rec.Types(), events.TypeEscalated)
	assert.Contains(t, rec.Types(), events.TypeAwaitingDecision)

	// A decision other than the enum is rejected.
	assert.ErrorIs(t, eng.Decision(context.Background(), id, "shrug", ""), ErrUnknownDecision)

	mu.Lock()
	afterResume = true
	mu.Unlock()
	require.NoError(t, eng.Decision(context.Background(), id, DecisionResume, "try the ledger approach"))

	snap = waitPhase(t, eng, id, session.PhaseCompletion)
	assert.Empty(t, snap.BlockingSignature)
}

func TestDecisionAbandonFailsSession(t *testing.T) {
	cfg := testConfig()
	cfg.Escalation = &escalation.Config{RepeatThreshold: 1, ComprehensiveCap: 1}

	verifiers := &scriptVerifiers{fn: func(call, round int, in swarm.Input) (*swarm.VerdictSet, error) {
		return failSet(round, "review", 10, "always broken"), nil
	}}
	eng, _ := newTestEngine(t, cfg, &scriptRunner{}, verifiers, &memArtifacts{})

	id, err := eng.Start(context.Background(), lockedContract(), []string{"module a"})
	require.NoError(t, err)
	waitPhase(t, eng, id, session.PhaseAwaitingDecision)

	require.NoError(t, eng.Decision(context.Background(), id, DecisionAbandon, ""))
	snap := waitPhase(t, eng, id, session.PhaseFailed)
	require.NotNil(t, snap.Result)
	assert.False(t, snap.Result.Success)
}

func TestDecisionOverrideResolvesSignature(t *testing.T) {
	cfg := testConfig()
	cfg.Escalation = &escalation.Config{RepeatThreshold: 1, ComprehensiveCap: 1}

	var afterOverride bool
	var mu sync.Mutex
	verifiers := &scriptVerifiers{fn: func(call, round int, in swarm.Input) (*swarm.VerdictSet, error) {
		mu.Lock()
		done := afterOverride
		mu.Unlock()
		if done {
			return passSet(round, 95), nil
		}
		return failSet(round, "review", 10, "always broken"), nil
	}}
	eng, _ := newTestEngine(t, cfg, &scriptRunner{}, verifiers, &memArtifacts{scores: []float64{0.9}})

	id, err := eng.Start(context.Background(), lockedContract(), []string{"module a"})
	require.NoError(t, err)
	waitPhase(t, eng, id, session.PhaseAwaitingDecision)

	mu.Lock()
	afterOverride = true
	mu.Unlock()
	require.NoError(t, eng.Decision(context.Background(), id, DecisionOverride, ""))

	snap := waitPhase(t, eng, id, session.PhaseCompletion)
	assert.Empty(t, snap.BlockingSignature)
}

func TestDecisionRejectedOutsideAwaiting(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	runner := &scriptRunner{runFunc: func(ctx context.Context, task *agent.Task) (*agent.RunOutput, error) {
		once.Do(func() { close(started) })
		select {
		case <-release:
			return &agent.RunOutput{Output: "done"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	verifiers := &scriptVerifiers{fn: func(call, round int, in swarm.Input) (*swarm.VerdictSet, error) {
		return passSet(round, 92), nil
	}}
	eng, _ := newTestEngine(t, testConfig(), runner, verifiers, &memArtifacts{})

	id, err := eng.Start(context.Background(), lockedContract(), []string{"module a"})
	require.NoError(t, err)
	<-started

	err = eng.Decision(context.Background(), id, DecisionResume, "")
	assert.ErrorIs(t, err, ErrNotAwaitingDecision)
	close(release)
	waitPhase(t, eng, id, session.PhaseCompletion)
}

func TestCancelMidBuildIsTotal(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	runner := &scriptRunner{runFunc: func(ctx context.Context, task *agent.Task) (*agent.RunOutput, error) {
		once.Do(func() { close(started) })
		// Unresponsive task: ignores cancellation until its deadline.
		time.Sleep(200 * time.Millisecond)
		return &agent.RunOutput{Output: "late"}, nil
	}}
	verifiers := &scriptVerifiers{fn: func(call, round int, in swarm.Input) (*swarm.VerdictSet, error) {
		return passSet(round, 92), nil
	}}
	eng, rec := newTestEngine(t, testConfig(), runner, verifiers, &memArtifacts{})

	id, err := eng.Start(context.Background(), lockedContract(), []string{"module a", "module b"})
	require.NoError(t, err)
	<-started

	require.NoError(t, eng.Cancel(context.Background(), id))
	snap, err := eng.Status(id)
	require.NoError(t, err)
	assert.Equal(t, session.PhaseCancelled, snap.Phase)
	assert.Equal(t, 0, snap.Tasks.Queued, "cancelled tasks must not linger as queued")
	assert.Contains(t, rec.Types(), events.TypeCancelled)

	// Idempotent.
	require.NoError(t, eng.Cancel(context.Background(), id))
	assert.ErrorIs(t, eng.Cancel(context.Background(), "sess_missing"), session.ErrNotFound)
}

func TestBudgetCapPausesSession(t *testing.T) {
	cfg := testConfig()
	cfg.BudgetUSD = 0.02

	runner := &scriptRunner{runFunc: func(ctx context.Context, task *agent.Task) (*agent.RunOutput, error) {
		return &agent.RunOutput{Output: "artifact", CostUSD: 0.015}, nil
	}}
	verifiers := &scriptVerifiers{fn: func(call, round int, in swarm.Input) (*swarm.VerdictSet, error) {
		return passSet(round, 92), nil
	}}
	eng, rec := newTestEngine(t, cfg, runner, verifiers, &memArtifacts{scores: []float64{0.9}})

	id, err := eng.Start(context.Background(), lockedContract(), []string{"module a", "module b"})
	require.NoError(t, err)

	snap := waitPhase(t, eng, id, session.PhaseAwaitingDecision)
	assert.Equal(t, budgetSignature, snap.BlockingSignature)
	assert.Contains(t, rec.Types(), events.TypeBudgetExceeded)

	// Resume waives the ceiling and the session runs to completion.
	require.NoError(t, eng.Decision(context.Background(), id, DecisionResume, ""))
	waitPhase(t, eng, id, session.PhaseCompletion)
}

func TestBudgetPauseReconcilesInFlightCounts(t *testing.T) {
	cfg := testConfig()
	cfg.BudgetUSD = 0.02

	// One task finishes immediately and blows the budget on its own; the
	// other is still in flight when the pool cancels the session.
	release := make(chan struct{})
	runner := &scriptRunner{runFunc: func(ctx context.Context, task *agent.Task) (*agent.RunOutput, error) {
		if strings.Contains(task.Payload, "module b") {
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &agent.RunOutput{Output: "artifact b", CostUSD: 0.001}, nil
		}
		return &agent.RunOutput{Output: "artifact a", CostUSD: 0.05}, nil
	}}
	verifiers := &scriptVerifiers{fn: func(call, round int, in swarm.Input) (*swarm.VerdictSet, error) {
		return passSet(round, 92), nil
	}}
	eng, _ := newTestEngine(t, cfg, runner, verifiers, &memArtifacts{scores: []float64{0.9}})

	id, err := eng.Start(context.Background(), lockedContract(), []string{"module a", "module b"})
	require.NoError(t, err)

	snap := waitPhase(t, eng, id, session.PhaseAwaitingDecision)
	assert.Equal(t, budgetSignature, snap.BlockingSignature)
	assert.Equal(t, 0, snap.Tasks.Queued, "abandoned task must not linger as queued")
	assert.Equal(t, 1, snap.Tasks.Succeeded)
	assert.Equal(t, 1, snap.Tasks.Cancelled)

	close(release)
	require.NoError(t, eng.Decision(context.Background(), id, DecisionResume, ""))

	snap = waitPhase(t, eng, id, session.PhaseCompletion)
	assert.Equal(t, 0, snap.Tasks.Queued)
	assert.Equal(t, 2, snap.Tasks.Succeeded, "cancelled item is re-dispatched after resume")
	assert.Equal(t, 1, snap.Tasks.Cancelled)
}

func TestIntentMissLoopsBack(t *testing.T) {
	runner := &scriptRunner{}
	verifiers := &scriptVerifiers{fn: func(call, round int, in swarm.Input) (*swarm.VerdictSet, error) {
		return passSet(round, 92), nil
	}}
	arts := &memArtifacts{scores: []float64{0.4, 0.9}}
	eng, _ := newTestEngine(t, testConfig(), runner, verifiers, arts)

	id, err := eng.Start(context.Background(), lockedContract(), []string{"module a"})
	require.NoError(t, err)

	snap := waitPhase(t, eng, id, session.PhaseCompletion)
	assert.InDelta(t, 0.9, snap.Result.SemanticScore, 1e-9)
	assert.Equal(t, 2, snap.Round, "intent miss forces a rebuild and a new round")

	aligned := false
	for _, p := range runner.payloads() {
		if strings.Contains(p, "does not satisfy the goal") {
			aligned = true
		}
	}
	assert.True(t, aligned, "loop-back rebuild carries the intent findings")
}

func TestTransientTaskErrorsRetryWithoutEscalating(t *testing.T) {
	// The runner retries transients internally; from the pool's view the
	// task just succeeds. A task failure, by contrast, must land in the
	// ladder exactly once per occurrence.
	var attempts int
	var mu sync.Mutex
	runner := &scriptRunner{runFunc: func(ctx context.Context, task *agent.Task) (*agent.RunOutput, error) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			return nil, errors.New("compile error: missing import")
		}
		return &agent.RunOutput{Output: "fixed artifact"}, nil
	}}
	verifiers := &scriptVerifiers{fn: func(call, round int, in swarm.Input) (*swarm.VerdictSet, error) {
		return passSet(round, 92), nil
	}}
	eng, rec := newTestEngine(t, testConfig(), runner, verifiers, &memArtifacts{scores: []float64{0.9}})

	id, err := eng.Start(context.Background(), lockedContract(), []string{"module a"})
	require.NoError(t, err)

	snap := waitPhase(t, eng, id, session.PhaseCompletion)
	assert.Equal(t, 1, snap.Tasks.Failed)
	assert.Equal(t, 1, snap.Tasks.Succeeded, "failed item re-dispatched and succeeds")

	failedEvents := 0
	for _, typ := range rec.Types() {
		if typ == events.TypeTaskFailed {
			failedEvents++
		}
	}
	assert.Equal(t, 1, failedEvents)
}

func TestAdvanceTable(t *testing.T) {
	tests := []struct {
		name    string
		current session.Phase
		oc      outcome
		want    session.Phase
	}{
		{"init to build", session.PhaseInitialization, outcome{}, session.PhaseParallelBuild},
		{"build to verification", session.PhaseParallelBuild, outcome{}, session.PhaseVerification},
		{"build escalated", session.PhaseParallelBuild, outcome{escalated: true}, session.PhaseAwaitingDecision},
		{"verification pass", session.PhaseVerification, outcome{gatePassed: true}, session.PhaseIntentSatisfaction},
		{"verification fail", session.PhaseVerification, outcome{}, session.PhaseFix},
		{"verification escalated", session.PhaseVerification, outcome{escalated: true}, session.PhaseAwaitingDecision},
		{"fix loops back", session.PhaseFix, outcome{}, session.PhaseParallelBuild},
		{"intent met", session.PhaseIntentSatisfaction, outcome{intentMet: true}, session.PhaseCompletion},
		{"intent miss", session.PhaseIntentSatisfaction, outcome{}, session.PhaseParallelBuild},
		{"decision abandon", session.PhaseAwaitingDecision, outcome{abandoned: true}, session.PhaseFailed},
		{"decision resume", session.PhaseAwaitingDecision, outcome{}, session.PhaseParallelBuild},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := advance(tt.current, tt.oc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := advance(session.PhaseCompletion, outcome{})
	assert.Error(t, err, "terminal phases never advance")
}

func TestStatusUnknownSession(t *testing.T) {
	eng, _ := newTestEngine(t, testConfig(), &scriptRunner{}, &scriptVerifiers{
		fn: func(call, round int, in swarm.Input) (*swarm.VerdictSet, error) {
			return passSet(round, 92), nil
		}}, &memArtifacts{})

	_, err := eng.Status("sess_missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.Empty(t, eng.List())
}

func TestStartGeneratesDistinctSessions(t *testing.T) {
	verifiers := &scriptVerifiers{fn: func(call, round int, in swarm.Input) (*swarm.VerdictSet, error) {
		return passSet(round, 92), nil
	}}
	eng, _ := newTestEngine(t, testConfig(), &scriptRunner{}, verifiers, &memArtifacts{scores: []float64{0.9}})

	a, err := eng.Start(context.Background(), lockedContract(), []string{"one"})
	require.NoError(t, err)
	b, err := eng.Start(context.Background(), lockedContract(), []string{"two"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	waitPhase(t, eng, a, session.PhaseCompletion)
	waitPhase(t, eng, b, session.PhaseCompletion)
	assert.ElementsMatch(t, []string{a, b}, eng.List())
}
