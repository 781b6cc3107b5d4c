package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/agent"
	"github.com/fyrsmithlabs/forged/internal/artifacts"
	"github.com/fyrsmithlabs/forged/internal/escalation"
	"github.com/fyrsmithlabs/forged/internal/events"
	"github.com/fyrsmithlabs/forged/internal/session"
	"github.com/fyrsmithlabs/forged/internal/store"
	"github.com/fyrsmithlabs/forged/internal/swarm"
)

// budgetSignature is the blocking signature used for cost-ceiling pauses.
const budgetSignature = "budget:exceeded"

// ctrlMsg carries an operator decision into the session loop.
type ctrlMsg struct {
	decision Decision
	guidance string
	reply    chan error
}

// loopState is the session loop's position between phase transitions.
type loopState int

const (
	stBuild loopState = iota
	stVerify
	stFix
	stIntent
	stAwait
	stDone
)

// buildItem is one unit of construction work and its produced artifact.
type buildItem struct {
	name    string
	payload string

	// lastErr marks the item for re-dispatch and carries the latest
	// failure detail or verification findings.
	lastErr string

	// comprehensive marks the next attempt as a full-history re-derivation.
	comprehensive bool

	// built is the latest successful output.
	built bool
}

// run is one session's loop state. Only the loop goroutine mutates sess;
// the mutex covers the snapshot reads taken by Status and the HTTP surface.
type run struct {
	engine *Engine
	sess   *session.Session
	mu     sync.Mutex

	pool   *agent.Pool
	ladder *escalation.Ladder
	cancel context.CancelFunc
	ctrl   chan ctrlMsg
	done   chan struct{}

	pendingBuild []string
	items        []*buildItem
	artifactSet  map[string]swarm.Artifact
	prevSet      *swarm.VerdictSet
	guidance     string
	budgetWaived bool
}

// advance is the pure phase-transition function: next phase as a total
// function of (current phase, outcome). The loop never mutates phase except
// through this.
func advance(current session.Phase, oc outcome) (session.Phase, error) {
	switch current {
	case session.PhaseInitialization:
		return session.PhaseParallelBuild, nil
	case session.PhaseParallelBuild:
		if oc.escalated {
			return session.PhaseAwaitingDecision, nil
		}
		return session.PhaseVerification, nil
	case session.PhaseVerification:
		if oc.escalated {
			return session.PhaseAwaitingDecision, nil
		}
		if oc.gatePassed {
			return session.PhaseIntentSatisfaction, nil
		}
		return session.PhaseFix, nil
	case session.PhaseFix:
		if oc.escalated {
			return session.PhaseAwaitingDecision, nil
		}
		return session.PhaseParallelBuild, nil
	case session.PhaseIntentSatisfaction:
		if oc.escalated {
			return session.PhaseAwaitingDecision, nil
		}
		if oc.intentMet {
			return session.PhaseCompletion, nil
		}
		return session.PhaseParallelBuild, nil
	case session.PhaseAwaitingDecision:
		if oc.abandoned {
			return session.PhaseFailed, nil
		}
		return session.PhaseParallelBuild, nil
	}
	return "", fmt.Errorf("orchestrator: no advance from %s", current)
}

// outcome summarizes a phase's result for advance.
type outcome struct {
	escalated  bool
	gatePassed bool
	intentMet  bool
	abandoned  bool
}

// loop drives the session until a terminal phase. It is the session's sole
// writer.
func (r *run) loop(ctx context.Context) {
	defer close(r.done)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = r.pool.Shutdown(shutdownCtx)
	}()

	var span trace.Span
	ctx, span = otel.Tracer(instrumentationName).Start(ctx, "forged.session",
		trace.WithAttributes(attribute.String("session_id", r.sess.ID)))
	defer span.End()

	for i, payload := range r.pendingBuild {
		r.items = append(r.items, &buildItem{
			name:    fmt.Sprintf("build_%02d", i+1),
			payload: payload,
		})
	}
	r.pendingBuild = nil

	r.toPhase(ctx, r.nextPhase(outcome{}))
	r.emit(ctx, events.TypeTasksPartitioned, map[string]any{"tasks": len(r.items)})

	state := stBuild
	for state != stDone {
		if ctx.Err() != nil {
			break
		}
		switch state {
		case stBuild:
			state = r.runTaskPhase(ctx, agent.KindBuild)
		case stFix:
			state = r.runTaskPhase(ctx, agent.KindFix)
		case stVerify:
			state = r.verifyPhase(ctx)
		case stIntent:
			state = r.intentPhase(ctx)
		case stAwait:
			state = r.awaitPhase(ctx)
		}
	}
	if ctx.Err() != nil {
		r.finishCancelled(context.Background())
	}
}

// nextPhase applies advance to the current phase.
func (r *run) nextPhase(oc outcome) session.Phase {
	r.mu.Lock()
	cur := r.sess.Phase
	r.mu.Unlock()
	next, err := advance(cur, oc)
	if err != nil {
		r.engine.logger.Error("phase advance failed",
			zap.String("session_id", r.sess.ID),
			zap.Error(err))
		return cur
	}
	return next
}

// runTaskPhase dispatches the pending items as build or fix tasks and
// enforces the fan-in barrier: the phase outcome is computed only after
// every dispatched task is terminal. Failed items are re-dispatched within
// the phase under ladder direction.
func (r *run) runTaskPhase(ctx context.Context, kind agent.Kind) loopState {
	for {
		if ctx.Err() != nil {
			return stDone
		}
		todo := r.itemsToRun()
		if len(todo) == 0 {
			return r.afterTasksSucceed(ctx)
		}

		inflight := make(map[string]*buildItem, len(todo))
		for _, item := range todo {
			task := agent.NewTask(r.sess.ID, kind, r.sess.Contract.ID, r.taskPayload(item, kind))
			if err := r.pool.Dispatch(task); err != nil {
				r.engine.logger.Error("dispatch failed",
					zap.String("session_id", r.sess.ID),
					zap.Error(err))
				item.lastErr = err.Error()
				continue
			}
			inflight[task.ID] = item
			r.mu.Lock()
			r.sess.Tasks.Queued++
			r.mu.Unlock()
			r.emit(ctx, events.TypeTaskStarted, map[string]any{
				"task_id": task.ID,
				"kind":    string(kind),
				"name":    item.name,
			})
		}

		escalated, blockedSig := r.collectResults(ctx, inflight)
		if ctx.Err() != nil {
			return stDone
		}
		if escalated {
			return r.enterAwait(ctx, blockedSig)
		}
		// Items that failed keep lastErr set and go around again.
	}
}

// itemsToRun returns the items still owing a successful result.
func (r *run) itemsToRun() []*buildItem {
	var out []*buildItem
	for _, item := range r.items {
		if !item.built || item.lastErr != "" {
			out = append(out, item)
		}
	}
	return out
}

// taskPayload renders one item's prompt: the work description, prior
// failure detail, operator guidance, and under comprehensive mode the full
// error history and artifact state.
func (r *run) taskPayload(item *buildItem, kind agent.Kind) string {
	var b strings.Builder
	b.WriteString(item.payload)
	if item.lastErr != "" {
		b.WriteString("\n\nPrevious attempt failed:\n")
		b.WriteString(item.lastErr)
	}
	if r.guidance != "" {
		b.WriteString("\n\nOperator guidance:\n")
		b.WriteString(r.guidance)
	}
	if kind == agent.KindFix || item.lastErr != "" {
		if prior, ok := r.artifactSet[item.name]; ok {
			b.WriteString("\n\nCurrent artifact:\n")
			b.WriteString(prior.Content)
		}
	}
	if item.comprehensive {
		b.WriteString("\n\nThis failure has repeated. Re-derive your approach from the full session history instead of the latest error alone:\n")
		b.WriteString(r.historyDigest())
	}
	return b.String()
}

// collectResults is the fan-in barrier: it blocks until every inflight task
// is terminal, recording failures in the ladder before any retry decision.
// Returns whether the phase must pause for a human and the blocking
// signature.
func (r *run) collectResults(ctx context.Context, inflight map[string]*buildItem) (bool, string) {
	escalated := false
	blockedSig := ""

	for len(inflight) > 0 {
		select {
		case <-ctx.Done():
			r.cancelInflight(inflight)
			return false, ""

		case msg := <-r.ctrl:
			msg.reply <- ErrNotAwaitingDecision

		case res := <-r.pool.Results():
			item, ok := inflight[res.TaskID]
			if !ok {
				continue
			}
			delete(inflight, res.TaskID)
			r.applyResult(ctx, item, res)

			if res.Failed() {
				directive, rec := r.recordFailure(ctx, item, res)
				if directive == escalation.DirectiveEscalateHuman {
					escalated = true
					blockedSig = rec.Signature
				}
			}

			if over, sig := r.checkBudget(ctx); over {
				r.pool.CancelSession(r.sess.ID)
				r.cancelInflight(inflight)
				return true, sig
			}
		}
	}
	return escalated, blockedSig
}

// cancelInflight reconciles counts for tasks abandoned before their results
// were collected. The items keep built == false and are re-dispatched if the
// phase runs again.
func (r *run) cancelInflight(inflight map[string]*buildItem) {
	if len(inflight) == 0 {
		return
	}
	r.mu.Lock()
	r.sess.Tasks.Queued -= len(inflight)
	r.sess.Tasks.Cancelled += len(inflight)
	r.mu.Unlock()
}

// applyResult updates the item, counts, cost, and artifact set for one
// terminal task result.
func (r *run) applyResult(ctx context.Context, item *buildItem, res agent.TaskResult) {
	r.mu.Lock()
	r.sess.Tasks.Queued--
	if res.Status == agent.StatusSucceeded {
		r.sess.Tasks.Succeeded++
	} else {
		r.sess.Tasks.Failed++
	}
	r.sess.CostUSD += res.CostUSD
	r.mu.Unlock()

	if res.Status == agent.StatusSucceeded {
		item.lastErr = ""
		item.comprehensive = false
		item.built = true
		r.artifactSet[item.name] = swarm.Artifact{Name: item.name, Content: res.Output}
		r.emit(ctx, events.TypeTaskCompleted, map[string]any{
			"task_id": res.TaskID,
			"name":    item.name,
		})
		return
	}

	item.lastErr = res.Err
	r.emit(ctx, events.TypeTaskFailed, map[string]any{
		"task_id": res.TaskID,
		"name":    item.name,
		"error":   res.Err,
	})
}

// recordFailure routes one failure through the ladder and marks the item
// per the returned directive.
func (r *run) recordFailure(ctx context.Context, item *buildItem, res agent.TaskResult) (escalation.Directive, *escalation.Record) {
	directive, rec := r.ladder.Record(ctx, escalation.Failure{
		Signature: res.FailureSignature,
		Category:  string(res.Kind),
		Location:  item.name,
		Message:   res.Err,
	})

	item.comprehensive = directive == escalation.DirectiveComprehensive

	r.mu.Lock()
	r.sess.EscalationLevel = string(rec.Level)
	r.mu.Unlock()
	r.persistErrors(ctx)

	if directive == escalation.DirectiveEscalateHuman {
		r.emit(ctx, events.TypeEscalated, map[string]any{
			"signature": rec.Signature,
			"count":     rec.Count,
		})
	}
	return directive, rec
}

// checkBudget pauses the session when accumulated cost crosses the ceiling.
func (r *run) checkBudget(ctx context.Context) (bool, string) {
	limit := r.engine.config.BudgetUSD
	if limit <= 0 || r.budgetWaived {
		return false, ""
	}
	r.mu.Lock()
	cost := r.sess.CostUSD
	r.mu.Unlock()
	if cost < limit {
		return false, ""
	}
	r.emit(ctx, events.TypeBudgetExceeded, map[string]any{
		"cost_usd":   cost,
		"budget_usd": limit,
	})
	return true, budgetSignature
}

// afterTasksSucceed closes a successful build or fix phase: artifacts are
// persisted and the session moves toward verification.
func (r *run) afterTasksSucceed(ctx context.Context) loopState {
	arts := make([]artifacts.Artifact, 0, len(r.artifactSet))
	for _, a := range r.artifactSet {
		arts = append(arts, artifacts.Artifact{Name: a.Name, Content: a.Content})
	}
	if len(arts) > 0 {
		if err := r.engine.artifacts.Add(ctx, r.sess.ID, arts); err != nil {
			r.engine.logger.Warn("artifact store write failed",
				zap.String("session_id", r.sess.ID),
				zap.Error(err))
		}
	}

	r.mu.Lock()
	cur := r.sess.Phase
	r.mu.Unlock()
	if cur == session.PhaseFix {
		// The loop-back edge: fix closes through parallel_build into a new
		// verification round.
		r.toPhase(ctx, r.nextPhase(outcome{}))
	}
	r.toPhase(ctx, r.nextPhase(outcome{}))
	return stVerify
}

// verifyPhase runs one swarm round and routes the gate decision.
func (r *run) verifyPhase(ctx context.Context) loopState {
	r.mu.Lock()
	r.sess.Round++
	round := r.sess.Round
	r.mu.Unlock()

	in := swarm.Input{Contract: r.sess.Contract, Artifacts: r.artifactList()}

	type verifyResult struct {
		set *swarm.VerdictSet
		err error
	}
	resCh := make(chan verifyResult, 1)
	go func() {
		set, err := r.engine.verifiers.Run(ctx, round, in, r.prevSet)
		resCh <- verifyResult{set, err}
	}()

	var vr verifyResult
	for {
		select {
		case <-ctx.Done():
			return stDone
		case msg := <-r.ctrl:
			msg.reply <- ErrNotAwaitingDecision
			continue
		case vr = <-resCh:
		}
		break
	}

	if vr.err != nil {
		directive, rec := r.ladder.Record(ctx, escalation.Failure{
			Category: "verification",
			Location: "swarm",
			Message:  vr.err.Error(),
		})
		r.persistErrors(ctx)
		if directive == escalation.DirectiveEscalateHuman {
			return r.enterAwait(ctx, rec.Signature)
		}
		// Re-run the round.
		r.mu.Lock()
		r.sess.Round--
		r.mu.Unlock()
		return stVerify
	}

	set := vr.set
	r.prevSet = set
	r.mu.Lock()
	r.sess.LastVerdict = &session.VerdictSummary{
		Round:         set.Round(),
		Passed:        set.Passed(),
		WeightedScore: set.WeightedScore(),
		FailedChecks:  len(set.FailedChecks()),
	}
	r.mu.Unlock()
	r.persist(ctx)
	r.emit(ctx, events.TypeVerdict, map[string]any{
		"round":          set.Round(),
		"passed":         set.Passed(),
		"weighted_score": set.WeightedScore(),
		"failed_checks":  set.FailedChecks(),
	})

	if set.Passed() {
		r.toPhase(ctx, r.nextPhase(outcome{gatePassed: true}))
		return stIntent
	}

	// Gate failed: every failing verdict goes through the ladder before
	// the fix directive is decided.
	escalated := false
	blockedSig := ""
	comprehensive := false
	findings := r.renderFindings(set)
	for _, v := range set.Verdicts() {
		if v.Passed {
			continue
		}
		msg := v.Err
		if msg == "" {
			msg = strings.Join(v.Findings, "; ")
		}
		directive, rec := r.ladder.Record(ctx, escalation.Failure{
			Category: "verification",
			Location: v.VerifierID,
			Message:  msg,
		})
		r.mu.Lock()
		r.sess.EscalationLevel = string(rec.Level)
		r.mu.Unlock()
		switch directive {
		case escalation.DirectiveEscalateHuman:
			escalated = true
			blockedSig = rec.Signature
			r.emit(ctx, events.TypeEscalated, map[string]any{
				"signature": rec.Signature,
				"count":     rec.Count,
			})
		case escalation.DirectiveComprehensive:
			comprehensive = true
		}
	}
	r.persistErrors(ctx)

	r.markAllForFix(findings, comprehensive)
	if escalated {
		return r.enterAwait(ctx, blockedSig)
	}
	r.toPhase(ctx, r.nextPhase(outcome{}))
	return stFix
}

// intentPhase is the final gate: the artifact set must semantically satisfy
// the contract goal.
func (r *run) intentPhase(ctx context.Context) loopState {
	score, err := r.engine.artifacts.SimilarityToGoal(ctx, r.sess.ID, r.sess.Contract.Goal)
	if err != nil {
		if ctx.Err() != nil {
			return stDone
		}
		directive, rec := r.ladder.Record(ctx, escalation.Failure{
			Category: "intent",
			Location: "scoring",
			Message:  err.Error(),
		})
		r.persistErrors(ctx)
		if directive == escalation.DirectiveEscalateHuman {
			return r.enterAwait(ctx, rec.Signature)
		}
		return stIntent
	}

	if score >= r.engine.config.IntentThreshold {
		r.finishCompleted(ctx, score)
		return stDone
	}

	directive, rec := r.ladder.Record(ctx, escalation.Failure{
		Signature: "intent:unsatisfied",
		Category:  "intent",
		Location:  "goal",
		Message:   fmt.Sprintf("semantic score %.2f below threshold %.2f", score, r.engine.config.IntentThreshold),
	})
	r.mu.Lock()
	r.sess.EscalationLevel = string(rec.Level)
	r.mu.Unlock()
	r.persistErrors(ctx)

	r.markAllForFix(
		fmt.Sprintf("the artifact set does not satisfy the goal (semantic score %.2f); align the output with: %s", score, r.sess.Contract.Goal),
		directive == escalation.DirectiveComprehensive,
	)
	if directive == escalation.DirectiveEscalateHuman {
		return r.enterAwait(ctx, rec.Signature)
	}
	r.toPhase(ctx, r.nextPhase(outcome{}))
	return stBuild
}

// markAllForFix marks every item for re-dispatch with the given detail.
func (r *run) markAllForFix(detail string, comprehensive bool) {
	for _, item := range r.items {
		item.lastErr = detail
		item.comprehensive = comprehensive
	}
}

// enterAwait pauses the session for an operator decision.
func (r *run) enterAwait(ctx context.Context, sig string) loopState {
	r.mu.Lock()
	r.sess.BlockingSignature = sig
	r.mu.Unlock()
	r.toPhase(ctx, r.nextPhase(outcome{escalated: true}))
	r.emit(ctx, events.TypeAwaitingDecision, map[string]any{"signature": sig})
	return stAwait
}

// awaitPhase blocks until an operator decision arrives. Resume clears the
// blocking signature's comprehensive counter (never its occurrence count);
// override clears the signature entirely; abandon fails the session.
func (r *run) awaitPhase(ctx context.Context) loopState {
	for {
		select {
		case <-ctx.Done():
			return stDone

		case msg := <-r.ctrl:
			r.mu.Lock()
			sig := r.sess.BlockingSignature
			r.mu.Unlock()
			switch msg.decision {
			case DecisionAbandon:
				r.finishFailed(ctx, "abandoned by operator decision")
				msg.reply <- nil
				return stDone

			case DecisionResume:
				r.ladder.ClearComprehensive(sig)
			case DecisionOverride:
				r.ladder.Resolve(sig)
			}

			if sig == budgetSignature {
				r.budgetWaived = true
			}
			r.guidance = msg.guidance
			r.mu.Lock()
			r.sess.BlockingSignature = ""
			r.mu.Unlock()
			r.persistErrors(ctx)
			r.toPhase(ctx, r.nextPhase(outcome{}))
			msg.reply <- nil
			return stBuild
		}
	}
}

// artifactList returns the artifact set in stable name order.
func (r *run) artifactList() []swarm.Artifact {
	out := make([]swarm.Artifact, 0, len(r.artifactSet))
	for _, item := range r.items {
		if a, ok := r.artifactSet[item.name]; ok {
			out = append(out, a)
		}
	}
	return out
}

// renderFindings flattens a failed round's findings for fix prompts.
func (r *run) renderFindings(set *swarm.VerdictSet) string {
	var b strings.Builder
	for _, v := range set.Verdicts() {
		if v.Passed {
			continue
		}
		fmt.Fprintf(&b, "[%s] score %.0f", v.VerifierID, v.Score)
		if v.Err != "" {
			fmt.Fprintf(&b, " error: %s", v.Err)
		}
		for _, f := range v.Findings {
			fmt.Fprintf(&b, "\n- %s", f)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// historyDigest renders the full error history for comprehensive fixes.
func (r *run) historyDigest() string {
	var b strings.Builder
	for _, rec := range r.ladder.History() {
		fmt.Fprintf(&b, "%s [%s/%s] x%d: %s\n",
			rec.Signature, rec.Category, rec.Location, rec.Count, rec.Sample)
	}
	return strings.TrimSpace(b.String())
}

// toPhase transitions the session, persists it, and emits the phase event.
func (r *run) toPhase(ctx context.Context, next session.Phase) {
	r.mu.Lock()
	from := r.sess.Phase
	err := r.sess.Transition(next)
	r.mu.Unlock()
	if err != nil {
		r.engine.logger.Error("illegal phase transition",
			zap.String("session_id", r.sess.ID),
			zap.Error(err))
		return
	}
	r.persist(ctx)
	r.emit(ctx, events.TypePhase, map[string]any{
		"from": string(from),
		"to":   string(next),
	})
}

// finishCompleted closes the session successfully. Completion is the only
// point the error history resets.
func (r *run) finishCompleted(ctx context.Context, score float64) {
	r.mu.Lock()
	r.sess.Result = &session.Result{
		Success:       true,
		SemanticScore: score,
		CostUSD:       r.sess.CostUSD,
		FinishedAt:    time.Now(),
	}
	r.mu.Unlock()
	r.toPhase(ctx, session.PhaseCompletion)
	r.ladder.Reset()
	r.persistErrors(ctx)
	r.engine.completionsTotal.Add(ctx, 1)
	r.emit(ctx, events.TypeCompleted, map[string]any{
		"semantic_score": score,
		"cost_usd":       r.sess.CostUSD,
		"rounds":         r.sess.Round,
	})
	r.engine.logger.Info("build session completed",
		zap.String("session_id", r.sess.ID),
		zap.Float64("semantic_score", score),
	)
}

func (r *run) finishFailed(ctx context.Context, detail string) {
	r.mu.Lock()
	r.sess.Result = &session.Result{
		Success:    false,
		Detail:     detail,
		CostUSD:    r.sess.CostUSD,
		FinishedAt: time.Now(),
	}
	r.mu.Unlock()
	r.toPhase(ctx, session.PhaseFailed)
	r.emit(ctx, events.TypeFailed, map[string]any{"detail": detail})
}

func (r *run) finishCancelled(ctx context.Context) {
	r.mu.Lock()
	if r.sess.Phase.IsTerminal() {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()
	r.toPhase(ctx, session.PhaseCancelled)
	r.emit(ctx, events.TypeCancelled, nil)
}

// forceCancel is the grace-period fallback when the loop does not respond.
func (r *run) forceCancel(ctx context.Context) {
	r.finishCancelled(ctx)
}

// snapshot returns a deep copy safe for concurrent reads.
func (r *run) snapshot() *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess.Snapshot()
}

// persist writes the session record. Durability failures are logged, not
// fatal; the loop keeps driving.
func (r *run) persist(ctx context.Context) {
	data, err := json.Marshal(r.snapshot())
	if err != nil {
		r.engine.logger.Error("session marshal failed", zap.Error(err))
		return
	}
	if err := r.engine.store.Put(ctx, store.BucketSessions, r.sess.ID, data); err != nil {
		r.engine.logger.Warn("session persist failed",
			zap.String("session_id", r.sess.ID),
			zap.Error(err))
	}
}

// persistErrors writes the error history record.
func (r *run) persistErrors(ctx context.Context) {
	data, err := json.Marshal(r.ladder.History())
	if err != nil {
		r.engine.logger.Error("error history marshal failed", zap.Error(err))
		return
	}
	if err := r.engine.store.Put(ctx, store.BucketErrors, r.sess.ID, data); err != nil {
		r.engine.logger.Warn("error history persist failed",
			zap.String("session_id", r.sess.ID),
			zap.Error(err))
	}
}

// emit publishes a lifecycle event. Session state is always persisted
// before its event goes out; delivery is best-effort.
func (r *run) emit(ctx context.Context, t events.Type, payload map[string]any) {
	err := r.engine.sink.Publish(ctx, events.Event{
		SessionID: r.sess.ID,
		Type:      t,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		r.engine.logger.Warn("event publish failed",
			zap.String("session_id", r.sess.ID),
			zap.String("type", string(t)),
			zap.Error(err))
	}
}
