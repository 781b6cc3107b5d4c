// Package session holds the build session aggregate and the session store.
//
// A Session is the aggregate root for one orchestrated build: current phase,
// phase history, task counts, escalation state, and completion result. All
// mutation of a live session goes through its owning orchestrator loop
// (single-writer); everything else reads immutable snapshots.
package session

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/forged/internal/contract"
)

// Phase is a named stage of the build loop state machine.
type Phase string

const (
	PhaseInitialization     Phase = "initialization"
	PhaseParallelBuild      Phase = "parallel_build"
	PhaseVerification       Phase = "verification"
	PhaseFix                Phase = "fix"
	PhaseIntentSatisfaction Phase = "intent_satisfaction"
	PhaseCompletion         Phase = "completion"
	PhaseAwaitingDecision   Phase = "awaiting_decision"
	PhaseFailed             Phase = "failed"
	PhaseCancelled          Phase = "cancelled"
)

// IsTerminal reports whether the phase ends the session.
func (p Phase) IsTerminal() bool {
	switch p {
	case PhaseCompletion, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// validTransitions encodes every legal phase edge. Transitions are total
// functions of (current phase, outcome); anything not listed is rejected.
var validTransitions = map[Phase][]Phase{
	PhaseInitialization:     {PhaseParallelBuild, PhaseFailed, PhaseCancelled},
	PhaseParallelBuild:      {PhaseVerification, PhaseAwaitingDecision, PhaseFailed, PhaseCancelled},
	PhaseVerification:       {PhaseFix, PhaseIntentSatisfaction, PhaseAwaitingDecision, PhaseFailed, PhaseCancelled},
	PhaseFix:                {PhaseParallelBuild, PhaseAwaitingDecision, PhaseFailed, PhaseCancelled},
	PhaseIntentSatisfaction: {PhaseCompletion, PhaseParallelBuild, PhaseAwaitingDecision, PhaseFailed, PhaseCancelled},
	PhaseAwaitingDecision:   {PhaseParallelBuild, PhaseFailed, PhaseCancelled},
	PhaseCompletion:         {},
	PhaseFailed:             {},
	PhaseCancelled:          {},
}

// CanTransitionTo reports whether the edge p -> next is legal.
func (p Phase) CanTransitionTo(next Phase) bool {
	for _, allowed := range validTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PhaseEntry records one phase the session passed through.
type PhaseEntry struct {
	Phase     Phase     `json:"phase"`
	EnteredAt time.Time `json:"entered_at"`
}

// TaskCounts summarizes agent task states for status queries.
type TaskCounts struct {
	Queued    int `json:"queued"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// VerdictSummary is the status-facing view of the latest verification round.
type VerdictSummary struct {
	Round         int     `json:"round"`
	Passed        bool    `json:"passed"`
	WeightedScore float64 `json:"weighted_score"`
	FailedChecks  int     `json:"failed_checks"`
}

// Result is the completion outcome of a finished session.
type Result struct {
	Success       bool      `json:"success"`
	Detail        string    `json:"detail,omitempty"`
	SemanticScore float64   `json:"semantic_score,omitempty"`
	CostUSD       float64   `json:"cost_usd"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Session is the aggregate root for one build.
type Session struct {
	ID           string             `json:"id"`
	Contract     *contract.Contract `json:"contract"`
	ContractHash string             `json:"contract_hash"`

	Phase        Phase        `json:"phase"`
	PhaseHistory []PhaseEntry `json:"phase_history"`

	Tasks           TaskCounts      `json:"tasks"`
	Round           int             `json:"round"`
	LastVerdict     *VerdictSummary `json:"last_verdict,omitempty"`
	EscalationLevel string          `json:"escalation_level,omitempty"`

	// BlockingSignature is set while the session sits in awaiting_decision:
	// the error signature whose escalation cap was exceeded.
	BlockingSignature string `json:"blocking_signature,omitempty"`

	CostUSD float64 `json:"cost_usd"`
	Result  *Result `json:"result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a session in the initialization phase for a locked contract.
func New(id string, c *contract.Contract) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		Contract:     c.Clone(),
		ContractHash: c.Hash(),
		Phase:        PhaseInitialization,
		PhaseHistory: []PhaseEntry{{Phase: PhaseInitialization, EnteredAt: now}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Transition moves the session to the next phase, appending to history.
// Returns an error for edges the state machine does not allow.
func (s *Session) Transition(next Phase) error {
	if !s.Phase.CanTransitionTo(next) {
		return fmt.Errorf("session %s: cannot transition from %s to %s", s.ID, s.Phase, next)
	}
	s.Phase = next
	now := time.Now()
	s.PhaseHistory = append(s.PhaseHistory, PhaseEntry{Phase: next, EnteredAt: now})
	s.UpdatedAt = now
	return nil
}

// Snapshot returns a deep copy safe for concurrent reads.
func (s *Session) Snapshot() *Session {
	clone := *s
	clone.Contract = s.Contract.Clone()
	clone.PhaseHistory = append([]PhaseEntry(nil), s.PhaseHistory...)
	if s.LastVerdict != nil {
		v := *s.LastVerdict
		clone.LastVerdict = &v
	}
	if s.Result != nil {
		r := *s.Result
		clone.Result = &r
	}
	return &clone
}
