// Package swarm fans verification out to independent verifiers and
// aggregates their verdicts into a gate decision. The gate is fail-closed:
// a required verifier that errors or times out fails the round.
package swarm

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/forged/internal/contract"
)

// ReverifyPolicy selects which verifiers re-run after a fix round.
type ReverifyPolicy string

const (
	// ReverifyFull re-runs every verifier against the rebuilt artifact set.
	ReverifyFull ReverifyPolicy = "full"
	// ReverifyIncremental re-runs only verifiers that failed last round and
	// carries passing verdicts forward.
	ReverifyIncremental ReverifyPolicy = "incremental"
)

// Artifact is one produced build output under verification.
type Artifact struct {
	Name    string
	Content string
}

// Input is what a verification round examines.
type Input struct {
	Contract  *contract.Contract
	Artifacts []Artifact
}

// Verifier checks one aspect of the build output.
type Verifier interface {
	// ID is stable across rounds; incremental reverification keys on it.
	ID() string
	// Required verifiers must pass for the gate to open.
	Required() bool
	// Weight scales this verifier's score in the weighted mean.
	Weight() float64
	Verify(ctx context.Context, in Input) (Verdict, error)
}

// Verdict is one verifier's judgement of the artifact set.
type Verdict struct {
	VerifierID string
	Required   bool
	Weight     float64
	Passed     bool

	// Score is 0-100.
	Score    float64
	Findings []string

	// Err records a verifier error or timeout; such verdicts always carry
	// score 0 and Passed false.
	Err string

	Duration time.Duration
}

// VerdictSet is the immutable outcome of one verification round.
type VerdictSet struct {
	round     int
	verdicts  []Verdict
	threshold float64
}

// NewVerdictSet copies the verdicts into an immutable set.
func NewVerdictSet(round int, threshold float64, verdicts []Verdict) *VerdictSet {
	return &VerdictSet{
		round:     round,
		verdicts:  append([]Verdict(nil), verdicts...),
		threshold: threshold,
	}
}

// Round returns the verification round this set belongs to.
func (s *VerdictSet) Round() int { return s.round }

// Verdicts returns a copy of the verdicts.
func (s *VerdictSet) Verdicts() []Verdict {
	return append([]Verdict(nil), s.verdicts...)
}

// WeightedScore is the weight-scaled mean score across all verdicts.
func (s *VerdictSet) WeightedScore() float64 {
	var sum, weights float64
	for _, v := range s.verdicts {
		w := v.Weight
		if w <= 0 {
			w = 1
		}
		sum += v.Score * w
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

// Passed reports the gate decision: every required verifier passed and the
// weighted mean score meets the threshold.
func (s *VerdictSet) Passed() bool {
	if len(s.verdicts) == 0 {
		return false
	}
	for _, v := range s.verdicts {
		if v.Required && !v.Passed {
			return false
		}
	}
	return s.WeightedScore() >= s.threshold
}

// FailedChecks lists the IDs of verifiers that did not pass.
func (s *VerdictSet) FailedChecks() []string {
	var out []string
	for _, v := range s.verdicts {
		if !v.Passed {
			out = append(out, v.VerifierID)
		}
	}
	return out
}

// Get returns the verdict for a verifier ID.
func (s *VerdictSet) Get(verifierID string) (Verdict, bool) {
	for _, v := range s.verdicts {
		if v.VerifierID == verifierID {
			return v, true
		}
	}
	return Verdict{}, false
}
