package swarm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/forged/internal/provider"
)

// ReviewVerifier judges the artifact set with a completion model. The model
// is asked for a score, a pass/fail line, and findings in a fixed format.
type ReviewVerifier struct {
	id        string
	required  bool
	weight    float64
	passScore float64
	completer provider.Completer
}

// NewReviewVerifier creates a completion-backed review verifier.
func NewReviewVerifier(id string, required bool, weight, passScore float64, completer provider.Completer) *ReviewVerifier {
	return &ReviewVerifier{
		id:        id,
		required:  required,
		weight:    weight,
		passScore: passScore,
		completer: completer,
	}
}

func (r *ReviewVerifier) ID() string      { return r.id }
func (r *ReviewVerifier) Required() bool  { return r.required }
func (r *ReviewVerifier) Weight() float64 { return r.weight }

// Verify prompts the model with the contract criteria and artifacts and
// parses its structured reply.
func (r *ReviewVerifier) Verify(ctx context.Context, in Input) (Verdict, error) {
	var b strings.Builder
	b.WriteString("Goal:\n")
	b.WriteString(in.Contract.Goal)
	b.WriteString("\n\nSuccess criteria:\n")
	for _, c := range in.Contract.SuccessCriteria {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	if len(in.Contract.AntiPatterns) > 0 {
		b.WriteString("\nForbidden patterns:\n")
		for _, a := range in.Contract.AntiPatterns {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	b.WriteString("\nArtifacts:\n")
	for _, a := range in.Artifacts {
		fmt.Fprintf(&b, "=== %s ===\n%s\n", a.Name, a.Content)
	}

	comp, err := r.completer.Complete(ctx, provider.Request{
		System: "You are a code review verifier. Judge the artifacts against the " +
			"criteria. Reply with exactly one SCORE: <0-100> line, then zero or " +
			"more FINDING: <issue> lines.",
		Prompt:    b.String(),
		MaxTokens: 2048,
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("review verifier: %w", err)
	}

	score, findings, err := parseReview(comp.Content)
	if err != nil {
		return Verdict{}, fmt.Errorf("review verifier: %w", err)
	}
	return Verdict{
		Passed:   score >= r.passScore,
		Score:    score,
		Findings: findings,
	}, nil
}

// parseReview extracts the SCORE and FINDING lines from a model reply.
func parseReview(content string) (float64, []string, error) {
	var (
		score     float64
		haveScore bool
		findings  []string
	)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "SCORE:"):
			raw := strings.TrimSpace(strings.TrimPrefix(line, "SCORE:"))
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("unparseable score %q", raw)
			}
			if v < 0 {
				v = 0
			}
			if v > 100 {
				v = 100
			}
			score = v
			haveScore = true
		case strings.HasPrefix(line, "FINDING:"):
			if f := strings.TrimSpace(strings.TrimPrefix(line, "FINDING:")); f != "" {
				findings = append(findings, f)
			}
		}
	}
	if !haveScore {
		return 0, nil, fmt.Errorf("reply carried no SCORE line")
	}
	return score, findings, nil
}

// SemanticVerifier scores how closely the artifact set tracks the contract
// goal in embedding space.
type SemanticVerifier struct {
	id        string
	required  bool
	weight    float64
	passScore float64
	embedder  provider.Embedder
}

// NewSemanticVerifier creates an embedding-backed semantic verifier.
func NewSemanticVerifier(id string, required bool, weight, passScore float64, embedder provider.Embedder) *SemanticVerifier {
	return &SemanticVerifier{
		id:        id,
		required:  required,
		weight:    weight,
		passScore: passScore,
		embedder:  embedder,
	}
}

func (s *SemanticVerifier) ID() string      { return s.id }
func (s *SemanticVerifier) Required() bool  { return s.required }
func (s *SemanticVerifier) Weight() float64 { return s.weight }

// Verify embeds the goal and the artifact digest and scores their cosine
// similarity on a 0-100 scale.
func (s *SemanticVerifier) Verify(ctx context.Context, in Input) (Verdict, error) {
	goalVec, err := s.embedder.Embed(ctx, in.Contract.Goal)
	if err != nil {
		return Verdict{}, fmt.Errorf("semantic verifier: embed goal: %w", err)
	}

	var digest strings.Builder
	for _, a := range in.Artifacts {
		digest.WriteString(a.Name)
		digest.WriteString("\n")
		digest.WriteString(a.Content)
		digest.WriteString("\n")
	}
	artVec, err := s.embedder.Embed(ctx, digest.String())
	if err != nil {
		return Verdict{}, fmt.Errorf("semantic verifier: embed artifacts: %w", err)
	}

	score := provider.Cosine(goalVec, artVec) * 100
	if score < 0 {
		score = 0
	}
	return Verdict{
		Passed: score >= s.passScore,
		Score:  score,
	}, nil
}
