// Package provider defines the narrow contracts to the external completion
// and embedding services, with HTTP implementations. The orchestrator only
// ever sees the interfaces and never branches on provider identity.
package provider

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Request is one completion call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completion is the result of one completion call.
type Completion struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Completer produces text/code artifacts from prompts.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Embedder produces embedding vectors for semantic comparison.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Error is a classified provider failure. Transient errors (rate limits,
// timeouts, 5xx) are retryable within the current phase without touching
// the escalation ladder; permanent errors are not.
type Error struct {
	StatusCode int
	Message    string
	Transient  bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error (%d): %s", e.StatusCode, e.Message)
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return false
}

// classifyStatus maps an HTTP status to transience.
func classifyStatus(status int) bool {
	switch {
	case status == 408 || status == 429:
		return true
	case status >= 500:
		return true
	}
	return false
}

// Cosine returns the cosine similarity of two vectors, in [-1, 1].
// Returns 0 for mismatched or zero-length inputs (similarity unknown
// resolves toward failure, never success).
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
