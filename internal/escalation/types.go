// Package escalation implements repeated-failure detection: failures are
// deduplicated by a stable signature and walked up a ladder from plain
// retries through comprehensive analysis to a human handoff.
package escalation

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"time"
)

// Level is the per-signature escalation state.
type Level string

const (
	// LevelObserved covers the first occurrences below the repeat threshold.
	LevelObserved Level = "observed"

	// LevelRepeated means the signature crossed the repeat threshold and
	// fix attempts run in comprehensive analysis mode.
	LevelRepeated Level = "repeated"

	// LevelHuman means comprehensive attempts are exhausted and the
	// session must pause for an external decision.
	LevelHuman Level = "escalated_to_human"
)

// Directive tells the orchestrator how to react to a recorded failure.
type Directive string

const (
	// DirectiveRetry means a narrow fix against the latest error.
	DirectiveRetry Directive = "retry"

	// DirectiveComprehensive means the next fix task must re-derive
	// context from the full session error history and artifact state.
	DirectiveComprehensive Directive = "comprehensive"

	// DirectiveEscalateHuman means pause in awaiting_decision.
	DirectiveEscalateHuman Directive = "escalate_human"
)

// Failure is one observed failure from any phase.
type Failure struct {
	// Signature overrides derivation when set (e.g. "timeout:build").
	Signature string

	Category string
	Location string
	Message  string
}

// Record is the tracked state for one signature.
type Record struct {
	Signature string    `json:"signature"`
	Category  string    `json:"category"`
	Location  string    `json:"location,omitempty"`
	Sample    string    `json:"sample"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Level     Level     `json:"level"`

	// ComprehensiveAttempts counts fix rounds issued in comprehensive
	// mode for this signature. Capped; cleared only by an explicit
	// resolve or resume-with-guidance.
	ComprehensiveAttempts int `json:"comprehensive_attempts"`
}

var (
	hexRunRe   = regexp.MustCompile(`\b[0-9a-fA-F]{8,}\b`)
	digitRunRe = regexp.MustCompile(`\d+`)
	spaceRunRe = regexp.MustCompile(`\s+`)
)

// normalize strips retry noise (addresses, counters, IDs) from a message so
// recurrences of the same fault collapse to one signature.
func normalize(msg string) string {
	msg = hexRunRe.ReplaceAllString(msg, "#")
	msg = digitRunRe.ReplaceAllString(msg, "#")
	msg = spaceRunRe.ReplaceAllString(msg, " ")
	return strings.TrimSpace(strings.ToLower(msg))
}

// Signature derives the stable identifier for a failure.
func Signature(category, location, message string) string {
	h := sha256.Sum256([]byte(category + "|" + location + "|" + normalize(message)))
	return "sig_" + hex.EncodeToString(h[:])[:12]
}

// signatureFor resolves the effective signature of a failure.
func signatureFor(f Failure) string {
	if f.Signature != "" {
		return f.Signature
	}
	return Signature(f.Category, f.Location, f.Message)
}
