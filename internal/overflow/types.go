// Package overflow prevents agent failure from unbounded accumulated
// working state. A tracker watches an agent's working-memory size against
// soft and hard thresholds; crossing them produces a compressed snapshot
// that a successor agent resumes from.
package overflow

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrSnapshotConsumed is returned when a snapshot is consumed twice.
// A snapshot seeds exactly one successor.
var ErrSnapshotConsumed = errors.New("overflow: snapshot already consumed")

// Pressure is the threshold state of an agent's working memory.
type Pressure int

const (
	// PressureOK means below the soft threshold.
	PressureOK Pressure = iota
	// PressureSoft means compression should run at the next safe boundary.
	PressureSoft
	// PressureHard means compression must run immediately, mid-task if
	// necessary, accepting loss of in-flight reasoning.
	PressureHard
)

func (p Pressure) String() string {
	switch p {
	case PressureSoft:
		return "soft"
	case PressureHard:
		return "hard"
	default:
		return "ok"
	}
}

// Config holds overflow thresholds and compression targets.
type Config struct {
	// SoftLimitBytes arms compression at the next safe boundary.
	SoftLimitBytes int `json:"soft_limit_bytes" koanf:"soft_limit_bytes"`

	// HardLimitBytes forces immediate compression.
	HardLimitBytes int `json:"hard_limit_bytes" koanf:"hard_limit_bytes"`

	// TargetRatio is the compression target; the serialized snapshot must
	// be at most 1/TargetRatio of the tracked state size.
	TargetRatio float64 `json:"target_ratio" koanf:"target_ratio"`

	// ResolutionWindow bounds how many recent error resolutions survive
	// a handoff.
	ResolutionWindow int `json:"resolution_window" koanf:"resolution_window"`

	// MaxFilePaths bounds the retained file-path history.
	MaxFilePaths int `json:"max_file_paths" koanf:"max_file_paths"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() *Config {
	return &Config{
		SoftLimitBytes:   96 * 1024,
		HardLimitBytes:   128 * 1024,
		TargetRatio:      5.0,
		ResolutionWindow: 5,
		MaxFilePaths:     50,
	}
}

// Snapshot is the compressed, transferable state handed to a successor
// agent. The contract reference is carried verbatim, never compressed.
type Snapshot struct {
	ID          string `json:"id"`
	AgentID     string `json:"agent_id"`
	ContractRef string `json:"contract_ref"`

	CurrentTask       string   `json:"current_task,omitempty"`
	PendingTasks      []string `json:"pending_tasks,omitempty"`
	RecentResolutions []string `json:"recent_resolutions,omitempty"`
	FilePaths         []string `json:"file_paths,omitempty"`

	// Digest is the extractively compressed transcript.
	Digest string `json:"digest"`

	OriginalBytes int       `json:"original_bytes"`
	CreatedAt     time.Time `json:"created_at"`
	Forced        bool      `json:"forced"`

	mu       sync.Mutex
	consumed bool
}

// Size returns the serialized snapshot size in bytes.
func (s *Snapshot) Size() int {
	data, err := json.Marshal(s)
	if err != nil {
		return 0
	}
	return len(data)
}

// Consume marks the snapshot used and returns the seed text for the
// successor agent. A second call fails: a snapshot is consumed exactly once
// and discarded after.
func (s *Snapshot) Consume() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumed {
		return "", ErrSnapshotConsumed
	}
	s.consumed = true
	return s.seed(), nil
}

// seed renders the snapshot as the successor's sole initial input.
func (s *Snapshot) seed() string {
	var b []byte
	b = append(b, "Contract: "...)
	b = append(b, s.ContractRef...)
	if s.CurrentTask != "" {
		b = append(b, "\nCurrent task: "...)
		b = append(b, s.CurrentTask...)
	}
	for _, p := range s.PendingTasks {
		b = append(b, "\nPending: "...)
		b = append(b, p...)
	}
	for _, r := range s.RecentResolutions {
		b = append(b, "\nResolved: "...)
		b = append(b, r...)
	}
	for _, f := range s.FilePaths {
		b = append(b, "\nFile: "...)
		b = append(b, f...)
	}
	b = append(b, "\n\nPrior progress summary:\n"...)
	b = append(b, s.Digest...)
	return string(b)
}
