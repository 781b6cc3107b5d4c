// Package contract defines the intent contract: the locked, immutable
// specification of goal and constraints that a build session is verified
// against.
package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotLocked is returned when a session is started with an unlocked contract.
	ErrNotLocked = errors.New("contract: not locked")

	// ErrMutationAfterLock is returned when a caller attempts to modify a locked contract.
	ErrMutationAfterLock = errors.New("contract: mutation after lock")
)

// Contract is the immutable record of intent for one build session.
// Once Locked is true no field may change; every downstream comparison
// is against this exact snapshot.
type Contract struct {
	// ID uniquely identifies the contract.
	ID string `json:"id"`

	// Goal is the human-readable description of what to build.
	Goal string `json:"goal"`

	// SuccessCriteria enumerates the conditions that must hold at completion.
	SuccessCriteria []string `json:"success_criteria"`

	// AntiPatterns enumerates behaviors and constructs the build must avoid.
	AntiPatterns []string `json:"anti_patterns,omitempty"`

	// Fingerprint is an opaque semantic identifier produced by the
	// embedding collaborator at lock time. Carried verbatim, never
	// recomputed by this core.
	Fingerprint string `json:"fingerprint,omitempty"`

	// Locked marks the contract as frozen. Start rejects unlocked contracts.
	Locked bool `json:"locked"`

	// CreatedAt is the lock timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks that the contract is well-formed enough to drive a build.
func (c *Contract) Validate() error {
	if strings.TrimSpace(c.Goal) == "" {
		return fmt.Errorf("contract: goal is required")
	}
	if len(c.SuccessCriteria) == 0 {
		return fmt.Errorf("contract: at least one success criterion is required")
	}
	for i, sc := range c.SuccessCriteria {
		if strings.TrimSpace(sc) == "" {
			return fmt.Errorf("contract: success criterion %d is empty", i)
		}
	}
	return nil
}

// hashable is the canonical subset of fields covered by Hash. Field order
// is fixed so the digest is stable across encodings of the same contract.
type hashable struct {
	ID              string   `json:"id"`
	Goal            string   `json:"goal"`
	SuccessCriteria []string `json:"success_criteria"`
	AntiPatterns    []string `json:"anti_patterns"`
	Fingerprint     string   `json:"fingerprint"`
}

// Hash returns a stable hex digest of the contract's immutable content.
// The orchestrator records it at start and re-checks it at completion to
// prove the contract was never mutated mid-session.
func (c *Contract) Hash() string {
	data, err := json.Marshal(hashable{
		ID:              c.ID,
		Goal:            c.Goal,
		SuccessCriteria: c.SuccessCriteria,
		AntiPatterns:    c.AntiPatterns,
		Fingerprint:     c.Fingerprint,
	})
	if err != nil {
		// Marshal of plain strings cannot fail; keep the signature simple.
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Clone returns a deep copy, used when handing the contract to workers so
// no goroutine ever holds a mutable alias of the session's snapshot.
func (c *Contract) Clone() *Contract {
	clone := *c
	clone.SuccessCriteria = append([]string(nil), c.SuccessCriteria...)
	clone.AntiPatterns = append([]string(nil), c.AntiPatterns...)
	return &clone
}
