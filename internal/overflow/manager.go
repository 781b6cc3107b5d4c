package overflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HandoffFunc spawns the successor agent with the snapshot seed as its sole
// initial input and returns once the successor has acknowledged receipt.
// The predecessor is only torn down after this returns nil.
type HandoffFunc func(ctx context.Context, seed string) error

// Manager produces snapshots and drives the handoff protocol. It sits
// underneath long-lived agent tasks; the orchestrator never sees a handoff
// as anything other than an agent-pool internal.
type Manager struct {
	config *Config
	logger *zap.Logger
}

// NewManager creates an overflow manager.
func NewManager(cfg *Config, logger *zap.Logger) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{config: cfg, logger: logger}
}

// Compress builds a snapshot from the tracker's current state. The contract
// reference, task descriptions, resolution window, and file paths carry
// verbatim; the transcript is compressed to fit the target ratio.
func (m *Manager) Compress(t *Tracker, forced bool) (*Snapshot, error) {
	current, pending, resolutions, paths, transcript, size := t.snapshotInputs()
	if size == 0 {
		return nil, fmt.Errorf("overflow: nothing to compress")
	}

	budget := int(float64(size) / m.config.TargetRatio)

	snap := &Snapshot{
		ID:                "snap_" + uuid.New().String()[:8],
		AgentID:           t.agentID,
		ContractRef:       t.contractRef,
		CurrentTask:       current,
		PendingTasks:      pending,
		RecentResolutions: resolutions,
		FilePaths:         paths,
		OriginalBytes:     size,
		CreatedAt:         time.Now(),
		Forced:            forced,
	}

	// Everything retained verbatim eats into the digest budget. The
	// contract reference is never sacrificed; the digest shrinks instead.
	overhead := snap.Size()
	digestBudget := budget - overhead
	if digestBudget < 0 {
		digestBudget = 0
	}
	snap.Digest = compressTranscript(transcript, digestBudget)

	// The serialized snapshot must respect the ratio bound even after
	// JSON overhead; trim the digest until it fits.
	for snap.Size() > budget && len(snap.Digest) > 0 {
		cut := len(snap.Digest) - (snap.Size() - budget)
		if cut < 0 {
			cut = 0
		}
		snap.Digest = snap.Digest[:cut]
	}

	m.logger.Debug("context snapshot created",
		zap.String("snapshot_id", snap.ID),
		zap.String("agent_id", t.agentID),
		zap.Int("original_bytes", size),
		zap.Int("snapshot_bytes", snap.Size()),
		zap.Bool("forced", forced),
	)

	return snap, nil
}

// MaybeHandoff checks pressure and, when a threshold is crossed, compresses
// and transfers state to a successor. atSafeBoundary distinguishes task/phase
// edges (where soft pressure may act) from mid-task checks (hard only).
// Returns the snapshot when a handoff happened, nil otherwise.
func (m *Manager) MaybeHandoff(ctx context.Context, t *Tracker, atSafeBoundary bool, spawn HandoffFunc) (*Snapshot, error) {
	pressure := t.Pressure()

	switch pressure {
	case PressureOK:
		return nil, nil
	case PressureSoft:
		if !atSafeBoundary {
			return nil, nil
		}
	case PressureHard:
		// Act immediately, even mid-task.
	}

	snap, err := m.Compress(t, pressure == PressureHard && !atSafeBoundary)
	if err != nil {
		return nil, err
	}

	seed, err := snap.Consume()
	if err != nil {
		return nil, err
	}

	// Spawn the successor and wait for its acknowledgement before the
	// predecessor state is discarded.
	if err := spawn(ctx, seed); err != nil {
		return nil, fmt.Errorf("overflow: successor spawn failed: %w", err)
	}

	t.resetTo(seed)

	m.logger.Info("agent handoff complete",
		zap.String("snapshot_id", snap.ID),
		zap.String("agent_id", t.agentID),
		zap.String("pressure", pressure.String()),
	)

	return snap, nil
}
