package overflow

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillTracker(t *Tracker, chunks, chunkLen int) {
	sentence := "The build agent examined the repository layout and decided on a plan. "
	chunk := strings.Repeat(sentence, chunkLen/len(sentence)+1)[:chunkLen]
	for i := 0; i < chunks; i++ {
		t.AppendTranscript(fmt.Sprintf("step %d: %s", i, chunk))
	}
}

func TestTrackerPressure(t *testing.T) {
	cfg := &Config{SoftLimitBytes: 100, HardLimitBytes: 200, TargetRatio: 5, ResolutionWindow: 3, MaxFilePaths: 10}
	tr := NewTracker("ag_1", "ct_1", cfg)

	assert.Equal(t, PressureOK, tr.Pressure())

	tr.AppendTranscript(strings.Repeat("x", 120))
	assert.Equal(t, PressureSoft, tr.Pressure())

	tr.AppendTranscript(strings.Repeat("x", 120))
	assert.Equal(t, PressureHard, tr.Pressure())
}

func TestCompressRespectsRatioBound(t *testing.T) {
	cfg := DefaultConfig()
	tr := NewTracker("ag_1", "ct_ref_verbatim", cfg)
	tr.SetCurrentTask("implement the storage layer")
	tr.AddPending("write integration tests")
	tr.AddResolution("fixed nil pointer in parser")
	tr.AddFilePath("internal/store/store.go")
	fillTracker(tr, 40, 4096)

	snap, err := NewManager(cfg, nil).Compress(tr, false)
	require.NoError(t, err)

	bound := int(float64(snap.OriginalBytes) / cfg.TargetRatio)
	assert.LessOrEqual(t, snap.Size(), bound, "snapshot must fit the configured ratio")
	assert.Equal(t, "ct_ref_verbatim", snap.ContractRef, "contract reference is never compressed")
	assert.Equal(t, "implement the storage layer", snap.CurrentTask)
	assert.Contains(t, snap.FilePaths, "internal/store/store.go")
	assert.NotEmpty(t, snap.Digest)
}

func TestResolutionWindowBounded(t *testing.T) {
	cfg := &Config{SoftLimitBytes: 1 << 20, HardLimitBytes: 2 << 20, TargetRatio: 2, ResolutionWindow: 3, MaxFilePaths: 10}
	tr := NewTracker("ag_1", "ct_1", cfg)
	for i := 0; i < 10; i++ {
		tr.AddResolution(fmt.Sprintf("resolution %d", i))
	}
	fillTracker(tr, 4, 1024)

	snap, err := NewManager(cfg, nil).Compress(tr, false)
	require.NoError(t, err)
	require.Len(t, snap.RecentResolutions, 3)
	assert.Equal(t, "resolution 9", snap.RecentResolutions[2], "window keeps the most recent")
}

func TestSnapshotConsumedExactlyOnce(t *testing.T) {
	tr := NewTracker("ag_1", "ct_1", DefaultConfig())
	fillTracker(tr, 10, 1024)

	snap, err := NewManager(DefaultConfig(), nil).Compress(tr, false)
	require.NoError(t, err)

	seed, err := snap.Consume()
	require.NoError(t, err)
	assert.Contains(t, seed, "Contract: ct_1")

	_, err = snap.Consume()
	assert.ErrorIs(t, err, ErrSnapshotConsumed)
}

func TestMaybeHandoffSoftWaitsForBoundary(t *testing.T) {
	cfg := &Config{SoftLimitBytes: 500, HardLimitBytes: 1 << 20, TargetRatio: 5, ResolutionWindow: 3, MaxFilePaths: 10}
	tr := NewTracker("ag_1", "ct_1", cfg)
	fillTracker(tr, 2, 512)
	require.Equal(t, PressureSoft, tr.Pressure())

	mgr := NewManager(cfg, nil)
	spawned := 0
	spawn := func(ctx context.Context, seed string) error {
		spawned++
		return nil
	}

	// Mid-task: soft pressure does not act.
	snap, err := mgr.MaybeHandoff(context.Background(), tr, false, spawn)
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.Zero(t, spawned)

	// At a safe boundary it does.
	snap, err = mgr.MaybeHandoff(context.Background(), tr, true, spawn)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 1, spawned)
	assert.False(t, snap.Forced)
	assert.Less(t, tr.Size(), 500, "tracker resets to the compressed baseline")
}

func TestMaybeHandoffHardActsMidTask(t *testing.T) {
	cfg := &Config{SoftLimitBytes: 100, HardLimitBytes: 400, TargetRatio: 5, ResolutionWindow: 3, MaxFilePaths: 10}
	tr := NewTracker("ag_1", "ct_1", cfg)
	fillTracker(tr, 2, 512)
	require.Equal(t, PressureHard, tr.Pressure())

	mgr := NewManager(cfg, nil)
	snap, err := mgr.MaybeHandoff(context.Background(), tr, false, func(ctx context.Context, seed string) error {
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.Forced, "hard-threshold mid-task compression is forced")
}

func TestMaybeHandoffAbortsWhenSuccessorRejects(t *testing.T) {
	cfg := &Config{SoftLimitBytes: 100, HardLimitBytes: 200, TargetRatio: 5, ResolutionWindow: 3, MaxFilePaths: 10}
	tr := NewTracker("ag_1", "ct_1", cfg)
	fillTracker(tr, 2, 512)

	mgr := NewManager(cfg, nil)
	before := tr.Size()
	_, err := mgr.MaybeHandoff(context.Background(), tr, true, func(ctx context.Context, seed string) error {
		return fmt.Errorf("successor unavailable")
	})
	require.Error(t, err)
	assert.Equal(t, before, tr.Size(), "predecessor state survives a failed handoff")
}

func TestCompressTranscriptKeepsEarlyContext(t *testing.T) {
	text := "The goal is a payment service. " +
		strings.Repeat("Intermediate musing about nothing in particular went here today. ", 50) +
		"Final decision: use the ledger table."

	out := compressTranscript(text, len(text)/5)
	assert.LessOrEqual(t, len(out), len(text)/5+1)
	assert.Contains(t, out, "payment service", "early context is favored")
}

func TestCompressTranscriptNoopWhenSmall(t *testing.T) {
	assert.Equal(t, "tiny", compressTranscript("tiny", 100))
}
