package overflow

import (
	"sync"
)

// Tracker accumulates one agent's working state and watches its size.
// Workers append transcript chunks, task descriptions, error resolutions,
// and touched file paths; the tracker reports threshold pressure.
type Tracker struct {
	config *Config

	mu          sync.Mutex
	agentID     string
	contractRef string
	currentTask string
	pending     []string
	resolutions []string
	filePaths   []string
	transcript  []string
	bytes       int
}

// NewTracker creates a tracker for one agent's working state.
func NewTracker(agentID, contractRef string, cfg *Config) *Tracker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Tracker{
		config:      cfg,
		agentID:     agentID,
		contractRef: contractRef,
	}
}

// AppendTranscript records a chunk of agent reasoning/output.
func (t *Tracker) AppendTranscript(chunk string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transcript = append(t.transcript, chunk)
	t.bytes += len(chunk)
}

// SetCurrentTask records the in-flight sub-task description.
func (t *Tracker) SetCurrentTask(desc string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bytes += len(desc) - len(t.currentTask)
	t.currentTask = desc
}

// AddPending records a pending sub-task description.
func (t *Tracker) AddPending(desc string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, desc)
	t.bytes += len(desc)
}

// AddResolution records a recent error resolution.
func (t *Tracker) AddResolution(note string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resolutions = append(t.resolutions, note)
	t.bytes += len(note)
}

// AddFilePath records a touched file path (path only, never content).
func (t *Tracker) AddFilePath(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, existing := range t.filePaths {
		if existing == path {
			return
		}
	}
	t.filePaths = append(t.filePaths, path)
	t.bytes += len(path)
}

// Size returns the tracked working-state size in bytes.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytes
}

// Pressure reports the threshold state.
func (t *Tracker) Pressure() Pressure {
	size := t.Size()
	switch {
	case size >= t.config.HardLimitBytes:
		return PressureHard
	case size >= t.config.SoftLimitBytes:
		return PressureSoft
	default:
		return PressureOK
	}
}

// snapshotInputs returns copies of the tracked state for compression.
func (t *Tracker) snapshotInputs() (current string, pending, resolutions, paths []string, transcript string, size int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current = t.currentTask
	pending = append([]string(nil), t.pending...)

	resolutions = t.resolutions
	if len(resolutions) > t.config.ResolutionWindow {
		resolutions = resolutions[len(resolutions)-t.config.ResolutionWindow:]
	}
	resolutions = append([]string(nil), resolutions...)

	paths = t.filePaths
	if len(paths) > t.config.MaxFilePaths {
		paths = paths[len(paths)-t.config.MaxFilePaths:]
	}
	paths = append([]string(nil), paths...)

	var joined []byte
	for i, chunk := range t.transcript {
		if i > 0 {
			joined = append(joined, '\n')
		}
		joined = append(joined, chunk...)
	}
	return current, pending, resolutions, paths, string(joined), t.bytes
}

// resetTo replaces the tracked state with the successor's seed. Called
// after a handoff so the successor starts from the compressed baseline.
func (t *Tracker) resetTo(seed string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transcript = []string{seed}
	t.pending = nil
	t.resolutions = nil
	t.bytes = len(seed) + len(t.currentTask)
	for _, p := range t.filePaths {
		t.bytes += len(p)
	}
	// File paths survive verbatim; they are already paths-only.
}
