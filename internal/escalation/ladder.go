package escalation

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/forged/internal/escalation"

// Config configures the escalation ladder.
type Config struct {
	// RepeatThreshold is the occurrence count at which a signature enters
	// comprehensive analysis mode (default: 3).
	RepeatThreshold int `json:"repeat_threshold" koanf:"repeat_threshold"`

	// ComprehensiveCap is the maximum comprehensive fix attempts per
	// signature before handing off to a human (default: 5).
	ComprehensiveCap int `json:"comprehensive_cap" koanf:"comprehensive_cap"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() *Config {
	return &Config{
		RepeatThreshold:  3,
		ComprehensiveCap: 5,
	}
}

// Ladder tracks failure signatures for one session. Occurrence counts are
// monotonic non-decreasing; the only resets are session completion and
// explicit operator action, so recurring problems cannot be masked.
type Ladder struct {
	config *Config
	logger *zap.Logger

	meter           metric.Meter
	failureCounter  metric.Int64Counter
	escalateCounter metric.Int64Counter

	mu      sync.Mutex
	records map[string]*Record
}

// NewLadder creates a ladder with the given thresholds.
func NewLadder(cfg *Config, logger *zap.Logger) *Ladder {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Ladder{
		config:  cfg,
		logger:  logger,
		meter:   otel.Meter(instrumentationName),
		records: make(map[string]*Record),
	}
	l.initMetrics()
	return l
}

func (l *Ladder) initMetrics() {
	var err error

	l.failureCounter, err = l.meter.Int64Counter(
		"forged.escalation.failures_total",
		metric.WithDescription("Total failures recorded by signature"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		l.logger.Warn("failed to create failure counter", zap.Error(err))
	}

	l.escalateCounter, err = l.meter.Int64Counter(
		"forged.escalation.human_escalations_total",
		metric.WithDescription("Total signatures escalated to a human"),
		metric.WithUnit("{escalation}"),
	)
	if err != nil {
		l.logger.Warn("failed to create escalation counter", zap.Error(err))
	}
}

// Record ingests a failure and returns the directive for the next fix
// attempt together with the updated record. The failure is recorded before
// any retry decision is made, so fast-path retries cannot bypass
// repeated-failure detection.
func (l *Ladder) Record(ctx context.Context, f Failure) (Directive, *Record) {
	sig := signatureFor(f)
	now := time.Now()

	l.mu.Lock()
	rec, ok := l.records[sig]
	if !ok {
		rec = &Record{
			Signature: sig,
			Category:  f.Category,
			Location:  f.Location,
			Sample:    f.Message,
			FirstSeen: now,
			Level:     LevelObserved,
		}
		l.records[sig] = rec
	}
	rec.Count++
	rec.LastSeen = now

	var directive Directive
	switch {
	case rec.Level == LevelHuman:
		// Already past the cap; stay parked until an operator acts.
		directive = DirectiveEscalateHuman

	case rec.Count < l.config.RepeatThreshold:
		directive = DirectiveRetry

	default:
		rec.Level = LevelRepeated
		rec.ComprehensiveAttempts++
		if rec.ComprehensiveAttempts > l.config.ComprehensiveCap {
			rec.Level = LevelHuman
			directive = DirectiveEscalateHuman
		} else {
			directive = DirectiveComprehensive
		}
	}
	snapshot := *rec
	l.mu.Unlock()

	if l.failureCounter != nil {
		l.failureCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("category", f.Category),
			attribute.String("directive", string(directive)),
		))
	}
	if directive == DirectiveEscalateHuman && l.escalateCounter != nil {
		l.escalateCounter.Add(ctx, 1)
	}

	l.logger.Debug("failure recorded",
		zap.String("signature", sig),
		zap.Int("count", snapshot.Count),
		zap.String("level", string(snapshot.Level)),
		zap.String("directive", string(directive)),
	)

	return directive, &snapshot
}

// Get returns a copy of the record for a signature, or nil.
func (l *Ladder) Get(sig string) *Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[sig]
	if !ok {
		return nil
	}
	snapshot := *rec
	return &snapshot
}

// History returns copies of all records, for comprehensive-analysis prompts
// and status queries.
func (l *Ladder) History() []*Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Record, 0, len(l.records))
	for _, rec := range l.records {
		snapshot := *rec
		out = append(out, &snapshot)
	}
	return out
}

// ClearComprehensive resets the comprehensive-attempt counter for a
// signature after resume-with-guidance. The occurrence count is untouched.
func (l *Ladder) ClearComprehensive(sig string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec, ok := l.records[sig]; ok {
		rec.ComprehensiveAttempts = 0
		if rec.Level == LevelHuman {
			rec.Level = LevelRepeated
		}
	}
}

// Resolve removes a signature after a confirmed fix. This is the explicit
// operator/orchestrator reset the monotonicity invariant allows.
func (l *Ladder) Resolve(sig string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, sig)
}

// Reset clears all records. Called only on session completion.
func (l *Ladder) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = make(map[string]*Record)
}
