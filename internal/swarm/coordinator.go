package swarm

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/forged/internal/swarm"

// Config holds verification-round behavior.
type Config struct {
	RoundTimeoutSeconds int            `json:"round_timeout_seconds" koanf:"round_timeout_seconds"`
	ScoreThreshold      float64        `json:"score_threshold" koanf:"score_threshold"`
	ReverifyPolicy      ReverifyPolicy `json:"reverify_policy" koanf:"reverify_policy"`
}

// DefaultConfig returns the default round behavior.
func DefaultConfig() *Config {
	return &Config{
		RoundTimeoutSeconds: 300,
		ScoreThreshold:      85,
		ReverifyPolicy:      ReverifyFull,
	}
}

// Validate checks the config.
func (c *Config) Validate() error {
	if c.RoundTimeoutSeconds <= 0 {
		return fmt.Errorf("swarm: round timeout must be positive")
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 100 {
		return fmt.Errorf("swarm: score threshold must be 0-100")
	}
	switch c.ReverifyPolicy {
	case ReverifyFull, ReverifyIncremental:
	default:
		return fmt.Errorf("swarm: unknown reverify policy %q", c.ReverifyPolicy)
	}
	return nil
}

// Coordinator runs verification rounds against a fixed verifier set.
type Coordinator struct {
	verifiers []Verifier
	config    *Config
	logger    *zap.Logger

	roundsTotal metric.Int64Counter
	failsTotal  metric.Int64Counter
}

// NewCoordinator creates a coordinator. At least one verifier is required.
func NewCoordinator(verifiers []Verifier, cfg *Config, logger *zap.Logger) (*Coordinator, error) {
	if len(verifiers) == 0 {
		return nil, fmt.Errorf("swarm: at least one verifier required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	meter := otel.Meter(instrumentationName)
	roundsTotal, _ := meter.Int64Counter("forged.swarm.rounds_total",
		metric.WithDescription("Verification rounds run"),
		metric.WithUnit("{round}"))
	failsTotal, _ := meter.Int64Counter("forged.swarm.gate_failures_total",
		metric.WithDescription("Verification rounds that failed the gate"),
		metric.WithUnit("{round}"))

	return &Coordinator{
		verifiers:   verifiers,
		config:      cfg,
		logger:      logger,
		roundsTotal: roundsTotal,
		failsTotal:  failsTotal,
	}, nil
}

// Run fans the input out to the verifiers in parallel under a round
// deadline and aggregates the verdicts. prev is the previous round's set;
// under the incremental policy only previously failing verifiers re-run
// and passing verdicts carry forward. A nil prev always runs everything.
func (c *Coordinator) Run(ctx context.Context, round int, in Input, prev *VerdictSet) (*VerdictSet, error) {
	if in.Contract == nil {
		return nil, fmt.Errorf("swarm: input requires a contract")
	}

	toRun, carried := c.partition(prev)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.config.RoundTimeoutSeconds)*time.Second)
	defer cancel()

	results := make(chan Verdict, len(toRun))
	for _, v := range toRun {
		go func(v Verifier) {
			results <- c.runOne(ctx, v, in)
		}(v)
	}

	verdicts := carried
	for range toRun {
		verdicts = append(verdicts, <-results)
	}

	set := NewVerdictSet(round, c.config.ScoreThreshold, verdicts)
	c.roundsTotal.Add(ctx, 1)
	if !set.Passed() {
		c.failsTotal.Add(ctx, 1)
	}

	c.logger.Info("verification round complete",
		zap.Int("round", round),
		zap.Bool("passed", set.Passed()),
		zap.Float64("weighted_score", set.WeightedScore()),
		zap.Strings("failed_checks", set.FailedChecks()),
	)
	return set, nil
}

// partition splits the verifier set into those to run this round and
// verdicts carried forward from the previous round.
func (c *Coordinator) partition(prev *VerdictSet) ([]Verifier, []Verdict) {
	if prev == nil || c.config.ReverifyPolicy == ReverifyFull {
		return c.verifiers, nil
	}

	var toRun []Verifier
	var carried []Verdict
	for _, v := range c.verifiers {
		last, ok := prev.Get(v.ID())
		if ok && last.Passed {
			carried = append(carried, last)
			continue
		}
		toRun = append(toRun, v)
	}
	return toRun, carried
}

// runOne executes a single verifier, converting errors and deadline expiry
// into failing verdicts.
func (c *Coordinator) runOne(ctx context.Context, v Verifier, in Input) Verdict {
	start := time.Now()
	verdict, err := v.Verify(ctx, in)
	verdict.VerifierID = v.ID()
	verdict.Required = v.Required()
	verdict.Weight = v.Weight()
	verdict.Duration = time.Since(start)

	if err != nil {
		verdict.Passed = false
		verdict.Score = 0
		verdict.Err = err.Error()
		if ctx.Err() == context.DeadlineExceeded {
			verdict.Err = fmt.Sprintf("verifier timed out after %ds", c.config.RoundTimeoutSeconds)
		}
		c.logger.Warn("verifier failed",
			zap.String("verifier", v.ID()),
			zap.Bool("required", v.Required()),
			zap.String("error", verdict.Err),
		)
	}
	return verdict
}
