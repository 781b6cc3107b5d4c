package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const instrumentationName = "github.com/fyrsmithlabs/forged/internal/agent"

// Runner executes a single task. Implementations must honor context
// cancellation and deadlines.
type Runner interface {
	Run(ctx context.Context, task *Task) (*RunOutput, error)
}

// PoolConfig holds worker-pool sizing and throttling.
type PoolConfig struct {
	Workers            int     `json:"workers" koanf:"workers"`
	QueueSize          int     `json:"queue_size" koanf:"queue_size"`
	TaskTimeoutSeconds int     `json:"task_timeout_seconds" koanf:"task_timeout_seconds"`
	DispatchPerSecond  float64 `json:"dispatch_per_second" koanf:"dispatch_per_second"`
	DispatchBurst      int     `json:"dispatch_burst" koanf:"dispatch_burst"`
}

// DefaultPoolConfig returns sensible defaults.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:            4,
		QueueSize:          64,
		TaskTimeoutSeconds: 600,
		DispatchPerSecond:  10,
		DispatchBurst:      4,
	}
}

// taskState tracks one live task between dispatch and result delivery.
type taskState struct {
	sessionID string
	cancel    context.CancelFunc
	cancelled bool
}

// Pool fans tasks out to a fixed set of workers. Each task gets its own
// deadline; results come back on a single channel. CancelTask is
// cooperative: once it acknowledges, no result for that task will be
// delivered.
type Pool struct {
	config  *PoolConfig
	runner  Runner
	logger  *zap.Logger
	limiter *rate.Limiter

	tasksTotal    metric.Int64Counter
	timeoutsTotal metric.Int64Counter

	queue   chan *Task
	results chan TaskResult

	mu       sync.Mutex
	live     map[string]*taskState
	shutdown bool

	running int64
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewPool creates and starts a worker pool.
func NewPool(cfg *PoolConfig, runner Runner, logger *zap.Logger) *Pool {
	if cfg == nil {
		cfg = DefaultPoolConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	meter := otel.Meter(instrumentationName)
	tasksTotal, _ := meter.Int64Counter("forged.agent.tasks_total",
		metric.WithDescription("Tasks dispatched to the agent pool"),
		metric.WithUnit("{task}"))
	timeoutsTotal, _ := meter.Int64Counter("forged.agent.task_timeouts_total",
		metric.WithDescription("Tasks that hit their deadline"),
		metric.WithUnit("{task}"))

	p := &Pool{
		config:        cfg,
		runner:        runner,
		logger:        logger,
		limiter:       rate.NewLimiter(rate.Limit(cfg.DispatchPerSecond), cfg.DispatchBurst),
		tasksTotal:    tasksTotal,
		timeoutsTotal: timeoutsTotal,
		queue:         make(chan *Task, cfg.QueueSize),
		results:       make(chan TaskResult, cfg.QueueSize),
		live:          make(map[string]*taskState),
		done:          make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Results returns the channel terminal task results are delivered on.
func (p *Pool) Results() <-chan TaskResult {
	return p.results
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int64 {
	return atomic.LoadInt64(&p.running)
}

// Dispatch queues a task and returns immediately. The task's outcome
// arrives later on Results.
func (p *Pool) Dispatch(task *Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	if _, exists := p.live[task.ID]; exists {
		p.mu.Unlock()
		return fmt.Errorf("agent: task %s already dispatched", task.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.live[task.ID] = &taskState{sessionID: task.SessionID, cancel: cancel}
	task.runCtx = ctx

	select {
	case p.queue <- task:
		p.mu.Unlock()
	default:
		delete(p.live, task.ID)
		p.mu.Unlock()
		cancel()
		return ErrQueueFull
	}

	p.tasksTotal.Add(context.Background(), 1)
	p.logger.Debug("task dispatched",
		zap.String("task_id", task.ID),
		zap.String("session_id", task.SessionID),
		zap.String("kind", string(task.Kind)),
	)
	return nil
}

// CancelTask requests cancellation. It returns true when the task was still
// live and is now guaranteed to deliver no result; false when the task had
// already finished (its result was, or is about to be, delivered).
func (p *Pool) CancelTask(taskID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.live[taskID]
	if !ok || st.cancelled {
		return false
	}
	st.cancelled = true
	st.cancel()
	return true
}

// CancelSession cancels every live task belonging to a session and returns
// how many were acknowledged.
func (p *Pool) CancelSession(sessionID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, st := range p.live {
		if st.sessionID != sessionID || st.cancelled {
			continue
		}
		st.cancelled = true
		st.cancel()
		n++
	}
	return n
}

// Shutdown stops intake, cancels live tasks, and waits for workers to
// drain or the context to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil
	}
	p.shutdown = true
	for _, st := range p.live {
		st.cancelled = true
		st.cancel()
	}
	close(p.queue)
	p.mu.Unlock()

	close(p.done)

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		close(p.results)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("agent: shutdown wait: %w", ctx.Err())
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.queue {
		p.execute(task)
	}
}

func (p *Pool) execute(task *Task) {
	p.mu.Lock()
	st, ok := p.live[task.ID]
	if !ok || st.cancelled {
		delete(p.live, task.ID)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	// Throttle task starts; a cancelled task skips the wait.
	if err := p.limiter.Wait(task.runCtx); err != nil {
		p.mu.Lock()
		delete(p.live, task.ID)
		p.mu.Unlock()
		return
	}

	timeout := time.Duration(p.config.TaskTimeoutSeconds) * time.Second
	if task.Timeout > 0 {
		timeout = task.Timeout
	}
	ctx, cancel := context.WithTimeout(task.runCtx, timeout)
	defer cancel()

	atomic.AddInt64(&p.running, 1)
	start := time.Now()
	out, err := p.runner.Run(ctx, task)
	elapsed := time.Since(start)
	atomic.AddInt64(&p.running, -1)

	res := TaskResult{
		TaskID:    task.ID,
		SessionID: task.SessionID,
		Kind:      task.Kind,
		Duration:  elapsed,
	}
	switch {
	case err == nil:
		res.Status = StatusSucceeded
		if out != nil {
			res.Output = out.Output
			res.CostUSD = out.CostUSD
		}
	case ctx.Err() == context.DeadlineExceeded && task.runCtx.Err() == nil:
		res.Status = StatusFailed
		res.Err = fmt.Sprintf("task deadline exceeded after %s", timeout)
		res.FailureSignature = timeoutSignature(task.Kind)
		p.timeoutsTotal.Add(context.Background(), 1)
	default:
		res.Status = StatusFailed
		res.Err = err.Error()
	}

	// The cancelled check and map removal happen under the same lock that
	// CancelTask acknowledges under, so an acknowledged cancel can never be
	// followed by a delivery.
	p.mu.Lock()
	if st.cancelled {
		delete(p.live, task.ID)
		p.mu.Unlock()
		p.logger.Debug("task cancelled, result dropped",
			zap.String("task_id", task.ID))
		return
	}
	delete(p.live, task.ID)
	p.mu.Unlock()

	select {
	case p.results <- res:
	case <-p.done:
	}
}
