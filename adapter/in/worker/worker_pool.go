package worker

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
)

// =============================================================================
// Send worker pool (go-pkgz/pool)
// =============================================================================

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers        int
	BatchSize      int
	WorkerChanSize int
	JobTimeout     time.Duration
	MaxRetries     int
	RetryBase      time.Duration
	DLQSize        int
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:        4,
		BatchSize:      1,
		WorkerChanSize: 100,
		JobTimeout:     30 * time.Second,
		MaxRetries:     3,
		RetryBase:      time.Second,
		DLQSize:        100,
	}
}

// Pool runs send jobs on a go-pkgz worker group with a small priority lane.
type Pool struct {
	handler *Handler
	config  *PoolConfig

	pool         *pool.WorkerGroup[*Message]
	priorityPool *pool.WorkerGroup[*Message]

	ctx    context.Context
	cancel context.CancelFunc

	metrics *PoolMetrics
	log     zerolog.Logger

	dlq   chan *Message
	dlqWg sync.WaitGroup

	// pending counts submitted jobs not yet finished, including scheduled retries.
	pending sync.WaitGroup

	started bool
	mu      sync.Mutex
}

// PoolMetrics holds pool metrics.
type PoolMetrics struct {
	JobsProcessed  int64
	JobsFailed     int64
	JobsDropped    int64
	JobsRetried    int64
	AvgProcessTime int64 // milliseconds
	QueueSize      int32
}

// messageWorker implements pool.Worker for Message processing.
type messageWorker struct {
	pool *Pool
}

func (w *messageWorker) Do(ctx context.Context, msg *Message) error {
	return w.pool.processJob(ctx, msg)
}

// NewPool creates a new send worker pool.
func NewPool(handler *Handler, config *PoolConfig, log zerolog.Logger) *Pool {
	def := DefaultPoolConfig()
	if config == nil {
		config = def
	}
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.WorkerChanSize <= 0 {
		config.WorkerChanSize = def.WorkerChanSize
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = def.JobTimeout
	}
	if config.RetryBase <= 0 {
		config.RetryBase = def.RetryBase
	}
	if config.DLQSize <= 0 {
		config.DLQSize = def.DLQSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		handler: handler,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		metrics: &PoolMetrics{},
		log:     log.With().Str("component", "send_pool").Logger(),
		dlq:     make(chan *Message, config.DLQSize),
	}
}

// Start starts the worker pool.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	p.pool = pool.New[*Message](p.config.Workers, &messageWorker{pool: p}).
		WithBatchSize(p.config.BatchSize).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithContinueOnError()

	p.priorityPool = pool.New[*Message](p.config.Workers/4+1, &messageWorker{pool: p}).
		WithWorkerChanSize(p.config.WorkerChanSize/2 + 1).
		WithContinueOnError()

	if err := p.pool.Go(p.ctx); err != nil {
		return err
	}
	if err := p.priorityPool.Go(p.ctx); err != nil {
		return err
	}
	p.started = true

	p.dlqWg.Add(1)
	go p.dlqProcessor()
	go p.metricsReporter()

	p.log.Info().
		Int("workers", p.config.Workers).
		Int("max_retries", p.config.MaxRetries).
		Msg("send pool started")
	return nil
}

// Stop waits for in-flight jobs up to timeout and shuts the pool down.
func (p *Pool) Stop(timeout time.Duration) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), timeout)
	defer closeCancel()

	if err := p.pool.Close(closeCtx); err != nil {
		p.log.Warn().Err(err).Msg("error closing main pool")
	}
	if err := p.priorityPool.Close(closeCtx); err != nil {
		p.log.Warn().Err(err).Msg("error closing priority pool")
	}

	p.cancel()
	close(p.dlq)
	p.dlqWg.Wait()

	p.log.Info().
		Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
		Int64("failed", atomic.LoadInt64(&p.metrics.JobsFailed)).
		Msg("send pool stopped")
}

// Submit submits a job to the pool.
func (p *Pool) Submit(msg *Message) bool {
	return p.submit(msg, false)
}

// SubmitPriority submits a job to the priority lane.
func (p *Pool) SubmitPriority(msg *Message) bool {
	return p.submit(msg, true)
}

func (p *Pool) submit(msg *Message, priority bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		atomic.AddInt64(&p.metrics.JobsDropped, 1)
		return false
	}

	p.pending.Add(1)
	atomic.AddInt32(&p.metrics.QueueSize, 1)
	if priority {
		p.priorityPool.Submit(msg)
	} else {
		p.pool.Submit(msg)
	}
	return true
}

// processJob runs one job with its timeout and schedules a retry on failure.
func (p *Pool) processJob(ctx context.Context, msg *Message) error {
	defer p.pending.Done()
	defer atomic.AddInt32(&p.metrics.QueueSize, -1)

	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, p.config.JobTimeout)
	defer cancel()

	err := p.handler.Process(jobCtx, msg)
	p.updateAvgProcessTime(time.Since(start).Milliseconds())

	if err == nil {
		atomic.AddInt64(&p.metrics.JobsProcessed, 1)
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		p.log.Warn().Str("job_id", msg.ID).Dur("timeout", p.config.JobTimeout).Msg("job timed out")
	}

	p.log.Error().
		Err(err).
		Str("job_id", msg.ID).
		Str("user_email", msg.UserEmail()).
		Int("retries", msg.Retries).
		Msg("job processing failed")

	if msg.Retries < p.config.MaxRetries {
		msg.Retries++
		atomic.AddInt64(&p.metrics.JobsRetried, 1)
		p.scheduleRetry(msg)
		return err
	}

	atomic.AddInt64(&p.metrics.JobsFailed, 1)
	select {
	case p.dlq <- msg:
	default:
		p.log.Error().Str("job_id", msg.ID).Msg("DLQ full, job lost")
	}
	return err
}

// scheduleRetry resubmits after exponential backoff with jitter.
func (p *Pool) scheduleRetry(msg *Message) {
	backoff := p.config.RetryBase * time.Duration(1<<msg.Retries)
	backoff += time.Duration(rand.Int63n(int64(p.config.RetryBase)/2 + 1))

	p.pending.Add(1)
	time.AfterFunc(backoff, func() {
		defer p.pending.Done()
		if !p.Submit(msg) {
			p.log.Warn().Str("job_id", msg.ID).Msg("retry dropped, pool stopped")
		}
	})
}

func (p *Pool) updateAvgProcessTime(elapsed int64) {
	current := atomic.LoadInt64(&p.metrics.AvgProcessTime)
	if current == 0 {
		atomic.StoreInt64(&p.metrics.AvgProcessTime, elapsed)
		return
	}
	atomic.StoreInt64(&p.metrics.AvgProcessTime, (current*9+elapsed)/10)
}

// dlqProcessor logs permanently failed jobs. The attempt row already carries
// the failed status.
func (p *Pool) dlqProcessor() {
	defer p.dlqWg.Done()
	for msg := range p.dlq {
		p.log.Error().
			Str("job_id", msg.ID).
			Str("user_email", msg.UserEmail()).
			Int("retries", msg.Retries).
			Msg("DLQ: send job permanently failed")
	}
}

func (p *Pool) metricsReporter() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			m := p.GetMetrics()
			p.log.Info().
				Int64("processed", m.JobsProcessed).
				Int64("failed", m.JobsFailed).
				Int64("dropped", m.JobsDropped).
				Int64("retried", m.JobsRetried).
				Int64("avg_process_ms", m.AvgProcessTime).
				Int32("queue_size", m.QueueSize).
				Msg("send pool metrics")
		}
	}
}

// GetMetrics returns current pool metrics.
func (p *Pool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed:  atomic.LoadInt64(&p.metrics.JobsProcessed),
		JobsFailed:     atomic.LoadInt64(&p.metrics.JobsFailed),
		JobsDropped:    atomic.LoadInt64(&p.metrics.JobsDropped),
		JobsRetried:    atomic.LoadInt64(&p.metrics.JobsRetried),
		AvgProcessTime: atomic.LoadInt64(&p.metrics.AvgProcessTime),
		QueueSize:      atomic.LoadInt32(&p.metrics.QueueSize),
	}
}

// Wait blocks until every submitted job, including retries, has finished or
// ctx is done.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
