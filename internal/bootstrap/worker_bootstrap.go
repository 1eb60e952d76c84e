package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"engagement_worker/adapter/in/worker"
	"engagement_worker/adapter/out/messaging"
	"engagement_worker/config"
	"engagement_worker/pkg/logger"

	"github.com/rs/zerolog"
)

const poolStopTimeout = 20 * time.Second

// Worker delivers queued send jobs and, when enabled, runs the daily
// pipeline on a schedule.
type Worker struct {
	pool      *worker.Pool
	consumer  *messaging.Consumer
	scheduler *worker.DailyScheduler
	deps      *Dependencies
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	zlog      zerolog.Logger
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}
	return NewWorkerWithDeps(cfg, deps), cleanup, nil
}

// NewWorkerWithDeps builds the worker on shared dependencies.
func NewWorkerWithDeps(cfg *config.Config, deps *Dependencies) *Worker {
	zlog := logger.Default().Zerolog().With().Str("component", "worker").Logger()

	poolConfig := worker.DefaultPoolConfig()
	poolConfig.Workers = cfg.WorkerPoolSize
	poolConfig.WorkerChanSize = cfg.WorkerQueueSize
	poolConfig.JobTimeout = cfg.WorkerJobTimeout
	poolConfig.MaxRetries = cfg.WorkerMaxRetries

	pool := worker.NewPool(worker.NewHandler(deps.Send), poolConfig, zlog)

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		pool:   pool,
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   zlog,
	}

	if deps.Redis != nil {
		w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
			Group:                cfg.SendGroup,
			Consumer:             cfg.WorkerID,
			Streams:              []string{deps.Producer.Stream()},
			Handler:              worker.NewStreamHandler(pool),
			Logger:               zlog,
			BatchSize:            int64(cfg.ConsumerBatchSize),
			Block:                cfg.ConsumerBlock,
			PendingCheckInterval: cfg.ConsumerPendingCheck,
			PendingIdleTime:      cfg.ConsumerPendingIdle,
			MaxRetries:           cfg.ConsumerMaxRetries,
		})
		logger.Info("Send stream consumer configured on %s (group %s)", deps.Producer.Stream(), cfg.SendGroup)
	} else {
		logger.Warn("Redis not available, no send jobs will be consumed")
	}

	if cfg.SchedulerEnabled {
		w.scheduler = worker.NewDailyScheduler(deps.Pipeline, cfg.PipelineInterval).
			WithRunTimeout(cfg.PipelineRunTimeout)
	}

	return w
}

// Start runs until Stop is called.
func (w *Worker) Start() {
	if err := w.pool.Start(); err != nil {
		w.zlog.Error().Err(err).Msg("Failed to start worker pool")
		return
	}

	if w.consumer != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.zlog.Info().Msg("Starting send stream consumer")
			if err := w.consumer.Run(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.zlog.Error().Err(err).Msg("Send stream consumer error")
			}
		}()
	}

	if w.scheduler != nil {
		w.scheduler.Start()
	}

	<-w.ctx.Done()
}

// Stop stops intake first, then drains the pool.
func (w *Worker) Stop() {
	w.cancel()
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
	w.wg.Wait()
	w.pool.Stop(poolStopTimeout)
}

func (w *Worker) GetMetrics() worker.PoolMetrics {
	return w.pool.GetMetrics()
}
