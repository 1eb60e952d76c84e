package worker

import (
	"context"
	"time"

	"engagement_worker/core/port/in"
	"engagement_worker/pkg/logger"
)

// =============================================================================
// DailyScheduler - periodic pipeline run
// =============================================================================

// DailyScheduler triggers RunDaily at a fixed interval. Overlapping runs are
// skipped.
type DailyScheduler struct {
	pipeline in.PipelineService
	interval time.Duration
	timeout  time.Duration
	running  chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewDailyScheduler creates a scheduler. The run timeout defaults to the
// interval.
func NewDailyScheduler(pipeline in.PipelineService, interval time.Duration) *DailyScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &DailyScheduler{
		pipeline: pipeline,
		interval: interval,
		timeout:  interval,
		running:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// WithRunTimeout bounds a single run. It must be called before Start.
func (s *DailyScheduler) WithRunTimeout(d time.Duration) *DailyScheduler {
	if d > 0 {
		s.timeout = d
	}
	return s
}

func (s *DailyScheduler) Start() {
	logger.Info("[DailyScheduler] Starting with interval %v", s.interval)
	go s.run()
}

// Stop cancels an in-flight run and waits for the loop to exit.
func (s *DailyScheduler) Stop() {
	s.cancel()
	<-s.done
}

func (s *DailyScheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("[DailyScheduler] Stopped")
			return
		case <-ticker.C:
			s.trigger()
		}
	}
}

// trigger runs one pipeline pass unless one is still going.
func (s *DailyScheduler) trigger() bool {
	select {
	case s.running <- struct{}{}:
	default:
		logger.Warn("[DailyScheduler] Previous run still in progress, skipping")
		return false
	}
	defer func() { <-s.running }()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	summary, err := s.pipeline.RunDaily(ctx)
	if err != nil {
		logger.WithError(err).Error("[DailyScheduler] Run failed")
		return true
	}
	logger.WithFields(summary.Stats()).Info("[DailyScheduler] Run %s finished", summary.RunID)
	return true
}
