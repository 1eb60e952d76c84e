package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"engagement_worker/core/domain"
	"engagement_worker/core/port/in"
)

type blockingPipeline struct {
	runs    int32
	release chan struct{}
	entered chan struct{}
}

func (b *blockingPipeline) RunDaily(ctx context.Context) (*in.RunSummary, error) {
	atomic.AddInt32(&b.runs, 1)
	b.entered <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &in.RunSummary{Users: 1}, nil
}

func (b *blockingPipeline) ProcessUser(context.Context, string, in.ProcessOptions) (*in.UserResult, error) {
	return nil, nil
}
func (b *blockingPipeline) Features(context.Context, string) (*domain.FeatureSnapshot, error) {
	return nil, nil
}
func (b *blockingPipeline) RawSummary(context.Context, string) (*domain.RawDataSummary, error) {
	return nil, nil
}
func (b *blockingPipeline) PreviewContent(context.Context, string, string) (*domain.EmailContent, error) {
	return nil, nil
}
func (b *blockingPipeline) Unsubscribe(context.Context, string) error { return nil }
func (b *blockingPipeline) Rules() []domain.Rule { return nil }

func TestDailySchedulerSkipsOverlappingRuns(t *testing.T) {
	p := &blockingPipeline{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := NewDailyScheduler(p, time.Hour)

	first := make(chan bool)
	go func() { first <- s.trigger() }()
	<-p.entered

	if s.trigger() {
		t.Error("expected overlapping run to be skipped")
	}

	close(p.release)
	if !<-first {
		t.Error("expected first run to execute")
	}
	if got := atomic.LoadInt32(&p.runs); got != 1 {
		t.Errorf("expected 1 run, got %d", got)
	}
}

func TestDailySchedulerStopCancelsRun(t *testing.T) {
	p := &blockingPipeline{release: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := NewDailyScheduler(p, time.Hour)
	s.Start()

	done := make(chan struct{})
	go func() {
		s.trigger()
		close(done)
	}()
	<-p.entered

	s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run was not cancelled by Stop")
	}
}
