package in

import (
	"context"
	"time"

	"engagement_worker/core/domain"

	"github.com/google/uuid"
)

// PipelineService exposes the lifecycle email use cases to the HTTP and CLI adapters.
type PipelineService interface {
	// ProcessUser runs the whole pipeline for one user.
	ProcessUser(ctx context.Context, email string, opts ProcessOptions) (*UserResult, error)
	// RunDaily processes every known user sequentially under one audited run.
	RunDaily(ctx context.Context) (*RunSummary, error)

	Features(ctx context.Context, email string) (*domain.FeatureSnapshot, error)
	RawSummary(ctx context.Context, email string) (*domain.RawDataSummary, error)
	PreviewContent(ctx context.Context, email, templateID string) (*domain.EmailContent, error)
	// Unsubscribe opts the user out of every future email.
	Unsubscribe(ctx context.Context, email string) error
	Rules() []domain.Rule
}

type ProcessOptions struct {
	// DryRun overrides the configured dry-run mode when set.
	DryRun *bool
}

// UserResult is the outcome of one ProcessUser call.
type UserResult struct {
	UserEmail    string                  `json:"user_email"`
	RunID        *uuid.UUID              `json:"run_id,omitempty"`
	EventCount   int                     `json:"event_count"`
	EventsLogged int                     `json:"events_logged"`
	Features     *domain.FeatureSnapshot `json:"features,omitempty"`
	Decision     *domain.Decision        `json:"decision,omitempty"`
	Content      *domain.EmailContent    `json:"content,omitempty"`
	Attempt      *domain.EmailAttempt    `json:"attempt,omitempty"`
	Queued       bool                    `json:"queued"`
	DryRun       bool                    `json:"dry_run"`
	Duplicate    bool                    `json:"duplicate,omitempty"`
}

// RunSummary is the outcome of a daily run.
type RunSummary struct {
	RunID      uuid.UUID     `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Users      int           `json:"users"`
	Processed  int           `json:"processed"`
	NotFound   int           `json:"not_found"`
	Failed     int           `json:"failed"`
	Candidates int           `json:"candidates"`
	Queued     int           `json:"queued"`
	DryRun     bool          `json:"dry_run"`
}

// Stats flattens the summary for the run record.
func (s *RunSummary) Stats() map[string]any {
	return map[string]any{
		"users":       s.Users,
		"processed":   s.Processed,
		"not_found":   s.NotFound,
		"failed":      s.Failed,
		"candidates":  s.Candidates,
		"queued":      s.Queued,
		"dry_run":     s.DryRun,
		"duration_ms": s.Duration.Milliseconds(),
	}
}
