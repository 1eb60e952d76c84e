package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Pipeline Runs
// =============================================================================

// RunKind distinguishes batch runs from single-user runs.
type RunKind string

const (
	RunKindDaily  RunKind = "daily"
	RunKindSingle RunKind = "single_user"
)

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// PipelineRun is one audited execution of the pipeline.
type PipelineRun struct {
	ID         uuid.UUID      `json:"id"`
	Kind       RunKind        `json:"kind"`
	Status     RunStatus      `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Stats      map[string]any `json:"stats,omitempty"`
}

// =============================================================================
// Email Attempts
// =============================================================================

// AttemptStatus is the delivery state of an email attempt.
type AttemptStatus string

const (
	AttemptQueued  AttemptStatus = "queued"
	AttemptSent    AttemptStatus = "sent"
	AttemptFailed  AttemptStatus = "failed"
	AttemptSkipped AttemptStatus = "skipped"
	AttemptDryRun  AttemptStatus = "dry_run"
)

// EmailAttempt records one intended send. IdempotencyKey is user:template:stage,
// with a ":dry_run" suffix on the stage for dry runs.
type EmailAttempt struct {
	ID                int64         `json:"id"`
	RunID             *uuid.UUID    `json:"run_id,omitempty"`
	UserEmail         string        `json:"user_email"`
	RuleID            string        `json:"rule_id"`
	TemplateID        string        `json:"template_id"`
	Stage             string        `json:"stage"`
	IdempotencyKey    string        `json:"idempotency_key"`
	Status            AttemptStatus `json:"status"`
	Subject           string        `json:"subject"`
	ProviderMessageID string        `json:"provider_message_id,omitempty"`
	Error             string        `json:"error,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	SentAt            *time.Time    `json:"sent_at,omitempty"`
}

// AttemptKey builds the idempotency key of an email attempt.
func AttemptKey(email, templateID, stage string) string {
	return NormalizeEmail(email) + ":" + templateID + ":" + stage
}

// LearnerAccount is the store-side view of a user used for eligibility.
type LearnerAccount struct {
	Email        string `json:"email"`
	FirstName    string `json:"first_name,omitempty"`
	Plan         string `json:"plan,omitempty"`
	ConsentEmail bool   `json:"consent_email"`
	Unsubscribed bool   `json:"unsubscribed"`
	Timezone     string `json:"timezone,omitempty"`
}

// SendJob carries a decision and its composed content to the send worker.
type SendJob struct {
	AttemptID  int64        `json:"attempt_id"`
	RunID      *uuid.UUID   `json:"run_id,omitempty"`
	UserEmail  string       `json:"user_email"`
	RuleID     string       `json:"rule_id"`
	TemplateID string       `json:"template_id"`
	Priority   int          `json:"priority"`
	Content    EmailContent `json:"content"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
}
