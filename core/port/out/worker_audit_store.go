package out

import (
	"context"
	"time"

	"engagement_worker/core/domain"

	"github.com/google/uuid"
)

// AuditStore is the relational audit trail. Only cooldown lookups and the
// send counters influence decisions.
type AuditStore interface {
	// UpsertUser sets consent on insert only; later upserts keep consent and unsubscribe flags.
	UpsertUser(ctx context.Context, account *domain.LearnerAccount) error
	GetUser(ctx context.Context, email string) (*domain.LearnerAccount, error)
	// SetUnsubscribed records an opt-out, creating the user row when missing.
	SetUnsubscribed(ctx context.Context, email string, unsubscribed bool) error

	StartRun(ctx context.Context, kind domain.RunKind) (*domain.PipelineRun, error)
	FinishRun(ctx context.Context, runID uuid.UUID, status domain.RunStatus, stats map[string]any) error

	// LogEvents inserts events, skipping those whose dedupe key already exists.
	LogEvents(ctx context.Context, events []domain.Event) (int, error)
	SaveFeatures(ctx context.Context, snapshot *domain.FeatureSnapshot) error
	LogDecision(ctx context.Context, runID *uuid.UUID, decision *domain.Decision) error

	EnsureTemplate(ctx context.Context, templateID, purpose string) error
	// CreateEmailAttempt is idempotent on the attempt key; created is false when it already existed.
	// On insert the attempt's ID and CreatedAt are filled in.
	CreateEmailAttempt(ctx context.Context, attempt *domain.EmailAttempt) (existing *domain.EmailAttempt, created bool, err error)
	UpdateEmailAttempt(ctx context.Context, id int64, status domain.AttemptStatus, providerMessageID, errMsg string) error

	LastSentForRule(ctx context.Context, email, ruleID string) (*time.Time, error)
	// CountSentSince counts attempts sent or still queued since the given time.
	CountSentSince(ctx context.Context, email string, since time.Time) (int, error)

	Ping(ctx context.Context) error
}
