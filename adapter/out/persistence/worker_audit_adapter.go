package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"engagement_worker/core/domain"
	"engagement_worker/core/port/out"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// AuditAdapter implements out.AuditStore using PostgreSQL.
type AuditAdapter struct {
	db *sqlx.DB
}

// NewAuditAdapter creates a new audit adapter.
func NewAuditAdapter(db *sqlx.DB) *AuditAdapter {
	return &AuditAdapter{db: db}
}

var _ out.AuditStore = (*AuditAdapter)(nil)

// =============================================================================
// Users
// =============================================================================

type userRow struct {
	Email        string `db:"email"`
	FirstName    string `db:"first_name"`
	Plan         string `db:"plan"`
	Timezone     string `db:"timezone"`
	ConsentEmail bool   `db:"consent_email"`
	Unsubscribed bool   `db:"unsubscribed"`
}

func (a *AuditAdapter) UpsertUser(ctx context.Context, account *domain.LearnerAccount) error {
	query := `
		INSERT INTO app_users (email, first_name, plan, timezone, consent_email)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email) DO UPDATE SET
			first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), app_users.first_name),
			plan = COALESCE(NULLIF(EXCLUDED.plan, ''), app_users.plan),
			timezone = COALESCE(NULLIF(EXCLUDED.timezone, ''), app_users.timezone),
			updated_at = NOW()`

	_, err := a.db.ExecContext(ctx, query,
		domain.NormalizeEmail(account.Email), account.FirstName, account.Plan, account.Timezone, account.ConsentEmail)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (a *AuditAdapter) GetUser(ctx context.Context, email string) (*domain.LearnerAccount, error) {
	var row userRow
	err := a.db.GetContext(ctx, &row, `
		SELECT email, first_name, plan, timezone, consent_email, unsubscribed
		FROM app_users WHERE email = $1`, domain.NormalizeEmail(email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &domain.LearnerAccount{
		Email:        row.Email,
		FirstName:    row.FirstName,
		Plan:         row.Plan,
		Timezone:     row.Timezone,
		ConsentEmail: row.ConsentEmail,
		Unsubscribed: row.Unsubscribed,
	}, nil
}

func (a *AuditAdapter) SetUnsubscribed(ctx context.Context, email string, unsubscribed bool) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO app_users (email, unsubscribed) VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET unsubscribed = EXCLUDED.unsubscribed, updated_at = NOW()`,
		domain.NormalizeEmail(email), unsubscribed)
	if err != nil {
		return fmt.Errorf("set unsubscribed: %w", err)
	}
	return nil
}

// =============================================================================
// Runs
// =============================================================================

func (a *AuditAdapter) StartRun(ctx context.Context, kind domain.RunKind) (*domain.PipelineRun, error) {
	run := &domain.PipelineRun{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, kind, status, started_at) VALUES ($1, $2, $3, $4)`,
		run.ID, string(run.Kind), string(run.Status), run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	return run, nil
}

func (a *AuditAdapter) FinishRun(ctx context.Context, runID uuid.UUID, status domain.RunStatus, stats map[string]any) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("encode run stats: %w", err)
	}
	res, err := a.db.ExecContext(ctx,
		`UPDATE pipeline_runs SET status = $2, finished_at = NOW(), stats = $3 WHERE id = $1`,
		runID, string(status), statsJSON)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// Events, features, decisions
// =============================================================================

// LogEvents inserts events in one transaction. Rows whose dedupe key already
// exists are skipped; the count of new rows is returned.
func (a *AuditAdapter) LogEvents(ctx context.Context, events []domain.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO events (event_id, dedupe_key, user_email, name, source, session_id, occurred_at, props)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (dedupe_key) DO NOTHING`

	inserted := 0
	for i := range events {
		ev := &events[i]
		props, err := json.Marshal(ev.Props)
		if err != nil {
			return 0, fmt.Errorf("encode event props: %w", err)
		}
		res, err := tx.ExecContext(ctx, query, ev.EventID, ev.DedupeKey(), ev.UserID, string(ev.Name),
			string(ev.Source), ev.SessionID, ev.Timestamp.UTC(), props)
		if err != nil {
			return 0, fmt.Errorf("insert event: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

func (a *AuditAdapter) SaveFeatures(ctx context.Context, s *domain.FeatureSnapshot) error {
	snapshot, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO feature_snapshots (user_email, as_of, recency_days, churn_risk, top_topics, snapshot)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.UserEmail, s.AsOf.UTC(), s.RecencyDays, string(s.ChurnRisk), pq.Array(s.TopTopics), snapshot)
	if err != nil {
		return fmt.Errorf("save features: %w", err)
	}
	return nil
}

func (a *AuditAdapter) LogDecision(ctx context.Context, runID *uuid.UUID, d *domain.Decision) error {
	var features []byte
	if d.Features != nil {
		var err error
		if features, err = json.Marshal(d.Features); err != nil {
			return fmt.Errorf("encode decision features: %w", err)
		}
	}
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO decisions (run_id, user_email, rule_id, template_id, priority, decided_at, features)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		nullUUID(runID), d.UserEmail, d.RuleID, d.TemplateID, d.Priority, d.Timestamp.UTC(), features)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// =============================================================================
// Templates and attempts
// =============================================================================

func (a *AuditAdapter) EnsureTemplate(ctx context.Context, templateID, purpose string) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO email_templates (template_id, purpose) VALUES ($1, $2)
		ON CONFLICT (template_id) DO NOTHING`, templateID, purpose)
	if err != nil {
		return fmt.Errorf("ensure template: %w", err)
	}
	return nil
}

type attemptRow struct {
	ID                int64          `db:"id"`
	RunID             uuid.NullUUID  `db:"run_id"`
	UserEmail         string         `db:"user_email"`
	RuleID            string         `db:"rule_id"`
	TemplateID        string         `db:"template_id"`
	Stage             string         `db:"stage"`
	IdempotencyKey    string         `db:"idempotency_key"`
	Status            string         `db:"status"`
	Subject           string         `db:"subject"`
	ProviderMessageID string         `db:"provider_message_id"`
	Error             sql.NullString `db:"error"`
	CreatedAt         time.Time      `db:"created_at"`
	SentAt            sql.NullTime   `db:"sent_at"`
}

func (r *attemptRow) toDomain() *domain.EmailAttempt {
	a := &domain.EmailAttempt{
		ID:                r.ID,
		UserEmail:         r.UserEmail,
		RuleID:            r.RuleID,
		TemplateID:        r.TemplateID,
		Stage:             r.Stage,
		IdempotencyKey:    r.IdempotencyKey,
		Status:            domain.AttemptStatus(r.Status),
		Subject:           r.Subject,
		ProviderMessageID: r.ProviderMessageID,
		CreatedAt:         r.CreatedAt,
	}
	if r.RunID.Valid {
		id := r.RunID.UUID
		a.RunID = &id
	}
	if r.Error.Valid {
		a.Error = r.Error.String
	}
	if r.SentAt.Valid {
		a.SentAt = &r.SentAt.Time
	}
	return a
}

// CreateEmailAttempt inserts the attempt unless its idempotency key exists,
// in which case the stored attempt is returned with created false.
func (a *AuditAdapter) CreateEmailAttempt(ctx context.Context, attempt *domain.EmailAttempt) (*domain.EmailAttempt, bool, error) {
	var id int64
	var createdAt time.Time
	err := a.db.QueryRowxContext(ctx, `
		INSERT INTO email_attempts (run_id, user_email, rule_id, template_id, stage, idempotency_key, status, subject)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id, created_at`,
		nullUUID(attempt.RunID), attempt.UserEmail, attempt.RuleID, attempt.TemplateID, attempt.Stage,
		attempt.IdempotencyKey, string(attempt.Status), attempt.Subject,
	).Scan(&id, &createdAt)

	if err == nil {
		attempt.ID, attempt.CreatedAt = id, createdAt
		return attempt, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("create email attempt: %w", err)
	}

	var row attemptRow
	if err := a.db.GetContext(ctx, &row, `
		SELECT id, run_id, user_email, rule_id, template_id, stage, idempotency_key, status, subject,
		       provider_message_id, error, created_at, sent_at
		FROM email_attempts WHERE idempotency_key = $1`, attempt.IdempotencyKey); err != nil {
		return nil, false, fmt.Errorf("load existing attempt: %w", err)
	}
	return row.toDomain(), false, nil
}

func (a *AuditAdapter) UpdateEmailAttempt(ctx context.Context, id int64, status domain.AttemptStatus, providerMessageID, errMsg string) error {
	res, err := a.db.ExecContext(ctx, `
		UPDATE email_attempts SET
			status = $2,
			provider_message_id = COALESCE(NULLIF($3, ''), provider_message_id),
			error = $4,
			sent_at = CASE WHEN $2 = 'sent' THEN NOW() ELSE sent_at END,
			updated_at = NOW()
		WHERE id = $1`, id, string(status), providerMessageID, errMsg)
	if err != nil {
		return fmt.Errorf("update email attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// Send history
// =============================================================================

func (a *AuditAdapter) LastSentForRule(ctx context.Context, email, ruleID string) (*time.Time, error) {
	var last sql.NullTime
	err := a.db.GetContext(ctx, &last, `
		SELECT MAX(sent_at) FROM email_attempts
		WHERE user_email = $1 AND rule_id = $2 AND status = 'sent'`,
		domain.NormalizeEmail(email), ruleID)
	if err != nil {
		return nil, fmt.Errorf("last sent for rule: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	return &last.Time, nil
}

// capStatuses are the attempt states that use up a send cap. A queued attempt
// counts from its creation, so a second run before the worker drains the
// queue sees it.
var capStatuses = []domain.AttemptStatus{domain.AttemptSent, domain.AttemptQueued}

func capStatusValues() []string {
	values := make([]string, len(capStatuses))
	for i, st := range capStatuses {
		values[i] = string(st)
	}
	return values
}

func (a *AuditAdapter) CountSentSince(ctx context.Context, email string, since time.Time) (int, error) {
	var n int
	err := a.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM email_attempts
		WHERE user_email = $1 AND status = ANY($2) AND COALESCE(sent_at, created_at) >= $3`,
		domain.NormalizeEmail(email), pq.Array(capStatusValues()), since.UTC())
	if err != nil {
		return 0, fmt.Errorf("count sent: %w", err)
	}
	return n, nil
}

func (a *AuditAdapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
