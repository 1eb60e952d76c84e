package persistence

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// auditSchema creates the audit tables. Statements are idempotent.
const auditSchema = `
CREATE TABLE IF NOT EXISTS app_users (
	email         TEXT PRIMARY KEY,
	first_name    TEXT NOT NULL DEFAULT '',
	plan          TEXT NOT NULL DEFAULT '',
	timezone      TEXT NOT NULL DEFAULT '',
	consent_email BOOLEAN NOT NULL DEFAULT TRUE,
	unsubscribed  BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	id          UUID PRIMARY KEY,
	kind        TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	stats       JSONB
);

CREATE TABLE IF NOT EXISTS events (
	event_id    TEXT PRIMARY KEY,
	dedupe_key  TEXT NOT NULL UNIQUE,
	user_email  TEXT NOT NULL,
	name        TEXT NOT NULL,
	source      TEXT NOT NULL,
	session_id  TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL,
	props       JSONB,
	ingested_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_events_user_time ON events (user_email, occurred_at DESC);

CREATE TABLE IF NOT EXISTS feature_snapshots (
	id           BIGSERIAL PRIMARY KEY,
	user_email   TEXT NOT NULL,
	as_of        TIMESTAMPTZ NOT NULL,
	recency_days INTEGER NOT NULL,
	churn_risk   TEXT NOT NULL,
	top_topics   TEXT[] NOT NULL DEFAULT '{}',
	snapshot     JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_feature_snapshots_user ON feature_snapshots (user_email, as_of DESC);

CREATE TABLE IF NOT EXISTS decisions (
	id          BIGSERIAL PRIMARY KEY,
	run_id      UUID REFERENCES pipeline_runs (id),
	user_email  TEXT NOT NULL,
	rule_id     TEXT NOT NULL,
	template_id TEXT NOT NULL,
	priority    INTEGER NOT NULL,
	decided_at  TIMESTAMPTZ NOT NULL,
	features    JSONB
);

CREATE TABLE IF NOT EXISTS email_templates (
	template_id TEXT PRIMARY KEY,
	purpose     TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS email_attempts (
	id                  BIGSERIAL PRIMARY KEY,
	run_id              UUID REFERENCES pipeline_runs (id),
	user_email          TEXT NOT NULL,
	rule_id             TEXT NOT NULL,
	template_id         TEXT NOT NULL REFERENCES email_templates (template_id),
	stage               TEXT NOT NULL,
	idempotency_key     TEXT NOT NULL UNIQUE,
	status              TEXT NOT NULL,
	subject             TEXT NOT NULL DEFAULT '',
	provider_message_id TEXT NOT NULL DEFAULT '',
	error               TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	sent_at             TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_email_attempts_sent ON email_attempts (user_email, rule_id, sent_at DESC) WHERE status = 'sent';
`

// EnsureAuditSchema creates the audit tables when they do not exist.
func EnsureAuditSchema(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("failed to apply audit schema: %w", err)
	}
	return nil
}
