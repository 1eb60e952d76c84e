package out

import (
	"context"
	"time"

	"engagement_worker/core/domain"
)

// FeatureCache keeps the latest snapshot per user and the daily send counters.
type FeatureCache interface {
	GetSnapshot(ctx context.Context, email string) (*domain.FeatureSnapshot, error)
	SetSnapshot(ctx context.Context, snapshot *domain.FeatureSnapshot, ttl time.Duration) error

	// Daily counters are keyed by the UTC date of day.
	IncrSentToday(ctx context.Context, email string, day time.Time) (int64, error)
	SentToday(ctx context.Context, email string, day time.Time) (int64, error)
}
