package out

import (
	"context"

	"engagement_worker/core/domain"
)

// RawDataSource reads the per-user records of the source tables.
type RawDataSource interface {
	// GetUserData returns every record of one user. A nil profile means the user is unknown.
	GetUserData(ctx context.Context, email string) (*domain.UserRawData, error)
	ListUserEmails(ctx context.Context, limit int) ([]string, error)
	Ping(ctx context.Context) error
}
