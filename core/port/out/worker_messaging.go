package out

import (
	"context"

	"engagement_worker/core/domain"
)

// Stream names.
const (
	StreamEmailSend = "stream:email:send"
)

// MessageProducer defines the outbound port for the send job queue.
type MessageProducer interface {
	PublishSendJob(ctx context.Context, job *domain.SendJob) error
}
