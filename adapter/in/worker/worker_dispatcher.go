package worker

import (
	"context"
	"fmt"

	"engagement_worker/core/domain"
	"engagement_worker/pkg/logger"

	"github.com/goccy/go-json"
)

// SendProcessor delivers one send job.
type SendProcessor interface {
	Do(ctx context.Context, job *domain.SendJob) error
}

type Handler struct {
	sender SendProcessor
}

func NewHandler(sender SendProcessor) *Handler {
	return &Handler{sender: sender}
}

func (h *Handler) Process(ctx context.Context, msg *Message) error {
	logger.Debug("Processing message: %s", msg.Type)

	switch msg.Type {
	case JobEmailSend:
		return h.sender.Do(ctx, msg.Job)
	default:
		logger.Warn("Unknown job type: %s", msg.Type)
		return nil
	}
}

// Submitter accepts messages for asynchronous processing.
type Submitter interface {
	Submit(msg *Message) bool
	SubmitPriority(msg *Message) bool
}

// StreamHandler decodes send jobs read from a stream and hands them to the
// pool. A message is acknowledged once the pool has accepted it.
type StreamHandler struct {
	pool Submitter
}

func NewStreamHandler(pool Submitter) *StreamHandler {
	return &StreamHandler{pool: pool}
}

func (h *StreamHandler) Handle(_ context.Context, stream string, data []byte) error {
	job, err := ParseSendJob(data)
	if err != nil {
		return fmt.Errorf("stream %s: %w", stream, err)
	}

	msg := NewSendMessage(job)
	accepted := false
	if msg.IsPriority() {
		accepted = h.pool.SubmitPriority(msg)
	} else {
		accepted = h.pool.Submit(msg)
	}
	if !accepted {
		return fmt.Errorf("pool rejected send job for %s", job.UserEmail)
	}
	return nil
}

// ParseSendJob decodes a stream payload.
func ParseSendJob(data []byte) (*domain.SendJob, error) {
	var job domain.SendJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode send job: %w", err)
	}
	if job.UserEmail == "" || job.TemplateID == "" {
		return nil, fmt.Errorf("send job missing recipient or template")
	}
	return &job, nil
}
