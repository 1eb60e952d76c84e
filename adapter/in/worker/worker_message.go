package worker

import (
	"time"

	"engagement_worker/core/domain"

	"github.com/google/uuid"
)

// Priority levels for job scheduling.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

// JobType represents the type of a job.
type JobType = string

const (
	JobEmailSend JobType = "email.send"
)

// urgentRulePriority is the rule priority from which a send skips the queue.
const urgentRulePriority = 95

// Message is one unit of work for the pool.
type Message struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Job       *domain.SendJob `json:"job"`
	Priority  Priority        `json:"priority"`
	CreatedAt time.Time       `json:"created_at"`
	Retries   int             `json:"retries"`
}

// NewSendMessage wraps a send job. Exam-window rules (priority 95 and up)
// are scheduled as high priority.
func NewSendMessage(job *domain.SendJob) *Message {
	priority := PriorityNormal
	if job != nil && job.Priority >= urgentRulePriority {
		priority = PriorityHigh
	}
	return &Message{
		ID:        uuid.New().String(),
		Type:      JobEmailSend,
		Job:       job,
		Priority:  priority,
		CreatedAt: time.Now(),
	}
}

// IsPriority checks if message should go to priority queue.
func (m *Message) IsPriority() bool {
	return m.Priority >= PriorityHigh
}

// UserEmail returns the recipient for logging.
func (m *Message) UserEmail() string {
	if m.Job == nil {
		return ""
	}
	return m.Job.UserEmail
}
