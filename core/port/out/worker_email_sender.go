package out

import "context"

// EmailSender delivers a rendered email and returns the provider message id.
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody string) (string, error)
}
