// Package provider holds the outbound email provider adapters.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"strings"
	"time"

	"engagement_worker/core/port/out"
	"engagement_worker/pkg/httputil"
	"engagement_worker/pkg/resilience"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// =============================================================================
// Gmail Sender
// =============================================================================

// GmailConfig holds the sending account credentials. The refresh token is
// exchanged for access tokens on demand.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	From         string
	FromName     string
	Timeout      time.Duration
}

// GmailSender implements out.EmailSender through the Gmail API.
type GmailSender struct {
	service *gmail.Service
	from    string
	timeout time.Duration
	cb      *resilience.Breaker
}

var _ out.EmailSender = (*GmailSender)(nil)

// NewGmailSender builds a sender for one mailbox.
func NewGmailSender(ctx context.Context, cfg *GmailConfig) (*GmailSender, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("gmail sender requires client id, client secret and refresh token")
	}
	if cfg.From == "" {
		return nil, errors.New("gmail sender requires a from address")
	}

	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}
	// Token refreshes and API calls share the pooled base transport.
	baseCtx := context.WithValue(context.Background(), oauth2.HTTPClient, httputil.GmailClient())
	ts := config.TokenSource(baseCtx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(baseCtx, ts)))
	if err != nil {
		return nil, fmt.Errorf("failed to create gmail service: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &GmailSender{
		service: svc,
		from:    formatAddress(cfg.FromName, cfg.From),
		timeout: timeout,
		cb:      resilience.New(resilience.DefaultConfig("gmail-api")),
	}, nil
}

// Send delivers an HTML email and returns the Gmail message id.
func (s *GmailSender) Send(ctx context.Context, to, subject, htmlBody string) (string, error) {
	if _, err := mail.ParseAddress(to); err != nil {
		return "", fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	msg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(buildRawMessage(s.from, to, subject, htmlBody))),
	}

	var sent *gmail.Message
	err := s.cb.Execute(func() error {
		var apiErr error
		sent, apiErr = s.service.Users.Messages.Send("me", msg).Context(ctx).Do()
		return classifyError(apiErr)
	})
	if err != nil {
		return "", fmt.Errorf("gmail send: %w", err)
	}
	return sent.Id, nil
}

// classifyError keeps client-side API errors from tripping the breaker.
func classifyError(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.Code {
	case 400, 401, 403, 404:
		return resilience.Permanent(err)
	default:
		return err
	}
}

func buildRawMessage(from, to, subject, htmlBody string) string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: base64\r\n")
	buf.WriteString("\r\n")

	// Wrap at 76 columns.
	encoded := base64.StdEncoding.EncodeToString([]byte(htmlBody))
	for len(encoded) > 76 {
		buf.WriteString(encoded[:76])
		buf.WriteString("\r\n")
		encoded = encoded[76:]
	}
	if encoded != "" {
		buf.WriteString(encoded)
		buf.WriteString("\r\n")
	}

	return buf.String()
}

func formatAddress(name, email string) string {
	if name == "" {
		return email
	}
	return (&mail.Address{Name: name, Address: email}).String()
}
