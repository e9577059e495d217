package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/gmail/v1"
)

// GmailProvider sends messages as plain-text email via the Gmail API.
type GmailProvider struct {
	service *gmail.Service
	logger  *slog.Logger
}

// NewGmailProvider creates a new Gmail provider.
func NewGmailProvider(service *gmail.Service, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{
		service: service,
		logger:  logger,
	}
}

// sanitizeHeader removes newlines and control characters to prevent
// header injection. RFC 5322 headers are newline-delimited, so any
// newline in a header value allows an attacker to inject arbitrary
// headers or body content.
func sanitizeHeader(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// Send sends one message to a batch of recipients via the Gmail API.
func (g *GmailProvider) Send(ctx context.Context, recipients []string, message string) (string, error) {
	if len(recipients) == 0 {
		return "", fmt.Errorf("no recipients")
	}

	sanitized := make([]string, 0, len(recipients))
	for _, r := range recipients {
		sanitized = append(sanitized, sanitizeHeader(r))
	}
	subject := sanitizeHeader(subjectLine(message))

	// From address is set by the Gmail API based on the authenticated account.
	var msg strings.Builder
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(sanitized, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(message)
	encoded := base64.URLEncoding.EncodeToString([]byte(msg.String()))

	var messageID string
	err := retry.Do(
		func() error {
			g.logger.Info("Gmail API request starting",
				"method", "POST",
				"endpoint", "users.messages.send",
				"recipients", len(recipients),
				"subject", subject)

			startTime := time.Now()
			sent, err := g.service.Users.Messages.Send("me", &gmail.Message{
				Raw: encoded,
			}).Context(ctx).Do()
			duration := time.Since(startTime)

			if err != nil {
				g.logger.Warn("Gmail API send failed, will retry",
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}

			messageID = sent.Id
			g.logger.Info("Gmail API request completed",
				"endpoint", "users.messages.send",
				"message_id", messageID,
				"duration_ms", duration.Milliseconds(),
				"status", "success")

			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Info("Retrying Gmail send after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("after retries: %w", err)
	}

	return messageID, nil
}
