package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// MockProvider logs messages instead of sending them. Used in local
// development when no transport credentials are configured.
type MockProvider struct {
	logger *slog.Logger
	sent   int
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// Send logs the message instead of sending it.
func (m *MockProvider) Send(_ context.Context, recipients []string, message string) (string, error) {
	m.sent++
	m.logger.Info("MOCK MESSAGE",
		"recipients", recipients,
		"subject", subjectLine(message),
		"body_length", len(message))
	return fmt.Sprintf("mock-%d", m.sent), nil
}
