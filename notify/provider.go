// Package notify renders personalized case-update messages and drives
// batched, rate-limited delivery through a bulk-messaging provider.
package notify

import "context"

// Provider defines the interface for messaging transport implementations.
// A provider accepts a batch of recipient addresses per call and returns
// the transport-assigned message id.
type Provider interface {
	Send(ctx context.Context, recipients []string, message string) (messageID string, err error)
}
