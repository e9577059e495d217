package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"courtwatch/pkg/courtcase"
)

// defaultMessageDelay spaces out sends to independent recipients so the
// transport's rate limits are never tripped.
const defaultMessageDelay = 500 * time.Millisecond

// Store is the persistence surface the dispatcher needs: subscription
// resolution plus delivery bookkeeping write-back.
type Store interface {
	SubscriptionsFor(ctx context.Context, cino string) ([]*courtcase.User, error)
	SaveUser(ctx context.Context, user *courtcase.User) error
	LoadCase(ctx context.Context, cino string) (*courtcase.CaseRecord, error)
	SaveCase(ctx context.Context, rec *courtcase.CaseRecord) error
}

// Dispatcher fans out personalized notifications for detected changesets
// and records per-recipient delivery outcomes.
type Dispatcher struct {
	provider     Provider
	store        Store
	logger       *slog.Logger
	messageDelay time.Duration
	sleep        func(time.Duration) // injectable for tests
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMessageDelay overrides the inter-message delay. Zero disables it.
func WithMessageDelay(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.messageDelay = d }
}

// WithSleep overrides the sleep function. Tests use this to count delays
// without waiting.
func WithSleep(fn func(time.Duration)) Option {
	return func(disp *Dispatcher) { disp.sleep = fn }
}

// New creates a dispatcher sending through the given provider.
func New(provider Provider, store Store, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		provider:     provider,
		store:        store,
		logger:       logger,
		messageDelay: defaultMessageDelay,
		sleep:        time.Sleep,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers notifications for every changeset with changes.
// Failures are contained per recipient: a failed send produces a failed
// outcome and the run continues. Never returns an error.
func (d *Dispatcher) Dispatch(ctx context.Context, changes []courtcase.CaseChange) []courtcase.NotificationOutcome {
	var outcomes []courtcase.NotificationOutcome
	sentAny := false

	for _, change := range changes {
		if change.ChangeSet == nil || !change.ChangeSet.HasChanges {
			continue
		}

		users, err := d.store.SubscriptionsFor(ctx, change.Cino)
		if err != nil {
			d.logger.Error("Failed to resolve subscriptions", "cino", change.Cino, "error", err)
			continue
		}
		if len(users) == 0 {
			d.logger.Info("No active subscriptions for changed case", "cino", change.Cino)
			continue
		}

		successes := 0
		for _, user := range users {
			sub := user.Subscriptions[change.Cino]
			if sub == nil || !sub.Active {
				continue
			}
			if !user.Active {
				d.logger.Debug("Skipping inactive user", "contact", user.Contact, "cino", change.Cino)
				continue
			}
			if !wantsAny(sub.NotifyOn, change.ChangeSet) {
				d.logger.Debug("Subscription opted out of all changed kinds",
					"contact", user.Contact,
					"cino", change.Cino,
					"changed_fields", change.ChangeSet.ChangedFields)
				continue
			}

			// Space out independent sends to respect transport rate limits.
			if sentAny && d.messageDelay > 0 {
				d.sleep(d.messageDelay)
			}

			outcome := d.send(ctx, user, sub, change)
			outcomes = append(outcomes, outcome)
			sentAny = true
			if outcome.Success {
				successes++
			}
		}

		if successes > 0 {
			d.recordCaseDelivery(ctx, change.Cino, successes)
		}
	}

	return outcomes
}

// send delivers one message and writes back subscription bookkeeping on
// success. Transport failures are not retried within the cycle; the
// changeset persists until the next run notices it again.
func (d *Dispatcher) send(ctx context.Context, user *courtcase.User, sub *courtcase.Subscription, change courtcase.CaseChange) courtcase.NotificationOutcome {
	outcome := courtcase.NotificationOutcome{
		ID:      uuid.NewString(),
		Contact: user.Contact,
		Cino:    change.Cino,
		SentAt:  time.Now().UTC(),
	}

	message := renderMessage(user, sub, change)

	d.logger.Info("Sending notification",
		"contact", user.Contact,
		"cino", change.Cino,
		"priority", change.ChangeSet.Priority)

	messageID, err := d.provider.Send(ctx, []string{user.Contact}, message)
	if err != nil {
		d.logger.Warn("Notification send failed",
			"contact", user.Contact,
			"cino", change.Cino,
			"error", err)
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Success = true
	outcome.MessageID = messageID

	sub.SentCount++
	sub.LastSentAt = outcome.SentAt
	if err := d.store.SaveUser(ctx, user); err != nil {
		// Delivery already happened; stale bookkeeping is the lesser harm.
		d.logger.Warn("Failed to persist subscription bookkeeping",
			"contact", user.Contact,
			"cino", change.Cino,
			"error", err)
	}

	return outcome
}

// recordCaseDelivery bumps the case's notification counters.
func (d *Dispatcher) recordCaseDelivery(ctx context.Context, cino string, successes int) {
	rec, err := d.store.LoadCase(ctx, cino)
	if err != nil {
		d.logger.Warn("Failed to load case for delivery bookkeeping", "cino", cino, "error", err)
		return
	}
	rec.NotifyCount += successes
	rec.LastNotifiedAt = time.Now().UTC()
	if err := d.store.SaveCase(ctx, rec); err != nil {
		d.logger.Warn("Failed to persist case delivery bookkeeping", "cino", cino, "error", err)
	}
}
