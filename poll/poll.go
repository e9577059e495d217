// Package poll drives monitoring cycles: it selects cases due for a
// check, fetches them in rate-limited batches, runs change detection,
// and hands detected changes to the notification dispatcher.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"courtwatch/detect"
	"courtwatch/fingerprint"
	"courtwatch/pkg/courtcase"
	"courtwatch/scraper"
)

const (
	defaultBatchSize       = 10
	defaultInterBatchDelay = 2 * time.Second
	defaultCheckInterval   = 30 * time.Minute

	// maxHistoryRecords bounds the per-case change log carried in the
	// stored record.
	maxHistoryRecords = 50
)

// Fetcher retrieves the current snapshot for a case.
type Fetcher interface {
	FetchCase(ctx context.Context, cino string) (*courtcase.CaseSnapshot, error)
}

// Store is the persistence surface the monitor needs.
type Store interface {
	CandidateCases(ctx context.Context, checkInterval time.Duration, now time.Time) ([]*courtcase.CaseRecord, error)
	SaveCase(ctx context.Context, rec *courtcase.CaseRecord) error
	AppendOutcomes(ctx context.Context, runID string, outcomes []courtcase.NotificationOutcome) error
}

// Dispatcher delivers notifications for detected changes.
type Dispatcher interface {
	Dispatch(ctx context.Context, changes []courtcase.CaseChange) []courtcase.NotificationOutcome
}

// Alerter sends out-of-band messages to the operator when a cycle
// fails outright.
type Alerter interface {
	Send(ctx context.Context, recipients []string, message string) (string, error)
}

// RunSummary reports what a single monitoring cycle did.
type RunSummary struct {
	RunID        string         `json:"run_id"`
	StartedAt    time.Time      `json:"started_at"`
	Duration     time.Duration  `json:"duration"`
	Skipped      bool           `json:"skipped,omitempty"`
	CasesChecked int            `json:"cases_checked"`
	CasesChanged int            `json:"cases_changed"`
	CasesFailed  int            `json:"cases_failed"`
	Sent         int            `json:"notifications_sent"`
	Failed       int            `json:"notifications_failed"`
	ByPriority   map[string]int `json:"by_priority,omitempty"`
}

// RunStatus is a point-in-time view of the monitor's counters.
type RunStatus struct {
	Running       bool      `json:"running"`
	MonitorActive bool      `json:"monitor_active"`
	RunCount      int64     `json:"run_count"`
	ErrorCount    int64     `json:"error_count"`
	LastRunTime   time.Time `json:"last_run_time,omitempty"`
	LastRunStatus string    `json:"last_run_status,omitempty"`
}

// Monitor owns the polling loop state. At most one cycle runs at a
// time; overlapping triggers are reported as skipped.
type Monitor struct {
	fetcher    Fetcher
	store      Store
	dispatcher Dispatcher
	alerter    Alerter
	logger     *slog.Logger

	adminContact    string
	batchSize       int
	interBatchDelay time.Duration
	checkInterval   time.Duration
	sleep           func(time.Duration) // injectable for tests

	isRunning atomic.Bool

	mu            sync.Mutex
	runCount      int64
	errorCount    int64
	lastRunTime   time.Time
	lastRunStatus string
	tickerStop    chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithBatchSize sets how many cases are fetched per batch.
func WithBatchSize(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithInterBatchDelay sets the pause between batches. Zero disables it.
func WithInterBatchDelay(d time.Duration) Option {
	return func(m *Monitor) { m.interBatchDelay = d }
}

// WithCheckInterval sets how stale a case must be before it is due
// for a fetch.
func WithCheckInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.checkInterval = d
		}
	}
}

// WithAdminContact sets the operator address for cycle-failure alerts.
func WithAdminContact(contact string) Option {
	return func(m *Monitor) { m.adminContact = contact }
}

// WithSleep overrides the sleep function. Tests use this to count
// inter-batch delays without waiting.
func WithSleep(fn func(time.Duration)) Option {
	return func(m *Monitor) { m.sleep = fn }
}

// New creates a monitor with explicit dependencies.
func New(fetcher Fetcher, store Store, dispatcher Dispatcher, alerter Alerter, logger *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		fetcher:         fetcher,
		store:           store,
		dispatcher:      dispatcher,
		alerter:         alerter,
		logger:          logger,
		batchSize:       defaultBatchSize,
		interBatchDelay: defaultInterBatchDelay,
		checkInterval:   defaultCheckInterval,
		sleep:           time.Sleep,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RunOnce executes one full monitoring cycle. When a cycle is already
// in flight it returns immediately with a skipped summary and leaves
// the run counters untouched.
func (m *Monitor) RunOnce(ctx context.Context) (*RunSummary, error) {
	if !m.isRunning.CompareAndSwap(false, true) {
		m.logger.Warn("Monitoring cycle already in progress, skipping trigger")
		return &RunSummary{Skipped: true}, nil
	}
	defer m.isRunning.Store(false)

	start := time.Now().UTC()
	summary := &RunSummary{
		RunID:     uuid.NewString(),
		StartedAt: start,
	}

	m.mu.Lock()
	m.runCount++
	runNumber := m.runCount
	m.mu.Unlock()

	m.logger.Info("Starting monitoring cycle", "run_id", summary.RunID, "run_number", runNumber)

	candidates, err := m.store.CandidateCases(ctx, m.checkInterval, start)
	if err != nil {
		err = fmt.Errorf("select candidate cases: %w", err)
		m.recordFailure(ctx, summary, err)
		return nil, err
	}
	if len(candidates) == 0 {
		m.logger.Info("No cases due for checking", "run_id", summary.RunID)
		m.finish(summary, start)
		return summary, nil
	}

	changes := m.fetchBatches(ctx, candidates, start, summary)

	if len(changes) > 0 {
		outcomes := m.dispatcher.Dispatch(ctx, changes)
		for _, out := range outcomes {
			if out.Success {
				summary.Sent++
			} else {
				summary.Failed++
			}
		}
		if err := m.store.AppendOutcomes(ctx, summary.RunID, outcomes); err != nil {
			// Audit log only; the cycle result stands.
			m.logger.Warn("Failed to persist notification outcomes", "run_id", summary.RunID, "error", err)
		}
	}

	m.finish(summary, start)
	m.logger.Info("Monitoring cycle completed",
		"run_id", summary.RunID,
		"duration", summary.Duration.String(),
		"checked", summary.CasesChecked,
		"changed", summary.CasesChanged,
		"failed", summary.CasesFailed,
		"sent", summary.Sent,
		"send_failures", summary.Failed)
	return summary, nil
}

// fetchBatches walks the candidates in batches, pausing between
// batches. Per-case failures are logged and contained; they never stop
// the cycle.
func (m *Monitor) fetchBatches(ctx context.Context, candidates []*courtcase.CaseRecord, now time.Time, summary *RunSummary) []courtcase.CaseChange {
	var changes []courtcase.CaseChange

	for offset := 0; offset < len(candidates); offset += m.batchSize {
		if offset > 0 && m.interBatchDelay > 0 {
			m.sleep(m.interBatchDelay)
		}

		end := offset + m.batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		batch := candidates[offset:end]
		m.logger.Debug("Processing batch", "offset", offset, "size", len(batch))

		for _, rec := range batch {
			select {
			case <-ctx.Done():
				m.logger.Info("Context cancelled, stopping batch walk", "error", ctx.Err())
				return changes
			default:
			}

			summary.CasesChecked++
			change, err := m.checkCase(ctx, rec, now)
			if err != nil {
				summary.CasesFailed++
				m.logger.Warn("Case check failed", "cino", rec.Cino, "error", err)
				continue
			}
			if change != nil {
				summary.CasesChanged++
				if summary.ByPriority == nil {
					summary.ByPriority = make(map[string]int)
				}
				summary.ByPriority[string(change.ChangeSet.Priority)]++
				changes = append(changes, *change)
			}
		}
	}

	return changes
}

// checkCase fetches one case, compares it against the stored snapshot,
// and writes the refreshed record back in a single save. Returns a
// non-nil change when the case materially changed.
func (m *Monitor) checkCase(ctx context.Context, rec *courtcase.CaseRecord, now time.Time) (*courtcase.CaseChange, error) {
	snap, err := m.fetcher.FetchCase(ctx, rec.Cino)
	if err != nil {
		if errors.Is(err, scraper.ErrCaseNotFound) {
			// The registry no longer serves the case. Keep the record
			// but note the check so it is not hammered every cycle.
			rec.LastCheckedAt = now
			if saveErr := m.store.SaveCase(ctx, rec); saveErr != nil {
				m.logger.Warn("Failed to record check time", "cino", rec.Cino, "error", saveErr)
			}
		}
		return nil, fmt.Errorf("fetch case: %w", err)
	}

	fp := fingerprint.Compute(snap)

	if rec.Fingerprint == "" {
		// First observation: establish the baseline silently.
		rec.Snapshot = snap
		rec.Fingerprint = fp
		rec.LastCheckedAt = now
		if err := m.store.SaveCase(ctx, rec); err != nil {
			return nil, fmt.Errorf("save baseline: %w", err)
		}
		m.logger.Info("Baseline snapshot recorded", "cino", rec.Cino, "fingerprint", fp[:12])
		return nil, nil
	}

	if fp == rec.Fingerprint {
		rec.LastCheckedAt = now
		if err := m.store.SaveCase(ctx, rec); err != nil {
			return nil, fmt.Errorf("save record: %w", err)
		}
		return nil, nil
	}

	cs, err := detect.Changes(rec.Snapshot, snap)
	if err != nil {
		return nil, fmt.Errorf("detect changes: %w", err)
	}

	// Snapshot, fingerprint, and bookkeeping travel in one write so a
	// crash cannot leave them out of step.
	rec.Snapshot = snap
	rec.Fingerprint = fp
	rec.LastCheckedAt = now
	if !cs.HasChanges {
		// Fingerprint moved on a non-significant field.
		if err := m.store.SaveCase(ctx, rec); err != nil {
			return nil, fmt.Errorf("save record: %w", err)
		}
		return nil, nil
	}

	rec.LastChangedAt = now
	for _, field := range cs.ChangedFields {
		rec.History = append(rec.History, cs.Changes[field])
	}
	if len(rec.History) > maxHistoryRecords {
		rec.History = rec.History[len(rec.History)-maxHistoryRecords:]
	}
	if err := m.store.SaveCase(ctx, rec); err != nil {
		return nil, fmt.Errorf("save record: %w", err)
	}

	m.logger.Info("Case changed",
		"cino", rec.Cino,
		"priority", cs.Priority,
		"changed_fields", cs.ChangedFields)

	return &courtcase.CaseChange{Cino: rec.Cino, ChangeSet: cs, Snapshot: snap}, nil
}

// finish records a successful cycle.
func (m *Monitor) finish(summary *RunSummary, start time.Time) {
	summary.Duration = time.Since(start)

	m.mu.Lock()
	m.lastRunStatus = "success"
	m.lastRunTime = start
	m.mu.Unlock()
}

// recordFailure accounts for a cycle-fatal error and tries to tell the
// operator about it.
func (m *Monitor) recordFailure(ctx context.Context, summary *RunSummary, err error) {
	summary.Duration = time.Since(summary.StartedAt)

	m.mu.Lock()
	m.errorCount++
	m.lastRunStatus = "error"
	m.lastRunTime = summary.StartedAt
	m.mu.Unlock()

	m.logger.Error("Monitoring cycle failed", "run_id", summary.RunID, "error", err)
	m.alertAdmin(ctx, summary.RunID, err)
}

// alertAdmin sends a best-effort failure notice. Alerting problems are
// logged and swallowed so they never mask the original error.
func (m *Monitor) alertAdmin(ctx context.Context, runID string, cause error) {
	if m.alerter == nil || m.adminContact == "" {
		return
	}

	message := fmt.Sprintf("Monitoring cycle failed\n\nRun: %s\nError: %v\n", runID, cause)
	if _, err := m.alerter.Send(ctx, []string{m.adminContact}, message); err != nil {
		m.logger.Warn("Failed to alert admin", "run_id", runID, "error", err)
	}
}

// Start launches a background loop that triggers a cycle every
// interval. It is a no-op error if the loop is already running.
func (m *Monitor) Start(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid monitor interval: %s", interval)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tickerStop != nil {
		return errors.New("monitor already started")
	}

	stop := make(chan struct{})
	m.tickerStop = stop

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		m.logger.Info("Background monitoring started", "interval", interval.String())
		for {
			select {
			case <-stop:
				m.logger.Info("Background monitoring stopped")
				return
			case <-ticker.C:
				if _, err := m.RunOnce(context.Background()); err != nil {
					// Already logged and counted by RunOnce.
					continue
				}
			}
		}
	}()

	return nil
}

// Stop halts the background loop. An in-flight cycle finishes on its
// own.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tickerStop == nil {
		return errors.New("monitor not started")
	}
	close(m.tickerStop)
	m.tickerStop = nil
	return nil
}

// Status reports the monitor's counters.
func (m *Monitor) Status() RunStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return RunStatus{
		Running:       m.isRunning.Load(),
		MonitorActive: m.tickerStop != nil,
		RunCount:      m.runCount,
		ErrorCount:    m.errorCount,
		LastRunTime:   m.lastRunTime,
		LastRunStatus: m.lastRunStatus,
	}
}
