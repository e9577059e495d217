// Package courtcase contains the core domain types for the court case
// status notification service.
package courtcase

import "time"

// Significant field names shared by the fingerprint engine and the
// change detector. The detector iterates exactly this set.
const (
	FieldStatus              = "status"
	FieldNextHearingDate     = "nextHearingDate"
	FieldStageOfCase         = "stageOfCase"
	FieldCoram               = "coram"
	FieldInterimApplications = "interimApplications"
	FieldListingHistory      = "listingHistory"
)

// InterimApplication is one interlocutory application filed in a case.
type InterimApplication struct {
	Number  string     `json:"number"`
	Party   string     `json:"party"`
	Status  string     `json:"status"`
	FiledOn *time.Time `json:"filed_on,omitempty"`
}

// ListingEvent is one row of a case's listing history.
type ListingEvent struct {
	CauseListType string     `json:"cause_list_type"`
	Judge         string     `json:"judge"`
	BenchID       string     `json:"bench_id,omitempty"`
	ListedOn      *time.Time `json:"listed_on,omitempty"`
	ShortOrder    string     `json:"short_order,omitempty"`
}

// CaseSnapshot is a point-in-time view of a case as scraped from the
// court's case-status page. Consumed read-only by the fingerprint engine
// and the change detector.
type CaseSnapshot struct {
	Cino                string               `json:"cino"`
	CaseTitle           string               `json:"case_title,omitempty"`
	CaseType            string               `json:"case_type,omitempty"`
	FilingNumber        string               `json:"filing_number,omitempty"`
	RegistrationNumber  string               `json:"registration_number,omitempty"`
	Status              string               `json:"status"`
	StageOfCase         string               `json:"stage_of_case,omitempty"`
	Coram               string               `json:"coram,omitempty"`
	Bench               string               `json:"bench,omitempty"`
	FirstHearingDate    *time.Time           `json:"first_hearing_date,omitempty"`
	NextHearingDate     *time.Time           `json:"next_hearing_date,omitempty"`
	DecisionDate        *time.Time           `json:"decision_date,omitempty"`
	InterimApplications []InterimApplication `json:"interim_applications,omitempty"`
	ListingHistory      []ListingEvent       `json:"listing_history,omitempty"`
	RawHTML             string               `json:"-"` // debug only, never significant
	FetchedAt           time.Time            `json:"fetched_at"`
}

// ChangeKind classifies how a field changed.
type ChangeKind string

const (
	ChangeKindDate    ChangeKind = "date"
	ChangeKindStatus  ChangeKind = "status"
	ChangeKindArray   ChangeKind = "array"
	ChangeKindGeneral ChangeKind = "general"
)

// Priority ranks how urgently a changeset should be delivered.
type Priority string

const (
	PriorityNone   Priority = "none"
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// ChangeRecord is one detected field-level difference. Created only by
// the detector and never mutated afterwards.
type ChangeRecord struct {
	Field       string     `json:"field"`
	Kind        ChangeKind `json:"kind"`
	Old         string     `json:"old"`
	New         string     `json:"new"`
	Description string     `json:"description"`
}

// ChangeSet is the aggregate result of comparing one case's old and new
// snapshots. Constructed fresh per comparison and consumed within the
// same poll cycle.
type ChangeSet struct {
	HasChanges         bool                    `json:"has_changes"`
	HasCriticalChanges bool                    `json:"has_critical_changes"`
	ChangedFields      []string                `json:"changed_fields"`
	Changes            map[string]ChangeRecord `json:"changes"`
	Priority           Priority                `json:"priority"`
	Summary            string                  `json:"summary"`
}

// CaseChange pairs a detected changeset with the refreshed snapshot it
// was computed from. Emitted by the scheduler, consumed by the dispatcher.
type CaseChange struct {
	Cino      string
	ChangeSet *ChangeSet
	Snapshot  *CaseSnapshot
}

// NotifyPrefs is a per-notification-kind opt-in map.
type NotifyPrefs struct {
	Status             bool `json:"status"`
	Hearing            bool `json:"hearing"`
	Order              bool `json:"order"`
	Listing            bool `json:"listing"`
	InterimApplication bool `json:"interim_application"`
}

// AllNotifyPrefs returns prefs with every kind opted in.
func AllNotifyPrefs() NotifyPrefs {
	return NotifyPrefs{Status: true, Hearing: true, Order: true, Listing: true, InterimApplication: true}
}

// Subscription binds a user to one case. The dispatcher only reads
// active subscriptions and writes back delivery bookkeeping.
type Subscription struct {
	Active     bool        `json:"active"`
	Priority   string      `json:"priority,omitempty"` // free-form tag set by the subscriber
	Alias      string      `json:"alias,omitempty"`
	Notes      string      `json:"notes,omitempty"`
	NotifyOn   NotifyPrefs `json:"notify_on"`
	SentCount  int         `json:"sent_count"`
	LastSentAt time.Time   `json:"last_sent_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// User is a subscriber identity with its case subscriptions.
type User struct {
	Subscriptions map[string]*Subscription `json:"subscriptions"` // cino -> subscription
	Contact       string                   `json:"contact"`       // single delivery address
	Name          string                   `json:"name,omitempty"`
	Token         string                   `json:"token"` // secure token for the admin API
	Active        bool                     `json:"active"`
	CreatedAt     time.Time                `json:"created_at"`
}

// CaseRecord is the persisted state for one monitored case.
type CaseRecord struct {
	Cino           string         `json:"cino"`
	Snapshot       *CaseSnapshot  `json:"snapshot,omitempty"`
	Fingerprint    string         `json:"fingerprint,omitempty"`
	AddedAt        time.Time      `json:"added_at"`
	LastCheckedAt  time.Time      `json:"last_checked_at,omitempty"`
	LastChangedAt  time.Time      `json:"last_changed_at,omitempty"`
	NotifyCount    int            `json:"notify_count"`
	LastNotifiedAt time.Time      `json:"last_notified_at,omitempty"`
	History        []ChangeRecord `json:"history,omitempty"` // most recent detected changes
}

// NotificationOutcome is one delivery attempt's result, append-only.
type NotificationOutcome struct {
	ID        string    `json:"id"`
	Contact   string    `json:"contact"`
	Cino      string    `json:"cino"`
	Success   bool      `json:"success"`
	MessageID string    `json:"message_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	SentAt    time.Time `json:"sent_at"`
}
