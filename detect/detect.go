// Package detect compares two case snapshots field by field and builds a
// structured, prioritized changeset.
package detect

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"courtwatch/pkg/courtcase"
)

// ErrInvalidInput indicates a nil snapshot was passed to Changes. Callers
// treat it as a per-case failure, never as cycle-fatal.
var ErrInvalidInput = errors.New("detect: snapshot must not be nil")

// criticalFields are the fields whose change marks a changeset critical.
var criticalFields = map[string]bool{
	courtcase.FieldStatus:          true,
	courtcase.FieldNextHearingDate: true,
	courtcase.FieldStageOfCase:     true,
}

// Changes compares the persisted snapshot against a freshly fetched one
// and returns the aggregate changeset. Comparing a snapshot against
// itself yields HasChanges == false.
func Changes(oldSnap, newSnap *courtcase.CaseSnapshot) (*courtcase.ChangeSet, error) {
	if oldSnap == nil || newSnap == nil {
		return nil, ErrInvalidInput
	}

	cs := &courtcase.ChangeSet{
		ChangedFields: []string{},
		Changes:       map[string]courtcase.ChangeRecord{},
		Priority:      courtcase.PriorityNone,
	}

	// Fixed significant-field order; the changeset reports fields in
	// this order too.
	record(cs, compareStatus(courtcase.FieldStatus, oldSnap.Status, newSnap.Status))
	record(cs, compareDate(courtcase.FieldNextHearingDate, oldSnap.NextHearingDate, newSnap.NextHearingDate))
	record(cs, compareString(courtcase.FieldStageOfCase, oldSnap.StageOfCase, newSnap.StageOfCase))
	record(cs, compareString(courtcase.FieldCoram, oldSnap.Coram, newSnap.Coram))
	record(cs, compareListLength(courtcase.FieldInterimApplications,
		len(oldSnap.InterimApplications), len(newSnap.InterimApplications)))
	record(cs, compareListLength(courtcase.FieldListingHistory,
		len(oldSnap.ListingHistory), len(newSnap.ListingHistory)))

	cs.Priority = derivePriority(cs)
	cs.Summary = buildSummary(cs)
	return cs, nil
}

func record(cs *courtcase.ChangeSet, rec *courtcase.ChangeRecord) {
	if rec == nil {
		return
	}
	cs.HasChanges = true
	if criticalFields[rec.Field] {
		cs.HasCriticalChanges = true
	}
	cs.ChangedFields = append(cs.ChangedFields, rec.Field)
	cs.Changes[rec.Field] = *rec
}

func compareStatus(field, oldVal, newVal string) *courtcase.ChangeRecord {
	rec := compareString(field, oldVal, newVal)
	if rec != nil {
		rec.Kind = courtcase.ChangeKindStatus
	}
	return rec
}

// compareString flags case-insensitive, trim-insensitive inequality.
func compareString(field, oldVal, newVal string) *courtcase.ChangeRecord {
	oldNorm := strings.ToLower(strings.TrimSpace(oldVal))
	newNorm := strings.ToLower(strings.TrimSpace(newVal))
	if oldNorm == newNorm {
		return nil
	}
	return &courtcase.ChangeRecord{
		Field:       field,
		Kind:        courtcase.ChangeKindGeneral,
		Old:         displayString(oldVal),
		New:         displayString(newVal),
		Description: fmt.Sprintf("%s changed from %s to %s", field, displayString(oldVal), displayString(newVal)),
	}
}

// compareDate flags unequal instants. Nil vs non-nil is always a change;
// nil vs nil is not.
func compareDate(field string, oldVal, newVal *time.Time) *courtcase.ChangeRecord {
	switch {
	case oldVal == nil && newVal == nil:
		return nil
	case oldVal != nil && newVal != nil && oldVal.Equal(*newVal):
		return nil
	}
	return &courtcase.ChangeRecord{
		Field:       field,
		Kind:        courtcase.ChangeKindDate,
		Old:         displayDate(oldVal),
		New:         displayDate(newVal),
		Description: fmt.Sprintf("%s changed from %s to %s", field, displayDate(oldVal), displayDate(newVal)),
	}
}

// compareListLength flags a change only on strict growth. The source
// tables are append-only histories, so shrinkage or reordering is noise,
// and in-place edits to existing rows are not detected.
func compareListLength(field string, oldLen, newLen int) *courtcase.ChangeRecord {
	if newLen <= oldLen {
		return nil
	}
	return &courtcase.ChangeRecord{
		Field:       field,
		Kind:        courtcase.ChangeKindArray,
		Old:         fmt.Sprintf("%d entries", oldLen),
		New:         fmt.Sprintf("%d entries", newLen),
		Description: fmt.Sprintf("New entries added to %s", field),
	}
}

// derivePriority applies strict precedence, first match wins.
func derivePriority(cs *courtcase.ChangeSet) courtcase.Priority {
	switch {
	case !cs.HasChanges:
		return courtcase.PriorityNone
	case changed(cs, courtcase.FieldNextHearingDate):
		return courtcase.PriorityUrgent
	case cs.HasCriticalChanges:
		return courtcase.PriorityHigh
	case changed(cs, courtcase.FieldListingHistory):
		return courtcase.PriorityMedium
	default:
		return courtcase.PriorityLow
	}
}

func changed(cs *courtcase.ChangeSet, field string) bool {
	_, ok := cs.Changes[field]
	return ok
}

// buildSummary joins descriptions with critical changes first.
func buildSummary(cs *courtcase.ChangeSet) string {
	if !cs.HasChanges {
		return ""
	}
	var lines []string
	for _, field := range cs.ChangedFields {
		if criticalFields[field] {
			lines = append(lines, "[IMPORTANT] "+cs.Changes[field].Description)
		}
	}
	for _, field := range cs.ChangedFields {
		if !criticalFields[field] {
			lines = append(lines, cs.Changes[field].Description)
		}
	}
	return strings.Join(lines, "\n")
}

func displayString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(not set)"
	}
	return s
}

func displayDate(t *time.Time) string {
	if t == nil {
		return "(not set)"
	}
	return t.UTC().Format("02 Jan 2006")
}
