package detect

import (
	"errors"
	"strings"
	"testing"
	"time"

	"courtwatch/pkg/courtcase"
)

func date(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

func snapshot() *courtcase.CaseSnapshot {
	return &courtcase.CaseSnapshot{
		Cino:            "804692",
		Status:          "Pending",
		StageOfCase:     "Admission",
		Coram:           "Hon'ble Justice A. B. Sharma",
		NextHearingDate: date("2025-01-10"),
		ListingHistory: []courtcase.ListingEvent{
			{CauseListType: "Daily List", Judge: "A. B. Sharma", ListedOn: date("2024-10-01")},
			{CauseListType: "Daily List", Judge: "A. B. Sharma", ListedOn: date("2024-11-05")},
			{CauseListType: "Daily List", Judge: "A. B. Sharma", ListedOn: date("2024-12-03")},
		},
	}
}

func TestChangesNilInput(t *testing.T) {
	if _, err := Changes(nil, snapshot()); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Changes(nil, x) error = %v, want ErrInvalidInput", err)
	}
	if _, err := Changes(snapshot(), nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Changes(x, nil) error = %v, want ErrInvalidInput", err)
	}
}

func TestChangesNoOp(t *testing.T) {
	snap := snapshot()
	cs, err := Changes(snap, snap)
	if err != nil {
		t.Fatalf("Changes() error = %v", err)
	}
	if cs.HasChanges {
		t.Error("comparing a snapshot with itself must report no changes")
	}
	if cs.Priority != courtcase.PriorityNone {
		t.Errorf("Priority = %q, want %q", cs.Priority, courtcase.PriorityNone)
	}
	if len(cs.ChangedFields) != 0 || len(cs.Changes) != 0 {
		t.Errorf("expected empty collections, got fields=%v changes=%v", cs.ChangedFields, cs.Changes)
	}
	if cs.Summary != "" {
		t.Errorf("Summary = %q, want empty", cs.Summary)
	}
}

func TestChangesStringNormalization(t *testing.T) {
	oldSnap := snapshot()
	newSnap := snapshot()
	newSnap.Status = "  PENDING "
	newSnap.Coram = "hon'ble justice a. b. sharma"

	cs, err := Changes(oldSnap, newSnap)
	if err != nil {
		t.Fatalf("Changes() error = %v", err)
	}
	if cs.HasChanges {
		t.Errorf("case/whitespace noise must not register as a change, got %v", cs.ChangedFields)
	}
}

func TestChangesPriorityPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(s *courtcase.CaseSnapshot)
		want     courtcase.Priority
		critical bool
	}{
		{
			name:     "hearing date change wins",
			mutate:   func(s *courtcase.CaseSnapshot) { s.NextHearingDate = date("2025-03-10") },
			want:     courtcase.PriorityUrgent,
			critical: true,
		},
		{
			name: "hearing date set from null",
			mutate: func(s *courtcase.CaseSnapshot) {
				s.NextHearingDate = date("2025-03-10")
				s.Status = "Listed"
			},
			want:     courtcase.PriorityUrgent,
			critical: true,
		},
		{
			name:     "status change alone is high",
			mutate:   func(s *courtcase.CaseSnapshot) { s.Status = "Disposed" },
			want:     courtcase.PriorityHigh,
			critical: true,
		},
		{
			name:     "stage change alone is high",
			mutate:   func(s *courtcase.CaseSnapshot) { s.StageOfCase = "Final Hearing" },
			want:     courtcase.PriorityHigh,
			critical: true,
		},
		{
			name: "listing growth alone is medium",
			mutate: func(s *courtcase.CaseSnapshot) {
				s.ListingHistory = append(s.ListingHistory, courtcase.ListingEvent{CauseListType: "Supplementary"})
			},
			want:     courtcase.PriorityMedium,
			critical: false,
		},
		{
			name:     "coram change alone is low",
			mutate:   func(s *courtcase.CaseSnapshot) { s.Coram = "Hon'ble Justice C. D. Rao" },
			want:     courtcase.PriorityLow,
			critical: false,
		},
		{
			name: "IA growth alone is low",
			mutate: func(s *courtcase.CaseSnapshot) {
				s.InterimApplications = append(s.InterimApplications, courtcase.InterimApplication{Number: "IA/1/2025"})
			},
			want:     courtcase.PriorityLow,
			critical: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldSnap := snapshot()
			newSnap := snapshot()
			tt.mutate(newSnap)

			cs, err := Changes(oldSnap, newSnap)
			if err != nil {
				t.Fatalf("Changes() error = %v", err)
			}
			if !cs.HasChanges {
				t.Fatal("expected a change to be detected")
			}
			if cs.Priority != tt.want {
				t.Errorf("Priority = %q, want %q", cs.Priority, tt.want)
			}
			if cs.HasCriticalChanges != tt.critical {
				t.Errorf("HasCriticalChanges = %v, want %v", cs.HasCriticalChanges, tt.critical)
			}
		})
	}
}

func TestChangesHearingDatePrecedenceMinimal(t *testing.T) {
	// Spec scenario: identical status, hearing date null -> set. Urgent.
	oldSnap := &courtcase.CaseSnapshot{Status: "A"}
	newSnap := &courtcase.CaseSnapshot{Status: "A", NextHearingDate: date("2025-01-01")}

	cs, err := Changes(oldSnap, newSnap)
	if err != nil {
		t.Fatalf("Changes() error = %v", err)
	}
	if cs.Priority != courtcase.PriorityUrgent {
		t.Errorf("Priority = %q, want urgent", cs.Priority)
	}
	if len(cs.ChangedFields) != 1 || cs.ChangedFields[0] != courtcase.FieldNextHearingDate {
		t.Errorf("ChangedFields = %v, want just nextHearingDate", cs.ChangedFields)
	}
}

func TestChangesListGrowthOnly(t *testing.T) {
	oldSnap := snapshot()

	// Same length but reordered: noise, not a change.
	reordered := snapshot()
	reordered.ListingHistory[0], reordered.ListingHistory[2] =
		reordered.ListingHistory[2], reordered.ListingHistory[0]

	cs, err := Changes(oldSnap, reordered)
	if err != nil {
		t.Fatalf("Changes() error = %v", err)
	}
	if cs.HasChanges {
		t.Errorf("reordered history must not register, got %v", cs.ChangedFields)
	}

	// Shrinkage: also noise.
	shorter := snapshot()
	shorter.ListingHistory = shorter.ListingHistory[:2]
	cs, err = Changes(oldSnap, shorter)
	if err != nil {
		t.Fatalf("Changes() error = %v", err)
	}
	if cs.HasChanges {
		t.Errorf("shrunk history must not register, got %v", cs.ChangedFields)
	}

	// Strict growth: a change.
	longer := snapshot()
	longer.ListingHistory = append(longer.ListingHistory, courtcase.ListingEvent{CauseListType: "Daily List"})
	cs, err = Changes(oldSnap, longer)
	if err != nil {
		t.Fatalf("Changes() error = %v", err)
	}
	if !cs.HasChanges {
		t.Fatal("grown history must register as a change")
	}
	rec := cs.Changes[courtcase.FieldListingHistory]
	if rec.Kind != courtcase.ChangeKindArray {
		t.Errorf("Kind = %q, want array", rec.Kind)
	}
	if !strings.Contains(rec.Description, "New entries added to") {
		t.Errorf("Description = %q, want list-growth wording", rec.Description)
	}
}

func TestChangesDateTransitions(t *testing.T) {
	tests := []struct {
		name       string
		oldDate    *time.Time
		newDate    *time.Time
		wantChange bool
	}{
		{"null to null", nil, nil, false},
		{"null to set", nil, date("2025-03-10"), true},
		{"set to null", date("2025-03-10"), nil, true},
		{"same instant", date("2025-03-10"), date("2025-03-10"), false},
		{"different instant", date("2025-03-10"), date("2025-03-11"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldSnap := &courtcase.CaseSnapshot{NextHearingDate: tt.oldDate}
			newSnap := &courtcase.CaseSnapshot{NextHearingDate: tt.newDate}

			cs, err := Changes(oldSnap, newSnap)
			if err != nil {
				t.Fatalf("Changes() error = %v", err)
			}
			if cs.HasChanges != tt.wantChange {
				t.Errorf("HasChanges = %v, want %v", cs.HasChanges, tt.wantChange)
			}
		})
	}
}

func TestChangesSummaryOrdersCriticalFirst(t *testing.T) {
	oldSnap := snapshot()
	newSnap := snapshot()
	newSnap.Status = "Listed"
	newSnap.Coram = "Hon'ble Justice C. D. Rao"
	newSnap.ListingHistory = append(newSnap.ListingHistory, courtcase.ListingEvent{CauseListType: "Daily List"})

	cs, err := Changes(oldSnap, newSnap)
	if err != nil {
		t.Fatalf("Changes() error = %v", err)
	}

	lines := strings.Split(cs.Summary, "\n")
	if len(lines) != 3 {
		t.Fatalf("Summary has %d lines, want 3: %q", len(lines), cs.Summary)
	}
	if !strings.HasPrefix(lines[0], "[IMPORTANT]") {
		t.Errorf("first summary line should be the critical change, got %q", lines[0])
	}
	if strings.HasPrefix(lines[1], "[IMPORTANT]") || strings.HasPrefix(lines[2], "[IMPORTANT]") {
		t.Errorf("non-critical lines must not carry the critical prefix: %q", cs.Summary)
	}
	if !strings.Contains(lines[0], "status changed from Pending to Listed") {
		t.Errorf("unexpected critical line: %q", lines[0])
	}
}

func TestChangesRecordContents(t *testing.T) {
	oldSnap := &courtcase.CaseSnapshot{Status: "Pending"}
	newSnap := &courtcase.CaseSnapshot{Status: "Listed", NextHearingDate: date("2025-03-10")}

	cs, err := Changes(oldSnap, newSnap)
	if err != nil {
		t.Fatalf("Changes() error = %v", err)
	}
	if len(cs.Changes) != 2 {
		t.Fatalf("got %d change records, want 2", len(cs.Changes))
	}

	status := cs.Changes[courtcase.FieldStatus]
	if status.Kind != courtcase.ChangeKindStatus || status.Old != "Pending" || status.New != "Listed" {
		t.Errorf("status record = %+v", status)
	}

	hearing := cs.Changes[courtcase.FieldNextHearingDate]
	if hearing.Kind != courtcase.ChangeKindDate || hearing.Old != "(not set)" || hearing.New != "10 Mar 2025" {
		t.Errorf("hearing record = %+v", hearing)
	}
}
