package storage

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"courtwatch/pkg/courtcase"
)

func newLocalStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	return New(nil, "", t.TempDir(), []byte("test-salt"), logger)
}

func TestCaseKey(t *testing.T) {
	tests := []struct {
		name string
		cino string
		want string
	}{
		{"valid cino", "MHHC010012342023", "case-MHHC010012342023.json"},
		{"lowercase normalized", "mhhc010012342023", "case-MHHC010012342023.json"},
		{"numeric cino", "804692", "case-804692.json"},
		{"empty", "", ""},
		{"path traversal", "../../../etc/passwd", ""},
		{"slash", "a/b", ""},
		{"too long", strings.Repeat("A", 33), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CaseKey(tt.cino); got != tt.want {
				t.Errorf("CaseKey(%q) = %q, want %q", tt.cino, got, tt.want)
			}
		})
	}
}

func TestUserKey(t *testing.T) {
	valid := strings.Repeat("ab12", 16)
	if got := UserKey(valid); got != "user-"+valid+".json" {
		t.Errorf("UserKey(valid) = %q", got)
	}
	for _, bad := range []string{"", "short", strings.Repeat("Z", 64), strings.Repeat("a", 63) + "/"} {
		if got := UserKey(bad); got != "" {
			t.Errorf("UserKey(%q) = %q, want empty", bad, got)
		}
	}
}

func TestCaseRoundTrip(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()

	next := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	rec := &courtcase.CaseRecord{
		Cino: "MHHC010012342023",
		Snapshot: &courtcase.CaseSnapshot{
			Cino:            "MHHC010012342023",
			Status:          "Pending",
			StageOfCase:     "Admission",
			NextHearingDate: &next,
		},
		Fingerprint: strings.Repeat("f", 64),
		AddedAt:     time.Now().UTC(),
	}

	if err := store.SaveCase(ctx, rec); err != nil {
		t.Fatalf("SaveCase() error = %v", err)
	}

	loaded, err := store.LoadCase(ctx, "MHHC010012342023")
	if err != nil {
		t.Fatalf("LoadCase() error = %v", err)
	}
	if loaded.Snapshot.Status != "Pending" || loaded.Fingerprint != rec.Fingerprint {
		t.Errorf("loaded record = %+v", loaded)
	}
	if loaded.Snapshot.NextHearingDate == nil || !loaded.Snapshot.NextHearingDate.Equal(next) {
		t.Errorf("NextHearingDate = %v", loaded.Snapshot.NextHearingDate)
	}

	records, err := store.ListCases(ctx)
	if err != nil {
		t.Fatalf("ListCases() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("ListCases() returned %d records, want 1", len(records))
	}

	if err := store.DeleteCase(ctx, "MHHC010012342023"); err != nil {
		t.Fatalf("DeleteCase() error = %v", err)
	}
	if _, err := store.LoadCase(ctx, "MHHC010012342023"); !IsNotFound(err) {
		t.Errorf("LoadCase() after delete error = %v, want not-found", err)
	}

	// Idempotent delete
	if err := store.DeleteCase(ctx, "MHHC010012342023"); err != nil {
		t.Errorf("second DeleteCase() error = %v", err)
	}
}

func TestUserRoundTrip(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()

	user := &courtcase.User{
		Contact: "+911234567890",
		Name:    "Adv. Mehta",
		Active:  true,
		Token:   store.TokenFromContact("+911234567890"),
		Subscriptions: map[string]*courtcase.Subscription{
			"804692": {Active: true, NotifyOn: courtcase.AllNotifyPrefs(), CreatedAt: time.Now().UTC()},
		},
	}

	if err := store.SaveUser(ctx, user); err != nil {
		t.Fatalf("SaveUser() error = %v", err)
	}

	byContact, err := store.LoadUserByContact(ctx, "+911234567890")
	if err != nil {
		t.Fatalf("LoadUserByContact() error = %v", err)
	}
	if byContact.Name != "Adv. Mehta" || len(byContact.Subscriptions) != 1 {
		t.Errorf("loaded user = %+v", byContact)
	}

	byToken, err := store.LoadUserByToken(ctx, user.Token)
	if err != nil {
		t.Fatalf("LoadUserByToken() error = %v", err)
	}
	if byToken.Contact != user.Contact {
		t.Errorf("Contact = %q", byToken.Contact)
	}

	if _, err := store.LoadUserByToken(ctx, "not-a-token"); !IsNotFound(err) {
		t.Errorf("bad token error = %v, want not-found", err)
	}

	if err := store.DeleteUser(ctx, "+911234567890"); err != nil {
		t.Fatalf("DeleteUser() error = %v", err)
	}
	if _, err := store.LoadUserByContact(ctx, "+911234567890"); !IsNotFound(err) {
		t.Errorf("LoadUserByContact() after delete error = %v, want not-found", err)
	}
}

func TestTokenFromContactDeterministic(t *testing.T) {
	store := newLocalStore(t)

	a := store.TokenFromContact("user@example.com")
	b := store.TokenFromContact("  USER@example.com ")
	if a != b {
		t.Error("token derivation should normalize case and whitespace")
	}
	if len(a) != 64 {
		t.Errorf("token length = %d, want 64", len(a))
	}

	other := New(nil, "", t.TempDir(), []byte("different-salt"),
		slog.New(slog.NewTextHandler(os.Stdout, nil)))
	if other.TokenFromContact("user@example.com") == a {
		t.Error("tokens must depend on the salt")
	}
}

func TestSubscriptionsFor(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()

	save := func(contact string, active bool, subActive bool) {
		t.Helper()
		user := &courtcase.User{
			Contact: contact,
			Active:  active,
			Token:   store.TokenFromContact(contact),
			Subscriptions: map[string]*courtcase.Subscription{
				"804692": {Active: subActive},
			},
		}
		if err := store.SaveUser(ctx, user); err != nil {
			t.Fatalf("SaveUser(%s) error = %v", contact, err)
		}
	}

	save("a@example.com", true, true)
	save("b@example.com", true, false) // inactive subscription
	save("c@example.com", false, true) // inactive user still matched; dispatcher filters

	users, err := store.SubscriptionsFor(ctx, "804692")
	if err != nil {
		t.Fatalf("SubscriptionsFor() error = %v", err)
	}
	if len(users) != 2 {
		t.Errorf("SubscriptionsFor() matched %d users, want 2", len(users))
	}

	none, err := store.SubscriptionsFor(ctx, "999999")
	if err != nil {
		t.Fatalf("SubscriptionsFor() error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("SubscriptionsFor(unknown) matched %d users, want 0", len(none))
	}
}

func TestCandidateCases(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	saveCase := func(cino string, lastChecked time.Time) {
		t.Helper()
		if err := store.SaveCase(ctx, &courtcase.CaseRecord{Cino: cino, LastCheckedAt: lastChecked}); err != nil {
			t.Fatalf("SaveCase(%s) error = %v", cino, err)
		}
	}

	saveCase("CASE001", time.Time{})            // never checked: due
	saveCase("CASE002", now.Add(-2*time.Hour))  // stale: due
	saveCase("CASE003", now.Add(-time.Minute))  // fresh: not due
	saveCase("CASE004", now.Add(-time.Minute))  // fresh but subscribed

	user := &courtcase.User{
		Contact: "a@example.com",
		Active:  true,
		Token:   store.TokenFromContact("a@example.com"),
		Subscriptions: map[string]*courtcase.Subscription{
			"CASE004": {Active: true},
		},
	}
	if err := store.SaveUser(ctx, user); err != nil {
		t.Fatalf("SaveUser() error = %v", err)
	}

	records, err := store.CandidateCases(ctx, time.Hour, now)
	if err != nil {
		t.Fatalf("CandidateCases() error = %v", err)
	}

	got := map[string]bool{}
	for _, rec := range records {
		got[rec.Cino] = true
	}
	for _, want := range []string{"CASE001", "CASE002", "CASE004"} {
		if !got[want] {
			t.Errorf("CandidateCases() missing %s (got %d records)", want, len(records))
		}
	}
	if got["CASE003"] {
		t.Errorf("CandidateCases() should not include fresh unsubscribed CASE003")
	}
}

func TestAppendOutcomes(t *testing.T) {
	store := newLocalStore(t)
	ctx := context.Background()

	outcomes := []courtcase.NotificationOutcome{
		{ID: "1", Contact: "a@example.com", Cino: "804692", Success: true, MessageID: "msg-1", SentAt: time.Now().UTC()},
		{ID: "2", Contact: "b@example.com", Cino: "804692", Success: false, Error: "gateway timeout", SentAt: time.Now().UTC()},
	}

	if err := store.AppendOutcomes(ctx, "run-abc123", outcomes); err != nil {
		t.Fatalf("AppendOutcomes() error = %v", err)
	}

	// Empty set is a no-op, not an error.
	if err := store.AppendOutcomes(ctx, "run-abc123", nil); err != nil {
		t.Errorf("AppendOutcomes(empty) error = %v", err)
	}
}
