// Package fingerprint computes a deterministic content hash over the
// significant fields of a case snapshot. Two snapshots that agree on the
// significant fields produce the same fingerprint no matter what else
// differs between them.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"courtwatch/pkg/courtcase"
)

// Version identifies the significant-field list. Bump when the list or
// the normalization rules change so stale fingerprints re-register as
// changes on the next cycle.
const Version = "v1"

// historyTail bounds how many trailing listing-history entries feed the
// hash. Keeps the fingerprint stable against unbounded history growth
// while still reacting to the most recent entries.
const historyTail = 5

// Compute returns the fingerprint of a snapshot as a 64-character hex
// string. Absent fields normalize to empty values; it never fails.
func Compute(snap *courtcase.CaseSnapshot) string {
	if snap == nil {
		snap = &courtcase.CaseSnapshot{}
	}

	fields := map[string]any{
		"version":                          Version,
		courtcase.FieldStatus:              normString(snap.Status),
		courtcase.FieldNextHearingDate:     normDate(snap.NextHearingDate),
		courtcase.FieldStageOfCase:         normString(snap.StageOfCase),
		courtcase.FieldCoram:               normString(snap.Coram),
		courtcase.FieldInterimApplications: normApplications(snap.InterimApplications),
		courtcase.FieldListingHistory:      normHistory(snap.ListingHistory),
	}

	// Map keys marshal in sorted order, so the representation is canonical.
	data, err := json.Marshal(fields)
	if err != nil {
		// Only strings and string slices go in; Marshal cannot fail.
		panic(fmt.Sprintf("fingerprint: marshal normalized fields: %v", err))
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func normString(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// normApplications canonicalizes the IA list element-wise and sorts it:
// IA ordering on the source page is presentational, not meaningful.
func normApplications(apps []courtcase.InterimApplication) []string {
	out := make([]string, 0, len(apps))
	for _, a := range apps {
		out = append(out, strings.Join([]string{
			normString(a.Number),
			normString(a.Party),
			normString(a.Status),
			normDate(a.FiledOn),
		}, "|"))
	}
	sort.Strings(out)
	return out
}

// normHistory canonicalizes the listing history element-wise, keeping
// order and only the last historyTail entries.
func normHistory(events []courtcase.ListingEvent) []string {
	if len(events) > historyTail {
		events = events[len(events)-historyTail:]
	}
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, strings.Join([]string{
			normString(e.CauseListType),
			normString(e.Judge),
			normString(e.BenchID),
			normDate(e.ListedOn),
			normString(e.ShortOrder),
		}, "|"))
	}
	return out
}
