package notify

import (
	"fmt"
	"strings"

	"courtwatch/pkg/courtcase"
)

func priorityLabel(p courtcase.Priority) string {
	switch p {
	case courtcase.PriorityUrgent:
		return "🚨 URGENT"
	case courtcase.PriorityHigh:
		return "⚠️ HIGH"
	case courtcase.PriorityMedium:
		return "📋 MEDIUM"
	case courtcase.PriorityLow:
		return "ℹ️ LOW"
	default:
		return ""
	}
}

// renderMessage builds the personalized plain-text message for one
// subscriber. The first line doubles as the subject for email-backed
// providers. Output is deterministic for a given changeset.
func renderMessage(user *courtcase.User, sub *courtcase.Subscription, change courtcase.CaseChange) string {
	cs := change.ChangeSet

	name := sub.Alias
	if name == "" {
		name = user.Name
	}
	if name == "" {
		name = user.Contact
	}

	caseLabel := change.Cino
	if change.Snapshot != nil && change.Snapshot.CaseTitle != "" {
		caseLabel = fmt.Sprintf("%s (%s)", change.Snapshot.CaseTitle, change.Cino)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Case update: %s\n\n", priorityLabel(cs.Priority), change.Cino)
	fmt.Fprintf(&b, "Hello %s,\n\n", name)
	fmt.Fprintf(&b, "There is an update in the case you follow: %s\n\n", caseLabel)
	b.WriteString(cs.Summary)
	b.WriteString("\n")

	if cs.Priority == courtcase.PriorityUrgent || cs.Priority == courtcase.PriorityHigh {
		b.WriteString("\nThis update requires your attention.\n")
	}

	fmt.Fprintf(&b, "\nPriority: %s\n", cs.Priority)
	b.WriteString("— courtwatch case monitor\n")
	return b.String()
}

// wantsAny reports whether a subscription's opt-ins cover at least one
// changed field. Listing-history rows carry short-order text, so either
// the listing or the order opt-in matches them.
func wantsAny(prefs courtcase.NotifyPrefs, cs *courtcase.ChangeSet) bool {
	for _, field := range cs.ChangedFields {
		switch field {
		case courtcase.FieldStatus, courtcase.FieldStageOfCase:
			if prefs.Status {
				return true
			}
		case courtcase.FieldNextHearingDate:
			if prefs.Hearing {
				return true
			}
		case courtcase.FieldCoram:
			if prefs.Listing {
				return true
			}
		case courtcase.FieldListingHistory:
			if prefs.Listing || prefs.Order {
				return true
			}
		case courtcase.FieldInterimApplications:
			if prefs.InterimApplication {
				return true
			}
		}
	}
	return false
}
