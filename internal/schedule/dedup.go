package schedule

import "time"

// RecentWindow is the minimum gap between two sends of the same reminder.
const RecentWindow = 54 * time.Second

// RecentlySent reports whether a reminder sent at lastSentAt must be
// suppressed at now. A lastSentAt in the future also suppresses.
func RecentlySent(lastSentAt *time.Time, now time.Time) bool {
	if lastSentAt == nil || lastSentAt.IsZero() {
		return false
	}
	return now.Sub(*lastSentAt) < RecentWindow
}
