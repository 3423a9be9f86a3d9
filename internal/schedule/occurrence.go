package schedule

import "time"

// occurrenceLayout sorts lexically in chronological order.
const occurrenceLayout = "20060102T1504Z"

// OccurrenceKey formats an occurrence truncated to the minute in UTC.
func OccurrenceKey(t time.Time) string {
	return t.UTC().Truncate(time.Minute).Format(occurrenceLayout)
}

// JobKey is the deterministic delivery job identifier for one occurrence.
func JobKey(reminderID string, occurrence time.Time) string {
	return reminderID + ":" + OccurrenceKey(occurrence)
}
