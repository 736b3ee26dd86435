package progress

import (
	"strings"
	"time"
)

// DefaultSyntheticReviewThresholdDays bounds how far apart a LingQ due
// date and the last Anki review may be for the two to be attributed to
// the same study event.
const DefaultSyntheticReviewThresholdDays = 7

// ParseDueDate parses a LingQ date/datetime string into a UTC time.
// Accepted forms observed in practice: "YYYY-MM-DD" and ISO 8601
// datetimes, sometimes with a trailing 'Z'. Returns the zero time and
// false when the value is blank or unparseable.
func ParseDueDate(value string) (time.Time, bool) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		return time.Time{}, false
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02T15:04:05", raw); err == nil {
		return t.UTC(), true
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

// CanCreateSyntheticReview reports whether a synthetic review event could
// be justified for a LingQ status change. It is intentionally
// conservative: it never creates the review, it only answers whether the
// observed status change can be attributed to a real study event with a
// bounded timestamp. Callers invoke it only after observing a status
// change.
func CanCreateSyntheticReview(lingqStatus int, lingqDueDate string, ankiLastReview time.Time, thresholdDays int) bool {
	if lingqStatus <= 0 {
		return false
	}
	if ankiLastReview.IsZero() {
		return false
	}

	due, ok := ParseDueDate(lingqDueDate)
	if !ok {
		return false
	}

	if thresholdDays < 0 {
		thresholdDays = 0
	}
	delta := due.Sub(ankiLastReview.UTC())
	if delta < 0 {
		delta = -delta
	}
	return delta <= time.Duration(thresholdDays)*24*time.Hour
}
