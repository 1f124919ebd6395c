package postgres

import "time"

// nullIfEmpty returns nil for empty strings (for nullable columns).
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullTime converts a zero time to nil for nullable parameters.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
