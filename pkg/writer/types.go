package writer

import "time"

// UserRow is one row of the user_scores reporting table. It mirrors the
// public fields of a user document; the password is never replicated.
type UserRow struct {
	UserID      string
	ExternalID  string
	Username    string
	UserType    int
	TotalPoints int
	Triangle    int
	Square      int
	Circle      int
	IsLoggedIn  bool
	Deleted     bool
	Operation   string
	ChangedAt   time.Time
}

// Compact keeps only the newest row per user, preserving first-seen order.
// A single upsert statement cannot touch the same key twice.
func Compact(rows []UserRow) []UserRow {
	idx := make(map[string]int, len(rows))
	out := make([]UserRow, 0, len(rows))
	for _, r := range rows {
		i, seen := idx[r.UserID]
		if !seen {
			idx[r.UserID] = len(out)
			out = append(out, r)
			continue
		}
		if !r.ChangedAt.Before(out[i].ChangedAt) {
			out[i] = r
		}
	}
	return out
}
