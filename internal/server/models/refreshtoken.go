// Package models defines server-side data models persisted in the database.
package models

import "time"

// RefreshToken is an opaque, server-tracked session credential. Token is
// the value handed to the client; ID is the storage key.
type RefreshToken struct {
	ID        int64
	UserID    string
	Token     string
	Expires   time.Time
	CreatedAt time.Time
}

// ExpiredAt reports whether the token is no longer usable at now. A token
// whose expiry equals now is expired.
func (t *RefreshToken) ExpiredAt(now time.Time) bool {
	return !now.Before(t.Expires)
}
