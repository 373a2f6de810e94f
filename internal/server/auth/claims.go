package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the closed claim set of an access token. Roles is omitted from
// the payload entirely when the user has none.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// Username returns the "sub" claim.
func (c *Claims) Username() string {
	return c.RegisteredClaims.Subject
}

// Expiry returns the "exp" claim, or the zero time when absent.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Issued returns the "iat" claim, or the zero time when absent.
func (c *Claims) Issued() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

// RolesOrEmpty never returns nil.
func (c *Claims) RolesOrEmpty() []string {
	if len(c.Roles) == 0 {
		return []string{}
	}
	out := make([]string, len(c.Roles))
	copy(out, c.Roles)
	return out
}
