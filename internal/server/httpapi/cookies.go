package httpapi

import (
	"net/http"
	"time"
)

// CookieConfig describes the refresh token cookie. Issuing and clearing use
// the same name, path and flags so browsers match them.
type CookieConfig struct {
	Name   string
	Path   string
	Secure bool
	MaxAge time.Duration
}

func (c CookieConfig) base(value string) *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    value,
		Path:     c.Path,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (c CookieConfig) set(w http.ResponseWriter, value string) {
	cookie := c.base(value)
	cookie.MaxAge = int(c.MaxAge / time.Second)
	http.SetCookie(w, cookie)
}

// clear emits Max-Age=0.
func (c CookieConfig) clear(w http.ResponseWriter) {
	cookie := c.base("")
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0).UTC()
	http.SetCookie(w, cookie)
}

// read returns the cookie value, or "" when the request carries none.
func (c CookieConfig) read(r *http.Request) string {
	cookie, err := r.Cookie(c.Name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
