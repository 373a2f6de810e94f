package common

const (
	// RefreshCookieName is the default cookie carrying the opaque refresh token.
	RefreshCookieName = "refreshToken"

	// RefreshCookiePath scopes the refresh cookie.
	RefreshCookiePath = "/"

	// AuthorizationHeader carries "Bearer <access token>" on protected requests.
	AuthorizationHeader = "Authorization"

	// RefreshTokenBytes is the entropy of an opaque refresh token (256 bits).
	RefreshTokenBytes = 32
)
