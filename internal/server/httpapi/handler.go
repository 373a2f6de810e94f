// Package httpapi is the HTTP transport of the token authority: login,
// refresh, logout (single and global) and current-user endpoints, the
// refresh cookie, bearer authentication and metrics.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/authservice/internal/common"
	"github.com/dmitrijs2005/authservice/internal/logging"
	"github.com/dmitrijs2005/authservice/internal/server/auth"
	"github.com/dmitrijs2005/authservice/internal/server/services"
)

const (
	msgInvalidCredentials = "invalid credentials"
	msgRefreshMissing     = "refresh token missing"
	msgRefreshInvalid     = "invalid or expired refresh token"
	msgLoggedOut          = "logged out"
	msgUnauthorized       = "unauthorized"
	msgUserNotFound       = "user not found"
	msgBadRequest         = "invalid request body"
	msgInternal           = "internal error"
)

// Sessions is the session API the handlers drive.
type Sessions interface {
	Login(ctx context.Context, usernameOrEmail, password string) (*services.LoginResult, error)
	Refresh(ctx context.Context, value string) (*services.RefreshResult, error)
	Logout(ctx context.Context, value string) (bool, error)
	CurrentUser(ctx context.Context, username string) (*services.UserInfo, error)
	RevokeAllSessions(ctx context.Context, userID string) (int64, error)
}

// TokenVerifier checks bearer access tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

type Handler struct {
	sessions Sessions
	tokens   TokenVerifier
	cookie   CookieConfig
	metrics  *Metrics
	logger   logging.Logger
}

func NewHandler(sessions Sessions, tokens TokenVerifier, cookie CookieConfig, metrics *Metrics, logger logging.Logger) *Handler {
	return &Handler{
		sessions: sessions,
		tokens:   tokens,
		cookie:   cookie,
		metrics:  metrics,
		logger:   logger.With("module", "http_api"),
	}
}

type loginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail"`
	Password        string `json:"password"`
}

type loginResponse struct {
	AccessToken string               `json:"accessToken"`
	User        services.UserSummary `json:"user"`
}

type refreshResponse struct {
	AccessToken string `json:"accessToken"`
}

type logoutAllResponse struct {
	Message string `json:"message"`
	Revoked int64  `json:"revoked"`
}

// reason is the log label of an authentication failure.
func reason(err error) string {
	switch {
	case errors.Is(err, common.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, common.ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, common.ErrTokenExpired), errors.Is(err, common.ErrRefreshTokenExpired):
		return "expired"
	case errors.Is(err, common.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, common.ErrMalformedToken):
		return "malformed"
	case errors.Is(err, common.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, common.ErrorNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.metrics.observe("login", "bad_request")
		writeMessage(w, http.StatusBadRequest, msgBadRequest)
		return
	}

	res, err := h.sessions.Login(ctx, req.UsernameOrEmail, req.Password)
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			h.metrics.observe("login", "rejected")
			h.logger.Info(ctx, "login rejected", "reason", reason(err))
			writeMessage(w, http.StatusUnauthorized, msgInvalidCredentials)
			return
		}
		h.metrics.observe("login", "error")
		h.logger.Error(ctx, "login failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, msgInternal)
		return
	}

	h.cookie.set(w, res.RefreshToken.Token)
	h.metrics.observe("login", "success")
	h.logger.Info(ctx, "login", "user_id", res.User.ID)
	writeJSON(w, http.StatusOK, loginResponse{AccessToken: res.AccessToken, User: res.User})
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	value := h.cookie.read(r)
	if value == "" {
		h.metrics.observe("refresh", "rejected")
		h.logger.Info(ctx, "refresh rejected", "reason", reason(common.ErrUnauthenticated))
		writeMessage(w, http.StatusUnauthorized, msgRefreshMissing)
		return
	}

	res, err := h.sessions.Refresh(ctx, value)
	switch {
	case err == nil:
	case errors.Is(err, common.ErrUnauthenticated):
		h.metrics.observe("refresh", "rejected")
		writeMessage(w, http.StatusUnauthorized, msgRefreshMissing)
		return
	case errors.Is(err, common.ErrInvalidToken), errors.Is(err, common.ErrRefreshTokenExpired):
		h.metrics.observe("refresh", "rejected")
		h.logger.Info(ctx, "refresh rejected", "reason", reason(err))
		h.cookie.clear(w)
		writeMessage(w, http.StatusUnauthorized, msgRefreshInvalid)
		return
	default:
		h.metrics.observe("refresh", "error")
		h.logger.Error(ctx, "refresh failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, msgInternal)
		return
	}

	h.cookie.set(w, res.RefreshToken.Token)
	h.metrics.observe("refresh", "success")
	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: res.AccessToken})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	revoked, err := h.sessions.Logout(ctx, h.cookie.read(r))
	if err != nil {
		h.logger.Warn(ctx, "logout could not revoke refresh token", "error", err)
	}

	outcome := "noop"
	if revoked {
		outcome = "revoked"
	}
	h.metrics.observe("logout", outcome)

	h.cookie.clear(w)
	writeMessage(w, http.StatusOK, msgLoggedOut)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := Principal(ctx)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	info, err := h.sessions.CurrentUser(ctx, claims.Username())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			h.logger.Warn(ctx, "principal without user record", "username", claims.Username())
			writeMessage(w, http.StatusNotFound, msgUserNotFound)
			return
		}
		h.logger.Error(ctx, "current user failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, msgInternal)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// logoutAll revokes every refresh token of the authenticated user, ending
// the sessions of all their devices. Access tokens already issued stay valid
// until they expire.
func (h *Handler) logoutAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := Principal(ctx)
	if !ok {
		writeMessage(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	info, err := h.sessions.CurrentUser(ctx, claims.Username())
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			h.metrics.observe("logout_all", "rejected")
			h.logger.Warn(ctx, "principal without user record", "username", claims.Username())
			writeMessage(w, http.StatusNotFound, msgUserNotFound)
			return
		}
		h.metrics.observe("logout_all", "error")
		h.logger.Error(ctx, "logout all failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, msgInternal)
		return
	}

	n, err := h.sessions.RevokeAllSessions(ctx, info.ID)
	if err != nil {
		h.metrics.observe("logout_all", "error")
		h.logger.Error(ctx, "logout all failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, msgInternal)
		return
	}

	h.metrics.observe("logout_all", "revoked")
	h.logger.Info(ctx, "logout all", "user_id", info.ID, "revoked", n)
	h.cookie.clear(w)
	writeJSON(w, http.StatusOK, logoutAllResponse{Message: msgLoggedOut, Revoked: n})
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
