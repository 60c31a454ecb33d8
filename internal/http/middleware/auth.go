// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements authentication: RequireUser resolves a bearer token to
// a live account and stores its nickname under "userID"; RequireAdmin guards
// the moderation routes with the operator credential.
package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-live-chat/internal/domain"
	"github.com/tbourn/go-live-chat/internal/services"
)

const (
	userIDKey        = "userID"
	headerAdminToken = "X-Admin-Token"
)

// Authorizer resolves a bearer token to a live, unbanned account.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (*domain.Account, error)
}

// AuthOptions configures RequireUser.
type AuthOptions struct {
	// AllowQueryToken accepts ?token= when no Authorization header is sent.
	// EventSource clients cannot set headers, so stream routes enable it.
	AllowQueryToken bool
}

// CurrentUser returns the nickname set by RequireUser, or "".
func CurrentUser(c *gin.Context) string {
	v, _ := c.Get(userIDKey)
	return asString(v)
}

// bearer extracts the token from "Authorization: Bearer <token>".
func bearer(c *gin.Context) string {
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// RequireUser rejects requests without a valid token for a live account:
// 401 for a missing, invalid or orphaned token and 403 for a banned account.
func RequireUser(a Authorizer, opts AuthOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearer(c)
		if tok == "" && opts.AllowQueryToken {
			tok = strings.TrimSpace(c.Query("token"))
		}
		if tok == "" {
			abortAuth(c, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		acct, err := a.Authorize(c.Request.Context(), tok)
		switch {
		case err == nil:
		case errors.Is(err, services.ErrBanned):
			abortAuth(c, http.StatusForbidden, "banned", "account banned")
			return
		case errors.Is(err, services.ErrInvalidToken), errors.Is(err, services.ErrUnauthorized):
			abortAuth(c, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		default:
			LoggerFrom(c).Error().Err(err).Msg("authorize failed")
			abortAuth(c, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}

		c.Set(userIDKey, acct.Nickname)
		l := LoggerFrom(c).With().Str("nickname", acct.Nickname).Logger()
		c.Set(loggerKey, &l)
		c.Next()
	}
}

// RequireAdmin accepts the operator token from X-Admin-Token or as a bearer
// token. An empty configured token rejects everything.
func RequireAdmin(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got := c.GetHeader(headerAdminToken)
		if got == "" {
			got = bearer(c)
		}
		if len(want) == 0 || got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			abortAuth(c, http.StatusUnauthorized, "unauthorized", "admin credential required")
			return
		}
		c.Next()
	}
}

func abortAuth(c *gin.Context, status int, code, msg string) {
	rid, _ := c.Get(requestIDKey)
	if status == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", `Bearer realm="chat"`)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": asString(rid),
		"code":       code,
		"message":    msg,
	})
}
