// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are lowercase snake_case and stable: clients branch on them rather
// than on messages. respondErr maps the service error taxonomy onto a status
// and one of these codes.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "rate_limited",
//	  "message": "posting too fast",
//	  "cooldown_seconds": 60,
//	  "retry_at": "2024-01-01T00:01:00Z"
//	}
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-live-chat/internal/http/middleware"
	"github.com/tbourn/go-live-chat/internal/services"
)

const (
	ErrCodeBadRequest         = "bad_request"
	ErrCodeInvalidNickname    = "invalid_nickname"
	ErrCodeInvalidPassword    = "invalid_password"
	ErrCodeInvalidMessage     = "invalid_message"
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeBanned             = "banned"
	ErrCodeNotFound           = "not_found"
	ErrCodeConflict           = "conflict"
	ErrCodeReplayUnavailable  = "replay_unavailable"
	ErrCodeRateLimited        = "rate_limited"
	ErrCodeStorage            = "storage_unavailable"
	ErrCodeInternal           = "internal_error"
	ErrCodeMethodNotAllowed   = "method_not_allowed"
)

// RateLimitedResponse is the 429 envelope for a rejected post.
type RateLimitedResponse struct {
	RequestID       string    `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code            string    `json:"code" example:"rate_limited"`
	Message         string    `json:"message" example:"posting too fast"`
	CooldownSeconds int       `json:"cooldown_seconds" example:"60"`
	RetryAt         time.Time `json:"retry_at"`
}

// respondErr writes the envelope matching err.
func respondErr(c *gin.Context, err error) {
	var rl *services.RateLimitError
	if errors.As(err, &rl) {
		secs := rl.CooldownSeconds()
		c.Header("Retry-After", strconv.Itoa(secs))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, RateLimitedResponse{
			RequestID:       c.Writer.Header().Get("X-Request-ID"),
			Code:            ErrCodeRateLimited,
			Message:         "posting too fast",
			CooldownSeconds: secs,
			RetryAt:         rl.RetryAt.UTC(),
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrInvalidIdentity):
		fail(c, http.StatusBadRequest, ErrCodeInvalidNickname, "nickname must be 3-24 characters of letters, digits, '_' or '-'")
	case errors.Is(err, services.ErrInvalidSecret):
		fail(c, http.StatusBadRequest, ErrCodeInvalidPassword, "password must be 8-72 bytes")
	case errors.Is(err, services.ErrInvalidMessage):
		fail(c, http.StatusBadRequest, ErrCodeInvalidMessage, "message must be 1-500 characters")
	case errors.Is(err, services.ErrInvalidMessageID), errors.Is(err, services.ErrInvalidFilter):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrInvalidCredentials):
		fail(c, http.StatusUnauthorized, ErrCodeInvalidCredentials, "invalid nickname or password")
	case errors.Is(err, services.ErrInvalidToken), errors.Is(err, services.ErrUnauthorized):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or expired token")
	case errors.Is(err, services.ErrBanned):
		fail(c, http.StatusForbidden, ErrCodeBanned, "account banned")
	case errors.Is(err, services.ErrMessageNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
	case errors.Is(err, services.ErrAccountNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "account not found")
	case errors.Is(err, services.ErrConflict):
		fail(c, http.StatusConflict, ErrCodeConflict, "nickname already taken")
	case errors.Is(err, services.ErrReplayUnavailable):
		fail(c, http.StatusConflict, ErrCodeReplayUnavailable, "idempotency key already used; the original message is no longer available")
	case errors.Is(err, services.ErrStorage):
		middleware.LoggerFrom(c).Error().Err(err).Msg("storage failure")
		fail(c, http.StatusServiceUnavailable, ErrCodeStorage, "storage unavailable, retry later")
	default:
		middleware.LoggerFrom(c).Error().Err(err).Msg("unhandled error")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
