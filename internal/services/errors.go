// Package services defines the business logic of the live chat: identity,
// the bounded message ledger, moderation and the chat orchestrator. This file
// centralizes the service-level error values so they can be returned
// consistently and mapped to HTTP results by the handler layer.
package services

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors: malformed input the caller can correct.
var (
	// ErrInvalidIdentity is returned for a nickname outside 3–24 chars of
	// [A-Za-z0-9_-], or the reserved system nickname.
	ErrInvalidIdentity = errors.New("invalid nickname")

	// ErrInvalidSecret is returned for a password outside 8–72 bytes.
	ErrInvalidSecret = errors.New("invalid password")

	// ErrInvalidMessage is returned for an empty or over-long body.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrInvalidMessageID is returned for a non-positive message id.
	ErrInvalidMessageID = errors.New("invalid message id")

	// ErrInvalidFilter is returned for an unknown account listing state.
	ErrInvalidFilter = errors.New("invalid account filter")
)

// Authentication errors.
var (
	// ErrInvalidCredentials covers both unknown nickname and wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned for a token failing signature or expiry checks.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUnauthorized is returned when the token's account no longer exists.
	ErrUnauthorized = errors.New("unauthorized")
)

// Authorization, conflict and lookup errors.
var (
	// ErrBanned is returned for any operation by a banned account.
	ErrBanned = errors.New("account banned")

	// ErrConflict is returned when registering a taken nickname.
	ErrConflict = errors.New("nickname already taken")

	// ErrReplayUnavailable is returned when an idempotency key was already
	// used but the message it produced is no longer in the ledger.
	ErrReplayUnavailable = errors.New("idempotency key already used")

	// ErrMessageNotFound is returned when a message id does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrAccountNotFound is returned when a moderation target does not exist.
	ErrAccountNotFound = errors.New("account not found")
)

// ErrStorage wraps durable-store failures. Callers test with errors.Is.
var ErrStorage = errors.New("storage failure")

// storageErr wraps err so that errors.Is(err, ErrStorage) holds while the
// original cause stays inspectable.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// RateLimitError is returned when the post limiter rejects an attempt.
type RateLimitError struct {
	// RetryAt is the earliest time a post can succeed.
	RetryAt time.Time
	// Cooldown is the remaining wait at the time of the attempt.
	Cooldown time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry in %s", e.Cooldown.Round(time.Second))
}

// CooldownSeconds rounds the remaining wait up to whole seconds.
func (e *RateLimitError) CooldownSeconds() int {
	s := int(e.Cooldown / time.Second)
	if e.Cooldown%time.Second != 0 {
		s++
	}
	return s
}
