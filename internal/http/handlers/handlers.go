// Package handlers implements the HTTP endpoints of the live chat: account
// registration and login, message history and posting, the live event
// streams and the moderation console.
//
// Handlers are transport-thin: they bind and validate input, call the chat
// or moderation service and translate results (including the error
// taxonomy) into HTTP responses.
package handlers

import (
	"context"
	"time"

	"github.com/tbourn/go-live-chat/internal/broadcast"
	"github.com/tbourn/go-live-chat/internal/domain"
	"github.com/tbourn/go-live-chat/internal/services"
)

// ChatService is the participant-facing surface consumed by the handlers.
type ChatService interface {
	Register(ctx context.Context, nickname, secret string) (*domain.Account, string, error)
	Login(ctx context.Context, nickname, secret string) (string, error)
	PostOnce(ctx context.Context, nickname, key, body string, now time.Time) (*domain.Message, bool, error)
	History(ctx context.Context, nickname string, limit int) ([]domain.Message, error)
	OpenStream(ctx context.Context, nickname string) (*broadcast.Subscriber, error)
	CloseStream(sub *broadcast.Subscriber)
}

// ModerationService is the operator-facing surface.
type ModerationService interface {
	Warn(ctx context.Context, id uint64) (*domain.Message, error)
	DeleteMessage(ctx context.Context, id uint64) (*domain.Message, error)
	Ban(ctx context.Context, nickname string) (*domain.Message, error)
	Unban(ctx context.Context, nickname string) (*domain.Message, error)
	DeleteAccount(ctx context.Context, nickname string) error
	Wipe(ctx context.Context) error
	ListAccounts(ctx context.Context, filter services.AccountFilter) ([]domain.Account, error)
}

// Options tunes handler behavior.
type Options struct {
	// StreamRetry is the reconnect hint sent to stream clients.
	StreamRetry time.Duration
	// HistoryLimit caps ?limit= on history reads.
	HistoryLimit int
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	chat ChatService
	mod  ModerationService
	opts Options
	now  func() time.Time
}

// New binds handlers to the given services. Zero options fall back to a 5s
// retry hint and a 100-message history cap.
func New(chat ChatService, mod ModerationService, opts Options) *Handlers {
	if opts.StreamRetry <= 0 {
		opts.StreamRetry = 5 * time.Second
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = services.DefaultHistoryLimit
	}
	return &Handlers{chat: chat, mod: mod, opts: opts, now: time.Now}
}
