// Package services – ChatService
//
// ChatService is the orchestrator the HTTP layer talks to. It combines
// identity, the post limiter, the ledger and the hub: registration and login,
// posting, history reads and live streams. Every authenticated operation
// re-checks the live account because tokens are never revoked.
package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-live-chat/internal/auth"
	"github.com/tbourn/go-live-chat/internal/broadcast"
	"github.com/tbourn/go-live-chat/internal/domain"
	"github.com/tbourn/go-live-chat/internal/observability"
	"github.com/tbourn/go-live-chat/internal/ratelimit"
	"github.com/tbourn/go-live-chat/internal/repo"
)

// Streamer is the subscribe side of the hub.
type Streamer interface {
	Subscribe(nickname string) *broadcast.Subscriber
	Unsubscribe(s *broadcast.Subscriber)
}

// Hub is the full hub surface ChatService needs.
type Hub interface {
	Publisher
	Streamer
}

// ChatService coordinates posting, reading and streaming.
type ChatService struct {
	Identity *IdentityService
	Ledger   *Ledger
	Limiter  *ratelimit.Limiter
	Hub      Hub
	Log      zerolog.Logger

	// IdempotencyTTL bounds how long a post Idempotency-Key is honoured.
	IdempotencyTTL time.Duration
}

// NewChatService wires a ChatService.
func NewChatService(id *IdentityService, l *Ledger, lim *ratelimit.Limiter, hub Hub, log zerolog.Logger) *ChatService {
	return &ChatService{
		Identity:       id,
		Ledger:         l,
		Limiter:        lim,
		Hub:            hub,
		Log:            log.With().Str("component", "chat").Logger(),
		IdempotencyTTL: 24 * time.Hour,
	}
}

func (s *ChatService) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("services/ChatService").Start(ctx, name, trace.WithAttributes(attrs...))
}

// Register creates an account and returns it with a fresh token.
func (s *ChatService) Register(ctx context.Context, nickname, secret string) (*domain.Account, string, error) {
	a, err := s.Identity.Register(ctx, nickname, secret)
	if err != nil {
		return nil, "", err
	}
	tok, err := s.Identity.Tokens.Issue(a.Nickname)
	if err != nil {
		return nil, "", err
	}
	s.Log.Info().Str("nickname", a.Nickname).Msg("account registered")
	return a, tok, nil
}

// Login verifies credentials and returns a token.
func (s *ChatService) Login(ctx context.Context, nickname, secret string) (string, error) {
	return s.Identity.Authenticate(ctx, nickname, secret)
}

// Authorize resolves a bearer token to a live, unbanned account.
func (s *ChatService) Authorize(ctx context.Context, token string) (*domain.Account, error) {
	nick, err := s.Identity.VerifyToken(token)
	if err != nil {
		return nil, err
	}
	return s.Identity.RequireActive(ctx, nick)
}

// Post appends body by nickname at now and broadcasts it. Checks run in
// order: account, body, rate limit. The account is checked again inside the
// append transaction so a ban or deletion that commits first always wins.
func (s *ChatService) Post(ctx context.Context, nickname, body string, now time.Time) (*domain.Message, error) {
	m, _, err := s.post(ctx, nickname, "", body, now)
	return m, err
}

// PostOnce is Post guarded by an idempotency key. A key already used by
// nickname returns the original message with replayed set, without posting
// or consuming the rate limit. When that message has since been trimmed or
// wiped the result is ErrReplayUnavailable; the body is never posted twice.
// An empty key behaves like Post.
func (s *ChatService) PostOnce(ctx context.Context, nickname, key, body string, now time.Time) (*domain.Message, bool, error) {
	key = strings.TrimSpace(key)
	if key != "" {
		// Ban state is still enforced on replay.
		if _, err := s.Identity.RequireActive(ctx, nickname); err != nil {
			return nil, false, err
		}
		id, err := recordedPost(ctx, s.Ledger.DB, nickname, key)
		if err != nil {
			return nil, false, err
		}
		if id != 0 {
			m, err := s.replay(ctx, id)
			return m, err == nil, err
		}
	}
	return s.post(ctx, nickname, key, body, now)
}

func (s *ChatService) post(ctx context.Context, nickname, key, body string, now time.Time) (*domain.Message, bool, error) {
	ctx, span := s.span(ctx, "Post", attribute.String("account.nickname", nickname))
	defer span.End()

	if _, err := s.Identity.RequireActive(ctx, nickname); err != nil {
		return nil, false, err
	}
	body, ok := auth.NormalizeBody(body)
	if !ok {
		return nil, false, ErrInvalidMessage
	}
	if d := s.Limiter.Allow(nickname, now); !d.Allowed {
		observability.PostRateLimited()
		s.Log.Debug().Str("nickname", nickname).Time("retry_at", d.RetryAt).Msg("post rate limited")
		return nil, false, &RateLimitError{RetryAt: d.RetryAt, Cooldown: d.Remaining}
	}

	var (
		m      *domain.Message
		prevID uint64
	)
	err := s.Ledger.TxPublish(ctx, func(tx *gorm.DB) error {
		if err := requireActiveTx(ctx, tx, nickname); err != nil {
			return err
		}
		if key != "" {
			// A concurrent request with the same key may have committed first.
			id, err := recordedPost(ctx, tx, nickname, key)
			if err != nil || id != 0 {
				prevID = id
				return err
			}
		}
		var err error
		m, err = s.Ledger.appendTx(ctx, tx, nickname, body, now)
		if err != nil || key == "" {
			return err
		}
		_, err = repo.CreateIdempotency(ctx, tx, nickname, key, m.ID, http.StatusCreated, s.IdempotencyTTL)
		return err
	}, func() {
		if m != nil {
			s.Hub.Publish(broadcast.KindMessage, m)
		}
	})
	if err != nil {
		return nil, false, err
	}
	if prevID != 0 {
		prev, err := s.replay(ctx, prevID)
		return prev, err == nil, err
	}
	observability.MessagePosted()
	return m, false, nil
}

// requireActiveTx is RequireActive against an open transaction.
func requireActiveTx(ctx context.Context, tx *gorm.DB, nickname string) error {
	a, err := repo.GetAccount(ctx, tx, nickname)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return ErrUnauthorized
	case err != nil:
		return err
	case a.Banned:
		return ErrBanned
	}
	return nil
}

// recordedPost returns the message id stored for (nickname, key), or 0 when
// the key is unused or expired. Record expiry is wall-clock based.
func recordedPost(ctx context.Context, db *gorm.DB, nickname, key string) (uint64, error) {
	rec, err := repo.GetIdempotency(ctx, db, nickname, key, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("lookup idempotency", err)
	}
	return rec.MessageID, nil
}

// replay loads the message an idempotency record points at.
func (s *ChatService) replay(ctx context.Context, id uint64) (*domain.Message, error) {
	m, err := s.Ledger.Get(ctx, id)
	if errors.Is(err, ErrMessageNotFound) {
		return nil, ErrReplayUnavailable
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// History returns the newest messages, oldest first. An empty nickname is an
// anonymous read; otherwise the account must be live and unbanned.
func (s *ChatService) History(ctx context.Context, nickname string, limit int) ([]domain.Message, error) {
	ctx, span := s.span(ctx, "History", attribute.Int("limit", limit))
	defer span.End()

	if nickname != "" {
		if _, err := s.Identity.RequireActive(ctx, nickname); err != nil {
			return nil, err
		}
	}
	return s.Ledger.Recent(ctx, limit)
}

// OpenStream registers a subscriber. Authenticated streams are checked once
// here; a later ban reaches the client as a ban event.
func (s *ChatService) OpenStream(ctx context.Context, nickname string) (*broadcast.Subscriber, error) {
	if nickname != "" {
		if _, err := s.Identity.RequireActive(ctx, nickname); err != nil {
			return nil, err
		}
	}
	return s.Hub.Subscribe(nickname), nil
}

// CloseStream unregisters sub. Safe to call more than once.
func (s *ChatService) CloseStream(sub *broadcast.Subscriber) {
	s.Hub.Unsubscribe(sub)
}

// IsClientError reports whether err belongs to the caller-correctable part of
// the taxonomy, as opposed to a storage or unexpected failure.
func IsClientError(err error) bool {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	for _, target := range []error{
		ErrInvalidIdentity, ErrInvalidSecret, ErrInvalidMessage, ErrInvalidMessageID,
		ErrInvalidFilter, ErrInvalidCredentials, ErrInvalidToken, ErrUnauthorized,
		ErrBanned, ErrConflict, ErrReplayUnavailable, ErrMessageNotFound, ErrAccountNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
