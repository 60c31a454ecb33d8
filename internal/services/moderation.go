// Package services – ModerationService
//
// Each moderation action runs its store mutations in one transaction and
// publishes to the hub once that transaction commits, before the ledger lock
// is released. A failure at any step rolls back the whole action and nothing
// is broadcast.
package services

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/tbourn/go-live-chat/internal/repo"
)

// Publisher is the subset of the hub used by services.
type Publisher interface {
	Publish(kind broadcast.Kind, data any)
	PublishAll(events ...broadcast.Event)
}

// IDPayload is the data of a delete event.
type IDPayload struct {
	ID uint64 `json:"id"`
}

// NicknamePayload is the data of warn, ban and purge events.
type NicknamePayload struct {
	Nickname string `json:"nickname"`
}

// Forgetter drops per-identity limiter state.
type Forgetter interface {
	Forget(key string)
}

// ModerationService implements privileged actions.
type ModerationService struct {
	Ledger   *Ledger
	Identity *IdentityService
	Hub      Publisher
	Limiter  Forgetter // optional
	Log      zerolog.Logger

	now func() time.Time
}

// NewModerationService wires a ModerationService.
func NewModerationService(l *Ledger, id *IdentityService, hub Publisher, lim Forgetter, log zerolog.Logger) *ModerationService {
	return &ModerationService{
		Ledger:   l,
		Identity: id,
		Hub:      hub,
		Limiter:  lim,
		Log:      log.With().Str("component", "moderation").Logger(),
		now:      time.Now,
	}
}

func (s *ModerationService) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("services/ModerationService").Start(ctx, name, trace.WithAttributes(attrs...))
}

// Warn redacts message id and notifies its author. Subscribers get delete
// then warn.
func (s *ModerationService) Warn(ctx context.Context, id uint64) (*domain.Message, error) {
	ctx, span := s.span(ctx, "Warn", attribute.Int64("message.id", int64(id)))
	defer span.End()

	if id == 0 {
		return nil, ErrInvalidMessageID
	}
	m, err := s.Ledger.Redact(ctx, id, func(m *domain.Message) {
		s.Hub.PublishAll(
			broadcast.Event{Kind: broadcast.KindDelete, Data: IDPayload{ID: m.ID}},
			broadcast.Event{Kind: broadcast.KindWarn, Data: NicknamePayload{Nickname: m.Nickname}},
		)
	})
	if err != nil {
		return nil, err
	}
	s.done("warn", zerolog.Dict().Uint64("message_id", id).Str("nickname", m.Nickname))
	return m, nil
}

// DeleteMessage redacts message id. Subscribers get delete.
func (s *ModerationService) DeleteMessage(ctx context.Context, id uint64) (*domain.Message, error) {
	ctx, span := s.span(ctx, "DeleteMessage", attribute.Int64("message.id", int64(id)))
	defer span.End()

	if id == 0 {
		return nil, ErrInvalidMessageID
	}
	m, err := s.Ledger.Redact(ctx, id, func(m *domain.Message) {
		s.Hub.Publish(broadcast.KindDelete, IDPayload{ID: m.ID})
	})
	if err != nil {
		return nil, err
	}
	s.done("delete", zerolog.Dict().Uint64("message_id", id))
	return m, nil
}

// Ban marks nickname banned, redacts its messages and logs a system entry.
// Subscribers get purge, ban, then the system message.
func (s *ModerationService) Ban(ctx context.Context, nickname string) (*domain.Message, error) {
	ctx, span := s.span(ctx, "Ban", attribute.String("account.nickname", nickname))
	defer span.End()

	if !auth.ValidNickname(nickname) {
		return nil, ErrInvalidIdentity
	}
	var (
		entry    *domain.Message
		redacted []uint64
	)
	err := s.Ledger.TxPublish(ctx, func(tx *gorm.DB) error {
		if err := setBanned(ctx, tx, nickname, true); err != nil {
			return err
		}
		ids, err := repo.RedactMessagesByAuthor(ctx, tx, nickname)
		if err != nil {
			return err
		}
		redacted = ids
		entry, err = s.Ledger.appendTx(ctx, tx, domain.SystemAuthor,
			fmt.Sprintf("%s was banned by a moderator", nickname), s.now())
		return err
	}, func() {
		s.Hub.PublishAll(
			broadcast.Event{Kind: broadcast.KindPurge, Data: NicknamePayload{Nickname: nickname}},
			broadcast.Event{Kind: broadcast.KindBan, Data: NicknamePayload{Nickname: nickname}},
			broadcast.Event{Kind: broadcast.KindMessage, Data: entry},
		)
	})
	if err != nil {
		return nil, err
	}
	s.done("ban", zerolog.Dict().Str("nickname", nickname).Int("redacted", len(redacted)))
	return entry, nil
}

// Unban clears the ban flag and logs a system entry. Unbanning an account
// that is not banned succeeds.
func (s *ModerationService) Unban(ctx context.Context, nickname string) (*domain.Message, error) {
	ctx, span := s.span(ctx, "Unban", attribute.String("account.nickname", nickname))
	defer span.End()

	if !auth.ValidNickname(nickname) {
		return nil, ErrInvalidIdentity
	}
	var entry *domain.Message
	err := s.Ledger.TxPublish(ctx, func(tx *gorm.DB) error {
		if err := setBanned(ctx, tx, nickname, false); err != nil {
			return err
		}
		var err error
		entry, err = s.Ledger.appendTx(ctx, tx, domain.SystemAuthor,
			fmt.Sprintf("%s was unbanned", nickname), s.now())
		return err
	}, func() {
		s.Hub.Publish(broadcast.KindMessage, entry)
	})
	if err != nil {
		return nil, err
	}
	s.done("unban", zerolog.Dict().Str("nickname", nickname))
	return entry, nil
}

// DeleteAccount hard-deletes nickname's messages and account. Subscribers
// get purge. Irreversible.
func (s *ModerationService) DeleteAccount(ctx context.Context, nickname string) error {
	ctx, span := s.span(ctx, "DeleteAccount", attribute.String("account.nickname", nickname))
	defer span.End()

	if !auth.ValidNickname(nickname) {
		return ErrInvalidIdentity
	}
	var removed int64
	err := s.Ledger.TxPublish(ctx, func(tx *gorm.DB) error {
		n, err := repo.DeleteMessagesByAuthor(ctx, tx, nickname)
		if err != nil {
			return err
		}
		removed = n
		if err := repo.DeleteAccount(ctx, tx, nickname); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrAccountNotFound
			}
			return err
		}
		return nil
	}, func() {
		s.Hub.Publish(broadcast.KindPurge, NicknamePayload{Nickname: nickname})
	})
	if err != nil {
		return err
	}

	if s.Limiter != nil {
		s.Limiter.Forget(nickname)
	}
	s.done("delete_account", zerolog.Dict().Str("nickname", nickname).Int64("messages", removed))
	return nil
}

// Wipe empties the ledger. Subscribers get clear.
func (s *ModerationService) Wipe(ctx context.Context) error {
	ctx, span := s.span(ctx, "Wipe")
	defer span.End()

	if err := s.Ledger.ClearAll(ctx, func() {
		s.Hub.Publish(broadcast.KindClear, struct{}{})
	}); err != nil {
		return err
	}
	s.done("wipe", zerolog.Dict())
	return nil
}

// ListAccounts lists accounts by state.
func (s *ModerationService) ListAccounts(ctx context.Context, filter AccountFilter) ([]domain.Account, error) {
	return s.Identity.List(ctx, filter)
}

func (s *ModerationService) done(action string, fields *zerolog.Event) {
	observability.ModerationAction(action)
	s.Log.Info().Str("action", action).Dict("target", fields).Msg("moderation")
}

func setBanned(ctx context.Context, tx *gorm.DB, nickname string, banned bool) error {
	err := repo.SetBanned(ctx, tx, nickname, banned)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrAccountNotFound
	}
	return err
}
