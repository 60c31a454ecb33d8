// Package services – Ledger
//
// Ledger is the bounded, ordered message store. An append inserts and trims in
// one transaction under a write lock, so a reader never sees more than Limit
// rows or a half-finished trim. Retention follows id order.
//
// Writers that broadcast do so from TxPublish's onCommit hook, which runs
// before the lock is released: events leave in commit order.
package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-live-chat/internal/domain"
	"github.com/tbourn/go-live-chat/internal/repo"
)

// DefaultHistoryLimit is the number of messages retained and served.
const DefaultHistoryLimit = 100

// Ledger wraps the messages table.
type Ledger struct {
	DB    *gorm.DB
	Limit int

	mu sync.Mutex // serializes write transactions
}

// NewLedger returns a Ledger keeping the newest limit messages.
func NewLedger(db *gorm.DB, limit int) *Ledger {
	if limit < 1 {
		limit = DefaultHistoryLimit
	}
	return &Ledger{DB: db, Limit: limit}
}

// TxPublish runs fn in one write transaction. Any error rolls back
// everything fn did and is returned wrapped as ErrStorage unless it is
// already a service error.
//
// onCommit, if set, runs only after a successful commit and while the write
// lock is still held, so no other ledger write can commit between this one
// and its broadcast. onCommit must not block or touch the ledger.
func (l *Ledger) TxPublish(ctx context.Context, fn func(tx *gorm.DB) error, onCommit func()) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.DB.WithContext(ctx).Transaction(fn)
	if err != nil {
		if isServiceError(err) {
			return err
		}
		return storageErr("ledger tx", err)
	}
	if onCommit != nil {
		onCommit()
	}
	return nil
}

// Append stores a message and trims the ledger to Limit rows. onCommit, if
// set, receives the stored message under the lock.
func (l *Ledger) Append(ctx context.Context, author, body string, at time.Time, onCommit func(*domain.Message)) (*domain.Message, error) {
	ctx, span := otel.Tracer("services/Ledger").Start(ctx, "Append",
		trace.WithAttributes(attribute.String("message.author", author)))
	defer span.End()

	var m *domain.Message
	err := l.TxPublish(ctx, func(tx *gorm.DB) error {
		var err error
		m, err = l.appendTx(ctx, tx, author, body, at)
		return err
	}, func() {
		if onCommit != nil {
			onCommit(m)
		}
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (l *Ledger) appendTx(ctx context.Context, tx *gorm.DB, author, body string, at time.Time) (*domain.Message, error) {
	m, err := repo.InsertMessage(ctx, tx, author, body, at)
	if err != nil {
		return nil, err
	}
	if _, err := repo.TrimMessages(ctx, tx, l.Limit); err != nil {
		return nil, err
	}
	return m, nil
}

// Recent returns up to limit newest messages, oldest first. limit is
// clamped to [1, Limit]; zero means Limit.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]domain.Message, error) {
	ctx, span := otel.Tracer("services/Ledger").Start(ctx, "Recent",
		trace.WithAttributes(attribute.Int("limit", limit)))
	defer span.End()

	if limit <= 0 || limit > l.Limit {
		limit = l.Limit
	}
	items, err := repo.RecentMessages(ctx, l.DB, limit)
	if err != nil {
		return nil, storageErr("recent messages", err)
	}
	return items, nil
}

// Redact replaces the body of id with the redaction marker. Redacting twice
// succeeds. onCommit, if set, receives the redacted row under the lock.
func (l *Ledger) Redact(ctx context.Context, id uint64, onCommit func(*domain.Message)) (*domain.Message, error) {
	var m *domain.Message
	err := l.TxPublish(ctx, func(tx *gorm.DB) error {
		var err error
		m, err = redactTx(ctx, tx, id)
		return err
	}, func() {
		if onCommit != nil {
			onCommit(m)
		}
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func redactTx(ctx context.Context, tx *gorm.DB, id uint64) (*domain.Message, error) {
	m, err := repo.RedactMessage(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	return m, err
}

// RedactAllBy redacts every visible message by author and returns the ids.
func (l *Ledger) RedactAllBy(ctx context.Context, author string) ([]uint64, error) {
	var ids []uint64
	err := l.TxPublish(ctx, func(tx *gorm.DB) error {
		var err error
		ids, err = repo.RedactMessagesByAuthor(ctx, tx, author)
		return err
	}, nil)
	return ids, err
}

// ClearAll empties the ledger. Ids are not reused afterwards.
func (l *Ledger) ClearAll(ctx context.Context, onCommit func()) error {
	return l.TxPublish(ctx, func(tx *gorm.DB) error {
		_, err := repo.ClearMessages(ctx, tx)
		return err
	}, onCommit)
}

// Get returns a single message.
func (l *Ledger) Get(ctx context.Context, id uint64) (*domain.Message, error) {
	m, err := repo.GetMessage(ctx, l.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, storageErr("get message", err)
	}
	return m, nil
}

// isServiceError reports whether err is one of the taxonomy sentinels that
// must pass through Tx unwrapped.
func isServiceError(err error) bool {
	for _, target := range []error{
		ErrMessageNotFound, ErrAccountNotFound, ErrInvalidIdentity,
		ErrInvalidMessageID, ErrUnauthorized, ErrBanned, ErrStorage,
		ErrReplayUnavailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
