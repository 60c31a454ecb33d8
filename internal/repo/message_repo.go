// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model: the primitives the ledger composes into its append+trim, redaction
// and wipe operations.
//
// All functions accept a *gorm.DB so they compose inside transactions.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-live-chat/internal/domain"
)

// InsertMessage inserts a message row. The id is generated by the store.
func InsertMessage(ctx context.Context, db *gorm.DB, nickname, body string, at time.Time) (*domain.Message, error) {
	m := &domain.Message{
		Nickname:  nickname,
		Body:      body,
		CreatedAt: at.UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// TrimMessages deletes every row except the keep highest ids and returns the
// number of rows removed. Retention follows id order, never timestamps.
func TrimMessages(ctx context.Context, db *gorm.DB, keep int) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM messages WHERE id NOT IN (SELECT id FROM messages ORDER BY id DESC LIMIT ?)`, keep)
	return res.RowsAffected, res.Error
}

// RecentMessages returns up to limit newest messages in ascending id order.
func RecentMessages(ctx context.Context, db *gorm.DB, limit int) ([]domain.Message, error) {
	var out []domain.Message
	q := db.WithContext(ctx).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// GetMessage fetches a message by id.
func GetMessage(ctx context.Context, db *gorm.DB, id uint64) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// RedactMessage replaces the body with domain.RedactedBody and returns the
// updated row. Redacting an already redacted message succeeds.
func RedactMessage(ctx context.Context, db *gorm.DB, id uint64) (*domain.Message, error) {
	m, err := GetMessage(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if m.Redacted() {
		return m, nil
	}
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ?", id).
		Updates(map[string]any{"body": domain.RedactedBody, "updated_at": now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	m.Body = domain.RedactedBody
	m.UpdatedAt = now
	return m, nil
}

// RedactMessagesByAuthor redacts every not-yet-redacted message by nickname
// and returns the affected ids in ascending order.
func RedactMessagesByAuthor(ctx context.Context, db *gorm.DB, nickname string) ([]uint64, error) {
	var ids []uint64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("nickname = ? AND body <> ?", nickname, domain.RedactedBody).
		Order("id ASC").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}
	err = db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"body": domain.RedactedBody, "updated_at": time.Now().UTC()}).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteMessagesByAuthor hard-deletes every message by nickname.
func DeleteMessagesByAuthor(ctx context.Context, db *gorm.DB, nickname string) (int64, error) {
	res := db.WithContext(ctx).Where("nickname = ?", nickname).Delete(&domain.Message{})
	return res.RowsAffected, res.Error
}

// ClearMessages empties the messages table. Ids keep increasing afterwards
// because the key is AUTOINCREMENT.
func ClearMessages(ctx context.Context, db *gorm.DB) (int64, error) {
	res := db.WithContext(ctx).Exec("DELETE FROM messages")
	return res.RowsAffected, res.Error
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw("SELECT COUNT(*) FROM messages").Scan(&total).Error
	return total, err
}
