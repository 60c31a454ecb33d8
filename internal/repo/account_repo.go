// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Account
// model.
//
// Error semantics:
//   - Missing accounts surface as ErrNotFound (gorm.ErrRecordNotFound).
//   - A taken nickname surfaces as ErrDuplicate.
//   - Any other DB error is propagated unchanged.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-live-chat/internal/domain"
)

// CreateAccount inserts a new account. It never overwrites: an existing
// nickname yields ErrDuplicate.
func CreateAccount(ctx context.Context, db *gorm.DB, nickname, passwordHash string) (*domain.Account, error) {
	a := &domain.Account{
		Nickname:     nickname,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(a).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return a, nil
}

// GetAccount fetches an account by exact (case-sensitive) nickname.
func GetAccount(ctx context.Context, db *gorm.DB, nickname string) (*domain.Account, error) {
	var a domain.Account
	if err := db.WithContext(ctx).Where("nickname = ?", nickname).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// SetBanned updates the banned flag. Returns ErrNotFound when no account
// matches.
func SetBanned(ctx context.Context, db *gorm.DB, nickname string, banned bool) error {
	res := db.WithContext(ctx).
		Model(&domain.Account{}).
		Where("nickname = ?", nickname).
		Update("banned", banned)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAccount hard-deletes the account row. Returns ErrNotFound when no
// account matches. Messages are not touched; see DeleteMessagesByAuthor.
func DeleteAccount(ctx context.Context, db *gorm.DB, nickname string) error {
	res := db.WithContext(ctx).Where("nickname = ?", nickname).Delete(&domain.Account{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAccounts returns accounts filtered by banned state when banned is
// non-nil. Order is unspecified; callers sort for presentation.
func ListAccounts(ctx context.Context, db *gorm.DB, banned *bool) ([]domain.Account, error) {
	var out []domain.Account
	q := db.WithContext(ctx).Model(&domain.Account{})
	if banned != nil {
		q = q.Where("banned = ?", *banned)
	}
	err := q.Find(&out).Error
	return out, err
}
