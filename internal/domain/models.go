// Package domain defines the persistence models for accounts and chat
// messages. These types are mapped with GORM and form the core data layer of
// the live chat service.
package domain

import "time"

// SystemAuthor is the reserved author of moderation log entries. No account
// can be registered under this name.
const SystemAuthor = "system"

// RedactedBody replaces the body of a message removed by moderation.
const RedactedBody = "message deleted"

// Account is a registered chat participant. The nickname is both the login
// handle and the display name; it is unique and case-sensitive.
//
// Fields:
//   - Nickname: primary key, 3–24 chars of [A-Za-z0-9_-].
//   - PasswordHash: bcrypt hash, never serialized.
//   - Banned: set and cleared only by moderation.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Account struct {
	Nickname     string    `json:"nickname"   gorm:"type:varchar(24);primaryKey"`
	PasswordHash string    `json:"-"          gorm:"type:varchar(100);not null"`
	Banned       bool      `json:"banned"     gorm:"not null;default:false;index"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"-"`
}

// TableName returns the database table name for Account.
func (Account) TableName() string { return "accounts" }

// Message is a single entry in the chat ledger.
//
// Fields:
//   - ID: AUTOINCREMENT key; assigned by the store, never reused (even after a wipe).
//   - Nickname: author, or SystemAuthor for moderation log entries. There is
//     deliberately no foreign key, since system entries have no account.
//   - Body: 1–500 chars, or RedactedBody after moderation. A post can never
//     carry RedactedBody itself, so Redacted is exact.
//   - CreatedAt: post time; retention follows ID order, not this column.
//   - UpdatedAt: bumped on redaction so cache validators change.
type Message struct {
	ID        uint64    `json:"id"         gorm:"primaryKey;autoIncrement"`
	Nickname  string    `json:"nickname"   gorm:"type:varchar(24);not null;index:idx_msg_author"`
	Body      string    `json:"body"       gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Redacted reports whether the message body has been replaced by moderation.
func (m Message) Redacted() bool { return m.Body == RedactedBody }
