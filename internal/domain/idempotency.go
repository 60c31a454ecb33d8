package domain

import "time"

// Idempotency represents a recorded result of a previously processed post,
// keyed by (nickname, key). It enables safe retries of POST /messages by
// returning the originally created message without re-posting it.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	Nickname  string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_nickname_key,priority:1"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_nickname_key,priority:2"`
	MessageID uint64    `gorm:"type:INTEGER NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
