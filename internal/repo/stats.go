// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file summarizes a history page for conditional
// responses (ETag generation) in the HTTP layer.
package repo

import (
	"time"

	"github.com/tbourn/go-live-chat/internal/domain"
)

// HistoryStats summarizes a page of messages so a validator changes whenever
// a row in it is appended, trimmed, redacted or wiped.
type HistoryStats struct {
	Count        int64
	MaxID        uint64
	MaxUpdatedAt *time.Time
}

// SummarizeMessages returns the row count, the highest id and the latest
// UpdatedAt of items. With no rows, MaxID is 0 and MaxUpdatedAt is nil.
func SummarizeMessages(items []domain.Message) HistoryStats {
	st := HistoryStats{Count: int64(len(items))}
	for i := range items {
		m := &items[i]
		if m.ID > st.MaxID {
			st.MaxID = m.ID
		}
		if st.MaxUpdatedAt == nil || m.UpdatedAt.After(*st.MaxUpdatedAt) {
			ts := m.UpdatedAt
			st.MaxUpdatedAt = &ts
		}
	}
	return st
}
