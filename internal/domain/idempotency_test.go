package domain

import (
	"testing"
	"time"
)

func TestIdempotency_Migration_UniqueNicknameKey(t *testing.T) {
	db := newDomainDB(t)
	if err := db.AutoMigrate(&Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	if !m.HasTable(&Idempotency{}) {
		t.Fatalf("expected table %q to exist", Idempotency{}.TableName())
	}
	if !m.HasIndex(&Idempotency{}, "ux_nickname_key") {
		t.Fatalf("expected composite index ux_nickname_key to exist")
	}

	now := time.Now().UTC()
	rec := &Idempotency{
		ID:        "id-1",
		Nickname:  "alice",
		Key:       "k1",
		MessageID: 7,
		Status:    201,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := db.Create(rec).Error; err != nil {
		t.Fatalf("insert valid: %v", err)
	}

	var got Idempotency
	if err := db.First(&got, "id = ?", "id-1").Error; err != nil {
		t.Fatalf("readback: %v", err)
	}
	if got.Nickname != "alice" || got.Key != "k1" || got.MessageID != 7 || got.Status != 201 {
		t.Fatalf("unexpected row: %+v", got)
	}

	dup := *rec
	dup.ID = "id-2"
	if err := db.Create(&dup).Error; err == nil {
		t.Fatalf("expected UNIQUE constraint violation on (nickname, key)")
	}

	other := *rec
	other.ID, other.Nickname = "id-3", "bob"
	if err := db.Create(&other).Error; err != nil {
		t.Fatalf("same key for a different nickname must be allowed: %v", err)
	}
}
