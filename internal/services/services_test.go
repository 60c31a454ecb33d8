package services

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/tbourn/go-live-chat/internal/auth"
	"github.com/tbourn/go-live-chat/internal/broadcast"
	"github.com/tbourn/go-live-chat/internal/ratelimit"
	"github.com/tbourn/go-live-chat/internal/repo"
)

type testEnv struct {
	identity   *IdentityService
	ledger     *Ledger
	limiter    *ratelimit.Limiter
	hub        *broadcast.Hub
	chat       *ChatService
	moderation *ModerationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "chat.db"), repo.Options{Silent: true})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}

	identity := NewIdentityService(db,
		auth.NewHasher(bcrypt.MinCost),
		auth.NewTokens(strings.Repeat("s", 32), time.Hour))
	ledger := NewLedger(db, DefaultHistoryLimit)
	limiter := ratelimit.New(5, 10*time.Second, 60*time.Second)
	hub := broadcast.NewHub(broadcast.Options{Buffer: 256, Logger: zerolog.Nop()})
	t.Cleanup(hub.Close)

	return &testEnv{
		identity:   identity,
		ledger:     ledger,
		limiter:    limiter,
		hub:        hub,
		chat:       NewChatService(identity, ledger, limiter, hub, zerolog.Nop()),
		moderation: NewModerationService(ledger, identity, hub, limiter, zerolog.Nop()),
	}
}

func (e *testEnv) register(t *testing.T, nick string) string {
	t.Helper()
	_, tok, err := e.chat.Register(context.Background(), nick, "password123")
	if err != nil {
		t.Fatalf("Register(%s): %v", nick, err)
	}
	return tok
}

// subscribe opens a public stream and consumes its ready event.
func (e *testEnv) subscribe(t *testing.T) *broadcast.Subscriber {
	t.Helper()
	sub, err := e.chat.OpenStream(context.Background(), "")
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if ev := next(t, sub); ev.Kind != broadcast.KindReady {
		t.Fatalf("first event = %q, want ready", ev.Kind)
	}
	return sub
}

func next(t *testing.T, sub *broadcast.Subscriber) broadcast.Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("stream closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return broadcast.Event{}
}

func expectNoEvent(t *testing.T, sub *broadcast.Subscriber) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %q", ev.Kind)
	case <-time.After(20 * time.Millisecond):
	}
}
