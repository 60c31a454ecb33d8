package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-live-chat/internal/broadcast"
	"github.com/tbourn/go-live-chat/internal/domain"
	"github.com/tbourn/go-live-chat/internal/repo"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestPost_AppendsAndBroadcasts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice")
	sub := env.subscribe(t)

	m, err := env.chat.Post(ctx, "alice", "  hi\r\nthere  ", t0)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if m.ID != 1 || m.Nickname != "alice" || m.Body != "hi\nthere" {
		t.Fatalf("unexpected message: %+v", m)
	}

	ev := next(t, sub)
	if ev.Kind != broadcast.KindMessage {
		t.Fatalf("event = %q, want message", ev.Kind)
	}
	if got, ok := ev.Data.(*domain.Message); !ok || got.ID != m.ID {
		t.Fatalf("event data = %#v", ev.Data)
	}

	hist, err := env.chat.History(ctx, "", 0)
	if err != nil || len(hist) != 1 || hist[0].Body != "hi\nthere" {
		t.Fatalf("History = %+v, %v", hist, err)
	}
}

func TestPost_CheckOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.chat.Post(ctx, "ghost", "hi", t0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("unknown account: %v", err)
	}

	env.register(t, "alice")
	for _, body := range []string{"", "   \r\n ", strings.Repeat("x", 501)} {
		if _, err := env.chat.Post(ctx, "alice", body, t0); !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("body len %d: %v", len(body), err)
		}
	}
	// Invalid bodies never count against the limit.
	for i := 0; i < 5; i++ {
		if _, err := env.chat.Post(ctx, "alice", "ok", t0); err != nil {
			t.Fatalf("post %d: %v", i+1, err)
		}
	}
}

func TestPost_BanCommittedBeforeAppendWins(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice")
	sub := env.subscribe(t)

	// Post passes its early account check, then waits for the write lock
	// while the ban commits.
	env.ledger.mu.Lock()
	errc := make(chan error, 1)
	go func() {
		_, err := env.chat.Post(ctx, "alice", "last words", t0)
		errc <- err
	}()
	time.Sleep(50 * time.Millisecond)
	err := repo.SetBanned(ctx, env.ledger.DB, "alice", true)
	env.ledger.mu.Unlock()
	if err != nil {
		t.Fatalf("SetBanned: %v", err)
	}

	if err := <-errc; !errors.Is(err, ErrBanned) {
		t.Fatalf("Post = %v, want ErrBanned", err)
	}
	if hist, _ := env.chat.History(ctx, "", 0); len(hist) != 0 {
		t.Fatalf("history = %+v", hist)
	}
	expectNoEvent(t, sub)
}

func TestPost_DeletedBeforeAppendIsUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice")

	env.ledger.mu.Lock()
	errc := make(chan error, 1)
	go func() {
		_, err := env.chat.Post(ctx, "alice", "hello?", t0)
		errc <- err
	}()
	time.Sleep(50 * time.Millisecond)
	err := repo.DeleteAccount(ctx, env.ledger.DB, "alice")
	env.ledger.mu.Unlock()
	if err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}

	if err := <-errc; !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Post = %v, want ErrUnauthorized", err)
	}
	if hist, _ := env.chat.History(ctx, "", 0); len(hist) != 0 {
		t.Fatalf("history = %+v", hist)
	}
}

func TestPost_RejectsRedactionMarker(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice")

	for _, body := range []string{domain.RedactedBody, "  " + domain.RedactedBody + "\r\n"} {
		if _, err := env.chat.Post(ctx, "alice", body, t0); !errors.Is(err, ErrInvalidMessage) {
			t.Fatalf("Post(%q) = %v, want ErrInvalidMessage", body, err)
		}
	}
	if _, err := env.chat.Post(ctx, "alice", "the message deleted itself", t0); err != nil {
		t.Fatalf("marker as substring: %v", err)
	}
}

func TestPost_RateLimitProperty(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice")

	for i := 0; i < 5; i++ {
		if _, err := env.chat.Post(ctx, "alice", fmt.Sprintf("m%d", i), t0.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("post %d: %v", i+1, err)
		}
	}

	sixth := t0.Add(6 * time.Second)
	_, err := env.chat.Post(ctx, "alice", "too many", sixth)
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.CooldownSeconds() != 60 || !rl.RetryAt.Equal(sixth.Add(60*time.Second)) {
		t.Fatalf("unexpected limit: %+v", rl)
	}

	if _, err := env.chat.Post(ctx, "alice", "back", sixth.Add(61*time.Second)); err != nil {
		t.Fatalf("post 61s later: %v", err)
	}
}

func TestHistory_BoundedAndAscending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice")

	// Spread posts so the limiter never trips.
	for i := 0; i < 101; i++ {
		at := t0.Add(time.Duration(i) * 3 * time.Second)
		if _, err := env.chat.Post(ctx, "alice", fmt.Sprintf("m%d", i+1), at); err != nil {
			t.Fatalf("post %d: %v", i+1, err)
		}
	}

	hist, err := env.chat.History(ctx, "alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 100 {
		t.Fatalf("len = %d, want 100", len(hist))
	}
	if hist[0].ID != 2 {
		t.Fatalf("oldest id = %d, want 2", hist[0].ID)
	}
	for i := 1; i < len(hist); i++ {
		if hist[i].ID <= hist[i-1].ID {
			t.Fatalf("ids not strictly increasing at %d", i)
		}
	}

	last, _ := env.chat.History(ctx, "", 10)
	if len(last) != 10 || last[9].ID != 101 {
		t.Fatalf("limit 10 = %d items ending at %d", len(last), last[len(last)-1].ID)
	}
}

func TestHistory_AuthenticatedRequiresActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "mallory")
	if _, err := env.moderation.Ban(ctx, "mallory"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.chat.History(ctx, "mallory", 0); !errors.Is(err, ErrBanned) {
		t.Fatalf("banned history: %v", err)
	}
	if _, err := env.chat.OpenStream(ctx, "mallory"); !errors.Is(err, ErrBanned) {
		t.Fatalf("banned stream: %v", err)
	}
	if _, err := env.chat.History(ctx, "", 0); err != nil {
		t.Fatalf("anonymous history: %v", err)
	}
}

func TestPostOnce_ReplaysWithoutPostingAgain(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice")

	first, replayed, err := env.chat.PostOnce(ctx, "alice", "k1", "hello", t0)
	if err != nil || replayed {
		t.Fatalf("first PostOnce: replayed=%v err=%v", replayed, err)
	}
	// Replays never consume the limit: send more than five.
	for i := 0; i < 7; i++ {
		again, replayed, err := env.chat.PostOnce(ctx, "alice", "k1", "hello", t0)
		if err != nil || !replayed || again.ID != first.ID {
			t.Fatalf("replay %d: %+v replayed=%v err=%v", i, again, replayed, err)
		}
	}
	hist, _ := env.chat.History(ctx, "", 0)
	if len(hist) != 1 {
		t.Fatalf("expected a single stored message, got %d", len(hist))
	}

	// No key: plain post.
	if _, replayed, err := env.chat.PostOnce(ctx, "alice", "  ", "second", t0); err != nil || replayed {
		t.Fatalf("keyless PostOnce: replayed=%v err=%v", replayed, err)
	}
}

func TestPostOnce_OriginalGoneIsNotReposted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice")

	if _, _, err := env.chat.PostOnce(ctx, "alice", "k1", "hello", t0); err != nil {
		t.Fatalf("first PostOnce: %v", err)
	}
	if err := env.moderation.Wipe(ctx); err != nil {
		t.Fatalf("Wipe: %v", err)
	}

	sub := env.subscribe(t)
	for i := 0; i < 2; i++ {
		m, replayed, err := env.chat.PostOnce(ctx, "alice", "k1", "hello", t0)
		if !errors.Is(err, ErrReplayUnavailable) || m != nil || replayed {
			t.Fatalf("retry %d: %+v replayed=%v err=%v", i+1, m, replayed, err)
		}
	}
	if hist, _ := env.chat.History(ctx, "", 0); len(hist) != 0 {
		t.Fatalf("retry re-posted: %+v", hist)
	}
	expectNoEvent(t, sub)

	// A fresh key still posts.
	if _, replayed, err := env.chat.PostOnce(ctx, "alice", "k2", "hello again", t0); err != nil || replayed {
		t.Fatalf("fresh key: replayed=%v err=%v", replayed, err)
	}
}

func TestPostOnce_RecordStoredWithMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice")

	m, _, err := env.chat.PostOnce(ctx, "alice", "k1", "hello", t0)
	if err != nil {
		t.Fatalf("PostOnce: %v", err)
	}
	rec, err := repo.GetIdempotency(ctx, env.ledger.DB, "alice", "k1", time.Now().UTC())
	if err != nil || rec.MessageID != m.ID {
		t.Fatalf("record = %+v, %v", rec, err)
	}
}

func TestOpenCloseStream(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice")

	sub, err := env.chat.OpenStream(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if env.hub.Len() != 1 {
		t.Fatalf("hub len = %d", env.hub.Len())
	}
	env.chat.CloseStream(sub)
	env.chat.CloseStream(sub)
	if env.hub.Len() != 0 {
		t.Fatalf("hub len after close = %d", env.hub.Len())
	}
}

func TestIsClientError(t *testing.T) {
	if !IsClientError(&RateLimitError{Cooldown: time.Second}) || !IsClientError(ErrBanned) || !IsClientError(ErrReplayUnavailable) {
		t.Fatal("taxonomy errors must be client errors")
	}
	if IsClientError(storageErr("x", errors.New("disk"))) {
		t.Fatal("storage errors are not client errors")
	}
}
