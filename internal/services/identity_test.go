package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tbourn/go-live-chat/internal/repo"
)

func TestRegisterAuthenticateVerify_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	a, err := env.identity.Register(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if a.Nickname != "alice" || a.Banned {
		t.Fatalf("unexpected account: %+v", a)
	}
	if a.PasswordHash == "password123" || a.PasswordHash == "" {
		t.Fatal("password must be stored hashed")
	}

	tok, err := env.identity.Authenticate(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	nick, err := env.identity.VerifyToken(tok)
	if err != nil || nick != "alice" {
		t.Fatalf("VerifyToken = %q, %v", nick, err)
	}
}

func TestRegister_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		nick, secret string
		want         error
	}{
		{"ab", "password123", ErrInvalidIdentity},
		{"bad name", "password123", ErrInvalidIdentity},
		{strings.Repeat("x", 25), "password123", ErrInvalidIdentity},
		{"system", "password123", ErrInvalidIdentity},
		{"System", "password123", ErrInvalidIdentity},
		{"alice", "short", ErrInvalidSecret},
		{"alice", strings.Repeat("p", 73), ErrInvalidSecret},
	}
	for _, tc := range cases {
		if _, err := env.identity.Register(ctx, tc.nick, tc.secret); !errors.Is(err, tc.want) {
			t.Errorf("Register(%q, len %d) = %v, want %v", tc.nick, len(tc.secret), err, tc.want)
		}
	}
}

func TestRegister_ConflictAndBanned(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice")
	env.register(t, "mallory")

	if _, err := env.identity.Register(ctx, "alice", "another-pass"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if _, err := env.moderation.Ban(ctx, "mallory"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.identity.Register(ctx, "mallory", "password123"); !errors.Is(err, ErrBanned) {
		t.Fatalf("expected ErrBanned, got %v", err)
	}

	// The original account is untouched.
	if _, err := env.identity.Authenticate(ctx, "alice", "password123"); err != nil {
		t.Fatalf("original credentials must still work: %v", err)
	}
}

func TestAuthenticate_IndistinguishableFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice")

	_, errUnknown := env.identity.Authenticate(ctx, "nobody", "password123")
	_, errWrong := env.identity.Authenticate(ctx, "alice", "wrong-password")
	if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatalf("unknown=%v wrong=%v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatal("failure messages must not differ")
	}
}

func TestAuthenticate_BannedOnlyAfterPasswordCheck(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "mallory")
	if _, err := env.moderation.Ban(ctx, "mallory"); err != nil {
		t.Fatal(err)
	}

	if _, err := env.identity.Authenticate(ctx, "mallory", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password on banned account: %v", err)
	}
	if _, err := env.identity.Authenticate(ctx, "mallory", "password123"); !errors.Is(err, ErrBanned) {
		t.Fatalf("expected ErrBanned, got %v", err)
	}
}

func TestVerifyToken_StatelessAfterBan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tok := env.register(t, "mallory")
	if _, err := env.moderation.Ban(ctx, "mallory"); err != nil {
		t.Fatal(err)
	}

	// Signature still verifies...
	if nick, err := env.identity.VerifyToken(tok); err != nil || nick != "mallory" {
		t.Fatalf("VerifyToken after ban = %q, %v", nick, err)
	}
	// ...but every privileged path re-checks live state.
	if _, err := env.chat.Authorize(ctx, tok); !errors.Is(err, ErrBanned) {
		t.Fatalf("Authorize after ban: %v", err)
	}
	if _, err := env.identity.VerifyToken("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("garbage token: %v", err)
	}
}

func TestRequireActive_DeletedAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	tok := env.register(t, "carol")
	if err := env.moderation.DeleteAccount(ctx, "carol"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.chat.Authorize(ctx, tok); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestList_SortedCaseInsensitively(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for _, n := range []string{"bob", "Alice", "carol", "alice", "Dave"} {
		env.register(t, n)
	}
	if _, err := env.moderation.Ban(ctx, "carol"); err != nil {
		t.Fatal(err)
	}

	all, err := env.identity.List(ctx, FilterAll)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, a := range all {
		got = append(got, a.Nickname)
	}
	want := "Alice,alice,bob,carol,Dave"
	if strings.Join(got, ",") != want {
		t.Fatalf("order = %v, want %s", got, want)
	}

	banned, _ := env.identity.List(ctx, FilterBanned)
	if len(banned) != 1 || banned[0].Nickname != "carol" {
		t.Fatalf("banned = %+v", banned)
	}
	active, _ := env.identity.List(ctx, FilterActive)
	if len(active) != 4 {
		t.Fatalf("active = %d", len(active))
	}
	if _, err := env.identity.List(ctx, "weird"); !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("unknown filter: %v", err)
	}
}

func TestStorageErrorsAreWrapped(t *testing.T) {
	env := newTestEnv(t)
	if sqlDB, err := env.identity.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_, err := env.identity.Register(context.Background(), "alice", "password123")
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if errors.Is(err, repo.ErrNotFound) {
		t.Fatal("closed DB must not look like a missing row")
	}
}
