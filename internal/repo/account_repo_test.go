package repo

import (
	"context"
	"errors"
	"testing"
)

func TestCreateAccount_AndDuplicate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a, err := CreateAccount(ctx, db, "alice", "hash")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if a.Nickname != "alice" || a.Banned || a.CreatedAt.IsZero() {
		t.Fatalf("unexpected account: %+v", a)
	}

	if _, err := CreateAccount(ctx, db, "alice", "other"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	// Nicknames are case-sensitive.
	if _, err := CreateAccount(ctx, db, "Alice", "hash"); err != nil {
		t.Fatalf("case variant should be accepted: %v", err)
	}
}

func TestGetAccount_NotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := GetAccount(context.Background(), db, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetBanned_ToggleAndMissing(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if _, err := CreateAccount(ctx, db, "bob", "h"); err != nil {
		t.Fatal(err)
	}

	if err := SetBanned(ctx, db, "bob", true); err != nil {
		t.Fatalf("SetBanned: %v", err)
	}
	a, _ := GetAccount(ctx, db, "bob")
	if !a.Banned {
		t.Fatal("expected banned")
	}
	if err := SetBanned(ctx, db, "bob", false); err != nil {
		t.Fatalf("SetBanned(false): %v", err)
	}
	a, _ = GetAccount(ctx, db, "bob")
	if a.Banned {
		t.Fatal("expected unbanned")
	}

	if err := SetBanned(ctx, db, "nobody", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteAccount(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	if _, err := CreateAccount(ctx, db, "carol", "h"); err != nil {
		t.Fatal(err)
	}
	if err := DeleteAccount(ctx, db, "carol"); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if err := DeleteAccount(ctx, db, "carol"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
	// The nickname becomes available again.
	if _, err := CreateAccount(ctx, db, "carol", "h2"); err != nil {
		t.Fatalf("re-register: %v", err)
	}
}

func TestListAccounts_Filter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	for _, n := range []string{"a1x", "b2x", "c3x"} {
		if _, err := CreateAccount(ctx, db, n, "h"); err != nil {
			t.Fatal(err)
		}
	}
	_ = SetBanned(ctx, db, "b2x", true)

	all, err := ListAccounts(ctx, db, nil)
	if err != nil || len(all) != 3 {
		t.Fatalf("all: len=%d err=%v", len(all), err)
	}
	yes, no := true, false
	banned, _ := ListAccounts(ctx, db, &yes)
	if len(banned) != 1 || banned[0].Nickname != "b2x" {
		t.Fatalf("banned: %+v", banned)
	}
	active, _ := ListAccounts(ctx, db, &no)
	if len(active) != 2 {
		t.Fatalf("active: %+v", active)
	}
}
