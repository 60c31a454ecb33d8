// Package services – IdentityService
//
// IdentityService owns accounts: registration, credential checks, bearer
// tokens and ban state. Tokens are stateless, so callers that act on behalf
// of a token must re-check the live account with RequireActive.
package services

import (
	"context"
	"errors"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"gorm.io/gorm"

	"github.com/tbourn/go-live-chat/internal/auth"
	"github.com/tbourn/go-live-chat/internal/domain"
	"github.com/tbourn/go-live-chat/internal/repo"
)

// AccountFilter selects accounts by ban state.
type AccountFilter string

// Account filters accepted by List.
const (
	FilterAll    AccountFilter = "all"
	FilterBanned AccountFilter = "banned"
	FilterActive AccountFilter = "active"
)

// IdentityService verifies credentials and issues tokens.
type IdentityService struct {
	DB     *gorm.DB
	Hasher *auth.Hasher
	Tokens *auth.Tokens
}

// NewIdentityService wires an IdentityService.
func NewIdentityService(db *gorm.DB, h *auth.Hasher, t *auth.Tokens) *IdentityService {
	return &IdentityService{DB: db, Hasher: h, Tokens: t}
}

// Register creates an account. Formats are checked before any store access.
// An existing nickname yields ErrBanned when that account is banned and
// ErrConflict otherwise; nothing is overwritten.
func (s *IdentityService) Register(ctx context.Context, nickname, secret string) (*domain.Account, error) {
	ctx, span := otel.Tracer("services/IdentityService").Start(ctx, "Register",
		trace.WithAttributes(attribute.String("account.nickname", nickname)))
	defer span.End()

	switch err := auth.ValidateCredentials(auth.Credentials{Nickname: nickname, Secret: secret}); {
	case errors.Is(err, auth.ErrInvalidNickname):
		return nil, ErrInvalidIdentity
	case isReserved(nickname):
		return nil, ErrInvalidIdentity
	case err != nil:
		return nil, ErrInvalidSecret
	}

	existing, err := repo.GetAccount(ctx, s.DB, nickname)
	switch {
	case err == nil:
		if existing.Banned {
			return nil, ErrBanned
		}
		return nil, ErrConflict
	case !errors.Is(err, repo.ErrNotFound):
		return nil, storageErr("lookup account", err)
	}

	hash, err := s.Hasher.Hash(secret)
	if err != nil {
		return nil, err
	}
	a, err := repo.CreateAccount(ctx, s.DB, nickname, hash)
	if errors.Is(err, repo.ErrDuplicate) {
		// Lost a race with a concurrent registration.
		return nil, ErrConflict
	}
	if err != nil {
		return nil, storageErr("create account", err)
	}
	return a, nil
}

// Authenticate checks credentials and returns a signed token. Unknown
// nickname and wrong password both yield ErrInvalidCredentials after the
// same amount of hashing work. ErrBanned is only revealed once the password
// has been verified.
func (s *IdentityService) Authenticate(ctx context.Context, nickname, secret string) (string, error) {
	ctx, span := otel.Tracer("services/IdentityService").Start(ctx, "Authenticate",
		trace.WithAttributes(attribute.String("account.nickname", nickname)))
	defer span.End()

	a, err := repo.GetAccount(ctx, s.DB, nickname)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", storageErr("lookup account", err)
		}
		s.Hasher.CompareDummy(secret)
		return "", ErrInvalidCredentials
	}

	match, err := s.Hasher.Compare(a.PasswordHash, secret)
	if err != nil || !match {
		return "", ErrInvalidCredentials
	}
	if a.Banned {
		return "", ErrBanned
	}
	return s.Tokens.Issue(a.Nickname)
}

// VerifyToken returns the nickname bound to token. It does not consult the
// store.
func (s *IdentityService) VerifyToken(token string) (string, error) {
	nick, err := s.Tokens.Verify(token)
	if err != nil {
		return "", ErrInvalidToken
	}
	return nick, nil
}

// RequireActive loads the live account for nickname. A missing account
// yields ErrUnauthorized and a banned one ErrBanned.
func (s *IdentityService) RequireActive(ctx context.Context, nickname string) (*domain.Account, error) {
	a, err := repo.GetAccount(ctx, s.DB, nickname)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, storageErr("lookup account", err)
	}
	if a.Banned {
		return nil, ErrBanned
	}
	return a, nil
}

// List returns accounts matching filter sorted case-insensitively by
// nickname, ties broken by exact nickname.
func (s *IdentityService) List(ctx context.Context, filter AccountFilter) ([]domain.Account, error) {
	var banned *bool
	switch filter {
	case FilterBanned:
		b := true
		banned = &b
	case FilterActive:
		b := false
		banned = &b
	case FilterAll, "":
	default:
		return nil, ErrInvalidFilter
	}

	items, err := repo.ListAccounts(ctx, s.DB, banned)
	if err != nil {
		return nil, storageErr("list accounts", err)
	}
	fold := cases.Fold()
	sort.SliceStable(items, func(i, j int) bool {
		a, b := fold.String(items[i].Nickname), fold.String(items[j].Nickname)
		if a != b {
			return a < b
		}
		return items[i].Nickname < items[j].Nickname
	})
	return items, nil
}

// isReserved reports whether nickname collides with the system author under
// case folding.
func isReserved(nickname string) bool {
	return strings.EqualFold(nickname, domain.SystemAuthor)
}
