package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-live-chat/internal/domain"
	"github.com/tbourn/go-live-chat/internal/services"
)

func authRouter(chat stubChat) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := New(chat, stubMod{}, Options{})
	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	return r
}

func TestRegister(t *testing.T) {
	r := authRouter(stubChat{
		register: func(_ context.Context, nick, pass string) (*domain.Account, string, error) {
			switch nick {
			case "alice":
				if pass != "correct-horse" {
					t.Fatalf("password not forwarded: %q", pass)
				}
				return &domain.Account{Nickname: "alice", CreatedAt: t0}, "tok-alice", nil
			case "taken":
				return nil, "", services.ErrConflict
			case "gone":
				return nil, "", services.ErrBanned
			default:
				return nil, "", services.ErrInvalidIdentity
			}
		},
	})

	w := doJSON(r, http.MethodPost, "/auth/register", `{"nickname":"alice","password":"correct-horse"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	resp := decode[map[string]any](t, w)
	user, _ := resp["user"].(map[string]any)
	if resp["token"] != "tok-alice" || user["nickname"] != "alice" || user["banned"] != false {
		t.Fatalf("unexpected body: %v", resp)
	}
	if _, leaked := user["PasswordHash"]; leaked {
		t.Fatalf("password hash serialized")
	}

	cases := []struct {
		body   string
		status int
		code   string
	}{
		{`{"nickname":"taken","password":"whatever1"}`, http.StatusConflict, ErrCodeConflict},
		{`{"nickname":"gone","password":"whatever1"}`, http.StatusForbidden, ErrCodeBanned},
		{`{"nickname":"x","password":"whatever1"}`, http.StatusBadRequest, ErrCodeInvalidNickname},
		{`not json`, http.StatusBadRequest, ErrCodeBadRequest},
	}
	for _, tc := range cases {
		w := doJSON(r, http.MethodPost, "/auth/register", tc.body, nil)
		if w.Code != tc.status || decode[ErrorResponse](t, w).Code != tc.code {
			t.Fatalf("%s: status=%d body=%s", tc.body, w.Code, w.Body.String())
		}
	}
}

func TestLogin(t *testing.T) {
	r := authRouter(stubChat{
		login: func(_ context.Context, nick, pass string) (string, error) {
			switch {
			case nick == "alice" && pass == "correct-horse":
				return "tok", nil
			case nick == "mallory":
				return "", services.ErrBanned
			default:
				return "", services.ErrInvalidCredentials
			}
		},
	})

	w := doJSON(r, http.MethodPost, "/auth/login", `{"nickname":"alice","password":"correct-horse"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if got := decode[LoginResponse](t, w); got.Nickname != "alice" || got.Token != "tok" {
		t.Fatalf("unexpected body: %+v", got)
	}

	w = doJSON(r, http.MethodPost, "/auth/login", `{"nickname":"alice","password":"wrong-pass"}`, nil)
	if w.Code != http.StatusUnauthorized || decode[ErrorResponse](t, w).Code != ErrCodeInvalidCredentials {
		t.Fatalf("wrong password: status=%d body=%s", w.Code, w.Body.String())
	}
	w = doJSON(r, http.MethodPost, "/auth/login", `{"nickname":"mallory","password":"whatever1"}`, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("banned login: status=%d", w.Code)
	}
}
