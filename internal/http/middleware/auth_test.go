package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-live-chat/internal/domain"
	"github.com/tbourn/go-live-chat/internal/services"
)

type fakeAuthorizer map[string]error

func (f fakeAuthorizer) Authorize(_ context.Context, token string) (*domain.Account, error) {
	err, ok := f[token]
	if !ok {
		return nil, services.ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	return &domain.Account{Nickname: "alice"}, nil
}

func userRouter(opts AuthOptions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), RequireUser(fakeAuthorizer{
		"good":   nil,
		"banned": services.ErrBanned,
		"orphan": services.ErrUnauthorized,
		"broken": fmt.Errorf("lookup: %w", services.ErrStorage),
	}, opts))
	r.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, CurrentUser(c)) })
	return r
}

func TestRequireUser_Outcomes(t *testing.T) {
	_ = captureLogger(t)
	r := userRouter(AuthOptions{})

	cases := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"missing", "", http.StatusUnauthorized, "unauthorized"},
		{"not bearer", "Basic Zm9vOmJhcg==", http.StatusUnauthorized, "unauthorized"},
		{"invalid", "Bearer nope", http.StatusUnauthorized, "unauthorized"},
		{"orphaned", "Bearer orphan", http.StatusUnauthorized, "unauthorized"},
		{"banned", "Bearer banned", http.StatusForbidden, "banned"},
		{"storage", "Bearer broken", http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := serve(r, req)
			if w.Code != tc.status {
				t.Fatalf("status = %d; want %d", w.Code, tc.status)
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if body["code"] != tc.code {
				t.Fatalf("code = %v; want %s", body["code"], tc.code)
			}
			if tc.status == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Fatalf("401 without WWW-Authenticate")
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "bearer good")
	if w := serve(r, req); w.Code != http.StatusOK || w.Body.String() != "alice" {
		t.Fatalf("valid token: %d %q", w.Code, w.Body.String())
	}
}

func TestRequireUser_QueryToken(t *testing.T) {
	if w := serve(userRouter(AuthOptions{}), httptest.NewRequest(http.MethodGet, "/me?token=good", nil)); w.Code != http.StatusUnauthorized {
		t.Fatalf("query token must be ignored unless enabled, got %d", w.Code)
	}
	w := serve(userRouter(AuthOptions{AllowQueryToken: true}), httptest.NewRequest(http.MethodGet, "/me?token=good", nil))
	if w.Code != http.StatusOK || w.Body.String() != "alice" {
		t.Fatalf("query token: %d %q", w.Code, w.Body.String())
	}
}

func TestRequireAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	const secret = "operator-secret-0123"

	r := gin.New()
	r.Use(RequireAdmin(secret))
	r.POST("/admin/wipe", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := []struct {
		name   string
		set    func(*http.Request)
		status int
	}{
		{"none", func(*http.Request) {}, http.StatusUnauthorized},
		{"wrong header", func(r *http.Request) { r.Header.Set("X-Admin-Token", "nope") }, http.StatusUnauthorized},
		{"header", func(r *http.Request) { r.Header.Set("X-Admin-Token", secret) }, http.StatusNoContent},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+secret) }, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/wipe", nil)
			tc.set(req)
			if w := serve(r, req); w.Code != tc.status {
				t.Fatalf("status = %d; want %d", w.Code, tc.status)
			}
		})
	}

	empty := gin.New()
	empty.Use(RequireAdmin(""))
	empty.POST("/admin/wipe", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	req := httptest.NewRequest(http.MethodPost, "/admin/wipe", nil)
	req.Header.Set("X-Admin-Token", "")
	if w := serve(empty, req); w.Code != http.StatusUnauthorized {
		t.Fatalf("empty configured token must reject, got %d", w.Code)
	}
}
