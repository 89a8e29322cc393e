package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nanobanana/nanobanana-api/internal/config"
	"github.com/nanobanana/nanobanana-api/internal/domain/account"
	"github.com/nanobanana/nanobanana-api/internal/domain/credit"
	"github.com/nanobanana/nanobanana-api/internal/domain/generation"
	"github.com/nanobanana/nanobanana-api/internal/domain/notify"
	"github.com/nanobanana/nanobanana-api/internal/middleware"
	"github.com/nanobanana/nanobanana-api/internal/pkg/jwt"
)

func testRouter(t *testing.T) (http.Handler, string) {
	t.Helper()
	cfg := &config.Config{AllowedOrigins: []string{"http://localhost:3000"}}
	jwtService := jwt.NewService("router-test-secret", time.Hour)
	token, err := jwtService.GenerateAccessToken(uuid.New(), "user@example.com")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	credits := credit.NewService(credit.NewMemoryStore())
	hub := notify.NewHub(nil)

	r := newRouter(cfg, handlers{
		auth:       middleware.Auth(jwtService),
		generation: generation.NewHandler(generation.NewService(generation.Config{}, credits, nil, nil, nil)),
		account:    account.NewHandler(account.NewService(account.Config{}, credits, nil, nil)),
		websocket:  notify.NewHandler(hub, cfg.AllowedOrigins).WebSocket,
	})
	return r, token
}

func TestRouterPublicRoutes(t *testing.T) {
	r, _ := testRouter(t)

	for _, path := range []string{"/health", "/api/v1/ping"} {
		t.Run(path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rr.Code)
			}
		})
	}
}

func TestRouterProtectedRoutesRequireToken(t *testing.T) {
	r, _ := testRouter(t)

	cases := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/v1/generations"},
		{http.MethodPost, "/api/v1/generations/check"},
		{http.MethodGet, "/api/v1/generations"},
		{http.MethodGet, "/api/v1/credits"},
		{http.MethodPost, "/api/v1/credits/initialize"},
		{http.MethodGet, "/ws"},
	}

	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected status 401, got %d", rr.Code)
			}
		})
	}
}

func TestRouterWebSocketAcceptsQueryToken(t *testing.T) {
	r, token := testRouter(t)

	// A plain GET is not an upgrade, so the handler rejects it, but only
	// after auth has let it through.
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	if rr.Code == http.StatusUnauthorized {
		t.Fatal("query token was not accepted")
	}
}
