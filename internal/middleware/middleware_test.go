package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/partsmarket/backend/internal/logging"
)

func TestIPRateLimiterAllowsBurstThenRejects(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewIPRateLimiter(1, time.Minute, 2, time.Hour).WithNowFunc(func() time.Time { return now })

	if !limiter.Allow("a") || !limiter.Allow("a") {
		t.Fatal("expected burst of two to be allowed")
	}
	if limiter.Allow("a") {
		t.Fatal("expected third request to be rejected")
	}
	if !limiter.Allow("b") {
		t.Fatal("expected independent key to be allowed")
	}

	now = now.Add(time.Minute)
	if !limiter.Allow("a") {
		t.Fatal("expected token to be replenished after window")
	}
}

func TestIPRateLimiterForgetsIdleKeys(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewIPRateLimiter(10, time.Minute, 1, time.Minute).WithNowFunc(func() time.Time { return now })

	limiter.Allow("a")
	limiter.Allow("b")
	if limiter.Len() != 2 {
		t.Fatalf("expected 2 keys got %d", limiter.Len())
	}

	now = now.Add(2 * time.Minute)
	limiter.Allow("c")
	if limiter.Len() != 1 {
		t.Fatalf("expected idle keys to be collected, got %d", limiter.Len())
	}
}

type rejectStub struct {
	mu     sync.Mutex
	scopes []string
}

func (r *rejectStub) ObserveRateLimited(scope string) {
	r.mu.Lock()
	r.scopes = append(r.scopes, scope)
	r.mu.Unlock()
}

func TestRateLimitMiddleware(t *testing.T) {
	recorder := &rejectStub{}
	limiter := NewIPRateLimiter(1, time.Hour, 1, time.Hour)
	handler := RateLimit(limiter, "auth", recorder)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/telegram", nil)
	req.RemoteAddr = "203.0.113.7:5555"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected first request through, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if len(recorder.scopes) != 1 || recorder.scopes[0] != "auth" {
		t.Fatalf("unexpected rejections: %v", recorder.scopes)
	}

	other := httptest.NewRequest(http.MethodPost, "/api/v1/auth/telegram", nil)
	other.RemoteAddr = "198.51.100.1:5555"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected other client through, got %d", rec.Code)
	}
}

func TestRateLimitNilLimiter(t *testing.T) {
	called := false
	handler := RateLimit(nil, "auth", nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatal("expected pass-through without limiter")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if got := ClientIP(req); got != "10.0.0.1" {
		t.Fatalf("expected remote host got %q", got)
	}

	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.9" {
		t.Fatalf("expected first forwarded hop got %q", got)
	}
}

type observerStub struct {
	status int
	method string
}

func (o *observerStub) ObserveHTTPRequest(method string, status int, _ time.Duration) {
	o.method = method
	o.status = status
}

func TestRequestLoggerPropagatesRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	observer := &observerStub{}

	const incoming = "2b0f4c4e-7f5e-4a58-9a2c-1c1f3f0f1c11"
	var seen string
	handler := RequestLogger(logger, observer)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.RequestIDFromContext(r.Context())
		_, _ = io.WriteString(w, "ok")
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, incoming)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != incoming || rec.Header().Get(RequestIDHeader) != incoming {
		t.Fatalf("expected request id %q propagated, got ctx=%q header=%q", incoming, seen, rec.Header().Get(RequestIDHeader))
	}
	if observer.status != http.StatusOK || observer.method != http.MethodGet {
		t.Fatalf("unexpected observation %+v", observer)
	}
	if !strings.Contains(buf.String(), "request completed") {
		t.Fatalf("expected completion log, got %s", buf.String())
	}
}

func TestRequestLoggerRecoversPanics(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	observer := &observerStub{}
	handler := RequestLogger(logger, observer)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "not-a-uuid")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rec.Code)
	}
	if rec.Header().Get(RequestIDHeader) == "not-a-uuid" {
		t.Fatal("expected malformed request id to be replaced")
	}
	if observer.status != http.StatusInternalServerError {
		t.Fatalf("expected observed 500 got %d", observer.status)
	}
}
