package httpx

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterPerClient(t *testing.T) {
	rl := NewRateLimiter(2, nil)
	h := rl.Middleware()(okHandler())

	do := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	if do("203.0.113.1") != http.StatusOK || do("203.0.113.1") != http.StatusOK {
		t.Fatal("expected burst of two to pass")
	}
	if code := do("203.0.113.1"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := do("203.0.113.2"); code != http.StatusOK {
		t.Fatalf("other client should not be limited, got %d", code)
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(60, func(*http.Request) string { return "k" })
	now := time.Now()
	for i := 0; i < 60; i++ {
		if !rl.allow("k", now) {
			t.Fatalf("request %d rejected inside burst", i)
		}
	}
	if rl.allow("k", now) {
		t.Fatal("expected bucket to be empty")
	}
	if !rl.allow("k", now.Add(1100*time.Millisecond)) {
		t.Fatal("expected a token after one second")
	}
}

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "abc-123" || rr.Header().Get(RequestIDHeader) != "abc-123" {
		t.Fatalf("expected inbound id to be reused, got ctx=%q header=%q", seen, rr.Header().Get(RequestIDHeader))
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "abc-123" {
		t.Fatalf("expected a generated id, got %q", seen)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := WithCORS(PublicCORS([]string{"https://smile.example"}))(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/public/book", nil)
	req.Header.Set("Origin", "https://smile.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://smile.example" {
		t.Fatalf("missing allow-origin: %v", rr.Header())
	}

	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unknown origin, got %d", rr.Code)
	}
}

func TestRecover(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := WithRecover(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}
