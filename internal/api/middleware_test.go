package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agrilogistic/courier/internal/redis"
)

func setupLimiter(t *testing.T, limit int) (*redis.RateLimiter, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	client := redis.NewClientFromRDB(rdb, zap.NewNop())

	limiter := redis.NewRateLimiter(client, zap.NewNop(), redis.RateLimitConfig{
		Limit:  limit,
		Window: time.Minute,
	})

	return limiter, func() {
		rdb.Close()
		mr.Close()
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
}

func TestRateLimitMiddleware_AllowsUnderLimit(t *testing.T) {
	limiter, cleanup := setupLimiter(t, 3)
	defer cleanup()

	handler := RateLimitMiddleware(limiter, zap.NewNop(), IPKeyFunc)(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/contact", nil)
		req.RemoteAddr = "203.0.113.5:4242"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("request %d: status = %d, want 202", i, rec.Code)
		}
	}
}

func TestRateLimitMiddleware_RejectsOverLimit(t *testing.T) {
	limiter, cleanup := setupLimiter(t, 2)
	defer cleanup()

	handler := RateLimitMiddleware(limiter, zap.NewNop(), IPKeyFunc)(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/contact", nil)
		req.RemoteAddr = "203.0.113.5:4242"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}

	req := httptest.NewRequest(http.MethodPost, "/contact", nil)
	req.RemoteAddr = "203.0.113.5:4242"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 response should set Retry-After")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %s, want 0", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimitMiddleware_SeparateClients(t *testing.T) {
	limiter, cleanup := setupLimiter(t, 1)
	defer cleanup()

	handler := RateLimitMiddleware(limiter, zap.NewNop(), IPKeyFunc)(okHandler())

	first := httptest.NewRequest(http.MethodPost, "/contact", nil)
	first.RemoteAddr = "203.0.113.5:4242"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)

	second := httptest.NewRequest(http.MethodPost, "/contact", nil)
	second.RemoteAddr = "198.51.100.9:5353"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, second)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("other client should not be limited: status = %d", rec.Code)
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	handler := RateLimitMiddleware(nil, zap.NewNop(), IPKeyFunc)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/contact", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	client := redis.NewClientFromRDB(rdb, zap.NewNop())
	limiter := redis.NewRateLimiter(client, zap.NewNop(), redis.RateLimitConfig{Limit: 1, Window: time.Minute})

	// Redis goes away; the endpoint must keep serving.
	mr.Close()

	handler := RateLimitMiddleware(limiter, zap.NewNop(), IPKeyFunc)(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/contact", nil)
	req.RemoteAddr = "203.0.113.5:4242"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (fail open)", rec.Code)
	}
}
