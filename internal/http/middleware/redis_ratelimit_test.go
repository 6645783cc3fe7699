package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// fakeScripter answers EvalSha with a scripted reply; the embedded nil
// interface makes any other call panic.
type fakeScripter struct {
	redis.Scripter
	reply func(keys []string, args []any) ([]any, error)
	keys  []string
	args  []any
}

func (f *fakeScripter) EvalSha(ctx context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	f.keys, f.args = keys, args
	cmd := redis.NewCmd(ctx)
	v, err := f.reply(keys, args)
	if err != nil {
		cmd.SetErr(err)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func redisRouter(rl *RedisRateLimiter, pre gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	if pre != nil {
		r.Use(pre)
	}
	r.Use(rl.Handler())
	r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestRedisRateLimiter_AllowThenDeny(t *testing.T) {
	remaining := 1
	fs := &fakeScripter{reply: func([]string, []any) ([]any, error) {
		if remaining > 0 {
			remaining--
			return []any{int64(1), int64(0)}, nil
		}
		return []any{int64(0), int64(2500)}, nil
	}}
	rl := NewRedisRateLimiter(fs, 0.5, 1, KeyByUserOrIP())
	rl.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	r := redisRouter(rl, func(c *gin.Context) { c.Set(UserIDKey, "u1"); c.Next() })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("first request: %d", w.Code)
	}
	if len(fs.keys) != 1 || fs.keys[0] != "journal:rl:user:u1" {
		t.Fatalf("unexpected keys: %v", fs.keys)
	}
	if len(fs.args) != 4 || fs.args[0] != int64(1_700_000_000_000) || fs.args[3] != 1 {
		t.Fatalf("unexpected args: %v", fs.args)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "3" {
		t.Fatalf("Retry-After = %q", got)
	}
}

func TestRedisRateLimiter_FailsOpen(t *testing.T) {
	fs := &fakeScripter{reply: func([]string, []any) ([]any, error) {
		return nil, errors.New("connection refused")
	}}
	r := redisRouter(NewRedisRateLimiter(fs, 1, 1, KeyByUserOrIP()), nil)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected fail-open 200, got %d", i, w.Code)
		}
	}
}

func TestRedisRateLimiter_BypassSkipsRedis(t *testing.T) {
	called := false
	fs := &fakeScripter{reply: func([]string, []any) ([]any, error) {
		called = true
		return []any{int64(0), int64(1000)}, nil
	}}
	r := redisRouter(NewRedisRateLimiter(fs, 1, 1, KeyByUserOrIP()),
		func(c *gin.Context) { c.Set(ctxKeyRateBypass, true); c.Next() })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusOK || called {
		t.Fatalf("bypass: code=%d called=%v", w.Code, called)
	}
}

func TestNewRedisRateLimiter_Coercion(t *testing.T) {
	rl := NewRedisRateLimiter(&fakeScripter{}, 0, 0, KeyByUserOrIP())
	if rl.rps != 1 || rl.burst != 1 {
		t.Fatalf("coercion failed: rps=%v burst=%d", rl.rps, rl.burst)
	}
}

func TestRedisRateLimiter_RouteCost(t *testing.T) {
	fs := &fakeScripter{reply: func([]string, []any) ([]any, error) {
		return []any{int64(1), int64(0)}, nil
	}}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewRedisRateLimiter(fs, 1, 3, KeyByUserOrIP(),
		WithCost(CostByRoute(map[string]int{"/chat": 5}))).Handler())
	r.POST("/chat", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/chat", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	// Costs above the burst are clamped so a full bucket can pay them.
	if fs.args[3] != 3 {
		t.Fatalf("cost arg = %v; want 3", fs.args[3])
	}
}
