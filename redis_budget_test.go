package goBFF

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// cmdCounter is a go-redis Hook that counts Redis commands.
type cmdCounter struct {
	commands atomic.Int64
}

func (h *cmdCounter) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *cmdCounter) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.commands.Add(1)
		return next(ctx, cmd)
	}
}

func (h *cmdCounter) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.commands.Add(int64(len(cmds)))
		return next(ctx, cmds)
	}
}

func (h *cmdCounter) measure(t *testing.T, name string, budget int64, fn func()) {
	t.Helper()
	h.commands.Store(0)
	fn()
	if got := h.commands.Load(); got != budget {
		t.Fatalf("%s: %d Redis commands, budget %d", name, got, budget)
	}
}

func TestRedisCommandBudgets(t *testing.T) {
	et := newTestEngine(t, nil)
	ctx := context.Background()

	// Warm the connection so handshake commands are not counted.
	if err := et.rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("warmup ping: %v", err)
	}
	counter := &cmdCounter{}
	et.rdb.AddHook(counter)

	var sid string
	counter.measure(t, "Login", 2, func() {
		var err error
		sid, err = et.engine.Login(ctx, TokenSet{AccessToken: "at"})
		if err != nil {
			t.Fatalf("Login: %v", err)
		}
	})
	counter.measure(t, "Session", 1, func() {
		if _, ok, err := et.engine.Session(ctx, sid); !ok || err != nil {
			t.Fatalf("Session: ok=%v err=%v", ok, err)
		}
	})
	counter.measure(t, "Touch throttled", 1, func() {
		if out, err := et.engine.Touch(ctx, sid, 0); err != nil || out.Touched {
			t.Fatalf("Touch: %+v err=%v", out, err)
		}
	})
	et.clock.Advance(2 * time.Minute)
	counter.measure(t, "Touch", 2, func() {
		if out, err := et.engine.Touch(ctx, sid, 0); err != nil || !out.Touched {
			t.Fatalf("Touch: %+v err=%v", out, err)
		}
	})
	counter.measure(t, "Session invalid id", 0, func() {
		if _, ok, err := et.engine.Session(ctx, "../../etc"); ok || err != nil {
			t.Fatalf("Session: ok=%v err=%v", ok, err)
		}
	})

	// The first script call may load the script; budgets apply once cached.
	if _, err := et.engine.Allow(ctx, ScopeTouch, "warm"); err != nil {
		t.Fatalf("Allow warmup: %v", err)
	}
	counter.measure(t, "Allow", 1, func() {
		if _, err := et.engine.Allow(ctx, ScopeTouch, "203.0.113.9"); err != nil {
			t.Fatalf("Allow: %v", err)
		}
	})
	counter.measure(t, "Logout", 1, func() {
		if err := et.engine.Logout(ctx, sid); err != nil {
			t.Fatalf("Logout: %v", err)
		}
	})
}
