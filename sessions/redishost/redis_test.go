package redishost

import (
	"errors"
	"testing"

	"github.com/ggoodman/mcp-obsidian-go/sessions"
	"github.com/ggoodman/mcp-obsidian-go/sessions/sessionhosttest"
	"github.com/joeshaw/envdecode"
)

func TestRedisSessionHost(t *testing.T) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		t.Fatalf("decode config: %v", err)
	}
	cfg.MaxLen = sessionhosttest.MaxPending

	// Quick availability check to allow graceful skip in environments without Redis
	h, err := New(cfg)
	if err != nil {
		t.Skipf("skipping redis session host tests: %v", err)
		return
	}
	_ = h.Close()

	sessionhosttest.RunHostTests(t, func(t *testing.T) sessions.Host {
		hh, err := New(cfg)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		t.Cleanup(func() { _ = hh.Close() })
		return hh
	})
}
