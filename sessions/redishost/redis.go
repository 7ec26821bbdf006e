package redishost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/mcp-obsidian-go/sessions"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis-backed Host. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379" yaml:"addr"`
	// KeyPrefix for all keys. ENV: SESSIONS_KEY_PREFIX
	KeyPrefix string `env:"SESSIONS_KEY_PREFIX,default=mcp:sessions:" yaml:"key_prefix"`
	// MaxLen bounds the undelivered messages of each inbox stream. ENV: SESSIONS_MAX_LEN
	MaxLen int64 `env:"SESSIONS_MAX_LEN,default=1024" yaml:"max_len"`
}

// publishScript appends to the stream only while the live marker exists and
// the stream holds fewer than ARGV[2] entries. It returns 0 for a dead
// session, 1 for a full inbox, or the new entry id.
var publishScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
if redis.call('XLEN', KEYS[2]) >= tonumber(ARGV[2]) then return 1 end
return redis.call('XADD', KEYS[2], '*', 'd', ARGV[1])
`)

// pollInterval bounds how long one XREAD blocks before the subscriber
// re-checks liveness.
const pollInterval = 500 * time.Millisecond

// Host stores session inboxes in Redis Streams. A live marker key records
// which ids are open so any replica can reject posts to dead sessions.
type Host struct {
	client    *redis.Client
	keyPrefix string
	maxLen    int64
}

func New(cfg Config) (*Host, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "mcp:sessions:"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 1024
	}
	return &Host{client: cl, keyPrefix: prefix, maxLen: maxLen}, nil
}

// NewFromEnv builds a Host using envdecode to populate Config.
func NewFromEnv() (*Host, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis config: %w", err)
	}
	return New(cfg)
}

// Close closes the Redis client.
func (h *Host) Close() error { return h.client.Close() }

func (h *Host) streamKey(sessionID string) string { return h.keyPrefix + "stream:" + sessionID }
func (h *Host) liveKey(sessionID string) string   { return h.keyPrefix + "live:" + sessionID }

func (h *Host) OpenSession(ctx context.Context, sessionID string) error {
	ok, err := h.client.SetNX(ctx, h.liveKey(sessionID), time.Now().UTC().Format(time.RFC3339), 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %s already open", sessionID)
	}
	return nil
}

func (h *Host) isLive(ctx context.Context, sessionID string) (bool, error) {
	n, err := h.client.Exists(ctx, h.liveKey(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (h *Host) PublishSession(ctx context.Context, sessionID string, data []byte) (string, error) {
	res, err := publishScript.Run(ctx, h.client, []string{h.liveKey(sessionID), h.streamKey(sessionID)}, data, h.maxLen).Result()
	if err != nil {
		return "", fmt.Errorf("redis publish: %w", err)
	}
	switch v := res.(type) {
	case string:
		return v, nil
	case int64:
		if v == 1 {
			return "", sessions.ErrInboxFull
		}
		return "", sessions.ErrSessionNotFound
	default:
		return "", fmt.Errorf("redis publish: unexpected reply %T", res)
	}
}

func (h *Host) SubscribeSession(ctx context.Context, sessionID string, handler sessions.MessageHandlerFunction) error {
	live, err := h.isLive(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("redis exists: %w", err)
	}
	if !live {
		return sessions.ErrSessionNotFound
	}

	key := h.streamKey(sessionID)
	start := "0"

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := h.client.XRead(ctx, &redis.XReadArgs{Streams: []string{key, start}, Count: 16, Block: pollInterval}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				live, lerr := h.isLive(ctx, sessionID)
				if lerr != nil {
					return lerr
				}
				if !live {
					return nil
				}
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		for _, stream := range res {
			for _, m := range stream.Messages {
				start = m.ID
				var payload []byte
				switch v := m.Values["d"].(type) {
				case string:
					payload = []byte(v)
				case []byte:
					payload = v
				default:
					payload = []byte(fmt.Sprintf("%v", v))
				}
				if err := handler(ctx, m.ID, payload); err != nil {
					return err
				}
				// Consumed entries leave the stream so they stop counting
				// against MaxLen.
				if err := h.client.XDel(context.WithoutCancel(ctx), key, m.ID).Err(); err != nil {
					return fmt.Errorf("redis xdel: %w", err)
				}
			}
		}
	}
}

func (h *Host) CleanupSession(ctx context.Context, sessionID string) error {
	c := context.WithoutCancel(ctx)
	if err := h.client.Del(c, h.liveKey(sessionID), h.streamKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

var _ sessions.Host = (*Host)(nil)
