// Package redisclient wraps go-redis for the two things this engine
// asks of Redis: backing the Config Cache's Loader with a shared
// settings blob (so every process instance sees the same
// runtime-tunable knobs within one TTL window) and providing a
// distributed-lock primitive for deployments running more than one
// engine process, where lockmanager's in-process mutex alone would no
// longer close the admission TOCTOU race across processes.
package redisclient

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nellylemmy/talktime-meeting-engine/config"
	"github.com/nellylemmy/talktime-meeting-engine/configcache"
)

const settingsKey = "meeting_engine:config_cache:settings"

// Client wraps a go-redis client with the engine's narrow usage.
type Client struct {
	c *redis.Client
}

// New creates a Redis client from the process configuration. Returns
// an error if the Redis URL cannot be parsed.
func New(cfg *config.Config) (*Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return &Client{c: redis.NewClient(opt)}, nil
}

// Ping verifies connectivity.
func (r *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.c.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (r *Client) Close() error {
	return r.c.Close()
}

// ConfigLoader returns a configcache.Loader backed by this client —
// wired as the Config Cache's Loader in main.go so a cold cache still
// works (configcache.Defaults()) but a warm Redis gives every process
// the same knobs.
func (r *Client) ConfigLoader() configcache.Loader {
	return func(ctx context.Context) (configcache.Settings, error) {
		raw, err := r.c.Get(ctx, settingsKey).Result()
		if err == redis.Nil {
			return configcache.Defaults(), nil
		}
		if err != nil {
			return configcache.Settings{}, fmt.Errorf("fetch config cache settings: %w", err)
		}
		var s configcache.Settings
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return configcache.Settings{}, fmt.Errorf("decode config cache settings: %w", err)
		}
		return s, nil
	}
}

// SaveSettings writes settings for every process's ConfigLoader to
// pick up, called by the admin endpoint that edits runtime knobs.
func (r *Client) SaveSettings(ctx context.Context, s configcache.Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode config cache settings: %w", err)
	}
	return r.c.Set(ctx, settingsKey, raw, 0).Err()
}

// TryLock attempts a cross-process advisory lock on key, mirroring
// lockmanager's in-process API so the two can be swapped depending on
// deployment topology. It returns a token that must be passed to
// Unlock, and ok=false if the lock is already held.
func (r *Client) TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error) {
	tok, err := randomToken()
	if err != nil {
		return "", false, err
	}
	set, err := r.c.SetNX(ctx, "meeting_engine:lock:"+key, tok, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire distributed lock: %w", err)
	}
	return tok, set, nil
}

// Unlock releases a lock previously acquired with TryLock, only if
// token still matches (so an expired-then-reacquired lock held by
// another process is never released out from under it).
func (r *Client) Unlock(ctx context.Context, key, token string) error {
	const script = `
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`
	return r.c.Eval(ctx, script, []string{"meeting_engine:lock:" + key}, token).Err()
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
