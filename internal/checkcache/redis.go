package checkcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis shares entries between hosts. Values are "status@unixSeconds" and
// expire with the TTL.
type Redis struct {
	client *redis.Client
	prefix string
	opts   Options
}

// NewRedis returns a cache namespaced under filesweep:<env>:.
func NewRedis(client *redis.Client, opts Options) *Redis {
	return &Redis{client: client, prefix: "filesweep:" + opts.Environment + ":", opts: opts}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int, opts Options) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewRedis(client, opts), nil
}

func (c *Redis) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("check cache lookup %q: %w", key, err)
	}
	status, unix, ok := strings.Cut(raw, "@")
	seconds, perr := strconv.ParseInt(unix, 10, 64)
	if !ok || perr != nil {
		// Unreadable entries count as absent; the key is simply re-verified.
		return Entry{}, false, nil
	}
	return Entry{Key: key, Status: Status(status), VerifiedAt: time.Unix(seconds, 0)}, true, nil
}

func (c *Redis) ShouldSkip(ctx context.Context, key string) (bool, error) {
	entry, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return skippable(entry, c.opts.now(), c.opts.TTL), nil
}

func (c *Redis) Record(ctx context.Context, status Status, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	value := fmt.Sprintf("%s@%d", status, c.opts.now().Unix())
	pipe := c.client.Pipeline()
	for _, key := range keys {
		pipe.Set(ctx, c.prefix+key, value, c.opts.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("check cache record: %w", err)
	}
	return nil
}

func (c *Redis) Close() error { return c.client.Close() }
