package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relves/vaultgate/pkg/types"
)

const (
	DefaultRedisPrefix = "vaultgate:events:"
	DefaultRedisMaxLen = 10000
)

// RedisConfig configures a RedisSink.
type RedisConfig struct {
	// Prefix is prepended to the resource id to name its stream.
	Prefix string
	// MaxLen caps each stream, approximately. Older entries are trimmed.
	MaxLen int64
	Logger *slog.Logger
}

// RedisSink appends every event to a Redis stream per resource, so other
// services can follow a resource with XREAD.
type RedisSink struct {
	client redis.Cmdable
	prefix string
	maxLen int64
	logger *slog.Logger
}

// DialRedis connects to addr and checks the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return client, nil
}

// NewRedisSink creates a sink writing through client.
func NewRedisSink(client redis.Cmdable, cfg RedisConfig) *RedisSink {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultRedisPrefix
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = DefaultRedisMaxLen
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RedisSink{client: client, prefix: cfg.Prefix, maxLen: cfg.MaxLen, logger: cfg.Logger}
}

// Stream returns the stream key of resource id.
func (s *RedisSink) Stream(id types.ResourceID) string {
	return s.prefix + string(id)
}

func (s *RedisSink) Emit(ctx context.Context, e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		s.logger.Warn("event dropped: encode", "resource", e.Resource, "type", e.Type, "error", err)
		return
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.Stream(e.Resource),
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":  string(e.Type),
			"event": string(body),
		},
	}).Err()
	if err != nil {
		s.logger.Warn("event dropped: redis", "resource", e.Resource, "type", e.Type, "error", err)
	}
}

var _ Sink = (*RedisSink)(nil)
