package events

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/claimswap/claimswap/pkg/utils"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Default stream configuration
const (
	DefaultStreamMaxLen = 10000
	DefaultStream       = "claimswap:events"
)

// RedisPublisher pushes lifecycle events onto a Redis stream and the
// matching pub/sub channel. All writes are best-effort: errors are logged
// and never returned so a Redis outage cannot affect settlement.
type RedisPublisher struct {
	client       *redis.Client
	logger       *zap.Logger
	stream       string
	streamMaxLen int64
}

// NewRedisPublisher connects using environment variables:
//   - REDIS_HOST: Redis host (default: "localhost")
//   - REDIS_PORT: Redis port (default: "6379")
//   - REDIS_PASSWORD: Redis password (default: "")
//   - REDIS_DB: Redis database number (default: "0")
//   - REDIS_STREAM: stream key (default: "claimswap:events")
//   - REDIS_STREAM_MAXLEN: max entries per stream (default: 10000, 0 = unlimited)
func NewRedisPublisher(ctx context.Context, logger *zap.Logger) (*RedisPublisher, error) {
	host := utils.Env("REDIS_HOST", "localhost")
	port := utils.Env("REDIS_PORT", "6379")
	password := utils.Env("REDIS_PASSWORD", "")
	db := utils.EnvInt("REDIS_DB", 0)
	stream := utils.Env("REDIS_STREAM", DefaultStream)
	streamMaxLen := utils.EnvInt64("REDIS_STREAM_MAXLEN", DefaultStreamMaxLen)

	addr := fmt.Sprintf("%s:%s", host, port)

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		// Connection pool
		PoolSize:     10,
		MinIdleConns: 2,

		// Timeouts
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Info("Connected to Redis",
		zap.String("addr", addr),
		zap.Int("db", db),
		zap.String("stream", stream),
		zap.Int64("streamMaxLen", streamMaxLen))

	return &RedisPublisher{
		client:       rdb,
		logger:       logger,
		stream:       stream,
		streamMaxLen: streamMaxLen,
	}, nil
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Health checks if Redis is healthy.
func (p *RedisPublisher) Health(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Publish appends the event to the stream (MAXLEN-capped) and publishes it
// on the per-type channel.
func (p *RedisPublisher) Publish(ctx context.Context, ev Event) {
	values := map[string]interface{}{
		"type":     ev.Type,
		"swapId":   strconv.FormatUint(ev.SwapID, 10),
		"reportId": strconv.FormatUint(ev.ReportID, 10),
		"at":       ev.At.UTC().Format(time.RFC3339Nano),
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}
	if p.streamMaxLen > 0 {
		args.MaxLen = p.streamMaxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		p.logger.Warn("Failed to append Redis stream entry",
			zap.String("stream", p.stream),
			zap.String("type", ev.Type),
			zap.Error(err))
	}
	if err := p.client.Publish(ctx, p.stream+":"+ev.Type, ev.Type).Err(); err != nil {
		p.logger.Warn("Failed to publish Redis message",
			zap.String("channel", p.stream+":"+ev.Type),
			zap.Error(err))
	}
}
