package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/terra-clan/tanda-engine/internal/models"
)

// RedisConfig holds the Redis Pub/Sub connection settings
type RedisConfig struct {
	Address       string
	Password      string
	DB            int
	ChannelPrefix string
}

// RedisNotifier fans tanda changes out over Redis Pub/Sub so every engine
// replica can react to writes made by any other.
type RedisNotifier struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisNotifier connects to Redis and verifies the connection
func NewRedisNotifier(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisNotifier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = "tanda-engine"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RedisNotifier{client: client, prefix: prefix, logger: logger}, nil
}

func (n *RedisNotifier) channel(key models.TandaKey) string {
	return n.prefix + ":tanda:" + key.String()
}

// Publish sends a change signal for key
func (n *RedisNotifier) Publish(ctx context.Context, key models.TandaKey) error {
	if err := n.client.Publish(ctx, n.channel(key), "changed").Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", n.channel(key), err)
	}
	return nil
}

// Subscribe opens a dedicated Pub/Sub connection for key. The subscription
// is confirmed before Subscribe returns.
func (n *RedisNotifier) Subscribe(ctx context.Context, key models.TandaKey, onChange func()) (func(), error) {
	ch := n.channel(key)
	ps := n.client.Subscribe(ctx, ch)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", ch, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer func() {
			if err := ps.Close(); err != nil {
				n.logger.Debug("pubsub close failed", "channel", ch, "error", err)
			}
		}()

		msgs := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				onChange()
			}
		}
	}()

	return cancel, nil
}

func (n *RedisNotifier) HealthCheck(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
