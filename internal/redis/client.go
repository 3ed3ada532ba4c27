// Package redis caches the latest spot for every DX call.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saviobatista/dxcluster-proxy/internal/types"
)

// SinkName identifies this sink in logs and metrics
const SinkName = "redis"

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Close() error
}

// Client manages Redis connections and operations
type Client struct {
	client RedisClientInterface
	ttl    time.Duration
}

// New creates a new Redis client. Cached spots expire after ttl.
func New(addr string, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: "", // no password set
		DB:       0,  // use default DB
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client, ttl: ttl}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface, ttl time.Duration) *Client {
	return &Client{client: client, ttl: ttl}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Name returns the sink name
func (c *Client) Name() string {
	return SinkName
}

// SpotKey returns the cache key for a DX call
func SpotKey(dxCall string) string {
	return "spot:" + strings.ToUpper(dxCall)
}

// PublishSpot stores the spot as the latest one for its DX call
func (c *Client) PublishSpot(ctx context.Context, spot types.Spot) error {
	data, err := json.Marshal(spot)
	if err != nil {
		return fmt.Errorf("failed to marshal spot: %w", err)
	}

	if err := c.client.Set(ctx, SpotKey(spot.DXCall), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store spot: %w", err)
	}
	return nil
}

// GetSpot returns the latest cached spot for a DX call, or nil when none is cached
func (c *Client) GetSpot(ctx context.Context, dxCall string) (*types.Spot, error) {
	data, err := c.client.Get(ctx, SpotKey(dxCall)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get spot: %w", err)
	}

	var spot types.Spot
	if err := json.Unmarshal(data, &spot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal spot: %w", err)
	}
	return &spot, nil
}
