package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	*redis.Client
}

func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{client}, nil
}

// Ping reports whether the server answers, for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.Client.Close()
}

// EventChannel is the pub/sub channel carrying session events for a topic.
func EventChannel(topic string) string {
	return fmt.Sprintf("relay:events:%s", topic)
}

// RateLimitKey is the sorted-set key holding request timestamps for an IP.
func RateLimitKey(ip string) string {
	return fmt.Sprintf("relay:ratelimit:%s", ip)
}
