package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publish sends payload on a pub/sub channel and returns the number of receivers
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	n, err := c.rdb.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return n, nil
}

// PSubscribe subscribes to every channel matching pattern. The caller closes the subscription.
func (c *Client) PSubscribe(ctx context.Context, pattern string) (*redis.PubSub, error) {
	sub := c.rdb.PSubscribe(ctx, pattern)
	// wait for the subscription confirmation so no message published afterwards is missed
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", pattern, err)
	}
	return sub, nil
}
