package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/localhub/internal/storage"
)

const (
	cardKeyPrefix   = "card:"
	pushKeyPrefix   = "push:subs:"
	maxSubsPerOwner = 10
	subscriptionTTL = 30 * 24 * time.Hour
)

type Client struct {
	cli *redis.Client
}

var _ storage.Store = (*Client)(nil)

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Cards читает карточки одной командой MGET.
func (c *Client) Cards(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = cardKeyPrefix + k
	}
	vals, err := c.cli.MGet(ctx, full...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

// SetCards пишет карточки одним pipeline, каждой со своим TTL.
func (c *Client) SetCards(ctx context.Context, cards map[string][]byte, ttl time.Duration) error {
	if len(cards) == 0 {
		return nil
	}
	pipe := c.cli.Pipeline()
	for k, v := range cards {
		pipe.Set(ctx, cardKeyPrefix+k, v, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// AddPushSubscription добавляет подписку (повтор с тем же endpoint заменяет старую); хранится не больше 10 на владельца.
func (c *Client) AddPushSubscription(ctx context.Context, owner string, sub storage.PushSubscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("subscription encode: %w", err)
	}
	if err := c.RemovePushSubscription(ctx, owner, sub.Endpoint); err != nil {
		return err
	}
	key := pushKeyPrefix + owner
	pipe := c.cli.Pipeline()
	pipe.RPush(ctx, key, string(raw))
	pipe.LTrim(ctx, key, -maxSubsPerOwner, -1)
	pipe.Expire(ctx, key, subscriptionTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (c *Client) PushSubscriptions(ctx context.Context, owner string) ([]storage.PushSubscription, error) {
	list, err := c.cli.LRange(ctx, pushKeyPrefix+owner, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	subs := make([]storage.PushSubscription, 0, len(list))
	for _, item := range list {
		var sub storage.PushSubscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != "" {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

// RemovePushSubscription удаляет подписку по endpoint.
func (c *Client) RemovePushSubscription(ctx context.Context, owner, endpoint string) error {
	key := pushKeyPrefix + owner
	list, err := c.cli.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}
	for _, item := range list {
		var sub storage.PushSubscription
		if json.Unmarshal([]byte(item), &sub) != nil || sub.Endpoint == endpoint {
			if err := c.cli.LRem(ctx, key, 0, item).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}
