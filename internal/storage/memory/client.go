package memory

import (
	"context"
	"sync"
	"time"

	"github.com/localhub/internal/storage"
)

const maxSubsPerOwner = 10

type item struct {
	val []byte
	exp time.Time
}

// Client хранит кеш карточек и подписки в памяти процесса (режим -dev и тесты).
type Client struct {
	mu    sync.RWMutex
	cards map[string]item
	subs  map[string][]storage.PushSubscription
}

var _ storage.Store = (*Client)(nil)

func New() *Client {
	return &Client{
		cards: make(map[string]item),
		subs:  make(map[string][]storage.PushSubscription),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) Cards(ctx context.Context, keys []string) (map[string][]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := c.cards[k]; ok && now.Before(v.exp) {
			out[k] = v.val
		}
	}
	return out, nil
}

func (c *Client) SetCards(ctx context.Context, cards map[string][]byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp := time.Now().Add(ttl)
	for k, v := range cards {
		c.cards[k] = item{val: v, exp: exp}
	}
	return nil
}

func (c *Client) AddPushSubscription(ctx context.Context, owner string, sub storage.PushSubscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := removeEndpoint(c.subs[owner], sub.Endpoint)
	kept = append(kept, sub)
	if len(kept) > maxSubsPerOwner {
		kept = kept[len(kept)-maxSubsPerOwner:]
	}
	c.subs[owner] = kept
	return nil
}

func (c *Client) PushSubscriptions(ctx context.Context, owner string) ([]storage.PushSubscription, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]storage.PushSubscription(nil), c.subs[owner]...), nil
}

func (c *Client) RemovePushSubscription(ctx context.Context, owner, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := removeEndpoint(c.subs[owner], endpoint)
	if len(kept) == 0 {
		delete(c.subs, owner)
		return nil
	}
	c.subs[owner] = kept
	return nil
}

func removeEndpoint(subs []storage.PushSubscription, endpoint string) []storage.PushSubscription {
	kept := make([]storage.PushSubscription, 0, len(subs))
	for _, s := range subs {
		if s.Endpoint != endpoint {
			kept = append(kept, s)
		}
	}
	return kept
}
