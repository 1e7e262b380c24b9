package storage

import (
	"context"
	"time"
)

// PushSubscription: подписка браузера на Web Push.
type PushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// Valid сообщает, заполнены ли все поля подписки.
func (s PushSubscription) Valid() bool {
	return s.Endpoint != "" && s.Keys.P256dh != "" && s.Keys.Auth != ""
}

// Store: кеш карточек (профили участников, товары) для списков диалогов и подписки Web Push.
// Сами списки и счётчики непрочитанного не кешируются.
// Реализации: redis.Client, memory.Client (для -dev без Redis).
// owner: ParticipantRef.Key() владельца.
type Store interface {
	// Cards возвращает найденные карточки по ключам; промахи в ответ не попадают.
	Cards(ctx context.Context, keys []string) (map[string][]byte, error)
	SetCards(ctx context.Context, cards map[string][]byte, ttl time.Duration) error

	AddPushSubscription(ctx context.Context, owner string, sub PushSubscription) error
	PushSubscriptions(ctx context.Context, owner string) ([]PushSubscription, error)
	RemovePushSubscription(ctx context.Context, owner, endpoint string) error

	Close() error
}
