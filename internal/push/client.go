package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/storage"
)

const (
	sendTimeout = 10 * time.Second
	messageTTL  = 3600
)

// Message: содержимое пуша, как его видит service worker.
type Message struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Sender отправляет Web Push по подпискам из storage.Store. Без VAPID-ключей методы no-op.
type Sender struct {
	store storage.Store
	opts  *webpush.Options
}

// NewSender создаёт отправителя. Пустые ключи: пуши отключены.
func NewSender(store storage.Store, publicKey, privateKey, subscriber string) *Sender {
	s := &Sender{store: store}
	if publicKey != "" && privateKey != "" {
		s.opts = &webpush.Options{
			Subscriber:      subscriber,
			VAPIDPublicKey:  publicKey,
			VAPIDPrivateKey: privateKey,
			TTL:             messageTTL,
		}
	}
	return s
}

func (s *Sender) Enabled() bool { return s != nil && s.opts != nil }

// PublicKey возвращает VAPID public key для клиента (pushManager.subscribe).
func (s *Sender) PublicKey() string {
	if !s.Enabled() {
		return ""
	}
	return s.opts.VAPIDPublicKey
}

func (s *Sender) Subscribe(ctx context.Context, owner string, sub storage.PushSubscription) error {
	return s.store.AddPushSubscription(ctx, owner, sub)
}

func (s *Sender) Unsubscribe(ctx context.Context, owner, endpoint string) error {
	return s.store.RemovePushSubscription(ctx, owner, endpoint)
}

// Notify отправляет пуш на все подписки владельца и возвращает число принятых доставок.
// Ошибки не возвращаются: доставка best-effort. Подписки, на которые сервис ответил 404/410, удаляются.
func (s *Sender) Notify(ctx context.Context, owner string, msg Message) int {
	if !s.Enabled() {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	subs, err := s.store.PushSubscriptions(ctx, owner)
	if err != nil {
		logger.Debugf("push: подписки %s: %v", owner, err)
		return 0
	}
	if len(subs) == 0 {
		return 0
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("push: encode payload: %v", err)
		return 0
	}
	delivered := 0
	for i := range subs {
		sub := &subs[i]
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, s.opts)
		if err != nil {
			logger.Debugf("push: send %s: %v", shortEndpoint(sub.Endpoint), err)
			continue
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
			if err := s.store.RemovePushSubscription(ctx, owner, sub.Endpoint); err != nil {
				logger.Debugf("push: remove stale %s: %v", shortEndpoint(sub.Endpoint), err)
			}
		case resp.StatusCode < 300:
			delivered++
		default:
			logger.Debugf("push: %s ответил %d", shortEndpoint(sub.Endpoint), resp.StatusCode)
		}
	}
	return delivered
}

func shortEndpoint(e string) string {
	if len(e) > 50 {
		return e[:50]
	}
	return e
}
