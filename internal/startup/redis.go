package startup

import (
	"context"
	"time"

	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/storage"
	"github.com/localhub/internal/storage/memory"
	redisstorage "github.com/localhub/internal/storage/redis"
)

// ConnectStore подключает кеш диалогов и хранилище push-подписок.
// Пустой redisURL: всё в памяти процесса (только для одного инстанса).
func ConnectStore(ctx context.Context, redisURL string, maxWait time.Duration) (storage.Store, error) {
	if redisURL == "" {
		logger.Info("REDIS_URL not set, using in-memory cache")
		return memory.New(), nil
	}
	var client *redisstorage.Client
	err := retry(ctx, "redis connect", maxWait, 2*time.Second, func(ctx context.Context) error {
		connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		c, err := redisstorage.New(connCtx, redisURL)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
