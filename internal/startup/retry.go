// Package startup подключает внешние зависимости процесса с повторами.
package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/localhub/internal/logger"
)

const maxBackoff = 30 * time.Second

// retry вызывает fn, пока она не вернёт nil, удваивая паузу (с initial до maxBackoff).
// После maxWait возвращает последнюю ошибку. Недоступность зависимости при старте не роняет процесс сразу.
func retry(ctx context.Context, what string, maxWait, initial time.Duration, fn func(context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	backoff := initial
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s (gave up after %v): %w", what, maxWait, err)
		}
		logger.Errorf("%s failed, retry in %v: %v", what, backoff, err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
