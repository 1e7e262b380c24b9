// Package logger предоставляет логирование с префиксом сервиса и асинхронной записью,
// чтобы не блокировать основное приложение. Поддерживается логирование времени выполнения функций.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

const (
	asyncBufferSize = 8192
	slowCall        = 100 * time.Millisecond
)

var (
	prefix  string
	mu      sync.RWMutex
	base    zerolog.Logger
	once    sync.Once
	dropped atomic.Int64
)

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func initWorker() {
	// diode не блокирует писателя: при переполнении буфера строки теряются и учитываются в dropped.
	w := diode.NewWriter(os.Stderr, asyncBufferSize, 10*time.Millisecond, func(missed int) {
		dropped.Add(int64(missed))
	})
	mu.Lock()
	base = zerolog.New(w).Level(parseLevel(os.Getenv("LOG_LEVEL"))).With().Timestamp().Logger()
	mu.Unlock()
}

func current() zerolog.Logger {
	once.Do(initWorker)
	mu.RLock()
	defer mu.RUnlock()
	l := base
	if prefix != "" {
		l = l.With().Str("service", prefix).Logger()
	}
	return l
}

// SetPrefix задаёт префикс для всех последующих логов (например "api").
func SetPrefix(p string) {
	mu.Lock()
	prefix = p
	mu.Unlock()
}

// SetLevel меняет уровень логирования (значение из конфига имеет приоритет над LOG_LEVEL).
func SetLevel(level string) {
	once.Do(initWorker)
	mu.Lock()
	base = base.Level(parseLevel(level))
	mu.Unlock()
}

// SetOutput направляет логи в w синхронно (используется в тестах).
func SetOutput(w io.Writer) {
	once.Do(func() {})
	mu.Lock()
	base = zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()
	mu.Unlock()
}

// Dropped возвращает число строк, потерянных из-за переполнения буфера.
func Dropped() int64 { return dropped.Load() }

// Info пишет в log с префиксом (асинхронно).
func Info(v ...any) {
	l := current()
	l.Info().Msg(fmt.Sprint(v...))
}

// Infof форматирует и пишет с префиксом (асинхронно).
func Infof(format string, v ...any) {
	l := current()
	l.Info().Msgf(format, v...)
}

// Debugf пишет только при LOG_LEVEL=debug.
func Debugf(format string, v ...any) {
	l := current()
	l.Debug().Msgf(format, v...)
}

// Warnf пишет предупреждение.
func Warnf(format string, v ...any) {
	l := current()
	l.Warn().Msgf(format, v...)
}

// Error пишет ошибку с префиксом (асинхронно).
func Error(v ...any) {
	l := current()
	l.Error().Msg(fmt.Sprint(v...))
}

// Errorf форматирует ошибку с префиксом (асинхронно).
func Errorf(format string, v ...any) {
	l := current()
	l.Error().Msgf(format, v...)
}

// LogDuration логирует имя функции и время выполнения в миллисекундах (асинхронно).
// При LOG_LEVEL=info логирует только вызовы дольше 100ms; при LOG_LEVEL=debug: все.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	l := current()
	if l.GetLevel() <= zerolog.DebugLevel || elapsed >= slowCall {
		l.WithLevel(zerolog.InfoLevel).Str("fn", fn).Int64("duration_ms", elapsed.Milliseconds()).Send()
	}
}

// DeferLogDuration возвращает функцию для вызова в defer: defer logger.DeferLogDuration("HandlerName", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
