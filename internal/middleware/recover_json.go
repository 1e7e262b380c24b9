package middleware

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"runtime/debug"

	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/observability"
)

// responseWriter запоминает статус ответа для логов, метрик и RecoverJSON.
type responseWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func wrap(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *responseWriter) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.status, w.wrote = code, true
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Hijack нужен для WebSocket upgrade за этой обёрткой.
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	w.status, w.wrote = http.StatusSwitchingProtocols, true
	return h.Hijack()
}

// Flush пробрасывается, чтобы сжатие и стриминг работали через обёртку.
func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RecoverJSON ловит панику обработчика: стек в лог, счётчик в метрики, клиенту JSON 500,
// если ответ ещё не начат. http.ErrAbortHandler пробрасывается дальше, это штатный обрыв.
func RecoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := wrap(w)
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			who := "anonymous"
			if ref, ok := Actor(r.Context()); ok {
				who = ref.Key()
			}
			logger.Errorf("panic recovered %s %s (%s): %v\n%s", r.Method, r.URL.Path, who, rec, debug.Stack())
			observability.HttpPanicsTotal.Inc()
			if rw.wrote {
				return
			}
			rw.Header().Set("Content-Type", "application/json; charset=utf-8")
			rw.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(rw.ResponseWriter).Encode(map[string]string{"error": "internal error", "code": "internal"})
		}()
		next.ServeHTTP(rw, r)
	})
}
