package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/model"
)

// AuthServiceValidate вызывает сервис авторизации для проверки сессии (X-Session-Id, X-Timestamp, X-Signature).
// Сервис отвечает участником {"kind":"user"|"business","id":N}; он и становится вызывающим.
func AuthServiceValidate(authServiceURL string, client *http.Client) func(http.Handler) http.Handler {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	authServiceURL = strings.TrimSuffix(authServiceURL, "/")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := headerOrQuery(r, "X-Session-Id", "session_id")
			timestamp := headerOrQuery(r, "X-Timestamp", "timestamp")
			signature := headerOrQuery(r, "X-Signature", "signature")
			if sessionID == "" || timestamp == "" || signature == "" {
				writeUnauthorized(w)
				return
			}
			var body []byte
			if r.Body != nil {
				var err error
				body, err = io.ReadAll(r.Body)
				if err != nil {
					http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}
			bodyForSignature := string(body)
			// Клиент подписывает multipart-запросы (загрузка медиа) с пустым телом.
			if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
				bodyForSignature = ""
			}
			jsonBody, _ := json.Marshal(map[string]string{
				"session_id": sessionID,
				"timestamp":  timestamp,
				"signature":  signature,
				"method":     r.Method,
				"path":       r.URL.Path,
				"body":       bodyForSignature,
			})
			req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, authServiceURL+"/internal/validate", bytes.NewReader(jsonBody))
			if err != nil {
				http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
				return
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := client.Do(req)
			if err != nil {
				logger.Errorf("auth validate session=%s: %v", maskSessionID(sessionID), err)
				writeUnauthorized(w)
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				writeUnauthorized(w)
				return
			}
			var actor model.ParticipantRef
			if err := json.NewDecoder(resp.Body).Decode(&actor); err != nil || !actor.Valid() {
				logger.Debugf("auth validate session=%s: bad participant in response", maskSessionID(sessionID))
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// TrustedActorHeaders берёт участника из X-Actor-Kind / X-Actor-Id (или actor_kind / actor_id в query для
// WebSocket). Только для -dev и для работы за шлюзом, который сам проверил сессию.
func TrustedActorHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kind := headerOrQuery(r, "X-Actor-Kind", "actor_kind")
		id, err := strconv.ParseInt(headerOrQuery(r, "X-Actor-Id", "actor_id"), 10, 64)
		actor := model.ParticipantRef{ID: id, Kind: model.ParticipantKind(kind)}
		if err != nil || !actor.Valid() {
			writeUnauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func headerOrQuery(r *http.Request, header, param string) string {
	if v := r.Header.Get(header); v != "" {
		return v
	}
	return r.URL.Query().Get(param)
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","code":"unauthorized"}`))
}

// maskSessionID маскирует session_id в логах (в prod не светить полный id).
func maskSessionID(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}
