package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/middleware"
	"github.com/localhub/internal/model"
	"github.com/localhub/internal/service"
)

// maxBodyBytes ограничивает JSON-тела команд (медиа загружаются отдельно).
const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("writeJSON encode: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError переводит ошибку сервиса в HTTP-статус. Внутренние ошибки наружу не уходят.
func writeServiceError(w http.ResponseWriter, err error) {
	code := service.Code(err)
	status := http.StatusInternalServerError
	switch code {
	case "invalid_argument":
		status = http.StatusBadRequest
	case "unauthorized":
		status = http.StatusForbidden
	case "not_found":
		status = http.StatusNotFound
	}
	writeJSON(w, status, errorResponse{Error: service.PublicMessage(err), Code: code})
}

// actor возвращает участника запроса; при его отсутствии отвечает 401.
func actor(w http.ResponseWriter, r *http.Request) (model.ParticipantRef, bool) {
	ref, ok := middleware.Actor(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return model.ParticipantRef{}, false
	}
	return ref, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return false
		}
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "empty body")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid body")
		return false
	}
	return true
}

// pathID разбирает положительный int64 из параметра маршрута.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
