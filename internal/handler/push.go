package handler

import (
	"net/http"

	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/push"
	"github.com/localhub/internal/storage"
)

// PushHandler обрабатывает подписку на пуш-уведомления (участник обязателен).
type PushHandler struct {
	sender *push.Sender
}

// NewPushHandler создаёт обработчик push.
func NewPushHandler(sender *push.Sender) *PushHandler {
	return &PushHandler{sender: sender}
}

// PublicKey: GET /api/push/vapid-public-key. Пустой ключ означает, что пуши выключены.
func (h *PushHandler) PublicKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":    h.sender.Enabled(),
		"public_key": h.sender.PublicKey(),
	})
}

// SubscribeRequest: тело от фронта (subscription из PushManager.getSubscription()).
type SubscribeRequest struct {
	Subscription storage.PushSubscription `json:"subscription"`
}

// Subscribe сохраняет подписку текущего участника.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	owner, ok := actor(w, r)
	if !ok {
		return
	}
	var req SubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.Subscription.Valid() {
		writeError(w, http.StatusBadRequest, "subscription.endpoint and subscription.keys required")
		return
	}
	if err := h.sender.Subscribe(r.Context(), owner.Key(), req.Subscription); err != nil {
		logger.Errorf("push subscribe %s: %v", owner, err)
		writeError(w, http.StatusInternalServerError, "failed to subscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnsubscribeRequest: тело для отписки по endpoint.
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// Unsubscribe удаляет подписку.
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	owner, ok := actor(w, r)
	if !ok {
		return
	}
	var req UnsubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.sender.Unsubscribe(r.Context(), owner.Key(), req.Endpoint); err != nil {
		logger.Errorf("push unsubscribe %s: %v", owner, err)
		writeError(w, http.StatusInternalServerError, "failed to unsubscribe")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
