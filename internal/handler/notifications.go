package handler

import (
	"net/http"

	"github.com/localhub/internal/model"
	"github.com/localhub/internal/service"
)

type NotificationHandler struct {
	notifier *service.Notifier
}

func NewNotificationHandler(n *service.Notifier) *NotificationHandler {
	return &NotificationHandler{notifier: n}
}

// List: GET /api/notifications?limit=&offset=, новые первыми.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	recipient, ok := actor(w, r)
	if !ok {
		return
	}
	list, err := h.notifier.List(r.Context(), recipient, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []model.Notification{}
	}
	writeJSON(w, http.StatusOK, list)
}

// UnreadCount: GET /api/notifications/unread-count.
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	recipient, ok := actor(w, r)
	if !ok {
		return
	}
	n, err := h.notifier.UnreadCount(r.Context(), recipient)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unread": n})
}

// MarkRead: POST /api/notifications/{notificationId}/read.
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	recipient, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "notificationId")
	if !ok {
		return
	}
	if err := h.notifier.MarkRead(r.Context(), recipient, id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead: POST /api/notifications/read-all.
func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	recipient, ok := actor(w, r)
	if !ok {
		return
	}
	n, err := h.notifier.MarkAllRead(r.Context(), recipient)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
}
