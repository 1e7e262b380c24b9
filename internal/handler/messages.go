package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/localhub/internal/model"
	"github.com/localhub/internal/service"
)

type MessageHandler struct {
	svc *service.Messaging
}

func NewMessageHandler(svc *service.Messaging) *MessageHandler {
	return &MessageHandler{svc: svc}
}

type sendMessageRequest struct {
	Recipient model.ParticipantRef `json:"recipient"`
	Text      string               `json:"text"`
	ReplyToID *int64               `json:"reply_to_id,omitempty"`
	ProductID *int64               `json:"product_id,omitempty"`
	Media     []model.MediaRef     `json:"media,omitempty"`
}

// Send: POST /api/messages. Ответ содержит сохранённое сообщение с id медиа.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	sender, ok := actor(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := h.svc.Send(r.Context(), service.SendInput{
		Sender:    sender,
		Recipient: req.Recipient,
		Text:      req.Text,
		ReplyToID: req.ReplyToID,
		ProductID: req.ProductID,
		Media:     req.Media,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type editMessageRequest struct {
	Text        string           `json:"text"`
	RemoveMedia []int64          `json:"remove_media,omitempty"`
	AddMedia    []model.MediaRef `json:"add_media,omitempty"`
}

// Edit: PATCH /api/messages/{messageId}. Редактировать может только отправитель.
func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	editor, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "messageId")
	if !ok {
		return
	}
	var req editMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	msg, err := h.svc.Edit(r.Context(), service.EditInput{
		Editor:      editor,
		MessageID:   id,
		Text:        req.Text,
		RemoveMedia: req.RemoveMedia,
		AddMedia:    req.AddMedia,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// Delete: DELETE /api/messages/{messageId}.
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	requester, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "messageId")
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), requester, id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

// React: POST /api/messages/{messageId}/reactions. Повтор не ошибка: applied=false.
func (h *MessageHandler) React(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "messageId")
	if !ok {
		return
	}
	var req reactionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	applied, err := h.svc.React(r.Context(), who, id, req.Emoji)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

// Unreact: DELETE /api/messages/{messageId}/reactions?emoji=...
func (h *MessageHandler) Unreact(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "messageId")
	if !ok {
		return
	}
	removed, err := h.svc.Unreact(r.Context(), who, id, r.URL.Query().Get("emoji"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
}

// GetMessages: GET /api/rooms/{roomKey}/messages[?product_id=N].
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	viewer, ok := actor(w, r)
	if !ok {
		return
	}
	filter := model.NoProduct()
	if v := r.URL.Query().Get("product_id"); v != "" {
		pid, err := strconv.ParseInt(v, 10, 64)
		if err != nil || pid <= 0 {
			writeError(w, http.StatusBadRequest, "invalid product_id")
			return
		}
		filter = model.ForProduct(pid)
	}
	list, err := h.svc.ListMessages(r.Context(), viewer, chi.URLParam(r, "roomKey"), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []model.Message{}
	}
	writeJSON(w, http.StatusOK, list)
}

// MarkAsRead: POST /api/rooms/{roomKey}/read.
func (h *MessageHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	reader, ok := actor(w, r)
	if !ok {
		return
	}
	n, err := h.svc.MarkRoomRead(r.Context(), reader, chi.URLParam(r, "roomKey"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
}

// RoomUnread: GET /api/rooms/{roomKey}/unread.
func (h *MessageHandler) RoomUnread(w http.ResponseWriter, r *http.Request) {
	recipient, ok := actor(w, r)
	if !ok {
		return
	}
	n, err := h.svc.UnreadCount(r.Context(), recipient, chi.URLParam(r, "roomKey"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unread": n})
}

// TotalUnread: GET /api/messages/unread.
func (h *MessageHandler) TotalUnread(w http.ResponseWriter, r *http.Request) {
	recipient, ok := actor(w, r)
	if !ok {
		return
	}
	n, err := h.svc.UnreadTotal(r.Context(), recipient)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unread": n})
}
