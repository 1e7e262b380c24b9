package handler

import (
	"net/http"

	"github.com/localhub/internal/model"
	"github.com/localhub/internal/service"
)

// ConversationHandler отдаёт списки диалогов (агрегаты поверх лога сообщений).
type ConversationHandler struct {
	svc *service.Messaging
}

func NewConversationHandler(svc *service.Messaging) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

// Direct: GET /api/conversations.
func (h *ConversationHandler) Direct(w http.ResponseWriter, r *http.Request) {
	p, ok := actor(w, r)
	if !ok {
		return
	}
	h.write(w)(h.svc.ListDirect(r.Context(), p))
}

// Products: GET /api/conversations/products.
func (h *ConversationHandler) Products(w http.ResponseWriter, r *http.Request) {
	p, ok := actor(w, r)
	if !ok {
		return
	}
	h.write(w)(h.svc.ListProduct(r.Context(), p))
}

// Business: GET /api/businesses/{businessId}/conversations. Только для самого бизнеса.
func (h *ConversationHandler) Business(w http.ResponseWriter, r *http.Request) {
	p, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "businessId")
	if !ok {
		return
	}
	if p != model.Business(id) {
		writeServiceError(w, service.ErrUnauthorized)
		return
	}
	h.write(w)(h.svc.ListBusiness(r.Context(), id))
}

func (h *ConversationHandler) write(w http.ResponseWriter) func([]model.ConversationSummary, error) {
	return func(list []model.ConversationSummary, err error) {
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if list == nil {
			list = []model.ConversationSummary{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}
