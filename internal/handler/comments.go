package handler

import (
	"net/http"

	"github.com/localhub/internal/service"
)

type CommentHandler struct {
	svc *service.Comments
}

func NewCommentHandler(svc *service.Comments) *CommentHandler {
	return &CommentHandler{svc: svc}
}

// Delete: DELETE /api/comments/{commentId}. Удаляет комментарий вместе со всеми ответами.
func (h *CommentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	requester, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "commentId")
	if !ok {
		return
	}
	ids, err := h.svc.Delete(r.Context(), requester, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]int64{"deleted_ids": ids})
}
