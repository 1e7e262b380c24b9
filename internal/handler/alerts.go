package handler

import (
	"net/http"

	"github.com/localhub/internal/model"
	"github.com/localhub/internal/service"
)

// AlertHandler: геолокация пользователя и алерты с рассылкой соседям.
type AlertHandler struct {
	svc *service.Alerts
}

func NewAlertHandler(svc *service.Alerts) *AlertHandler {
	return &AlertHandler{svc: svc}
}

type locationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// userActor пускает только пользователей: у бизнеса нет геолокации и алертов.
func userActor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	ref, ok := actor(w, r)
	if !ok {
		return 0, false
	}
	if ref.Kind != model.KindUser {
		writeServiceError(w, service.ErrUnauthorized)
		return 0, false
	}
	return ref.ID, true
}

// UpsertLocation: PUT /api/location.
func (h *AlertHandler) UpsertLocation(w http.ResponseWriter, r *http.Request) {
	userID, ok := userActor(w, r)
	if !ok {
		return
	}
	var req locationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.UpsertLocation(r.Context(), userID, req.Latitude, req.Longitude); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearLocation: DELETE /api/location.
func (h *AlertHandler) ClearLocation(w http.ResponseWriter, r *http.Request) {
	userID, ok := userActor(w, r)
	if !ok {
		return
	}
	if err := h.svc.ClearLocation(r.Context(), userID); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type postAlertRequest struct {
	Title     string  `json:"title"`
	Body      string  `json:"body"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type postAlertResponse struct {
	Alert    *model.Alert `json:"alert"`
	Notified int          `json:"notified"`
}

// Post: POST /api/alerts.
func (h *AlertHandler) Post(w http.ResponseWriter, r *http.Request) {
	userID, ok := userActor(w, r)
	if !ok {
		return
	}
	var req postAlertRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	alert, notified, err := h.svc.PostAlert(r.Context(), userID, req.Title, req.Body, req.Latitude, req.Longitude)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, postAlertResponse{Alert: alert, Notified: notified})
}
