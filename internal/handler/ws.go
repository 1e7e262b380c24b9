package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/observability"
	"github.com/localhub/internal/ws"
)

// WSHandler принимает realtime-сессии. Origin и лимит хаба проверяются до handshake,
// чтобы отказ был обычным HTTP-ответом, а не закрытым сокетом.
type WSHandler struct {
	hub      *ws.Hub
	anyOrig  bool
	origins  map[string]struct{}
	upgrader websocket.Upgrader
}

// NewWSHandler: allowedOrigins в формате CORS (через запятую или "*"; пусто значит любой).
func NewWSHandler(hub *ws.Hub, allowedOrigins string) *WSHandler {
	h := &WSHandler{hub: hub, origins: make(map[string]struct{})}
	for _, o := range strings.Split(allowedOrigins, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			h.anyOrig = true
		default:
			h.origins[o] = struct{}{}
		}
	}
	if len(h.origins) == 0 {
		h.anyOrig = true
	}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkOrigin,
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			writeError(w, status, reason.Error())
		},
	}
	return h
}

// checkOrigin: запросы без Origin (нативные клиенты) пропускаем.
func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.anyOrig {
		return true
	}
	origin := strings.TrimRight(strings.TrimSpace(r.Header.Get("Origin")), "/")
	if origin == "" {
		return true
	}
	_, ok := h.origins[origin]
	return ok
}

// ServeWS: GET /ws. Сессия привязана к участнику запроса; комнаты клиент подключает сам.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	ref, ok := actor(w, r)
	if !ok {
		return
	}
	if !h.checkOrigin(r) {
		observability.WebSocketRejected.WithLabelValues("origin").Inc()
		logger.Warnf("ws %s: origin %q not allowed", ref, r.Header.Get("Origin"))
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if h.hub == nil || !h.hub.Accepting() {
		observability.WebSocketRejected.WithLabelValues("capacity").Inc()
		logger.Warnf("ws %s: hub not accepting sessions", ref)
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "realtime unavailable, retry later")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader уже ответил клиенту через Error.
		logger.Debugf("ws upgrade %s: %v", ref, err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, ref)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
