package httphandler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 2 * pingInterval
)

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(h.opts.AllowedOrigins, r.Header.Get("Origin"))
		},
	}
}

// StreamWebSocket upgrades the connection and pushes every newly stored build
// as a JSON text message until the client disconnects or falls behind.
func (h *Handler) StreamWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(sub)

	// The read side only exists to notice the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-sub.C:
			if !ok {
				// Dropped for being slow, or the server is shutting down.
				_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "subscription ended"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.WriteJSON(toBuildResponse(event)); err != nil {
				h.logger.Debug("websocket write failed", "subscriber", sub.ID, "error", err)
				return
			}
		}
	}
}

// StreamEvents serves the same live feed as server-sent events.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// The stream outlives the server's request read timeout.
	_ = rc.SetReadDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		h.logger.Warn("event stream not supported", "error", err)
		return
	}

	sub := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(sub)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := h.writeEvent(rc, w, ": ping\n\n"); err != nil {
				return
			}
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			frame, err := sseFrame(toBuildResponse(event))
			if err != nil {
				h.logger.Error("failed to encode build event", "error", err)
				continue
			}
			if err := h.writeEvent(rc, w, frame); err != nil {
				h.logger.Debug("event stream write failed", "subscriber", sub.ID, "error", err)
				return
			}
		}
	}
}

func (h *Handler) writeEvent(rc *http.ResponseController, w http.ResponseWriter, frame string) error {
	_ = rc.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
	if _, err := fmt.Fprint(w, frame); err != nil {
		return err
	}
	return rc.Flush()
}

func sseFrame(build BuildResponse) (string, error) {
	data, err := json.Marshal(build)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("id: %d\nevent: build\ndata: %s\n\n", build.ID, data), nil
}
