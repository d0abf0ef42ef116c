package kiosk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"minwondesk/internal/domain"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 50 * time.Second
	maxMessageSize = 8 << 10
	commandTimeout = 5 * time.Second
)

// Command is a client message on the websocket.
type Command struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

func (h *handler) serveWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: h.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := h.hub.subscribe()
	done := make(chan struct{})
	go h.writePump(conn, c, done)
	h.readPump(conn)
	h.hub.unsubscribe(c)
	<-done
}

func (h *handler) checkOrigin(r *http.Request) bool {
	if len(h.origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.origins {
		if strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

func (h *handler) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}
		var cmd Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			h.logger.Debug("ignoring malformed websocket command", zap.Error(err))
			continue
		}
		if err := h.dispatch(cmd); err != nil {
			h.logger.Warn("websocket command failed", zap.String("type", cmd.Type), zap.Error(err))
		}
	}
}

// writePump owns all writes to conn and closes it when the client channel closes.
func (h *handler) writePump(conn *websocket.Conn, c *client, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		close(done)
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *handler) dispatch(cmd Command) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch strings.ToLower(strings.TrimSpace(cmd.Type)) {
	case "start":
		return h.controller.Start(ctx)
	case "choice", "choose":
		return h.controller.Choose(ctx, domain.Option(strings.TrimSpace(cmd.Value)))
	case "text":
		return h.controller.SubmitText(ctx, cmd.Value)
	case "stop", "stop-listening":
		return h.controller.StopListening(ctx)
	case "reset":
		return h.controller.Reset(ctx)
	default:
		h.logger.Debug("ignoring unknown websocket command", zap.String("type", cmd.Type))
		return nil
	}
}
