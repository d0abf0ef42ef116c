// Package kiosk serves the intake dialogue to the kiosk front end over HTTP and
// a websocket event stream.
package kiosk

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"minwondesk/internal/domain"
	"minwondesk/internal/logging"
)

// Event is one message pushed to websocket clients.
type Event struct {
	Type      string             `json:"type"`
	Stage     domain.Stage       `json:"stage,omitempty"`
	Reason    domain.StageReason `json:"reason,omitempty"`
	Snapshot  *domain.Snapshot   `json:"snapshot,omitempty"`
	Prompt    *domain.Prompt     `json:"prompt,omitempty"`
	Capturing *bool              `json:"capturing,omitempty"`
	Seconds   float64            `json:"seconds,omitempty"`
	Code      domain.ErrorCode   `json:"code,omitempty"`
	Detail    string             `json:"detail,omitempty"`
}

const clientBuffer = 32

// Hub fans controller events out to connected clients. It implements
// ports.EventSink. A client that falls behind is disconnected.
type Hub struct {
	logger *zap.Logger

	mu         sync.Mutex
	clients    map[*client]struct{}
	lastStage  []byte
	lastPrompt []byte
}

type client struct {
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{logger: logging.OrNop(logger), clients: make(map[*client]struct{})}
}

// subscribe registers a client and primes it with the latest stage and prompt.
func (h *Hub) subscribe() *client {
	c := &client{send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	for _, msg := range [][]byte{h.lastStage, h.lastPrompt} {
		if msg != nil {
			c.send <- msg
		}
	}
	return c
}

func (h *Hub) unsubscribe(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
}

func (h *Hub) broadcast(event Event) {
	msg, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode kiosk event", zap.String("type", event.Type), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	switch event.Type {
	case "stage":
		h.lastStage = msg
		h.lastPrompt = nil
	case "prompt":
		h.lastPrompt = msg
	}
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn("dropping slow kiosk client")
			delete(h.clients, c)
			c.close()
		}
	}
}

func (h *Hub) StageChanged(snapshot domain.Snapshot, reason domain.StageReason) {
	h.broadcast(Event{Type: "stage", Stage: snapshot.Stage, Reason: reason, Snapshot: &snapshot})
}

func (h *Hub) PromptIssued(prompt domain.Prompt) {
	h.broadcast(Event{Type: "prompt", Stage: prompt.Stage, Prompt: &prompt})
}

func (h *Hub) CaptureChanged(capturing bool) {
	h.broadcast(Event{Type: "capture", Capturing: &capturing})
}

func (h *Hub) CountdownStarted(stage domain.Stage, duration time.Duration) {
	h.broadcast(Event{Type: "countdown", Stage: stage, Seconds: duration.Seconds()})
}

func (h *Hub) SessionError(code domain.ErrorCode, detail string) {
	h.broadcast(Event{Type: "error", Code: code, Detail: detail})
}
