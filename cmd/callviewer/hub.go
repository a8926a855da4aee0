package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"crm-call-service/internal/events"
	"crm-call-service/internal/models"
)

var errUnknownEvent = errors.New("unknown event type")

// viewerEvent is what browsers receive for every consumed Kafka message.
type viewerEvent struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Summary   string `json:"summary"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"payload"`
}

// decodeEvent turns a published call event into a viewerEvent.
func decodeEvent(value []byte) (viewerEvent, error) {
	var head struct {
		EventType string `json:"eventType"`
	}
	if err := json.Unmarshal(value, &head); err != nil {
		return viewerEvent{}, err
	}

	switch head.EventType {
	case events.EventStateChanged:
		var ev models.CallStateChanged
		if err := json.Unmarshal(value, &ev); err != nil {
			return viewerEvent{}, err
		}
		summary := fmt.Sprintf("%s -> %s", ev.From, ev.To)
		if ev.Reason != "" {
			summary += " (" + ev.Reason + ")"
		}
		return viewerEvent{EventType: ev.EventType, SessionID: ev.SessionID, Summary: summary, Timestamp: ev.Timestamp, Payload: ev}, nil
	case events.EventTranscriptAppended:
		var ev models.TranscriptAppended
		if err := json.Unmarshal(value, &ev); err != nil {
			return viewerEvent{}, err
		}
		summary := fmt.Sprintf("%s: %s", ev.Entry.Speaker, truncate(ev.Entry.Text, 80))
		return viewerEvent{EventType: ev.EventType, SessionID: ev.SessionID, Summary: summary, Timestamp: ev.Timestamp, Payload: ev}, nil
	default:
		return viewerEvent{}, fmt.Errorf("%w: %q", errUnknownEvent, head.EventType)
	}
}

// truncate shortens s to maxLen runes.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}

// hub fans events out to connected WebSocket clients.
type hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan viewerEvent
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

func newHub() *hub {
	return &hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan viewerEvent, 100),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			log.Info().Int("clients", h.count()).Msg("Viewer connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				_ = conn.Close()
			}
			h.mu.Unlock()
			log.Info().Int("clients", h.count()).Msg("Viewer disconnected")

		case event := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteJSON(event); err != nil {
					log.Warn().Err(err).Msg("Viewer write failed")
					_ = conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}
