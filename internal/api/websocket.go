package api

import (
	"log"
	"net/http"

	"tradehook/internal/events"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Topics streamed to websocket clients.
var streamTopics = []events.Event{
	events.EventSignalReceived,
	events.EventOrderExecuted,
	events.EventOrderFailed,
	events.EventSymbolBlocked,
	events.EventReentryArmed,
	events.EventReentryTrigger,
	events.EventEngineStarted,
	events.EventEngineStopped,
}

type streamFrame struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	merged := make(chan streamFrame, 100)
	done := make(chan struct{})
	defer close(done)

	for _, topic := range streamTopics {
		stream, unsub := s.Bus.Subscribe(topic, 100)
		defer unsub()
		go func(topic events.Event, stream <-chan any) {
			for msg := range stream {
				select {
				case merged <- streamFrame{Topic: string(topic), Payload: msg}:
				case <-done:
					return
				}
			}
		}(topic, stream)
	}

	// Read pump: the stream is write-only, but reading is what detects a
	// client that went away between events.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case frame := <-merged:
			if err := conn.WriteJSON(frame); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		case <-disconnected:
			return
		}
	}
}
