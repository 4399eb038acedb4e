package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"attempt-service/internal/app"
	"attempt-service/internal/domain"
	"github.com/gorilla/websocket"
)

// WSHandler runs a full timed attempt over a single websocket: the server
// pushes the sanitized snapshot, per-second countdown ticks, and the final
// result; the client streams answers and may submit early.
type WSHandler struct {
	service  *app.AttemptService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.AttemptService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wsAnswerPayload struct {
	Index int `json:"index"`
	Value any `json:"value"`
}

type tickPayload struct {
	RemainingSec int `json:"remainingSec"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and drives one attempt session end to end.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	identity, ok := identityRequest{
		UserID: r.URL.Query().Get("userId"),
		Email:  r.URL.Query().Get("email"),
	}.identity()
	if quizID == "" || !ok {
		http.Error(w, "missing quizId, userId, or email", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	start, err := h.service.StartAttempt(r.Context(), identity, quizID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	events, cancel, err := h.service.Subscribe(start.Token)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	eventsDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(eventsDone)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				msg, ok := translateEvent(ev)
				if !ok {
					continue
				}
				select {
				case send <- msg:
				case <-writerDone:
					return
				case <-closeSignals:
					return
				}
			case <-writerDone:
				return
			case <-closeSignals:
				return
			}
		}
	}()

	// A dead writer must never wedge the read loop on a full send buffer.
	trySend := func(msg outboundMessage[any]) bool {
		select {
		case send <- msg:
			return true
		case <-writerDone:
			return false
		}
	}

	if trySend(outboundMessage[any]{Type: "started", Payload: start}) {
	read:
		for {
			var inbound inboundMessage
			if err := conn.ReadJSON(&inbound); err != nil {
				break
			}
			switch inbound.Type {
			case "answer":
				var payload wsAnswerPayload
				if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
					if !trySend(errorMessage("invalid answer payload")) {
						break read
					}
					continue
				}
				if err := h.service.SetAnswer(r.Context(), start.Token, payload.Index, payload.Value); err != nil {
					if !trySend(errorMessage(err.Error())) {
						break read
					}
				}
			case "submit":
				if _, err := h.service.Submit(r.Context(), start.Token, nil); err != nil {
					// The race loser stays silent for the client; the winning
					// path already delivered a result event.
					if errors.Is(err, domain.ErrDuplicateSubmission) {
						log.Printf("duplicate submission for quiz %s", quizID)
						continue
					}
					if !trySend(errorMessage(err.Error())) {
						break read
					}
				}
			default:
				if !trySend(errorMessage("unsupported message type")) {
					break read
				}
			}
		}
	}

	close(closeSignals)
	<-eventsDone
	close(send)
	<-writerDone
}

func errorMessage(msg string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
}

func translateEvent(ev app.Event) (outboundMessage[any], bool) {
	switch ev.Kind {
	case app.EventTick:
		return outboundMessage[any]{Type: "tick", Payload: tickPayload{RemainingSec: ev.RemainingSec}}, true
	case app.EventResult:
		return outboundMessage[any]{Type: "result", Payload: ev.Record}, true
	case app.EventError:
		return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: ev.Message}}, true
	}
	return outboundMessage[any]{}, false
}
