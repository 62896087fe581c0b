package http

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amann-codes/quizbud/internal/app"
	"github.com/amann-codes/quizbud/internal/domain"
)

// WSHandler streams snapshot updates to clients watching a test. Every
// committed reconciliation produces one update; slow readers get stale
// frames dropped rather than blocking the committer.
type WSHandler struct {
	service  *app.TestService
	upgrader websocket.Upgrader
	now      func() time.Time
}

func NewWSHandler(service *app.TestService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		now: time.Now,
	}
}

type outboundMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type snapshotPayload struct {
	Test         domain.Test `json:"test"`
	RemainingSec *int64      `json:"remainingSec,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and forwards snapshot updates until the
// client disconnects.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	testID := r.URL.Query().Get("testId")
	if testID == "" {
		http.Error(w, "missing testId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	initial, err := h.service.GetTest(r.Context(), testID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	updates, cancel := h.service.Watch(testID)
	defer cancel()

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

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
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage{Type: "snapshot", Payload: h.payload(update)}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage{Type: "snapshot", Payload: h.payload(initial)}

	// The read loop exists to notice disconnects; inbound content is ignored
	// since all mutations go through the ingestion endpoint.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) payload(test domain.Test) snapshotPayload {
	p := snapshotPayload{Test: test}
	if rem, ok := app.Remaining(test, h.now()); ok {
		sec := int64(rem / time.Second)
		p.RemainingSec = &sec
	}
	return p
}
