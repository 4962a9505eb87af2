package httpadapter

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vigil/internal/domain"
)

var (
	streamPingInterval = 30 * time.Second
	streamPongWait     = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans alerts out to connected websocket clients. It implements
// alert.Sink, so it plugs into the emitter like any other sink.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
	log     *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{clients: map[*websocket.Conn]chan []byte{}, log: log}
}

func (h *Hub) Name() string { return "websocket" }

type streamFrame struct {
	SessionID string               `json:"session_id,omitempty"`
	Channel   domain.Channel       `json:"channel"`
	Band      domain.Band          `json:"band"`
	PrevBand  domain.Band          `json:"prev_band"`
	Action    domain.Action        `json:"action"`
	Matches   []domain.MatchResult `json:"matched_signatures,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Deliver broadcasts the alert; a slow client drops the frame rather than
// holding up delivery to the rest.
func (h *Hub) Deliver(_ context.Context, a *domain.Alert) error {
	frame, err := json.Marshal(streamFrame{
		SessionID: a.SessionID,
		Channel:   a.Channel,
		Band:      a.Band,
		PrevBand:  a.PrevBand,
		Action:    a.Action,
		Matches:   a.Matches,
		Timestamp: a.Timestamp,
	})
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		select {
		case ch <- frame:
		default:
			h.log.Warn("alert stream: client too slow, dropping frame", zap.String("remote", conn.RemoteAddr().String()))
		}
	}
	return nil
}

func (h *Hub) Close(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.clients {
		close(ch)
		_ = conn.Close()
		delete(h.clients, conn)
	}
	return nil
}

func (h *Hub) add(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 32)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) handleAlertStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("alert stream: upgrade failed", zap.Error(err))
		return
	}

	ch := s.hub.add(conn)
	defer s.hub.remove(conn)

	// deadline applies from the start, not only after the first pong, so a
	// client dead on arrival does not pin the read goroutine
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()
	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
