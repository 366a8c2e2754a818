package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/rawblock/coinjoin-tracer/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// DetectionEvent is pushed to /stream subscribers after a positive
// detection is persisted (SPEC_FULL §4.13).
type DetectionEvent struct {
	Txid            string                 `json:"txid"`
	DetectionMethod models.DetectionMethod `json:"detectionMethod"`
	Score           float64                `json:"score"`
}

// Hub maintains the set of active websocket clients and fans out
// detection events, grounded in the teacher's internal/api/websocket.go.
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.Mutex
	log       zerolog.Logger
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
		log:       log,
	}
}

func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mutex.Lock()
		for client := range h.clients {
			_ = client.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				h.log.Warn().Err(err).Msg("websocket write failed")
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mutex.Unlock()
	}
}

// Subscribe handles incoming websocket connections for GET /stream.
func (h *Hub) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	h.mutex.Lock()
	h.clients[conn] = true
	h.mutex.Unlock()

	go func() {
		defer func() {
			h.mutex.Lock()
			delete(h.clients, conn)
			h.mutex.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// PublishDetection fans out one DetectionEvent; fire-and-forget, never
// blocks the caller (SPEC_FULL §4.13).
func (h *Hub) PublishDetection(tx models.Transaction, v models.Verdict) {
	data, err := json.Marshal(DetectionEvent{
		Txid:            tx.Txid,
		DetectionMethod: v.DetectionMethod,
		Score:           v.Score,
	})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn().Msg("detection broadcast dropped: hub queue full")
	}
}
