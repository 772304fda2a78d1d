package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/franckalain/glowscan/internal/auth"
)

const (
	writeWait     = 10 * time.Second
	clientBacklog = 16
)

type phaseEvent struct {
	ScanID string `json:"scan_id"`
	Phase  string `json:"phase"`
}

type progressMessage struct {
	Type string     `json:"type"`
	Data phaseEvent `json:"data"`
}

type progressClient struct {
	userID string
	scanID string // empty subscribes to all of the user's scans
	conn   *websocket.Conn
	send   chan progressMessage
	done   chan struct{}
}

// Hub fans pipeline phase events out to websocket subscribers. Each
// subscriber only sees its own scans.
type Hub struct {
	auth     Authenticator
	upgrader websocket.Upgrader
	clients  sync.Map // client id -> *progressClient
	log      *zap.Logger
}

// NewHub returns a hub. Origins other than corsOrigin are refused unless
// corsOrigin is "*".
func NewHub(a Authenticator, corsOrigin string, log *zap.Logger) *Hub {
	return &Hub{
		auth: a,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return corsOrigin == "" || corsOrigin == "*" || origin == "" || origin == corsOrigin
			},
		},
		log: log.Named("progress"),
	}
}

// Publish delivers phase to every subscriber of userID's scanID. Slow
// subscribers drop events rather than block the pipeline.
func (h *Hub) Publish(userID, scanID, phase string) {
	msg := progressMessage{Type: "phase", Data: phaseEvent{ScanID: scanID, Phase: phase}}
	h.clients.Range(func(_, v any) bool {
		c := v.(*progressClient)
		if c.userID != userID || (c.scanID != "" && c.scanID != scanID) {
			return true
		}
		select {
		case c.send <- msg:
		case <-c.done:
		default:
			h.log.Debug("dropping progress event", zap.String("scan_id", scanID), zap.String("phase", phase))
		}
		return true
	})
}

// ServeHTTP authenticates the caller (bearer header or access_token query)
// and upgrades the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := auth.BearerToken(r)
	if token == "" {
		token = q.Get("access_token")
	}
	id, err := h.auth.Authenticate(token, q.Get("user_id"))
	if err != nil {
		status, body := classify(err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":"` + body.Error + `"}`))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	c := &progressClient{
		userID: id.UserID,
		scanID: q.Get("scan_id"),
		conn:   conn,
		send:   make(chan progressMessage, clientBacklog),
		done:   make(chan struct{}),
	}
	clientID := uuid.NewString()
	h.clients.Store(clientID, c)
	defer h.clients.Delete(clientID)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(c)
	}()

	// Subscribers never send anything meaningful; reading detects close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	close(c.done)
	<-writerDone
}

func (h *Hub) writeLoop(c *progressClient) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				h.log.Debug("error sending progress message", zap.Error(err))
				_ = c.conn.Close()
				return
			}
		}
	}
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.clients.Range(func(_, v any) bool {
		_ = v.(*progressClient).conn.Close()
		return true
	})
}
