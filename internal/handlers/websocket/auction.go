package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/escrowhouse/auction-engine/internal/auth"
	"github.com/escrowhouse/auction-engine/internal/engine"
	"github.com/escrowhouse/auction-engine/pkg/types"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// AuctionHandler bridges websocket clients and the auction engine: it
// authenticates connections, routes messages to engine operations with
// the caller's principal and broadcasts every committed notification.
type AuctionHandler struct {
	engine       *engine.Engine
	authenticate func(r *http.Request) (auth.Principal, error)

	clients  map[*Client]bool
	clientMu sync.Mutex
	upgrader websocket.Upgrader
}

func NewAuctionHandler(eng *engine.Engine, validator *auth.Validator, allowCrossOrigin bool) *AuctionHandler {
	h := &AuctionHandler{
		engine:       eng,
		authenticate: validator.PrincipalFromRequest,
		clients:      make(map[*Client]bool),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return allowCrossOrigin },
		},
	}
	return h
}

// HandleAuctions upgrades the HTTP request to a WebSocket connection
// for an authenticated principal.
func (h *AuctionHandler) HandleAuctions(w http.ResponseWriter, r *http.Request) {
	principal, err := h.authenticate(r)
	if err != nil {
		log.Error("Invalid session: ", err)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Infof("Failed to upgrade connection: %v", err)
		http.Error(w, "Failed to establish connection", http.StatusInternalServerError)
		return
	}

	client := &Client{
		ID:          principal.ID,
		Email:       principal.Email,
		Conn:        conn,
		Send:        make(chan []byte, 16),
		RateLimiter: rate.NewLimiter(1, 3),
	}

	h.clientMu.Lock()
	h.clients[client] = true
	h.clientMu.Unlock()

	go client.ReadMessages(h.HandleMessage, h.disconnect)
	go client.WriteMessages()
}

func (h *AuctionHandler) disconnect(client *Client) {
	h.clientMu.Lock()
	delete(h.clients, client)
	h.clientMu.Unlock()
	client.Close()
}

// Broadcast sends a message to all connected clients.
func (h *AuctionHandler) Broadcast(message []byte) {
	h.clientMu.Lock()
	defer h.clientMu.Unlock()

	for client := range h.clients {
		select {
		case client.Send <- message:
		default:
			// Remove clients that stopped draining their queue
			delete(h.clients, client)
			client.Close()
		}
	}
}

// EventSink adapts Broadcast to the engine's notification stream, so
// every committed transaction reaches every connected client.
func (h *AuctionHandler) EventSink() engine.Sink {
	return engine.SinkFunc(func(ctx context.Context, event types.Event) {
		message, err := json.Marshal(&Message{Type: "event", Event: &event})
		if err != nil {
			log.Error("Error marshalling event broadcast: ", err)
			return
		}
		h.Broadcast(message)
	})
}
