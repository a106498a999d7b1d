package trade

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/imanuelcio/be-moodswing-sub000/internal/metrics"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// priceEvent is the wire payload pushed after every fill.
type priceEvent struct {
	Type     string          `json:"type"`
	MarketID string          `json:"market_id"`
	PriceYes decimal.Decimal `json:"price_yes"`
	PriceNo  decimal.Decimal `json:"price_no"`
	At       time.Time       `json:"at"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts price updates to all connected websocket clients. All
// client-set mutation happens on the Run goroutine via the register and
// unregister channels.
type Hub struct {
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 64),
		logger:     logger,
	}
}

// Run owns the client set. It exits when done is closed, closing every
// client connection.
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			metrics.WSConnections.Set(float64(len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				metrics.WSConnections.Set(float64(len(h.clients)))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer: drop it rather than stall the hub.
					delete(h.clients, c)
					close(c.send)
				}
			}
			metrics.WSConnections.Set(float64(len(h.clients)))
		case <-done:
			for c := range h.clients {
				close(c.send)
			}
			return
		}
	}
}

// PriceUpdate implements PriceBroadcaster.
func (h *Hub) PriceUpdate(marketID string, priceYes, priceNo decimal.Decimal) {
	msg, err := json.Marshal(priceEvent{
		Type:     "price_update",
		MarketID: marketID,
		PriceYes: priceYes,
		PriceNo:  priceNo,
		At:       time.Now().UTC(),
	})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("price broadcast dropped, hub backlogged", "market_id", marketID)
	}
}

// ServeWS upgrades the request and attaches the client to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, 16)}
	h.register <- c

	go c.writeLoop()
	go c.readLoop(h)
}

func (c *wsClient) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop discards inbound frames; its job is detecting disconnects.
func (c *wsClient) readLoop(h *Hub) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
