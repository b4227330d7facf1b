package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/models"
	"go.uber.org/zap"
)

// ErrTapeFull is returned by Publish when the broadcast queue is saturated.
var ErrTapeFull = errors.New("trade tape backlog full")

// TapeEntry is what tape subscribers see of a trade. Owner and balance stay private.
type TapeEntry struct {
	Side     models.TradeSide `json:"side"`
	Symbol   string           `json:"symbol"`
	Quantity decimal.Decimal  `json:"quantity"`
	Price    decimal.Decimal  `json:"price"`
	At       time.Time        `json:"ts"`
}

func entryFor(ev models.TradeEvent) TapeEntry {
	return TapeEntry{Side: ev.Side, Symbol: ev.Symbol, Quantity: ev.Quantity, Price: ev.Price, At: ev.At}
}

// Client is one tape subscriber.
type Client struct {
	Addr string
	Send chan []byte // outbound messages, closed by the hub
}

// NewClient returns a client with a buffered send queue.
func NewClient(addr string) *Client {
	return &Client{Addr: addr, Send: make(chan []byte, 256)}
}

// Hub fans committed trades out to every connected client.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        *zap.Logger
}

// NewHub creates a hub. Call Run to start it.
func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.Named("tape"),
	}
}

// Run is the hub's event loop. It returns when ctx is done, after closing
// every client's send queue.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("trade tape started")
	defer func() {
		close(h.done)
		h.mu.Lock()
		for c := range h.clients {
			delete(h.clients, c)
			close(c.Send)
		}
		h.mu.Unlock()
		h.log.Info("trade tape stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			h.log.Debug("client registered", zap.String("addr", c.Addr))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.Send)
				h.log.Debug("client unregistered", zap.String("addr", c.Addr))
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.Send <- msg:
				default:
					// Slow reader: drop it rather than stall everyone else.
					h.log.Warn("client send buffer full, dropping", zap.String("addr", c.Addr))
					delete(h.clients, c)
					close(c.Send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Join registers c. It is a no-op once the hub has stopped.
func (h *Hub) Join(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		close(c.Send)
	}
}

// Leave unregisters c. It is a no-op once the hub has stopped.
func (h *Hub) Leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish implements ledger.Publisher. It never blocks on slow subscribers.
func (h *Hub) Publish(_ context.Context, ev models.TradeEvent) error {
	msg, err := json.Marshal(entryFor(ev))
	if err != nil {
		return fmt.Errorf("encode tape entry: %w", err)
	}
	select {
	case h.broadcast <- msg:
		return nil
	case <-h.done:
		return nil
	default:
		return ErrTapeFull
	}
}
