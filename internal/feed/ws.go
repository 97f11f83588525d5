package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"vwap-trader/internal/logger"
	"vwap-trader/internal/types"
)

// WSClient streams ticker events from the exchange websocket feed. It
// owns the read/write pumps and reconnects with backoff until the
// context ends.
type WSClient struct {
	url     string
	product string

	mu   sync.Mutex
	conn *websocket.Conn

	readTimeout  time.Duration
	writeTimeout time.Duration
	pingInterval time.Duration

	ticks chan types.Tick
}

func NewWSClient(url, product string) *WSClient {
	return &WSClient{
		url:          url,
		product:      product,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		pingInterval: 20 * time.Second,
		ticks:        make(chan types.Tick, 1024),
	}
}

// Ticks is the normalized ticker stream. Closed when Run returns.
func (c *WSClient) Ticks() <-chan types.Tick { return c.ticks }

type subscribeMessage struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

type tickerMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Time      string `json:"time"`
}

// Run connects, subscribes and pumps ticker frames into the tick
// channel, reconnecting with capped backoff on any failure.
func (c *WSClient) Run(ctx context.Context) {
	defer close(c.ticks)

	backoff := 500 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.connect(ctx); err != nil {
			logger.Warn(ctx, "Websocket connect failed", "url", c.url, "error", err, "retry_in", backoff.String())
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = 500 * time.Millisecond
		logger.Info(ctx, "Websocket connected", "url", c.url, "product", c.product)

		c.readLoop(ctx)
		c.closeConn()
		if ctx.Err() != nil {
			return
		}
		logger.Warn(ctx, "Websocket disconnected, reconnecting", "product", c.product)
	}
}

func (c *WSClient) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	sub := subscribeMessage{
		Type:       "subscribe",
		ProductIDs: []string{c.product},
		Channels:   []string{"ticker", "heartbeat"},
	}
	conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return err
	}
	return nil
}

func (c *WSClient) readLoop(ctx context.Context) {
	conn := c.currentConn()
	if conn == nil {
		return
	}

	pingDone := make(chan struct{})
	defer close(pingDone)
	go c.pingLoop(pingDone)

	for {
		conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Debug(ctx, "Websocket read error", "error", err)
			}
			return
		}

		var msg tickerMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "ticker" {
			continue
		}
		price, err := strconv.ParseFloat(msg.Price, 64)
		if err != nil {
			continue
		}
		ts := time.Now().Unix()
		if t, perr := time.Parse(time.RFC3339, msg.Time); perr == nil {
			ts = t.Unix()
		}

		select {
		case c.ticks <- types.Tick{Price: price, Time: ts}:
		default:
			// Tick stream is cosmetic; drop under backpressure.
		}
	}
}

func (c *WSClient) pingLoop(done <-chan struct{}) {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			conn := c.currentConn()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) currentConn() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *WSClient) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
