// Package websocket is a resilient WebSocket consumer: it dials, reads, and
// redials forever until its context ends. The pricefeed worker rides it for
// the venue market-data stream.
package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric"

	"sanadbot/internal/core"
	"sanadbot/pkg/telemetry"
)

// MessageHandler receives every raw frame. It runs on the read goroutine, so
// slow handlers stall the stream; hand off anything expensive.
type MessageHandler func(message []byte)

// Client maintains one auto-reconnecting consumer connection.
type Client struct {
	url     string
	handler MessageHandler
	logger  core.ILogger

	redialWait   time.Duration
	pingInterval time.Duration
	pingWait     time.Duration
	pongWait     time.Duration

	onConnected func()

	mu   sync.Mutex
	conn *websocket.Conn

	cancel context.CancelFunc
	wg     sync.WaitGroup

	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
}

// NewClient builds a client for url. Start begins the dial loop.
func NewClient(url string, handler MessageHandler, logger core.ILogger) *Client {
	meter := telemetry.GetMeter("ws-client")
	msgCounter, _ := meter.Int64Counter("ws_messages_total",
		metric.WithDescription("WebSocket frames received"))
	connCounter, _ := meter.Int64Counter("ws_connects_total",
		metric.WithDescription("WebSocket dial attempts"))

	return &Client{
		url:          url,
		handler:      handler,
		logger:       logger,
		redialWait:   5 * time.Second,
		pingInterval: 30 * time.Second,
		pingWait:     10 * time.Second,
		pongWait:     75 * time.Second,
		msgCounter:   msgCounter,
		connCounter:  connCounter,
	}
}

// SetRedialWait overrides the pause between dial attempts.
func (c *Client) SetRedialWait(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.redialWait = d
}

// SetPingConfig overrides the keepalive cadence.
func (c *Client) SetPingConfig(interval, wait, pongWait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingInterval = interval
	c.pingWait = wait
	c.pongWait = pongWait
}

// SetOnConnected registers a callback fired after every successful dial,
// before the first read. Subscription messages belong here so they replay
// on reconnect.
func (c *Client) SetOnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// Send writes one JSON message on the current connection.
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return c.conn.WriteJSON(message)
}

// Start launches the dial loop. It returns immediately; the loop runs until
// ctx ends or Stop is called.
func (c *Client) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(runCtx)
}

// Stop tears the connection down and waits for the loop to exit.
func (c *Client) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.closeConn()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.logger.Warn("websocket stop timed out waiting for read loop")
	}
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := c.dial(ctx); err != nil {
			c.logger.Warn("websocket dial failed", "url", c.url, "error", err)
		} else {
			c.mu.Lock()
			onConnected := c.onConnected
			interval := c.pingInterval
			c.mu.Unlock()

			if onConnected != nil {
				onConnected()
			}

			pingCtx, stopPing := context.WithCancel(ctx)
			if interval > 0 {
				c.wg.Add(1)
				go c.keepalive(pingCtx)
			}
			c.readLoop(ctx)
			stopPing()
		}

		c.mu.Lock()
		wait := c.redialWait
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (c *Client) dial(ctx context.Context) error {
	c.connCounter.Add(ctx, 1)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	pongWait := c.pongWait
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *Client) keepalive(ctx context.Context) {
	defer c.wg.Done()

	c.mu.Lock()
	interval, wait := c.pingInterval, c.pingWait
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wait)); err != nil {
				// A failed ping means the peer is gone; drop the
				// connection so the read loop redials.
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context) {
	defer c.closeConn()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil || ctx.Err() != nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.msgCounter.Add(ctx, 1)
		if c.handler != nil {
			c.handler(message)
		}
	}
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
