package signal

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mathops/proctor/internal/domain"
	"github.com/mathops/proctor/internal/metrics"

	"github.com/gorilla/websocket"
)

// DefaultKeepalive is the interval between keepalive pings.
const DefaultKeepalive = 55 * time.Second

// Client manages the WebSocket control channel to the coordination service.
type Client struct {
	endpoint  string
	lsid      string
	handler   domain.Handler
	dialer    *websocket.Dialer
	keepalive time.Duration

	conn     *websocket.Conn
	open     atomic.Bool
	received atomic.Bool

	mu        sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// NewClient creates a control channel client. The cookie jar, if any, is
// shared with the upload gateway so both carry the same credentials.
func NewClient(endpoint, loginSessionID string, handler domain.Handler, jar http.CookieJar) *Client {
	dialer := *websocket.DefaultDialer
	dialer.Jar = jar
	return &Client{
		endpoint:  endpoint,
		lsid:      loginSessionID,
		handler:   handler,
		dialer:    &dialer,
		keepalive: DefaultKeepalive,
		closed:    make(chan struct{}),
	}
}

// SetKeepalive overrides the keepalive interval. Call before Connect.
func (c *Client) SetKeepalive(d time.Duration) {
	c.keepalive = d
}

// Connect dials the channel, sends the hello command and starts the read
// and keepalive loops.
func (c *Client) Connect(ctx context.Context) error {
	log.Printf("[signal] connecting to %s", c.endpoint)

	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn
	c.open.Store(true)

	log.Printf("[signal] channel opened")
	c.Send(Hello(c.lsid))
	c.handler.OnOpen()

	go c.readLoop()
	go c.pingLoop()

	return nil
}

// Open reports whether the channel is open.
func (c *Client) Open() bool {
	return c.open.Load()
}

// Received reports whether any frame has arrived on the channel.
func (c *Client) Received() bool {
	return c.received.Load()
}

// Send writes a text frame. Frames sent while the channel is not open are
// dropped.
func (c *Client) Send(text string) {
	if !c.open.Load() {
		log.Printf("[signal] channel not open, dropping %q", text)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if text != Ping {
		log.Printf("[signal] >>> %s", text)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		log.Printf("[signal] write error: %v", err)
	}
}

// Close shuts down the channel. The handler is not notified.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.open.Store(false)
		if c.conn == nil {
			return
		}
		c.mu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.mu.Unlock()
		c.conn.Close()
	})
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.open.Store(false)
			if c.isClosed() {
				return
			}

			code, reason := websocket.CloseAbnormalClosure, err.Error()
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, reason = ce.Code, ce.Text
			} else {
				log.Printf("[signal] read error: %v", err)
			}
			log.Printf("[signal] channel closing: %d/%s", code, reason)
			c.handler.OnClose(code, reason)
			c.Close()
			return
		}

		c.received.Store(true)
		text := string(data)
		log.Printf("[signal] <<< %s", text)

		msg, err := Decode(text)
		if err != nil {
			metrics.ChannelMessage("UNRECOGNIZED")
			log.Printf("[signal] decode: %v", err)
			continue
		}
		metrics.ChannelMessage(Kind(msg))
		c.handler.OnMessage(msg)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(c.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if !c.open.Load() {
				return
			}
			log.Printf("[signal] keepalive ping")
			c.Send(Ping)
		}
	}
}
