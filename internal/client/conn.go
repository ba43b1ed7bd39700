package client

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"codesync/internal/models"
)

var reconnectInterval = time.Second

// Conn is a websocket transport for the editor: the read loop
// reconnects forever on failure, with no attempt cap, and announces
// each re-established session so the editor can re-join and resync.
type Conn struct {
	url         string
	mu          sync.Mutex
	ws          *websocket.Conn
	onReconnect func()
	closed      chan struct{}
	closeOnce   sync.Once
}

func Dial(url string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{url: url, ws: ws, closed: make(chan struct{})}, nil
}

// SetReconnectHandler registers the callback invoked after each
// successful reconnect (typically Editor.HandleReconnect).
func (c *Conn) SetReconnectHandler(fn func()) {
	c.mu.Lock()
	c.onReconnect = fn
	c.mu.Unlock()
}

func (c *Conn) Emit(frame models.WSFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ws == nil {
		return errors.New("connection down")
	}
	return c.ws.WriteJSON(frame)
}

// Listen delivers inbound frames to the handler until Close. A read
// failure tears the socket down and redials on a fixed interval.
func (c *Conn) Listen(handler func(models.WSFrame)) {
	for {
		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()

		if ws != nil {
			for {
				var frame models.WSFrame
				if err := ws.ReadJSON(&frame); err != nil {
					break
				}
				handler(frame)
			}
		}

		select {
		case <-c.closed:
			return
		default:
		}
		c.reconnect()
	}
}

func (c *Conn) reconnect() {
	for {
		select {
		case <-c.closed:
			return
		case <-time.After(reconnectInterval):
		}
		ws, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			continue
		}
		c.mu.Lock()
		c.ws = ws
		fn := c.onReconnect
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
		return
	}
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		if c.ws != nil {
			err = c.ws.Close()
		}
		c.mu.Unlock()
	})
	return err
}
