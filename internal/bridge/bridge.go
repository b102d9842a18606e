// Package bridge carries the extension channel over a WebSocket connection.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/jhm/internal/extsync"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Conn adapts a WebSocket connection to extsync.Transport. Each message is
// one JSON text frame.
type Conn struct {
	ws     *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	in      chan extsync.Message
	done    chan struct{}
	once    sync.Once
	err     error
}

var _ extsync.Transport = (*Conn)(nil)

// NewConn starts the read and keepalive pumps for ws.
func NewConn(ws *websocket.Conn) *Conn {
	c := &Conn{
		ws:     ws,
		logger: slog.Default(),
		in:     make(chan extsync.Message, 16),
		done:   make(chan struct{}),
	}
	go c.readPump()
	go c.pingPump()
	return c
}

func (c *Conn) readPump() {
	defer c.shutdown(extsync.ErrClosed)

	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("bridge: read failed", "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var msg extsync.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("bridge: invalid frame", "error", err)
			continue
		}
		if msg.Type == "" {
			continue
		}
		select {
		case c.in <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) pingPump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.shutdown(extsync.ErrClosed)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) shutdown(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
		c.ws.Close()
	})
}

// Send writes msg as a single text frame.
func (c *Conn) Send(ctx context.Context, msg extsync.Message) error {
	select {
	case <-c.done:
		return extsync.ErrClosed
	default:
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.shutdown(extsync.ErrClosed)
		return errors.Join(extsync.ErrClosed, err)
	}
	return nil
}

// Receive returns the next decoded message.
func (c *Conn) Receive(ctx context.Context) (extsync.Message, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.done:
		return extsync.Message{}, c.err
	case <-ctx.Done():
		return extsync.Message{}, ctx.Err()
	}
}

// Close sends a close frame and tears the connection down.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	c.shutdown(extsync.ErrClosed)
	return nil
}

// Handler upgrades loopback requests and passes each connection to
// onConnect. The connection is closed when onConnect returns.
func Handler(onConnect func(ctx context.Context, c *Conn)) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     CheckOrigin,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("bridge: upgrade failed", "error", err, "remote", r.RemoteAddr)
			return
		}
		c := NewConn(ws)
		defer c.Close()
		slog.Info("bridge: extension connected", "remote", r.RemoteAddr)
		onConnect(r.Context(), c)
		slog.Info("bridge: extension disconnected", "remote", r.RemoteAddr)
	}
}

// CheckOrigin accepts requests without an Origin header, same-host origins
// and extension origins talking to a loopback listener.
func CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "chrome-extension", "moz-extension", "safari-web-extension":
		return isLoopback(r.Host)
	}
	return isLoopback(u.Host) && isLoopback(r.Host)
}

func isLoopback(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Dial connects to a bridge endpoint such as ws://127.0.0.1:4100/ws/extension.
func Dial(ctx context.Context, rawURL string, header http.Header) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, err
	}
	return NewConn(ws), nil
}
