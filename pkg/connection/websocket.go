package connection

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next frame or pong from the peer.
	pongWait = 60 * time.Second

	maxFrameSize = 4 << 20
)

// WebsocketDialer dials the companion over a websocket.
type WebsocketDialer struct {
	URL string
	// Token, when set, is sent as a bearer Authorization header.
	Token string
	// TokenSource, when set, mints a fresh token for every dial and takes
	// precedence over Token.
	TokenSource func() (string, error)

	HandshakeTimeout time.Duration
	ReadLimit        int64
	PongWait         time.Duration
}

// NewWebsocketDialer builds a dialer for ws://host:port/path.
func NewWebsocketDialer(host string, port int, path string) *WebsocketDialer {
	u := url.URL{Scheme: "ws", Host: net.JoinHostPort(host, strconv.Itoa(port)), Path: path}
	return &WebsocketDialer{
		URL:              u.String(),
		HandshakeTimeout: 10 * time.Second,
		ReadLimit:        maxFrameSize,
		PongWait:         pongWait,
	}
}

// Dial performs the websocket handshake.
func (d *WebsocketDialer) Dial(ctx context.Context) (Conn, error) {
	token := d.Token
	if d.TokenSource != nil {
		t, err := d.TokenSource()
		if err != nil {
			return nil, fmt.Errorf("mint token: %w", err)
		}
		token = t
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	ws, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", d.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return NewWebsocketConn(ws, d.ReadLimit, d.PongWait), nil
}

// WebsocketConn adapts a gorilla connection to Conn.
type WebsocketConn struct {
	ws       *websocket.Conn
	pongWait time.Duration

	closeOnce sync.Once
	closeErr  error
}

// NewWebsocketConn wraps ws. The read deadline is pushed out by pongWait on
// every frame and pong.
func NewWebsocketConn(ws *websocket.Conn, readLimit int64, wait time.Duration) *WebsocketConn {
	if readLimit <= 0 {
		readLimit = maxFrameSize
	}
	if wait <= 0 {
		wait = pongWait
	}
	c := &WebsocketConn{ws: ws, pongWait: wait}

	ws.SetReadLimit(readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(wait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wait))
	})
	return c
}

// ReadFrame returns the next text or binary frame.
func (c *WebsocketConn) ReadFrame(ctx context.Context) ([]byte, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// WriteFrame writes frame as a text message.
func (c *WebsocketConn) WriteFrame(ctx context.Context, frame []byte) error {
	_ = c.ws.SetWriteDeadline(deadline(ctx))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// Ping sends a ping control frame.
func (c *WebsocketConn) Ping(ctx context.Context) error {
	return c.ws.WriteControl(websocket.PingMessage, nil, deadline(ctx))
}

// Close sends a normal close frame and closes the socket. Only the first call
// has any effect.
func (c *WebsocketConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// IsNormalClose reports whether err is a clean close from the peer.
func IsNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

func deadline(ctx context.Context) time.Time {
	d := time.Now().Add(writeWait)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		return ctxDeadline
	}
	return d
}
