// Package transportws carries raft messages as JSON text frames over
// websocket connections. Accepted connections feed a single inbound stream;
// replies go back on the connection the request arrived on.
package transportws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/isparth/Distributed-Systems/raftkv/internal/protocol"
	"github.com/isparth/Distributed-Systems/raftkv/internal/raft/transport"
	"github.com/isparth/Distributed-Systems/raftkv/internal/types"
)

// Path is where peers expect the raft endpoint.
const Path = "/raft"

const (
	defaultInboundBuffer = 64
	writeWait            = 5 * time.Second
)

type Config struct {
	Logger        *zap.Logger
	InboundBuffer int
	// HandshakeTimeout bounds dialling a peer. Zero means the dialer default.
	HandshakeTimeout time.Duration
}

// Transport implements transport.Transport. Mount it as an http.Handler at
// Path to accept peer connections.
type Transport struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
	inbound  chan transport.Inbound

	mu       sync.Mutex
	accepted map[string]*wsConn
	closed   bool
	done     chan struct{}
	readers  sync.WaitGroup
}

func New(cfg Config) *Transport {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	buf := cfg.InboundBuffer
	if buf <= 0 {
		buf = defaultInboundBuffer
	}
	dialer := *websocket.DefaultDialer
	if cfg.HandshakeTimeout > 0 {
		dialer.HandshakeTimeout = cfg.HandshakeTimeout
	}
	return &Transport{
		logger: logger.Named("transportws"),
		upgrader: websocket.Upgrader{
			// Peers are not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer:   &dialer,
		inbound:  make(chan transport.Inbound, buf),
		accepted: make(map[string]*wsConn),
		done:     make(chan struct{}),
	}
}

func (t *Transport) Inbound() <-chan transport.Inbound {
	return t.inbound
}

// ServeHTTP upgrades a peer's request and reads requests from it until the
// connection drops or the transport is closed.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		t.logger.Debug("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	c := &wsConn{id: uuid.NewString(), ws: ws}
	if !t.track(c) {
		ws.Close()
		return
	}
	defer t.untrack(c)

	logger := t.logger.With(zap.String("conn", c.id), zap.String("remote", r.RemoteAddr))
	logger.Debug("peer connected")
	for {
		msg, err := c.read()
		if errors.Is(err, protocol.ErrMalformed) || errors.Is(err, protocol.ErrUnknownType) {
			logger.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		if err != nil {
			logger.Debug("peer disconnected", zap.Error(err))
			return
		}
		select {
		case t.inbound <- transport.NewInbound(c.id, msg, c.write):
		case <-t.done:
			return
		}
	}
}

func (t *Transport) track(c *wsConn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.accepted[c.id] = c
	t.readers.Add(1)
	return true
}

func (t *Transport) untrack(c *wsConn) {
	t.mu.Lock()
	delete(t.accepted, c.id)
	t.mu.Unlock()
	c.Close()
	t.readers.Done()
}

// Dial opens a connection to peer's raft endpoint.
func (t *Transport) Dial(ctx context.Context, peer types.PeerConfig) (transport.Conn, error) {
	u := url.URL{Scheme: "ws", Host: peer.RaftAddr(), Path: Path}
	ws, resp, err := t.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", peer.Name, err)
	}
	return &wsConn{id: uuid.NewString(), ws: ws}, nil
}

// Close drops every accepted connection and waits for their readers to
// stop. Outbound connections belong to whoever dialled them.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	conns := make([]*wsConn, 0, len(t.accepted))
	for _, c := range t.accepted {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	t.readers.Wait()
	return nil
}

// wsConn is one websocket connection. It allows one reader and serialises
// writers.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	wmu  sync.Mutex
	once sync.Once
}

func (c *wsConn) read() (protocol.Message, error) {
	kind, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	if kind != websocket.TextMessage {
		return nil, fmt.Errorf("%w: binary frame", protocol.ErrMalformed)
	}
	return protocol.Decode(data)
}

func (c *wsConn) write(m protocol.Message) error {
	return c.writeDeadline(m, time.Now().Add(writeWait))
}

func (c *wsConn) writeDeadline(m protocol.Message, deadline time.Time) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Send writes m as one frame. When ctx ends before the write completes the
// connection is closed and ctx.Err() returned.
func (c *wsConn) Send(ctx context.Context, m protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.writeDeadline(m, deadline); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Recv returns the next well-formed message. When ctx ends first the
// connection is closed and ctx.Err() returned.
func (c *wsConn) Recv(ctx context.Context) (protocol.Message, error) {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()
	for {
		msg, err := c.read()
		if errors.Is(err, protocol.ErrMalformed) || errors.Is(err, protocol.ErrUnknownType) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		return msg, nil
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		// WriteControl may run alongside a regular writer.
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}
