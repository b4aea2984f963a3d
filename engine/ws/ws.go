// Package ws carries the stream engine over websocket links: each message
// part travels as one binary websocket message, prefixed by a flag byte
// marking multipart continuation. Addresses take the form ws://host:port/path.
package ws

import (
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/reactmq/reactmq/engine"
	"github.com/reactmq/reactmq/engine/stream"
	"github.com/reactmq/reactmq/errs"
)

const (
	wsScheme = "ws://"

	flagMore = 0x01
)

// WS is an engine factory over ws:// addresses.
func WS() engine.Factory {
	return stream.New(wsTransport{})
}

type wsTransport struct{}

func (wsTransport) Dial(addr string) (stream.Conn, error) {
	if !strings.HasPrefix(addr, wsScheme) {
		return nil, errs.ErrBadAddr
	}
	c, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{c: c}, nil
}

func (wsTransport) Listen(addr string) (stream.Listener, error) {
	hostport, path, ok := splitAddr(addr)
	if !ok {
		return nil, errs.ErrBadAddr
	}
	tln, err := net.Listen("tcp", hostport)
	if err != nil {
		return nil, err
	}
	l := &wsListener{
		tln:    tln,
		path:   path,
		conns:  make(chan *wsConn, 8),
		closed: make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, l.upgrade)
	l.srv = &http.Server{Handler: mux}
	go l.srv.Serve(tln)
	return l, nil
}

func splitAddr(addr string) (hostport, path string, ok bool) {
	if !strings.HasPrefix(addr, wsScheme) {
		return "", "", false
	}
	rest := addr[len(wsScheme):]
	if i := strings.Index(rest, "/"); i >= 0 {
		return rest[:i], rest[i:], true
	}
	return rest, "/", true
}

type wsListener struct {
	tln       net.Listener
	srv       *http.Server
	path      string
	conns     chan *wsConn
	closed    chan struct{}
	closeOnce sync.Once
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (l *wsListener) upgrade(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	select {
	case l.conns <- &wsConn{c: c}:
	case <-l.closed:
		c.Close()
	}
}

func (l *wsListener) Accept() (stream.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, errs.ErrClosed
	}
}

func (l *wsListener) Addr() string {
	return wsScheme + l.tln.Addr().String() + l.path
}

func (l *wsListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return l.srv.Close()
}

// wsConn frames message parts as binary websocket messages.
type wsConn struct {
	c *websocket.Conn
}

func (c *wsConn) WritePart(part []byte, more bool) error {
	buf := make([]byte, 1+len(part))
	if more {
		buf[0] = flagMore
	}
	copy(buf[1:], part)
	return c.c.WriteMessage(websocket.BinaryMessage, buf)
}

func (c *wsConn) ReadPart() (part []byte, more bool, err error) {
	for {
		mt, data, err := c.c.ReadMessage()
		if err != nil {
			return nil, false, err
		}
		if mt != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		return data[1:], data[0]&flagMore != 0, nil
	}
}

func (c *wsConn) Close() error {
	return c.c.Close()
}
