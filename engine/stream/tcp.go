package stream

import (
	"net"
	"strings"

	"github.com/reactmq/reactmq/engine"
	"github.com/reactmq/reactmq/errs"
)

const tcpScheme = "tcp://"

// TCP is an engine factory over tcp:// addresses.
func TCP() engine.Factory {
	return New(tcpTransport{})
}

type tcpTransport struct{}

func (tcpTransport) Dial(addr string) (Conn, error) {
	hostport, ok := trimScheme(addr, tcpScheme)
	if !ok {
		return nil, errs.ErrBadAddr
	}
	c, err := net.Dial("tcp", hostport)
	if err != nil {
		return nil, err
	}
	return newNetConn(c), nil
}

func (tcpTransport) Listen(addr string) (Listener, error) {
	hostport, ok := trimScheme(addr, tcpScheme)
	if !ok {
		return nil, errs.ErrBadAddr
	}
	ln, err := net.Listen("tcp", hostport)
	if err != nil {
		return nil, err
	}
	return &netListener{ln: ln, scheme: tcpScheme}, nil
}

func trimScheme(addr, scheme string) (string, bool) {
	if !strings.HasPrefix(addr, scheme) {
		return "", false
	}
	return addr[len(scheme):], true
}
