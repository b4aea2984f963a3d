//go:build !windows
// +build !windows

package stream

import (
	"net"
	"os"

	"github.com/reactmq/reactmq/engine"
	"github.com/reactmq/reactmq/errs"
)

const ipcScheme = "ipc://"

// IPC is an engine factory over ipc:// addresses, carried on unix domain
// sockets.
func IPC() engine.Factory {
	return New(ipcTransport{})
}

type ipcTransport struct{}

func (ipcTransport) Dial(addr string) (Conn, error) {
	path, ok := trimScheme(addr, ipcScheme)
	if !ok {
		return nil, errs.ErrBadAddr
	}
	c, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}
	return newNetConn(c), nil
}

func (ipcTransport) Listen(addr string) (Listener, error) {
	path, ok := trimScheme(addr, ipcScheme)
	if !ok {
		return nil, errs.ErrBadAddr
	}
	// A previous listener that died uncleanly leaves its socket file behind.
	if fi, err := os.Stat(path); err == nil && fi.Mode()&os.ModeSocket != 0 {
		os.Remove(path)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &netListener{ln: ln, scheme: ipcScheme}, nil
}
