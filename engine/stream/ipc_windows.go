//go:build windows
// +build windows

package stream

import (
	"strings"

	"github.com/Microsoft/go-winio"

	"github.com/reactmq/reactmq/engine"
	"github.com/reactmq/reactmq/errs"
)

const ipcScheme = "ipc://"

// IPC is an engine factory over ipc:// addresses, carried on named pipes.
func IPC() engine.Factory {
	return New(ipcTransport{})
}

type ipcTransport struct{}

func pipeName(path string) string {
	return `\\.\pipe\` + strings.TrimPrefix(path, "/")
}

func (ipcTransport) Dial(addr string) (Conn, error) {
	path, ok := trimScheme(addr, ipcScheme)
	if !ok {
		return nil, errs.ErrBadAddr
	}
	c, err := winio.DialPipe(pipeName(path), nil)
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
	ln, err := winio.ListenPipe(pipeName(path), nil)
	if err != nil {
		return nil, err
	}
	return &netListener{ln: ln, scheme: ipcScheme}, nil
}
