// Package reactmq adapts a native, non-blocking, multipart-capable messaging
// engine to an event-loop-driven asynchronous I/O contract: queued
// operations, completion handlers, cancellation and single-threaded lock
// elision, with per-socket per-direction FIFO completion ordering.
package reactmq

import (
	"github.com/reactmq/reactmq/engine"
	"github.com/reactmq/reactmq/engine/inproc"
)

// socket kinds
const (
	Pair   = engine.Pair
	Pub    = engine.Pub
	Sub    = engine.Sub
	Req    = engine.Req
	Rep    = engine.Rep
	Dealer = engine.Dealer
	Router = engine.Router
	Pull   = engine.Pull
	Push   = engine.Push
	XPub   = engine.XPub
	XSub   = engine.XSub
	Stream = engine.Stream
)

// Flag modifies how a single send or receive call is made.
type Flag int

// flags
const (
	// DontWait makes a synchronous call return engine.ErrWouldBlock instead
	// of blocking on the readiness notification.
	DontWait Flag = 1 << iota

	// More requests multipart semantics: on send, the buffer sequence forms
	// one multipart message; on receive, the buffer sequence is a sink for
	// the parts of one multipart message. On single-part sends it marks the
	// part as a continuation.
	More
)

type (
	// OpenOption configures a socket at construction.
	OpenOption func(*openConfig)

	openConfig struct {
		factory        engine.Factory
		singleThreaded bool
	}
)

// WithEngine selects the native engine implementation backing the socket.
// The default is the in-process engine.
func WithEngine(f engine.Factory) OpenOption {
	return func(c *openConfig) { c.factory = f }
}

// SingleThreaded asserts that all operations on the socket happen from one
// thread and elides the internal mutex. Violating the assertion is not
// guarded at runtime.
func SingleThreaded() OpenOption {
	return func(c *openConfig) { c.singleThreaded = true }
}

func defaultOpenConfig() openConfig {
	return openConfig{factory: inproc.New}
}

// nopLocker replaces the socket mutex in single-threaded mode.
type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}
