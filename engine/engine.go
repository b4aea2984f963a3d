// Package engine declares the contract between the socket adapter and a
// native messaging engine: non-blocking multipart send/receive primitives,
// readiness notification, address binding, option get/set and monitor-channel
// creation.
package engine

import (
	"encoding/binary"

	"github.com/reactmq/reactmq/errs"
)

// Kind enumerates the messaging patterns a socket can be opened with. The
// pattern semantics themselves belong to the engine; the adapter only
// validates the value at construction.
type Kind int

// socket kinds
const (
	Pair Kind = iota
	Pub
	Sub
	Req
	Rep
	Dealer
	Router
	Pull
	Push
	XPub
	XSub
	Stream
)

var kindNames = [...]string{
	"pair", "pub", "sub", "req", "rep", "dealer",
	"router", "pull", "push", "xpub", "xsub", "stream",
}

// Valid reports whether k names a known socket kind.
func (k Kind) Valid() bool {
	return k >= Pair && k <= Stream
}

func (k Kind) String() string {
	if !k.Valid() {
		return "invalid"
	}
	return kindNames[k]
}

// Shutdown selects which direction of a socket to shut down.
type Shutdown int

// shutdown directions
const (
	ShutdownRecv Shutdown = iota
	ShutdownSend
	ShutdownBoth
)

// monitor event codes, as carried in the first two bytes of an event record.
const (
	EventConnected    uint16 = 0x0001
	EventListening    uint16 = 0x0008
	EventBindFailed   uint16 = 0x0010
	EventAccepted     uint16 = 0x0020
	EventClosed       uint16 = 0x0080
	EventDisconnected uint16 = 0x0200

	// EventAll subscribes a monitor channel to every event.
	EventAll = uint32(0xFFFF)
)

// EventRecordSize is the fixed size of a monitor event record.
const EventRecordSize = 6

// EncodeEvent builds a monitor event record: event code plus an associated
// integer (a connection id, errno or peer identifier). The record is opaque
// to the adapter and forwarded byte-for-byte.
func EncodeEvent(code uint16, value uint32) []byte {
	rec := make([]byte, EventRecordSize)
	binary.BigEndian.PutUint16(rec, code)
	binary.BigEndian.PutUint32(rec[2:], value)
	return rec
}

// DecodeEvent splits a monitor event record produced by EncodeEvent.
func DecodeEvent(rec []byte) (code uint16, value uint32) {
	if len(rec) < EventRecordSize {
		return
	}
	code = binary.BigEndian.Uint16(rec)
	value = binary.BigEndian.Uint32(rec[2:])
	return
}

// ErrWouldBlock is returned by TrySend/TryRecv when the operation cannot make
// progress without waiting for a readiness edge.
const ErrWouldBlock = errs.ErrWouldBlock

type (
	// Engine is one native socket resource. All methods are safe for
	// concurrent use; serialization of send/receive against concurrent
	// callers is still the adapter's job, the engine only protects its own
	// state.
	Engine interface {
		// TrySend appends one part to the outgoing message; more marks
		// further parts to follow. The accumulated message is delivered
		// when the final part is accepted. Returns ErrWouldBlock when the
		// final part cannot be delivered yet; the accumulated parts are
		// retained and resubmitting the final part retries delivery.
		TrySend(part []byte, more bool) error

		// TryRecv returns the next part of the incoming message and
		// whether further parts of the same message follow. Returns
		// ErrWouldBlock when no part is available.
		TryRecv() (part []byte, more bool, err error)

		// Readiness reports whether a TryRecv or TrySend could currently
		// make progress.
		Readiness() (readable, writable bool)

		// Notify subscribes ch to readiness edges. Edges are delivered
		// with a non-blocking send and may be coalesced; subscribers must
		// re-check state after each edge.
		Notify(ch chan<- struct{})

		// Unnotify removes a subscription added by Notify.
		Unnotify(ch chan<- struct{})

		Bind(addr string) error
		Connect(addr string) error

		// Shutdown refuses further transfers in the given direction;
		// affected operations fail with errs.ErrShutdown.
		Shutdown(which Shutdown) error

		SetOption(id int, val interface{}) error
		GetOption(id int) (val interface{}, err error)

		// OpenMonitor creates the lifecycle-event channel for this socket
		// and returns the in-process address a Pair socket can connect to
		// to receive the event records.
		OpenMonitor(mask uint32) (addr string, err error)

		Close() error
	}

	// Factory allocates one engine resource for a socket of the given kind.
	Factory func(kind Kind) (Engine, error)
)
