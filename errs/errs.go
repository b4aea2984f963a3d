// Package errs defines the error surface shared by the socket adapter, the
// reactor and the engine implementations.
package errs

import "strconv"

// Err is a sentinel error value.
type Err string

func (e Err) Error() string {
	return string(e)
}

// errors
const (
	ErrClosed        = Err("object is closed")
	ErrShutdown      = Err("direction is shut down")
	ErrAborted       = Err("operation aborted")
	ErrWouldBlock    = Err("operation would block")
	ErrNoBufferSpace = Err("no buffer space")
	ErrTimeout       = Err("operation timed out")
	ErrBadKind       = Err("invalid socket kind")
	ErrBadAddr       = Err("invalid address")
	ErrAddrInUse     = Err("address in use")
	ErrConnRefused   = Err("connection refused")
	ErrBadOption     = Err("invalid or unsupported option")
	ErrBadValue      = Err("invalid option value")
	ErrBadState      = Err("bad operation state")
	ErrNotSupported  = Err("operation not supported")
	ErrMsgTooLong    = Err("message is too long")
)

// ResourceError reports a failure to allocate or create a native resource.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return "resource: " + e.Op + ": " + e.Err.Error()
}

func (e *ResourceError) Unwrap() error {
	return e.Err
}

// AddrError reports a bind or connect failure for a given address.
type AddrError struct {
	Op   string
	Addr string
	Err  error
}

func (e *AddrError) Error() string {
	return e.Op + " " + e.Addr + ": " + e.Err.Error()
}

func (e *AddrError) Unwrap() error {
	return e.Err
}

// OptionError reports a rejected option id or value; it always carries the
// offending id.
type OptionError struct {
	ID  int
	Err error
}

func (e *OptionError) Error() string {
	return "option " + strconv.Itoa(e.ID) + ": " + e.Err.Error()
}

func (e *OptionError) Unwrap() error {
	return e.Err
}

// TransferError reports a framing or protocol failure surfaced by the native
// engine during send or receive.
type TransferError struct {
	Err error
}

func (e *TransferError) Error() string {
	return "transfer: " + e.Err.Error()
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// AsTransfer classifies an engine send/receive failure: adapter sentinels
// pass through unchanged, anything else is a native transfer failure.
func AsTransfer(err error) error {
	switch err {
	case nil,
		ErrClosed,
		ErrShutdown,
		ErrAborted,
		ErrWouldBlock,
		ErrNoBufferSpace,
		ErrTimeout,
		ErrNotSupported,
		ErrMsgTooLong:
		return err
	}
	if _, ok := err.(*TransferError); ok {
		return err
	}
	return &TransferError{Err: err}
}
