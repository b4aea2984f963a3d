package reactor

import (
	"github.com/reactmq/reactmq/engine"
	"github.com/reactmq/reactmq/errs"
	"github.com/reactmq/reactmq/message"
)

type (
	// Completion is the result delivered to a completion handler: an error
	// or a transfer result, never both meaningful at once. Msg is set only
	// by message-object receives.
	Completion struct {
		Err   error
		Bytes int
		Parts int
		More  bool
		Msg   *message.Message
	}

	// Handler consumes one operation's completion. Handlers run on the
	// owning loop's goroutine; a panicking handler propagates to whatever
	// runs the loop.
	Handler func(Completion)

	// Operation is one queued asynchronous transfer. Attempt runs a
	// non-blocking try against the engine; it reports done=false when the
	// engine would block, in which case internal progress is retained and
	// the operation is re-attempted on a later readiness edge.
	Operation interface {
		Attempt(e engine.Engine) (comp Completion, done bool)
	}
)

type (
	// SendOp sends each buffer as an individual message or, with Multipart
	// set, as the ordered parts of a single multipart message.
	SendOp struct {
		Bufs      [][]byte
		Multipart bool

		idx   int
		bytes int
	}

	// SendMsgOp sends one message part. More marks the part as a
	// continuation, leaving the multipart message open.
	SendMsgOp struct {
		Data []byte
		More bool
	}

	// RecvOp receives one message part per buffer. With Multipart set the
	// buffer sequence is a sink for the parts of a single multipart
	// message; parts beyond the sequence (or a part exceeding its buffer)
	// complete the operation with errs.ErrNoBufferSpace after filling as
	// many buffers as fit.
	RecvOp struct {
		Bufs      [][]byte
		Multipart bool

		idx   int
		bytes int
	}

	// RecvMoreOp receives the parts of a single multipart message without
	// erroring on overflow: it completes with More set when parts remain
	// beyond the supplied buffers, and reports parts consumed distinct from
	// bytes transferred.
	RecvMoreOp struct {
		Bufs [][]byte

		idx   int
		bytes int
	}

	// RecvMsgOp receives exactly one message part into a fresh message
	// object, exposing whether another part follows.
	RecvMsgOp struct{}
)

// Attempt implements Operation.
func (op *SendOp) Attempt(e engine.Engine) (Completion, bool) {
	for op.idx < len(op.Bufs) {
		buf := op.Bufs[op.idx]
		more := op.Multipart && op.idx < len(op.Bufs)-1
		if err := e.TrySend(buf, more); err != nil {
			if err == engine.ErrWouldBlock {
				return Completion{}, false
			}
			return Completion{Err: errs.AsTransfer(err)}, true
		}
		op.idx++
		op.bytes += len(buf)
	}
	return Completion{Bytes: op.bytes}, true
}

// Attempt implements Operation.
func (op *SendMsgOp) Attempt(e engine.Engine) (Completion, bool) {
	if err := e.TrySend(op.Data, op.More); err != nil {
		if err == engine.ErrWouldBlock {
			return Completion{}, false
		}
		return Completion{Err: errs.AsTransfer(err)}, true
	}
	return Completion{Bytes: len(op.Data)}, true
}

// Attempt implements Operation.
func (op *RecvOp) Attempt(e engine.Engine) (Completion, bool) {
	for op.idx < len(op.Bufs) {
		part, more, err := e.TryRecv()
		if err == engine.ErrWouldBlock {
			return Completion{}, false
		}
		if err != nil {
			return Completion{Err: errs.AsTransfer(err)}, true
		}
		n := copy(op.Bufs[op.idx], part)
		op.bytes += n
		op.idx++
		if op.Multipart {
			if n < len(part) {
				return Completion{Bytes: op.bytes, Parts: op.idx, More: more,
					Err: errs.ErrNoBufferSpace}, true
			}
			if !more {
				return Completion{Bytes: op.bytes, Parts: op.idx}, true
			}
			if op.idx == len(op.Bufs) {
				return Completion{Bytes: op.bytes, Parts: op.idx, More: true,
					Err: errs.ErrNoBufferSpace}, true
			}
		}
	}
	return Completion{Bytes: op.bytes, Parts: op.idx}, true
}

// Attempt implements Operation.
func (op *RecvMoreOp) Attempt(e engine.Engine) (Completion, bool) {
	for {
		if op.idx == len(op.Bufs) {
			return Completion{Bytes: op.bytes, Parts: op.idx, More: true}, true
		}
		part, more, err := e.TryRecv()
		if err == engine.ErrWouldBlock {
			return Completion{}, false
		}
		if err != nil {
			return Completion{Err: errs.AsTransfer(err)}, true
		}
		op.bytes += copy(op.Bufs[op.idx], part)
		op.idx++
		if !more {
			return Completion{Bytes: op.bytes, Parts: op.idx}, true
		}
	}
}

// Attempt implements Operation.
func (op *RecvMsgOp) Attempt(e engine.Engine) (Completion, bool) {
	part, more, err := e.TryRecv()
	if err == engine.ErrWouldBlock {
		return Completion{}, false
	}
	if err != nil {
		return Completion{Err: errs.AsTransfer(err)}, true
	}
	m := message.From(part)
	m.More = more
	return Completion{Bytes: len(part), Parts: 1, More: more, Msg: &m}, true
}
