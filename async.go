package reactmq

import (
	"github.com/reactmq/reactmq/message"
	"github.com/reactmq/reactmq/reactor"
)

// AsyncSend queues an asynchronous send of the buffer sequence: each buffer
// an individual message or, with More, the parts of one multipart message.
// The handler receives the bytes transferred or an error, on the socket's
// loop.
func (s *Socket) AsyncSend(bufs [][]byte, h reactor.Handler, flags Flag) {
	op := &reactor.SendOp{Bufs: bufs, Multipart: flags&More != 0}
	s.enqueue(reactor.Write, op, h)
}

// AsyncSendMsg queues an asynchronous send of one message part; with More
// the part is a continuation.
func (s *Socket) AsyncSendMsg(m message.Message, h reactor.Handler, flags Flag) {
	op := &reactor.SendMsgOp{Data: m.Data, More: flags&More != 0}
	s.enqueue(reactor.Write, op, h)
}

// AsyncRecv queues an asynchronous receive into the buffer sequence: one
// message part per buffer or, with More, the parts of one multipart message.
// In the latter case a message with more parts than buffers completes the
// handler with errs.ErrNoBufferSpace after filling as many buffers as fit;
// the handler issues further receives to drain the remainder.
func (s *Socket) AsyncRecv(bufs [][]byte, h reactor.Handler, flags Flag) {
	op := &reactor.RecvOp{Bufs: bufs, Multipart: flags&More != 0}
	s.enqueue(reactor.Read, op, h)
}

// AsyncRecvMore queues an asynchronous multipart receive that does not error
// on overflow: the completion carries bytes transferred, parts consumed and
// whether more parts remain for the handler to collect with synchronous
// receives.
func (s *Socket) AsyncRecvMore(bufs [][]byte, h reactor.Handler, flags Flag) {
	op := &reactor.RecvMoreOp{Bufs: bufs}
	s.enqueue(reactor.Read, op, h)
}

// AsyncRecvMsg queues an asynchronous receive of one message part. The
// completion's Msg exposes the part and whether another follows; the handler
// drives continuation with synchronous receives. Parts the handler leaves
// unread stay on the socket and are consumed, in order, by subsequent
// receive operations.
func (s *Socket) AsyncRecvMsg(h reactor.Handler, flags Flag) {
	s.enqueue(reactor.Read, &reactor.RecvMsgOp{}, h)
}

func (s *Socket) enqueue(dir reactor.Direction, op reactor.Operation, h reactor.Handler) {
	s.lk.Lock()
	speculative := s.speculative
	s.lk.Unlock()
	s.reg.Enqueue(dir, op, h, speculative)
}
