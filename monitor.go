package reactmq

import (
	"github.com/reactmq/reactmq/engine/inproc"
	"github.com/reactmq/reactmq/errs"
	"github.com/reactmq/reactmq/reactor"
)

// Monitor subscribes to the socket's lifecycle events: it asks the engine
// for a monitor channel filtered by the event mask and returns a Pair socket
// on the given loop connected to it. Each received message is one opaque
// event record (engine.EventRecordSize bytes), forwarded byte-for-byte and
// never decoded by this layer.
//
// The monitor channel is always in-process, regardless of the engine backing
// the monitored socket. The returned socket is owned by the caller and
// closed like any other.
func (s *Socket) Monitor(loop *reactor.Loop, mask uint32) (*Socket, error) {
	s.lk.Lock()
	if s.closed {
		s.lk.Unlock()
		return nil, errs.ErrClosed
	}
	addr, err := s.eng.OpenMonitor(mask)
	s.lk.Unlock()
	if err != nil {
		return nil, &errs.ResourceError{Op: "monitor", Err: err}
	}

	mon, err := Open(loop, Pair, WithEngine(inproc.New))
	if err != nil {
		return nil, err
	}
	if err := mon.Connect(addr); err != nil {
		mon.Close()
		return nil, err
	}
	return mon, nil
}
