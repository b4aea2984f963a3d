package reactmq

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/reactmq/reactmq/engine"
	"github.com/reactmq/reactmq/errs"
	"github.com/reactmq/reactmq/message"
	"github.com/reactmq/reactmq/options"
	"github.com/reactmq/reactmq/reactor"
)

// Socket owns exactly one native engine resource and exposes it through
// synchronous and asynchronous transfer operations. A socket is bound to the
// event loop it was opened on; completion handlers run on that loop.
//
// Synchronous calls never use the operation queue: they attempt the transfer
// against the non-blocking engine and, when it would block, wait on the
// readiness notification directly.
type Socket struct {
	kind engine.Kind
	eng  engine.Engine
	loop *reactor.Loop
	reg  *reactor.Registration
	lk   sync.Locker

	// guarded by lk
	endpoint    string
	speculative bool
	closed      bool
}

// Open allocates a socket of the given kind on the given event loop.
func Open(loop *reactor.Loop, kind engine.Kind, opts ...OpenOption) (*Socket, error) {
	cfg := defaultOpenConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if !kind.Valid() {
		return nil, &errs.ResourceError{Op: "open", Err: errs.ErrBadKind}
	}
	eng, err := cfg.factory(kind)
	if err != nil {
		return nil, &errs.ResourceError{Op: "open", Err: err}
	}
	var lk sync.Locker = &sync.Mutex{}
	if cfg.singleThreaded {
		lk = nopLocker{}
	}
	s := &Socket{
		kind: kind,
		eng:  eng,
		loop: loop,
		lk:   lk,
	}
	s.reg = loop.Register(eng, lk)
	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithField("domain", "socket").
			WithField("kind", kind.String()).
			Debug("open")
	}
	return s, nil
}

// Kind is the socket's messaging pattern.
func (s *Socket) Kind() engine.Kind {
	return s.kind
}

// Bind accepts incoming connections on addr.
func (s *Socket) Bind(addr string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.closed {
		return errs.ErrClosed
	}
	if err := s.eng.Bind(addr); err != nil {
		return &errs.AddrError{Op: "bind", Addr: addr, Err: err}
	}
	s.endpoint = addr
	return nil
}

// Connect creates an outgoing connection to addr.
func (s *Socket) Connect(addr string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.closed {
		return errs.ErrClosed
	}
	if err := s.eng.Connect(addr); err != nil {
		return &errs.AddrError{Op: "connect", Addr: addr, Err: err}
	}
	s.endpoint = addr
	return nil
}

// Endpoint is the address supplied to the most recent successful Bind or
// Connect; empty until one succeeds.
func (s *Socket) Endpoint() string {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.endpoint
}

// Send transfers the buffer sequence synchronously: each buffer as an
// individual message or, with More, as the parts of one multipart message.
// Returns the bytes sent.
func (s *Socket) Send(bufs [][]byte, flags Flag) (int, error) {
	op := &reactor.SendOp{Bufs: bufs, Multipart: flags&More != 0}
	comp := s.syncRun(reactor.Write, op, flags)
	return comp.Bytes, comp.Err
}

// SendMsg sends one message part; with More the part is a continuation and
// the multipart message stays open.
func (s *Socket) SendMsg(m message.Message, flags Flag) (int, error) {
	op := &reactor.SendMsgOp{Data: m.Data, More: flags&More != 0}
	comp := s.syncRun(reactor.Write, op, flags)
	return comp.Bytes, comp.Err
}

// Recv receives synchronously into the buffer sequence: one message part per
// buffer or, with More, the parts of one multipart message. In the latter
// case a message with more parts than buffers fills as many buffers as fit
// and returns errs.ErrNoBufferSpace; the caller reissues receives to drain
// the remainder.
func (s *Socket) Recv(bufs [][]byte, flags Flag) (int, error) {
	op := &reactor.RecvOp{Bufs: bufs, Multipart: flags&More != 0}
	comp := s.syncRun(reactor.Read, op, flags)
	return comp.Bytes, comp.Err
}

// RecvMore receives the parts of one multipart message without erroring on
// overflow. It returns bytes transferred, parts consumed and whether more
// parts remain on the socket.
func (s *Socket) RecvMore(bufs [][]byte, flags Flag) (n, parts int, more bool, err error) {
	op := &reactor.RecvMoreOp{Bufs: bufs}
	comp := s.syncRun(reactor.Read, op, flags)
	return comp.Bytes, comp.Parts, comp.More, comp.Err
}

// RecvMsg receives exactly one message part into m, rebuilding its buffer,
// and sets m.More when another part of the same message follows.
func (s *Socket) RecvMsg(m *message.Message, flags Flag) (int, error) {
	op := &reactor.RecvMsgOp{}
	comp := s.syncRun(reactor.Read, op, flags)
	if comp.Err != nil {
		return comp.Bytes, comp.Err
	}
	m.Data = comp.Msg.Data
	m.More = comp.Msg.More
	return comp.Bytes, nil
}

// RecvVector drains all remaining parts of the current multipart message
// (or, on an idle socket, all parts of the next message) into v, resizing it
// as needed. Used when the part count is not known in advance.
func (s *Socket) RecvVector(v *message.Vector, flags Flag) (int, error) {
	*v = (*v)[:0]
	total := 0
	for {
		var m message.Message
		n, err := s.RecvMsg(&m, flags)
		if err != nil {
			return total, err
		}
		total += n
		*v = append(*v, m)
		if !m.More {
			return total, nil
		}
	}
}

// syncRun drives one operation to completion on the caller's goroutine,
// waiting on the engine's readiness notification between attempts. The
// engine's send/receive timeout options bound the wait.
func (s *Socket) syncRun(dir reactor.Direction, op reactor.Operation, flags Flag) reactor.Completion {
	sub := make(chan struct{}, 1)
	s.eng.Notify(sub)
	defer s.eng.Unnotify(sub)

	var timeout <-chan time.Time
	if ms := s.timeoutFor(dir); ms >= 0 {
		t := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer t.Stop()
		timeout = t.C
	}

	for {
		s.lk.Lock()
		if s.closed {
			s.lk.Unlock()
			return reactor.Completion{Err: errs.ErrClosed}
		}
		comp, done := op.Attempt(s.eng)
		s.lk.Unlock()
		if done {
			return comp
		}
		if flags&DontWait != 0 {
			comp.Err = engine.ErrWouldBlock
			return comp
		}
		select {
		case <-sub:
		case <-timeout:
			comp.Err = errs.ErrTimeout
			return comp
		}
	}
}

// timeoutFor reads the engine's timeout option for the direction, in
// milliseconds; negative means wait forever.
func (s *Socket) timeoutFor(dir reactor.Direction) int {
	opt := options.SndTimeo
	if dir == reactor.Read {
		opt = options.RcvTimeo
	}
	s.lk.Lock()
	val, err := s.eng.GetOption(opt.ID())
	s.lk.Unlock()
	if err != nil {
		return -1
	}
	ms, ok := val.(int)
	if !ok {
		return -1
	}
	return ms
}

// Shutdown refuses further transfers in the given direction; subsequent
// operations in that direction fail with errs.ErrShutdown.
func (s *Socket) Shutdown(which engine.Shutdown) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.closed {
		return errs.ErrClosed
	}
	return s.eng.Shutdown(which)
}

// SetOption sets a typed option through the option codec. The adapter-local
// AllowSpeculative option is handled here and never forwarded to the engine.
func (s *Socket) SetOption(o options.Option, val interface{}) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.closed {
		return errs.ErrClosed
	}
	if o.ID() == options.AllowSpeculative.ID() {
		if err := o.Validate(val); err != nil {
			return &errs.OptionError{ID: o.ID(), Err: err}
		}
		s.speculative = val.(bool)
		return nil
	}
	return options.Set(s.eng, o, val)
}

// GetOption retrieves a typed option through the option codec.
func (s *Socket) GetOption(o options.Option) (interface{}, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.closed {
		return nil, errs.ErrClosed
	}
	if o.ID() == options.AllowSpeculative.ID() {
		return s.speculative, nil
	}
	return options.Get(s.eng, o)
}

// Cancel aborts every queued asynchronous operation on the socket; their
// handlers are invoked exactly once with errs.ErrAborted. Idempotent.
func (s *Socket) Cancel() {
	s.reg.Cancel()
}

// Close cancels queued operations, deregisters from the loop and releases
// the native resource exactly once. No completion handler for a queued
// operation fires after Close returns.
func (s *Socket) Close() error {
	s.lk.Lock()
	if s.closed {
		s.lk.Unlock()
		return errs.ErrClosed
	}
	s.closed = true
	s.lk.Unlock()

	s.reg.Deregister()
	err := s.eng.Close()
	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithField("domain", "socket").
			WithField("kind", s.kind.String()).
			Debug("close")
	}
	return err
}
