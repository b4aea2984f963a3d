// Package stream implements the native engine contract over stream
// transports: a framed multipart codec pumped by per-connection read and
// write goroutines, fronted by the same non-blocking TrySend/TryRecv surface
// the in-process engine exposes. A transport supplies dialing, listening and
// part-level framing; tcp and ipc ship here, websocket lives in its own
// package.
package stream

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/reactmq/reactmq/engine"
	"github.com/reactmq/reactmq/engine/inproc"
	"github.com/reactmq/reactmq/errs"
	"github.com/reactmq/reactmq/options"
)

type (
	// Conn is one established link carrying framed message parts.
	Conn interface {
		WritePart(part []byte, more bool) error
		ReadPart() (part []byte, more bool, err error)
		Close() error
	}

	// Listener accepts incoming links. Addr returns the full listening
	// address, scheme included, with any wildcard port resolved.
	Listener interface {
		Accept() (Conn, error)
		Addr() string
		Close() error
	}

	// Transport dials and listens on one address scheme.
	Transport interface {
		Dial(addr string) (Conn, error)
		Listen(addr string) (Listener, error)
	}
)

const defaultHWM = 1000

var ids uint32

// New builds an engine factory over the given transport.
func New(t Transport) engine.Factory {
	return func(kind engine.Kind) (engine.Engine, error) {
		if !kind.Valid() {
			return nil, errs.ErrBadKind
		}
		s := &socket{
			kind:     kind,
			id:       atomic.AddUint32(&ids, 1),
			tr:       t,
			sndHWM:   defaultHWM,
			rcvHWM:   defaultHWM,
			rcvTimeo: -1,
			sndTimeo: -1,
		}
		s.identity = genIdentity(s.id)
		s.space = sync.NewCond(&s.mu)
		s.work = sync.NewCond(&s.mu)
		if log.IsLevelEnabled(log.DebugLevel) {
			log.WithField("domain", "stream").
				WithFields(log.Fields{"id": s.id, "kind": kind.String()}).
				Debug("open")
		}
		return s, nil
	}
}

// socket is a single-link stream engine: one established connection at a
// time, message groups queued whole in both directions.
type socket struct {
	kind engine.Kind
	id   uint32
	tr   Transport

	mu    sync.Mutex
	space *sync.Cond // queue space freed, or socket closed
	work  *sync.Cond // outbound work or connection arrived, or socket closed

	identity    []byte
	sndHWM      int
	rcvHWM      int
	linger      int
	rcvTimeo    int
	sndTimeo    int
	conn        Conn
	connID      uint32
	ln          Listener
	lastEP      string
	pending     [][]byte
	outbound    [][][]byte
	inbound     [][][]byte
	cur         [][]byte
	curIdx      int
	subscribers []chan<- struct{}
	monitor     engine.Engine
	monAddr     string
	monMask     uint32
	pumping     bool
	recvShut    bool
	sendShut    bool
	closed      bool
}

func genIdentity(id uint32) []byte {
	b := make([]byte, 5)
	binary.BigEndian.PutUint32(b[1:], id)
	return b
}

func (s *socket) Bind(addr string) error {
	ln, err := s.tr.Listen(addr)
	if err != nil {
		s.mu.Lock()
		s.emitLocked(engine.EventBindFailed, 0)
		s.mu.Unlock()
		return errs.ErrBadAddr
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return errs.ErrClosed
	}
	if s.ln != nil {
		s.mu.Unlock()
		ln.Close()
		return errs.ErrBadState
	}
	s.ln = ln
	s.lastEP = ln.Addr()
	s.emitLocked(engine.EventListening, 0)
	pump := !s.pumping
	s.pumping = true
	s.mu.Unlock()

	go s.acceptLoop(ln)
	if pump {
		go s.writeLoop()
	}
	return nil
}

func (s *socket) Connect(addr string) error {
	c, err := s.tr.Dial(addr)
	if err != nil {
		return errs.ErrConnRefused
	}
	s.mu.Lock()
	if s.closed || s.conn != nil {
		err := errs.ErrBadState
		if s.closed {
			err = errs.ErrClosed
		}
		s.mu.Unlock()
		c.Close()
		return err
	}
	id := atomic.AddUint32(&ids, 1)
	s.attachLocked(c, id)
	s.lastEP = addr
	s.emitLocked(engine.EventConnected, id)
	pump := !s.pumping
	s.pumping = true
	s.mu.Unlock()

	if pump {
		go s.writeLoop()
	}
	return nil
}

// attachLocked installs the link and starts its read pump.
func (s *socket) attachLocked(c Conn, id uint32) {
	s.conn = c
	s.connID = id
	s.work.Broadcast()
	s.wakeLocked()
	go s.readLoop(c, id)
}

func (s *socket) acceptLoop(ln Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed || s.conn != nil {
			// Single-link engine: the first peer holds the socket.
			s.mu.Unlock()
			c.Close()
			continue
		}
		id := atomic.AddUint32(&ids, 1)
		s.attachLocked(c, id)
		s.emitLocked(engine.EventAccepted, id)
		s.mu.Unlock()
	}
}

// readLoop assembles framed parts into whole message groups and queues them
// inbound, blocking while the queue sits at the receive high-water mark.
func (s *socket) readLoop(c Conn, id uint32) {
	var parts [][]byte
	for {
		part, more, err := c.ReadPart()
		if err != nil {
			s.detach(c, id)
			return
		}
		parts = append(parts, part)
		if more {
			continue
		}
		s.mu.Lock()
		for !s.closed && s.conn == c && len(s.inbound) >= s.rcvHWM {
			s.space.Wait()
		}
		if s.closed || s.conn != c {
			s.mu.Unlock()
			return
		}
		if !s.recvShut {
			s.inbound = append(s.inbound, parts)
			s.wakeLocked()
		}
		s.mu.Unlock()
		parts = nil
	}
}

// writeLoop drains the outbound queue onto the link, one group at a time.
func (s *socket) writeLoop() {
	for {
		s.mu.Lock()
		for !s.closed && (s.conn == nil || len(s.outbound) == 0) {
			s.work.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		c := s.conn
		id := s.connID
		group := s.outbound[0]
		s.outbound = s.outbound[1:]
		s.wakeLocked() // queue space freed
		s.mu.Unlock()

		for i, part := range group {
			if err := c.WritePart(part, i < len(group)-1); err != nil {
				s.detach(c, id)
				break
			}
		}
	}
}

// detach drops the link after an I/O error or peer close.
func (s *socket) detach(c Conn, id uint32) {
	s.mu.Lock()
	if s.conn != c {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.emitLocked(engine.EventDisconnected, id)
	s.space.Broadcast()
	s.wakeLocked()
	s.mu.Unlock()
	c.Close()
}

func (s *socket) TrySend(part []byte, more bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.ErrClosed
	}
	if s.sendShut {
		return errs.ErrShutdown
	}
	p := make([]byte, len(part))
	copy(p, part)
	s.pending = append(s.pending, p)
	if more {
		return nil
	}
	if s.conn == nil || len(s.outbound) >= s.sndHWM {
		// Keep the accumulation; the caller resubmits the final part.
		s.pending = s.pending[:len(s.pending)-1]
		return engine.ErrWouldBlock
	}
	s.outbound = append(s.outbound, s.pending)
	s.pending = nil
	s.work.Broadcast()
	return nil
}

func (s *socket) TryRecv() (part []byte, more bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, errs.ErrClosed
	}
	if s.recvShut {
		return nil, false, errs.ErrShutdown
	}
	if s.cur == nil {
		if len(s.inbound) == 0 {
			return nil, false, engine.ErrWouldBlock
		}
		s.cur = s.inbound[0]
		s.inbound = s.inbound[1:]
		s.curIdx = 0
		s.space.Broadcast()
	}
	part = s.cur[s.curIdx]
	more = s.curIdx < len(s.cur)-1
	s.curIdx++
	if !more {
		s.cur, s.curIdx = nil, 0
	}
	return part, more, nil
}

func (s *socket) Readiness() (readable, writable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	readable = !s.closed && !s.recvShut &&
		(s.cur != nil || len(s.inbound) > 0)
	writable = !s.closed && !s.sendShut &&
		s.conn != nil && len(s.outbound) < s.sndHWM
	return
}

func (s *socket) Notify(ch chan<- struct{}) {
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
}

func (s *socket) Unnotify(ch chan<- struct{}) {
	s.mu.Lock()
	for i, c := range s.subscribers {
		if c == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

func (s *socket) wakeLocked() {
	for _, ch := range s.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *socket) Shutdown(which engine.Shutdown) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.ErrClosed
	}
	switch which {
	case engine.ShutdownRecv:
		s.recvShut = true
	case engine.ShutdownSend:
		s.sendShut = true
	case engine.ShutdownBoth:
		s.recvShut = true
		s.sendShut = true
	default:
		return errs.ErrBadState
	}
	s.wakeLocked()
	return nil
}

func (s *socket) SetOption(id int, val interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errs.ErrClosed
	}
	switch id {
	case int(options.SndHWM):
		v, ok := val.(int)
		if !ok {
			return errs.ErrBadValue
		}
		s.sndHWM = v
	case int(options.RcvHWM):
		v, ok := val.(int)
		if !ok {
			return errs.ErrBadValue
		}
		s.rcvHWM = v
	case int(options.Linger):
		v, ok := val.(int)
		if !ok {
			return errs.ErrBadValue
		}
		s.linger = v
	case int(options.RcvTimeo):
		v, ok := val.(int)
		if !ok {
			return errs.ErrBadValue
		}
		s.rcvTimeo = v
	case int(options.SndTimeo):
		v, ok := val.(int)
		if !ok {
			return errs.ErrBadValue
		}
		s.sndTimeo = v
	case int(options.Identity):
		v, ok := val.([]byte)
		if !ok {
			return errs.ErrBadValue
		}
		p := make([]byte, len(v))
		copy(p, v)
		s.identity = p
	default:
		return errs.ErrBadOption
	}
	return nil
}

func (s *socket) GetOption(id int) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errs.ErrClosed
	}
	switch id {
	case int(options.Type):
		return int(s.kind), nil
	case int(options.RcvMore):
		if s.cur != nil {
			return 1, nil
		}
		return 0, nil
	case int(options.SndHWM):
		return s.sndHWM, nil
	case int(options.RcvHWM):
		return s.rcvHWM, nil
	case int(options.Linger):
		return s.linger, nil
	case int(options.RcvTimeo):
		return s.rcvTimeo, nil
	case int(options.SndTimeo):
		return s.sndTimeo, nil
	case int(options.Identity):
		p := make([]byte, len(s.identity))
		copy(p, s.identity)
		return p, nil
	case int(options.LastEndpoint):
		return []byte(s.lastEP), nil
	default:
		return nil, errs.ErrBadOption
	}
}

// OpenMonitor publishes lifecycle events through an in-process Pair socket,
// whatever the transport, so a monitor consumer always connects over inproc.
func (s *socket) OpenMonitor(mask uint32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", errs.ErrClosed
	}
	if s.monitor != nil {
		return "", errs.ErrBadState
	}
	m, err := inproc.New(engine.Pair)
	if err != nil {
		return "", err
	}
	addr := fmt.Sprintf("inproc://monitor.stream.%d", s.id)
	if err := m.Bind(addr); err != nil {
		m.Close()
		return "", err
	}
	s.monitor = m
	s.monAddr = addr
	s.monMask = mask
	return addr, nil
}

// emitLocked publishes one event record; dropped when no monitor is
// attached, the event is masked out, or the consumer lags.
func (s *socket) emitLocked(code uint16, value uint32) {
	if s.monitor == nil {
		return
	}
	if s.monMask&uint32(code) == 0 {
		return
	}
	s.monitor.TrySend(engine.EncodeEvent(code, value), false)
}

func (s *socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.ErrClosed
	}
	s.closed = true
	conn := s.conn
	ln := s.ln
	s.conn = nil
	s.ln = nil
	s.inbound = nil
	s.outbound = nil
	s.cur = nil
	s.emitLocked(engine.EventClosed, 0)
	mon := s.monitor
	s.monitor = nil
	s.space.Broadcast()
	s.work.Broadcast()
	s.wakeLocked()
	s.subscribers = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if ln != nil {
		ln.Close()
	}
	if mon != nil {
		mon.Close()
	}
	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithField("domain", "stream").
			WithFields(log.Fields{"id": s.id, "kind": s.kind.String()}).
			Debug("close")
	}
	return nil
}
