// Package inproc implements the native engine contract for intra-process
// communication. Sockets bind to inproc:// addresses in a process-wide
// registry; messages cross between peers as atomic multipart groups through
// bounded inbound queues, and readiness edges are delivered on subscriber
// channels.
package inproc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/reactmq/reactmq/engine"
	"github.com/reactmq/reactmq/errs"
	"github.com/reactmq/reactmq/options"
)

type (
	socket struct {
		kind engine.Kind
		id   uint32

		// All fields below are guarded by the package bus lock.
		identity    []byte
		sndHWM      int
		rcvHWM      int
		linger      int
		rcvTimeo    int
		sndTimeo    int
		affinity    uint64
		subs        [][]byte
		conns       []*conn
		rr          int
		inbound     []incoming
		cur         [][]byte
		curIdx      int
		pending     [][]byte
		subscribers []chan<- struct{}
		boundAddr   string
		lastEP      string
		monitor     *socket
		monMask     uint32
		recvShut    bool
		sendShut    bool
		closed      bool
	}

	// conn is one half of a link between two sockets.
	conn struct {
		id   uint32
		peer *socket
	}

	// incoming is a delivered message group plus the sender's identity at
	// delivery time.
	incoming struct {
		ident []byte
		parts [][]byte
	}
)

const (
	scheme = "inproc://"

	defaultHWM = 1000
)

// bus serializes all inproc engine state. The engine is a delivery fabric for
// tests and in-process topologies; one coarse lock keeps cross-socket
// delivery free of ordering hazards.
var bus struct {
	sync.Mutex
	byAddr map[string]*socket
}

var ids uint32

func init() {
	bus.byAddr = make(map[string]*socket)
}

// New allocates an in-process engine socket. It is an engine.Factory.
func New(kind engine.Kind) (engine.Engine, error) {
	if !kind.Valid() {
		return nil, errs.ErrBadKind
	}
	s := newSocket(kind)
	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithField("domain", "inproc").
			WithFields(log.Fields{"id": s.id, "kind": kind.String()}).
			Debug("open")
	}
	return s, nil
}

func newSocket(kind engine.Kind) *socket {
	id := atomic.AddUint32(&ids, 1)
	return &socket{
		kind:     kind,
		id:       id,
		identity: genIdentity(id),
		sndHWM:   defaultHWM,
		rcvHWM:   defaultHWM,
		rcvTimeo: -1,
		sndTimeo: -1,
	}
}

// genIdentity builds the engine-assigned peer identity: a zero byte followed
// by the socket id.
func genIdentity(id uint32) []byte {
	b := make([]byte, 5)
	binary.BigEndian.PutUint32(b[1:], id)
	return b
}

func cloneBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

func (s *socket) Bind(addr string) error {
	if !strings.HasPrefix(addr, scheme) {
		return errs.ErrBadAddr
	}
	bus.Lock()
	defer bus.Unlock()
	if s.closed {
		return errs.ErrClosed
	}
	if _, ok := bus.byAddr[addr]; ok {
		s.emitLocked(engine.EventBindFailed, 0)
		return errs.ErrAddrInUse
	}
	bus.byAddr[addr] = s
	s.boundAddr = addr
	s.lastEP = addr
	s.emitLocked(engine.EventListening, 0)
	s.wakeLocked()
	return nil
}

func (s *socket) Connect(addr string) error {
	if !strings.HasPrefix(addr, scheme) {
		return errs.ErrBadAddr
	}
	bus.Lock()
	defer bus.Unlock()
	if s.closed {
		return errs.ErrClosed
	}
	l, ok := bus.byAddr[addr]
	if !ok || l.closed {
		return errs.ErrConnRefused
	}
	id := atomic.AddUint32(&ids, 1)
	s.conns = append(s.conns, &conn{id: id, peer: l})
	l.conns = append(l.conns, &conn{id: id, peer: s})
	s.lastEP = addr
	s.emitLocked(engine.EventConnected, id)
	l.emitLocked(engine.EventAccepted, id)
	s.wakeLocked()
	l.wakeLocked()
	return nil
}

func (s *socket) TrySend(part []byte, more bool) error {
	bus.Lock()
	defer bus.Unlock()
	if s.closed {
		return errs.ErrClosed
	}
	if s.sendShut {
		return errs.ErrShutdown
	}
	switch s.kind {
	case engine.Sub, engine.Pull:
		return errs.ErrNotSupported
	}
	s.pending = append(s.pending, cloneBytes(part))
	if more {
		return nil
	}
	if err := s.routeLocked(s.pending); err != nil {
		// Keep the accumulation; the caller resubmits the final part.
		s.pending = s.pending[:len(s.pending)-1]
		return err
	}
	s.pending = nil
	return nil
}

// routeLocked delivers one complete message group according to the socket
// kind.
func (s *socket) routeLocked(parts [][]byte) error {
	switch s.kind {
	case engine.Pub, engine.XPub:
		// Broadcast; receivers without queue space miss the message.
		for _, c := range s.conns {
			deliverLocked(s, c.peer, cloneParts(parts))
		}
		return nil
	case engine.Router, engine.Rep:
		// First part addresses the destination peer; unroutable messages
		// are dropped.
		if len(parts) < 2 {
			return nil
		}
		dest := parts[0]
		for _, c := range s.conns {
			if bytes.Equal(c.peer.identity, dest) {
				deliverLocked(s, c.peer, parts[1:])
				return nil
			}
		}
		return nil
	case engine.Pair, engine.Stream:
		if len(s.conns) == 0 {
			return engine.ErrWouldBlock
		}
		if !deliverLocked(s, s.conns[0].peer, parts) {
			return engine.ErrWouldBlock
		}
		return nil
	default:
		// Dealer, Req, Push, XSub: round-robin over peers with queue space.
		n := len(s.conns)
		if n == 0 {
			return engine.ErrWouldBlock
		}
		for i := 0; i < n; i++ {
			c := s.conns[(s.rr+i)%n]
			if deliverLocked(s, c.peer, parts) {
				s.rr = (s.rr + i + 1) % n
				return nil
			}
		}
		return engine.ErrWouldBlock
	}
}

// deliverLocked pushes a message group into to's inbound queue. It reports
// false only when the receiver exists but has no queue space; filtered or
// discarded deliveries count as delivered.
func deliverLocked(from, to *socket, parts [][]byte) bool {
	if to.closed || to.recvShut {
		return true
	}
	switch to.kind {
	case engine.Sub, engine.XSub:
		if !to.matchSubLocked(parts[0]) {
			return true
		}
	}
	if len(to.inbound) >= to.rcvHWM {
		return false
	}
	to.inbound = append(to.inbound, incoming{ident: from.identity, parts: parts})
	to.wakeLocked()
	return true
}

func (s *socket) matchSubLocked(part []byte) bool {
	for _, p := range s.subs {
		if bytes.HasPrefix(part, p) {
			return true
		}
	}
	return false
}

func cloneParts(parts [][]byte) [][]byte {
	c := make([][]byte, len(parts))
	for i, p := range parts {
		c[i] = cloneBytes(p)
	}
	return c
}

func (s *socket) TryRecv() (part []byte, more bool, err error) {
	bus.Lock()
	defer bus.Unlock()
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
		inc := s.inbound[0]
		s.inbound = s.inbound[1:]
		switch s.kind {
		case engine.Router, engine.Rep:
			// Prepend the source peer's identity as the envelope part.
			s.cur = append([][]byte{inc.ident}, inc.parts...)
		default:
			s.cur = inc.parts
		}
		s.curIdx = 0
		// Queue space freed; senders may be waiting on it.
		for _, c := range s.conns {
			c.peer.wakeLocked()
		}
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
	bus.Lock()
	defer bus.Unlock()
	readable = !s.closed && !s.recvShut &&
		(s.cur != nil || len(s.inbound) > 0)
	writable = s.writableLocked()
	return
}

func (s *socket) writableLocked() bool {
	if s.closed || s.sendShut {
		return false
	}
	switch s.kind {
	case engine.Pub, engine.XPub:
		return true
	case engine.Sub, engine.Pull:
		return false
	case engine.Pair, engine.Stream:
		return len(s.conns) > 0 &&
			len(s.conns[0].peer.inbound) < s.conns[0].peer.rcvHWM
	default:
		for _, c := range s.conns {
			if len(c.peer.inbound) < c.peer.rcvHWM {
				return true
			}
		}
		return false
	}
}

func (s *socket) Notify(ch chan<- struct{}) {
	bus.Lock()
	s.subscribers = append(s.subscribers, ch)
	bus.Unlock()
}

func (s *socket) Unnotify(ch chan<- struct{}) {
	bus.Lock()
	for i, c := range s.subscribers {
		if c == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			break
		}
	}
	bus.Unlock()
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
	bus.Lock()
	defer bus.Unlock()
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
	bus.Lock()
	defer bus.Unlock()
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
	case int(options.Affinity):
		v, ok := val.(uint64)
		if !ok {
			return errs.ErrBadValue
		}
		s.affinity = v
	case int(options.Identity):
		v, ok := val.([]byte)
		if !ok {
			return errs.ErrBadValue
		}
		s.identity = cloneBytes(v)
	case int(options.Subscribe):
		v, ok := val.([]byte)
		if !ok {
			return errs.ErrBadValue
		}
		s.subs = append(s.subs, cloneBytes(v))
	case int(options.Unsubscribe):
		v, ok := val.([]byte)
		if !ok {
			return errs.ErrBadValue
		}
		for i, p := range s.subs {
			if bytes.Equal(p, v) {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
	default:
		return errs.ErrBadOption
	}
	return nil
}

func (s *socket) GetOption(id int) (interface{}, error) {
	bus.Lock()
	defer bus.Unlock()
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
	case int(options.Affinity):
		return s.affinity, nil
	case int(options.Identity):
		return cloneBytes(s.identity), nil
	case int(options.LastEndpoint):
		return []byte(s.lastEP), nil
	default:
		return nil, errs.ErrBadOption
	}
}

func (s *socket) OpenMonitor(mask uint32) (string, error) {
	bus.Lock()
	defer bus.Unlock()
	if s.closed {
		return "", errs.ErrClosed
	}
	if s.monitor != nil {
		return "", errs.ErrBadState
	}
	m := newSocket(engine.Pair)
	addr := fmt.Sprintf("%smonitor.%d.%d", scheme, s.id, m.id)
	bus.byAddr[addr] = m
	m.boundAddr = addr
	m.lastEP = addr
	s.monitor = m
	s.monMask = mask
	return addr, nil
}

// emitLocked publishes a lifecycle event record on the monitor channel.
// Records are dropped when no monitor is attached, the event is masked out,
// or the channel is full.
func (s *socket) emitLocked(code uint16, value uint32) {
	if s.monitor == nil || s.monitor.closed {
		return
	}
	if s.monMask&uint32(code) == 0 {
		return
	}
	s.monitor.routeLocked([][]byte{engine.EncodeEvent(code, value)})
}

func (s *socket) Close() error {
	bus.Lock()
	if s.closed {
		bus.Unlock()
		return errs.ErrClosed
	}
	s.closed = true
	if s.boundAddr != "" {
		delete(bus.byAddr, s.boundAddr)
	}
	for _, c := range s.conns {
		p := c.peer
		p.removeConnLocked(c.id)
		p.emitLocked(engine.EventDisconnected, c.id)
		p.wakeLocked()
	}
	s.conns = nil
	s.inbound = nil
	s.cur = nil
	s.emitLocked(engine.EventClosed, 0)
	mon := s.monitor
	s.monitor = nil
	s.wakeLocked()
	s.subscribers = nil
	bus.Unlock()

	if mon != nil {
		mon.Close()
	}
	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithField("domain", "inproc").
			WithFields(log.Fields{"id": s.id, "kind": s.kind.String()}).
			Debug("close")
	}
	return nil
}

func (s *socket) removeConnLocked(id uint32) {
	for i, c := range s.conns {
		if c.id == id {
			s.conns = append(s.conns[:i], s.conns[i+1:]...)
			return
		}
	}
}
