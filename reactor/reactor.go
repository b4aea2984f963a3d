// Package reactor drives asynchronous socket operations: it owns the event
// loop, the per-socket per-direction operation queues, and the drain
// algorithm that retries queued operations on each readiness edge.
package reactor

import (
	"sync"

	"github.com/eapache/queue"
	log "github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/reactmq/reactmq/engine"
	"github.com/reactmq/reactmq/errs"
)

// Direction selects one of a socket's two independent operation queues.
type Direction int

// directions
const (
	Read Direction = iota
	Write
)

func (d Direction) String() string {
	if d == Read {
		return "read"
	}
	return "write"
}

type (
	// Loop is one event loop: a task executor plus an explicit registry of
	// the sockets whose readiness it watches. Completion handlers always run
	// on the goroutine executing Run. The task queue is unbounded so posting
	// never blocks the caller, including the loop goroutine posting to
	// itself mid-drain.
	Loop struct {
		closedq chan struct{}
		wake    chan struct{}

		sync.Mutex
		tasks  []func()
		regs   *orderedmap.OrderedMap[uint64, *Registration]
		nextID uint64
		closed bool
	}

	// Registration ties one engine socket to a loop: its readiness watcher
	// and its two operation queues.
	Registration struct {
		id     uint64
		loop   *Loop
		eng    engine.Engine
		lk     sync.Locker
		notify chan struct{}
		// closedq stops the watcher; queue state is guarded by lk.
		closedq chan struct{}
		read    *queue.Queue
		write   *queue.Queue
		closed  bool
	}

	pending struct {
		op      Operation
		handler Handler
	}
)

// NewLoop creates an event loop. The caller owns running it, typically
// `go loop.Run()`.
func NewLoop() *Loop {
	return &Loop{
		closedq: make(chan struct{}),
		wake:    make(chan struct{}, 1),
		regs:    orderedmap.New[uint64, *Registration](),
	}
}

// Run executes posted tasks until the loop is closed.
func (l *Loop) Run() {
	for {
		l.Lock()
		tasks := l.tasks
		l.tasks = nil
		l.Unlock()
		for _, f := range tasks {
			f()
		}
		if len(tasks) > 0 {
			// Re-check the queue before sleeping; wake tokens coalesce.
			continue
		}
		select {
		case <-l.closedq:
			return
		case <-l.wake:
		}
	}
}

// Post hands f to the loop goroutine. Never blocks; tasks posted after close
// are dropped.
func (l *Loop) Post(f func()) {
	l.Lock()
	if l.closed {
		l.Unlock()
		return
	}
	l.tasks = append(l.tasks, f)
	l.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Close tears down every registration (aborting their queued operations) and
// stops Run.
func (l *Loop) Close() error {
	l.Lock()
	if l.closed {
		l.Unlock()
		return errs.ErrClosed
	}
	l.closed = true
	regs := make([]*Registration, 0, l.regs.Len())
	for p := l.regs.Oldest(); p != nil; p = p.Next() {
		regs = append(regs, p.Value)
	}
	l.Unlock()

	for _, r := range regs {
		r.Deregister()
	}
	close(l.closedq)
	return nil
}

// Register adds an engine socket to the loop's registry and starts watching
// its readiness edges. lk is the owning socket's locker; the reactor takes it
// around every engine access so that queue drains serialize with the socket's
// own calls.
func (l *Loop) Register(eng engine.Engine, lk sync.Locker) *Registration {
	r := &Registration{
		loop:    l,
		eng:     eng,
		lk:      lk,
		notify:  make(chan struct{}, 1),
		closedq: make(chan struct{}),
		read:    queue.New(),
		write:   queue.New(),
	}
	l.Lock()
	l.nextID++
	r.id = l.nextID
	l.regs.Set(r.id, r)
	l.Unlock()

	eng.Notify(r.notify)
	go r.watch()

	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithField("domain", "reactor").
			WithField("id", r.id).
			Debug("register")
	}
	return r
}

func (l *Loop) remove(id uint64) {
	l.Lock()
	l.regs.Delete(id)
	l.Unlock()
}

// watch forwards readiness edges to the loop as drain tasks. Edges are
// coalesced; each drain re-checks both directions.
func (r *Registration) watch() {
	for {
		select {
		case <-r.closedq:
			return
		case <-r.loop.closedq:
			return
		case <-r.notify:
			r.loop.Post(func() {
				r.Drain(Read)
				r.Drain(Write)
			})
		}
	}
}

func (r *Registration) dirq(dir Direction) *queue.Queue {
	if dir == Read {
		return r.read
	}
	return r.write
}

// Enqueue appends an asynchronous operation to one direction's queue. With
// speculative set and the queue empty, the operation is attempted immediately
// on the caller's goroutine, skipping one readiness round trip when the
// socket is already able to make progress.
func (r *Registration) Enqueue(dir Direction, op Operation, h Handler, speculative bool) {
	r.lk.Lock()
	if r.closed {
		r.lk.Unlock()
		h(Completion{Err: errs.ErrAborted})
		return
	}
	q := r.dirq(dir)
	if speculative && q.Length() == 0 {
		if comp, done := op.Attempt(r.eng); done {
			r.lk.Unlock()
			r.loop.Post(func() { h(comp) })
			return
		}
	}
	q.Add(&pending{op: op, handler: h})
	r.lk.Unlock()

	// The socket may already be ready, in which case no further edge will
	// fire for this operation.
	r.loop.Post(func() { r.Drain(dir) })
}

// Drain attempts queued operations for one direction in FIFO order until the
// queue empties or the engine reports it would block. Completed operations
// have their handlers posted to the loop executor, never invoked from inside
// the drain loop.
func (r *Registration) Drain(dir Direction) {
	var fire []func()

	r.lk.Lock()
	if !r.closed {
		q := r.dirq(dir)
		for q.Length() > 0 {
			p := q.Peek().(*pending)
			comp, done := p.op.Attempt(r.eng)
			if !done {
				// Deferred: the head blocks the whole direction until the
				// next readiness edge.
				break
			}
			q.Remove()
			h := p.handler
			c := comp
			fire = append(fire, func() { h(c) })
			if c.Msg != nil && c.More {
				// A message receive completed mid-multipart; leave the
				// remaining parts for the handler's continuation receives.
				break
			}
		}
	}
	r.lk.Unlock()

	for _, f := range fire {
		r.loop.Post(f)
	}
}

// Cancel aborts every queued operation in both directions. Each aborted
// handler runs exactly once, on the calling goroutine, with errs.ErrAborted
// and no transfer result; none fire after Cancel returns.
func (r *Registration) Cancel() {
	var aborted []Handler

	r.lk.Lock()
	for _, q := range []*queue.Queue{r.read, r.write} {
		for q.Length() > 0 {
			aborted = append(aborted, q.Remove().(*pending).handler)
		}
	}
	r.lk.Unlock()

	if len(aborted) > 0 && log.IsLevelEnabled(log.DebugLevel) {
		log.WithField("domain", "reactor").
			WithFields(log.Fields{"id": r.id, "aborted": len(aborted)}).
			Debug("cancel")
	}
	for _, h := range aborted {
		h(Completion{Err: errs.ErrAborted})
	}
}

// Deregister cancels queued operations, stops the watcher and removes the
// registration from its loop. Idempotent.
func (r *Registration) Deregister() {
	r.lk.Lock()
	if r.closed {
		r.lk.Unlock()
		return
	}
	r.closed = true
	r.lk.Unlock()

	close(r.closedq)
	r.eng.Unnotify(r.notify)
	r.Cancel()
	r.loop.remove(r.id)
}
