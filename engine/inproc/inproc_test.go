package inproc

import (
	"bytes"
	"testing"

	"github.com/reactmq/reactmq/engine"
	"github.com/reactmq/reactmq/errs"
	"github.com/reactmq/reactmq/options"
)

func open(t *testing.T, kind engine.Kind) engine.Engine {
	t.Helper()
	e, err := New(kind)
	if err != nil {
		t.Fatalf("new %v: %v", kind, err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func link(t *testing.T, bound, connecting engine.Engine, addr string) {
	t.Helper()
	if err := bound.Bind(addr); err != nil {
		t.Fatalf("bind %s: %v", addr, err)
	}
	if err := connecting.Connect(addr); err != nil {
		t.Fatalf("connect %s: %v", addr, err)
	}
}

func recvParts(t *testing.T, e engine.Engine) [][]byte {
	t.Helper()
	var parts [][]byte
	for {
		part, more, err := e.TryRecv()
		if err != nil {
			t.Fatalf("tryrecv: %v", err)
		}
		parts = append(parts, part)
		if !more {
			return parts
		}
	}
}

func TestMultipartAtomicity(t *testing.T) {
	a := open(t, engine.Pair)
	b := open(t, engine.Pair)
	link(t, a, b, "inproc://eng.atomic")

	if err := a.TrySend([]byte("p1"), true); err != nil {
		t.Fatalf("send first part: %v", err)
	}
	// Nothing crosses until the final part is accepted.
	if _, _, err := b.TryRecv(); err != engine.ErrWouldBlock {
		t.Fatalf("recv mid-accumulation = %v, want %v", err, engine.ErrWouldBlock)
	}
	if err := a.TrySend([]byte("p2"), false); err != nil {
		t.Fatalf("send final part: %v", err)
	}

	parts := recvParts(t, b)
	if len(parts) != 2 || !bytes.Equal(parts[0], []byte("p1")) || !bytes.Equal(parts[1], []byte("p2")) {
		t.Fatalf("received %q", parts)
	}
}

func TestPubSubFilter(t *testing.T) {
	pub := open(t, engine.Pub)
	sub := open(t, engine.Sub)
	link(t, pub, sub, "inproc://eng.pubsub")

	if err := sub.SetOption(int(options.Subscribe), []byte("topic")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := pub.TrySend([]byte("other.a"), false); err != nil {
		t.Fatalf("send filtered: %v", err)
	}
	if err := pub.TrySend([]byte("topic.a"), false); err != nil {
		t.Fatalf("send matching: %v", err)
	}

	parts := recvParts(t, sub)
	if !bytes.Equal(parts[0], []byte("topic.a")) {
		t.Fatalf("subscriber saw %q", parts[0])
	}
	if _, _, err := sub.TryRecv(); err != engine.ErrWouldBlock {
		t.Fatalf("filtered message leaked: %v", err)
	}

	if err := sub.SetOption(int(options.Unsubscribe), []byte("topic")); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := pub.TrySend([]byte("topic.b"), false); err != nil {
		t.Fatalf("send after unsubscribe: %v", err)
	}
	if _, _, err := sub.TryRecv(); err != engine.ErrWouldBlock {
		t.Fatalf("unsubscribed message leaked: %v", err)
	}
}

func TestRouterEnvelope(t *testing.T) {
	router := open(t, engine.Router)
	dealer := open(t, engine.Dealer)
	link(t, router, dealer, "inproc://eng.router")

	val, err := dealer.GetOption(int(options.Identity))
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	ident := val.([]byte)
	if len(ident) != 5 || ident[0] != 0 {
		t.Fatalf("generated identity = %v", ident)
	}

	if err := dealer.TrySend([]byte("ping"), false); err != nil {
		t.Fatalf("send: %v", err)
	}
	parts := recvParts(t, router)
	if len(parts) != 2 || !bytes.Equal(parts[0], ident) || !bytes.Equal(parts[1], []byte("ping")) {
		t.Fatalf("router saw %q", parts)
	}

	// Route back through the envelope.
	if err := router.TrySend(ident, true); err != nil {
		t.Fatalf("send envelope: %v", err)
	}
	if err := router.TrySend([]byte("pong"), false); err != nil {
		t.Fatalf("send payload: %v", err)
	}
	parts = recvParts(t, dealer)
	if len(parts) != 1 || !bytes.Equal(parts[0], []byte("pong")) {
		t.Fatalf("dealer saw %q", parts)
	}
}

func TestReceiveHighWaterMark(t *testing.T) {
	a := open(t, engine.Pair)
	b := open(t, engine.Pair)
	link(t, a, b, "inproc://eng.hwm")

	if err := b.SetOption(int(options.RcvHWM), 1); err != nil {
		t.Fatalf("set hwm: %v", err)
	}

	if err := a.TrySend([]byte("m1"), false); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := a.TrySend([]byte("m2"), false); err != engine.ErrWouldBlock {
		t.Fatalf("second send = %v, want %v", err, engine.ErrWouldBlock)
	}

	if _, writable := a.Readiness(); writable {
		t.Fatal("sender reports writable against a full peer")
	}

	// Draining the peer frees queue space; the blocked message goes through
	// on resubmission.
	recvParts(t, b)
	if err := a.TrySend([]byte("m2"), false); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
}

func TestNotifyEdges(t *testing.T) {
	a := open(t, engine.Pair)
	b := open(t, engine.Pair)
	link(t, a, b, "inproc://eng.notify")

	edges := make(chan struct{}, 1)
	b.Notify(edges)
	defer b.Unnotify(edges)

	if err := a.TrySend([]byte("wake"), false); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case <-edges:
	default:
		t.Fatal("delivery did not raise a readiness edge")
	}

	readable, _ := b.Readiness()
	if !readable {
		t.Fatal("receiver not readable with a queued message")
	}
}

func TestAddressErrors(t *testing.T) {
	a := open(t, engine.Pair)
	b := open(t, engine.Pair)

	if err := a.Bind("tcp://nope"); err != errs.ErrBadAddr {
		t.Fatalf("foreign scheme = %v, want %v", err, errs.ErrBadAddr)
	}
	if err := a.Bind("inproc://eng.addr"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := b.Bind("inproc://eng.addr"); err != errs.ErrAddrInUse {
		t.Fatalf("double bind = %v, want %v", err, errs.ErrAddrInUse)
	}
	if err := b.Connect("inproc://eng.nowhere"); err != errs.ErrConnRefused {
		t.Fatalf("connect to nothing = %v, want %v", err, errs.ErrConnRefused)
	}

	val, err := a.GetOption(int(options.LastEndpoint))
	if err != nil || string(val.([]byte)) != "inproc://eng.addr" {
		t.Fatalf("last endpoint = %v, %v", val, err)
	}
}

func TestCloseDisconnectsPeer(t *testing.T) {
	a := open(t, engine.Pair)
	b := open(t, engine.Pair)
	link(t, a, b, "inproc://eng.close")

	edges := make(chan struct{}, 1)
	a.Notify(edges)
	defer a.Unnotify(edges)

	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-edges:
	default:
		t.Fatal("peer close did not raise an edge")
	}
	if err := a.TrySend([]byte("x"), false); err != engine.ErrWouldBlock {
		t.Fatalf("send to closed peer = %v, want %v", err, engine.ErrWouldBlock)
	}
	if err := b.Close(); err != errs.ErrClosed {
		t.Fatalf("second close = %v, want %v", err, errs.ErrClosed)
	}

	if err := b.Bind("inproc://eng.close2"); err != errs.ErrClosed {
		t.Fatalf("bind on closed socket = %v", err)
	}
}

func TestSendOnReceiveOnlyKind(t *testing.T) {
	sub := open(t, engine.Sub)
	if err := sub.TrySend([]byte("x"), false); err != errs.ErrNotSupported {
		t.Fatalf("sub send = %v, want %v", err, errs.ErrNotSupported)
	}
}
