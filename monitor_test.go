package reactmq

import (
	"testing"

	"github.com/reactmq/reactmq/engine"
	"github.com/reactmq/reactmq/options"
)

func expectEvent(t *testing.T, mon *Socket) uint16 {
	t.Helper()
	rec := [][]byte{make([]byte, engine.EventRecordSize)}
	n, err := mon.Recv(rec, 0)
	if err != nil {
		t.Fatalf("recv event: %v", err)
	}
	if n != engine.EventRecordSize {
		t.Fatalf("event record is %d bytes, want %d", n, engine.EventRecordSize)
	}
	code, _ := engine.DecodeEvent(rec[0])
	return code
}

func TestMonitorLifecycleEvents(t *testing.T) {
	loop := startLoop(t)
	router := mustOpen(t, loop, Router)
	dealer := mustOpen(t, loop, Dealer)

	// Monitors attach before bind and connect so no event is missed.
	rmon, err := router.Monitor(loop, engine.EventAll)
	if err != nil {
		t.Fatalf("router monitor: %v", err)
	}
	t.Cleanup(func() { rmon.Close() })
	dmon, err := dealer.Monitor(loop, engine.EventAll)
	if err != nil {
		t.Fatalf("dealer monitor: %v", err)
	}
	t.Cleanup(func() { dmon.Close() })
	for _, mon := range []*Socket{rmon, dmon} {
		if err := mon.SetOption(options.RcvTimeo, 1000); err != nil {
			t.Fatalf("set monitor timeout: %v", err)
		}
	}

	mustLink(t, router, dealer, "inproc://monitored")

	if code := expectEvent(t, rmon); code != engine.EventListening {
		t.Fatalf("first router event = %#x, want listening", code)
	}
	if code := expectEvent(t, rmon); code != engine.EventAccepted {
		t.Fatalf("second router event = %#x, want accepted", code)
	}
	if code := expectEvent(t, dmon); code != engine.EventConnected {
		t.Fatalf("dealer event = %#x, want connected", code)
	}
}

func TestMonitorMask(t *testing.T) {
	loop := startLoop(t)
	router := mustOpen(t, loop, Router)
	dealer := mustOpen(t, loop, Dealer)

	mon, err := router.Monitor(loop, uint32(engine.EventAccepted))
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	t.Cleanup(func() { mon.Close() })
	if err := mon.SetOption(options.RcvTimeo, 1000); err != nil {
		t.Fatalf("set monitor timeout: %v", err)
	}

	mustLink(t, router, dealer, "inproc://monitored.masked")

	// The listening event is masked out; the first record is the accept.
	if code := expectEvent(t, mon); code != engine.EventAccepted {
		t.Fatalf("event = %#x, want accepted", code)
	}
}

func TestMonitorTwiceFails(t *testing.T) {
	loop := startLoop(t)
	s := mustOpen(t, loop, Pair)

	mon, err := s.Monitor(loop, engine.EventAll)
	if err != nil {
		t.Fatalf("monitor: %v", err)
	}
	t.Cleanup(func() { mon.Close() })

	if _, err := s.Monitor(loop, engine.EventAll); err == nil {
		t.Fatal("second monitor on the same socket must fail")
	}
}
