package options

import (
	"bytes"
	"errors"
	"testing"

	"github.com/reactmq/reactmq/errs"
)

// mapHost stores options verbatim, like an engine that accepts any id.
type mapHost map[int]interface{}

func (h mapHost) SetOption(id int, val interface{}) error {
	h[id] = val
	return nil
}

func (h mapHost) GetOption(id int) (interface{}, error) {
	val, ok := h[id]
	if !ok {
		return nil, errs.ErrBadOption
	}
	return val, nil
}

func TestSetGetRoundTrip(t *testing.T) {
	h := mapHost{}

	if err := Set(h, SndHWM, 500); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if val, err := Get(h, SndHWM); err != nil || SndHWM.Value(val) != 500 {
		t.Fatalf("get int = %v, %v", val, err)
	}

	if err := Set(h, Affinity, uint64(7)); err != nil {
		t.Fatalf("set uint64: %v", err)
	}
	if val, err := Get(h, Affinity); err != nil || Affinity.Value(val) != 7 {
		t.Fatalf("get uint64 = %v, %v", val, err)
	}

	if err := Set(h, Immediate, true); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if val, err := Get(h, Immediate); err != nil || !Immediate.Value(val) {
		t.Fatalf("get bool = %v, %v", val, err)
	}

	if err := Set(h, Identity, []byte("id-1")); err != nil {
		t.Fatalf("set binary: %v", err)
	}
	if val, err := Get(h, Identity); err != nil || !bytes.Equal(Identity.Value(val), []byte("id-1")) {
		t.Fatalf("get binary = %v, %v", val, err)
	}
}

func TestSetRejectsWrongKind(t *testing.T) {
	h := mapHost{}
	cases := []struct {
		o   Option
		val interface{}
	}{
		{SndHWM, "not an int"},
		{Affinity, 7}, // int, not uint64
		{Immediate, 1},
		{Identity, "not bytes"},
	}
	for _, c := range cases {
		err := Set(h, c.o, c.val)
		var oe *errs.OptionError
		if !errors.As(err, &oe) {
			t.Fatalf("option %d: error = %v, want *OptionError", c.o.ID(), err)
		}
		if oe.ID != c.o.ID() {
			t.Fatalf("error id = %d, want %d", oe.ID, c.o.ID())
		}
		if !errors.Is(err, errs.ErrBadValue) {
			t.Fatalf("option %d: error does not wrap %v", c.o.ID(), errs.ErrBadValue)
		}
		if len(h) != 0 {
			t.Fatalf("rejected value reached the host: %v", h)
		}
	}
}

func TestGetChecksValueKind(t *testing.T) {
	// A host handing back the wrong kind is a codec violation, reported with
	// the option id attached.
	h := mapHost{SndHWM.ID(): "mangled"}
	_, err := Get(h, SndHWM)
	var oe *errs.OptionError
	if !errors.As(err, &oe) || oe.ID != SndHWM.ID() {
		t.Fatalf("error = %v", err)
	}
}

func TestGetUnknownOption(t *testing.T) {
	h := mapHost{}
	_, err := Get(h, Linger)
	if !errors.Is(err, errs.ErrBadOption) {
		t.Fatalf("error = %v, want %v", err, errs.ErrBadOption)
	}
	var oe *errs.OptionError
	if !errors.As(err, &oe) || oe.ID != Linger.ID() {
		t.Fatalf("error = %v, want id %d", err, Linger.ID())
	}
}

func TestAdapterOptionSpace(t *testing.T) {
	if AllowSpeculative.ID() < AdapterOptionBase {
		t.Fatalf("adapter option %d below the adapter id space", AllowSpeculative.ID())
	}
	engineOpts := []Option{
		Affinity, Identity, Subscribe, Unsubscribe, RcvMore, Type, Linger,
		SndHWM, RcvHWM, RcvTimeo, SndTimeo, LastEndpoint, Immediate,
	}
	for _, o := range engineOpts {
		if o.ID() >= AdapterOptionBase {
			t.Fatalf("engine option %d inside the adapter id space", o.ID())
		}
	}
}
