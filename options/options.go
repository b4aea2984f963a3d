// Package options is the option codec between typed socket options and the
// native engine's integer-id keyed get/set primitive.
//
// Options form a small closed set of tagged value kinds (integer, unsigned
// long, boolean, binary) keyed by an option id. Values are validated once
// here, before they reach the engine; failures always carry the offending id.
package options

import (
	"github.com/reactmq/reactmq/errs"
)

type (
	// Host is the native engine's option surface.
	Host interface {
		SetOption(id int, val interface{}) error
		GetOption(id int) (val interface{}, err error)
	}

	// Option is a typed option descriptor keyed by an integer id.
	Option interface {
		ID() int
		Validate(val interface{}) error
	}

	// IntOption is an option with a signed integer value.
	IntOption int

	// Uint64Option is an option with an unsigned long integer value.
	Uint64Option int

	// BoolOption is an option with a boolean value.
	BoolOption int

	// BinaryOption is an option with a binary blob value.
	BinaryOption int
)

// option ids. The numbering mirrors the wrapped engine's option space; ids at
// or above AdapterOptionBase belong to the adapter and are never forwarded.
const (
	Affinity     = Uint64Option(4)
	Identity     = BinaryOption(5)
	Subscribe    = BinaryOption(6)
	Unsubscribe  = BinaryOption(7)
	RcvMore      = IntOption(13)
	Type         = IntOption(16)
	Linger       = IntOption(17)
	SndHWM       = IntOption(23)
	RcvHWM       = IntOption(24)
	RcvTimeo     = IntOption(27)
	SndTimeo     = IntOption(28)
	LastEndpoint = BinaryOption(32)
	Immediate    = BoolOption(39)

	// AdapterOptionBase marks the start of the adapter-local id space.
	AdapterOptionBase = 1000

	// AllowSpeculative enables the immediate pre-queue attempt on
	// asynchronous operations.
	AllowSpeculative = BoolOption(AdapterOptionBase)
)

// Set validates val against o and applies it to the host. Failures are
// reported as *errs.OptionError carrying o's id.
func Set(h Host, o Option, val interface{}) error {
	if err := o.Validate(val); err != nil {
		return &errs.OptionError{ID: o.ID(), Err: err}
	}
	if err := h.SetOption(o.ID(), val); err != nil {
		return &errs.OptionError{ID: o.ID(), Err: err}
	}
	return nil
}

// Get retrieves o's value from the host, checking the value kind on the way
// out.
func Get(h Host, o Option) (interface{}, error) {
	val, err := h.GetOption(o.ID())
	if err != nil {
		return nil, &errs.OptionError{ID: o.ID(), Err: err}
	}
	if err := o.Validate(val); err != nil {
		return nil, &errs.OptionError{ID: o.ID(), Err: err}
	}
	return val, nil
}

// ID implements Option.
func (o IntOption) ID() int { return int(o) }

// Validate implements Option.
func (o IntOption) Validate(val interface{}) error {
	if _, ok := val.(int); !ok {
		return errs.ErrBadValue
	}
	return nil
}

// Value unwraps a validated value; val must hold an int.
func (o IntOption) Value(val interface{}) int {
	return val.(int)
}

// ID implements Option.
func (o Uint64Option) ID() int { return int(o) }

// Validate implements Option.
func (o Uint64Option) Validate(val interface{}) error {
	if _, ok := val.(uint64); !ok {
		return errs.ErrBadValue
	}
	return nil
}

// Value unwraps a validated value; val must hold a uint64.
func (o Uint64Option) Value(val interface{}) uint64 {
	return val.(uint64)
}

// ID implements Option.
func (o BoolOption) ID() int { return int(o) }

// Validate implements Option.
func (o BoolOption) Validate(val interface{}) error {
	if _, ok := val.(bool); !ok {
		return errs.ErrBadValue
	}
	return nil
}

// Value unwraps a validated value; val must hold a bool.
func (o BoolOption) Value(val interface{}) bool {
	return val.(bool)
}

// ID implements Option.
func (o BinaryOption) ID() int { return int(o) }

// Validate implements Option.
func (o BinaryOption) Validate(val interface{}) error {
	if _, ok := val.([]byte); !ok {
		return errs.ErrBadValue
	}
	return nil
}

// Value unwraps a validated value; val must hold a []byte.
func (o BinaryOption) Value(val interface{}) []byte {
	return val.([]byte)
}
