// Package message defines the message part value type exchanged through the
// socket adapter.
package message

import "bytes"

type (
	// Message is a single part of a (possibly multipart) message: an owned
	// byte buffer plus a continuation flag. The flag is only meaningful
	// immediately after a receive; it is undefined on a freshly constructed
	// part.
	Message struct {
		Data []byte
		More bool
	}

	// Vector collects the parts of a multipart message when the part count
	// is not known in advance.
	Vector []Message
)

// From builds a message part around an existing buffer.
func From(data []byte) Message {
	return Message{Data: data}
}

// Size is the part's byte size.
func (m *Message) Size() int {
	return len(m.Data)
}

// CopyTo copies the part into dst, returning the bytes copied.
func (m *Message) CopyTo(dst []byte) int {
	return copy(dst, m.Data)
}

// Equal compares part contents, ignoring the continuation flag.
func (m *Message) Equal(other Message) bool {
	return bytes.Equal(m.Data, other.Data)
}

// Bytes is the total byte size of all parts in the vector.
func (v Vector) Bytes() (n int) {
	for i := range v {
		n += len(v[i].Data)
	}
	return
}
