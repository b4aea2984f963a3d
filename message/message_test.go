package message

import "testing"

func TestMessage(t *testing.T) {
	m := From([]byte("part"))
	if m.Size() != 4 || m.More {
		t.Fatalf("fresh message = %+v", m)
	}

	dst := make([]byte, 2)
	if n := m.CopyTo(dst); n != 2 || string(dst) != "pa" {
		t.Fatalf("copy = %d, %q", n, dst)
	}

	other := From([]byte("part"))
	other.More = true
	if !m.Equal(other) {
		t.Fatal("equality must ignore the continuation flag")
	}

	v := Vector{From([]byte("ab")), From([]byte("cde"))}
	if v.Bytes() != 5 {
		t.Fatalf("vector bytes = %d", v.Bytes())
	}
}
