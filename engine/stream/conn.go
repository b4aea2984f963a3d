package stream

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"

	"github.com/reactmq/reactmq/errs"
)

// Wire format for net.Conn transports: each part is a 4-byte big-endian
// payload length, one flag byte (bit 0 set when further parts of the same
// message follow) and the payload.
const (
	partHeaderSize = 5
	maxPartSize    = 64 * 1024 * 1024

	flagMore = 0x01
)

// netConn frames message parts over a byte stream.
type netConn struct {
	c net.Conn
	r *bufio.Reader
}

func newNetConn(c net.Conn) *netConn {
	return &netConn{c: c, r: bufio.NewReader(c)}
}

func (c *netConn) WritePart(part []byte, more bool) error {
	if len(part) > maxPartSize {
		return errs.ErrMsgTooLong
	}
	buf := make([]byte, partHeaderSize+len(part))
	binary.BigEndian.PutUint32(buf, uint32(len(part)))
	if more {
		buf[4] = flagMore
	}
	copy(buf[partHeaderSize:], part)
	_, err := c.c.Write(buf)
	return err
}

func (c *netConn) ReadPart() (part []byte, more bool, err error) {
	var hdr [partHeaderSize]byte
	if _, err = io.ReadFull(c.r, hdr[:]); err != nil {
		return nil, false, err
	}
	size := binary.BigEndian.Uint32(hdr[:4])
	if size > maxPartSize {
		return nil, false, errs.ErrMsgTooLong
	}
	part = make([]byte, size)
	if _, err = io.ReadFull(c.r, part); err != nil {
		return nil, false, err
	}
	return part, hdr[4]&flagMore != 0, nil
}

func (c *netConn) Close() error {
	return c.c.Close()
}

// netListener adapts a net.Listener, rebuilding the full address with the
// transport scheme so wildcard ports resolve to something dialable.
type netListener struct {
	ln     net.Listener
	scheme string
}

func (l *netListener) Accept() (Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return newNetConn(c), nil
}

func (l *netListener) Addr() string {
	return l.scheme + l.ln.Addr().String()
}

func (l *netListener) Close() error {
	return l.ln.Close()
}
