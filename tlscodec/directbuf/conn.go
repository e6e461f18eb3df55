package directbuf

import (
	"net"
	"sync/atomic"
	"time"
)

// ErrWouldBlock is returned by Conn.Read once the inbound stream is drained
// and no Parker is installed. It is a temporary net.Error, which crypto/tls
// treats as retryable: partially received records stay buffered in the engine.
var ErrWouldBlock net.Error = wouldBlockError{}

type wouldBlockError struct{}

func (wouldBlockError) Error() string   { return "directbuf: inbound stream drained" }
func (wouldBlockError) Timeout() bool   { return true }
func (wouldBlockError) Temporary() bool { return true }

// Parker suspends an engine that wants to read from a drained inbound stream.
// Park returns nil once new input may have been bound, or an error if the
// engine must give up.
type Parker interface {
	Park() error
}

// Conn presents an Inbound/Outbound pair as a net.Conn.
type Conn struct {
	In  Inbound
	Out Outbound

	parker Parker
	closed atomic.Bool
}

func NewConn() *Conn { return &Conn{} }

// SetParker installs p. It must not be called while the engine may be reading.
func (c *Conn) SetParker(p Parker) { c.parker = p }

func (c *Conn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if c.closed.Load() {
			return 0, net.ErrClosed
		}
		if c.In.Pending() > 0 {
			return c.In.Read(p)
		}
		if c.parker == nil {
			return 0, ErrWouldBlock
		}
		if err := c.parker.Park(); err != nil {
			return 0, err
		}
	}
}

func (c *Conn) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, net.ErrClosed
	}
	return c.Out.Write(p)
}

func (c *Conn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *Conn) LocalAddr() net.Addr  { return bufferAddr{} }
func (c *Conn) RemoteAddr() net.Addr { return bufferAddr{} }

// Deadlines have no meaning for in-memory streams; every call returns promptly.
func (c *Conn) SetDeadline(time.Time) error      { return nil }
func (c *Conn) SetReadDeadline(time.Time) error  { return nil }
func (c *Conn) SetWriteDeadline(time.Time) error { return nil }

type bufferAddr struct{}

func (bufferAddr) Network() string { return "directbuf" }
func (bufferAddr) String() string  { return "caller-buffer" }
