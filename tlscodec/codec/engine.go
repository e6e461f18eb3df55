package codec

import (
	"crypto/tls"
	"net"

	"github.com/TheusHen/tlscodec/tlscodec/directbuf"
)

// stepEvent is what the engine reports back at the end of one handshake step.
type stepEvent struct {
	finished bool
	err      error
}

// engine runs crypto/tls's handshake, which is written as blocking code, one
// step at a time.
//
// The handshake executes on its own goroutine, but only while a Handshake
// call is waiting for it: step resumes the engine and blocks until it either
// parks on a drained inbound stream or returns from the handshake. Engine and
// caller never run at the same time, so the bound buffers are only ever
// touched by one side.
type engine struct {
	conn    *tls.Conn
	streams *directbuf.Conn

	resume  chan struct{}
	events  chan stepEvent
	closing chan struct{}

	started  bool
	finished bool
	err      error
}

func newEngine(conn *tls.Conn, streams *directbuf.Conn) *engine {
	e := &engine{
		conn:    conn,
		streams: streams,
		resume:  make(chan struct{}),
		events:  make(chan stepEvent),
		closing: make(chan struct{}),
	}
	streams.SetParker(e)
	return e
}

// Park implements directbuf.Parker. It runs on the engine goroutine.
func (e *engine) Park() error {
	select {
	case <-e.closing:
		return net.ErrClosed
	default:
	}
	e.events <- stepEvent{}
	select {
	case <-e.resume:
		return nil
	case <-e.closing:
		return net.ErrClosed
	}
}

func (e *engine) run() {
	err := e.conn.Handshake()
	e.events <- stepEvent{finished: true, err: err}
}

// step advances the handshake until the engine needs more peer data or the
// handshake ends. The caller must have bound both streams.
func (e *engine) step() stepEvent {
	if e.finished {
		return stepEvent{finished: true, err: e.err}
	}
	if !e.started {
		e.started = true
		go e.run()
	} else {
		e.resume <- struct{}{}
	}
	ev := <-e.events
	if ev.finished {
		e.finish(ev.err)
	}
	return ev
}

func (e *engine) finish(err error) {
	e.finished = true
	e.err = err
	// Post-handshake reads must not park: a drained stream means "come back
	// with more ciphertext".
	e.streams.SetParker(nil)
}

// close stops a parked handshake goroutine and waits for it to exit.
func (e *engine) close() {
	if !e.started || e.finished {
		return
	}
	close(e.closing)
	for ev := range e.events {
		if ev.finished {
			e.finish(ev.err)
			return
		}
	}
}
