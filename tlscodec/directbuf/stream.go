package directbuf

import (
	"errors"
	"math"
	"sync"
)

// MaxBufferSize is the exclusive upper bound on the length of a bound buffer.
// Every count reported by a stream fits in a signed 32-bit integer.
const MaxBufferSize = math.MaxInt32

var (
	ErrBufferTooLarge = errors.New("directbuf: buffer length exceeds 32-bit limit")
	ErrAlreadyBound   = errors.New("directbuf: stream already bound")
	ErrNotBound       = errors.New("directbuf: stream not bound")
	ErrShortBuffer    = errors.New("directbuf: bound buffer has insufficient space")
)

// Verify reports whether buf may be bound to a stream. A nil slice always has
// zero length, so the only condition left to check is the size limit.
func Verify(buf []byte) error {
	if len(buf) >= MaxBufferSize {
		return ErrBufferTooLarge
	}
	return nil
}

// Inbound is the stream the engine reads peer ciphertext from.
//
// It is driven by a single goroutine at a time (the handshake or the decoding
// side) and is therefore not synchronized.
type Inbound struct {
	buf   []byte
	off   int
	bound bool
}

// Pending returns the number of bound bytes the engine has not read yet.
func (s *Inbound) Pending() int { return len(s.buf) - s.off }

// Bound reports whether a buffer is currently bound.
func (s *Inbound) Bound() bool { return s.bound }

// Read copies unread bytes into p. An empty bound buffer yields (0, nil).
func (s *Inbound) Read(p []byte) (int, error) {
	if !s.bound {
		return 0, ErrNotBound
	}
	n := copy(p, s.buf[s.off:])
	s.off += n
	return n, nil
}

func (s *Inbound) bind(buf []byte) error {
	if err := Verify(buf); err != nil {
		return err
	}
	if s.bound {
		return ErrAlreadyBound
	}
	s.buf, s.off, s.bound = buf, 0, true
	return nil
}

func (s *Inbound) reset() {
	s.buf, s.off, s.bound = nil, 0, false
}

// Outbound is the stream the engine writes ciphertext for the peer into.
//
// Writes may come from the encoding goroutine and, for alerts, from the
// decoding goroutine, so access is serialized.
type Outbound struct {
	mu    sync.Mutex
	buf   []byte
	n     int
	bound bool
}

// Pending returns the number of bytes written into the bound buffer.
func (s *Outbound) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Bound reports whether a buffer is currently bound.
func (s *Outbound) Bound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Write appends p to the bound buffer. Writes are all-or-nothing: if p does
// not fit, nothing is written and ErrShortBuffer is returned.
func (s *Outbound) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.bound {
		return 0, ErrNotBound
	}
	if len(p) > len(s.buf)-s.n {
		return 0, ErrShortBuffer
	}
	copy(s.buf[s.n:], p)
	s.n += len(p)
	return len(p), nil
}

func (s *Outbound) bind(buf []byte) error {
	if err := Verify(buf); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound {
		return ErrAlreadyBound
	}
	s.buf, s.n, s.bound = buf, 0, true
	return nil
}

func (s *Outbound) reset() {
	s.mu.Lock()
	s.buf, s.n, s.bound = nil, 0, false
	s.mu.Unlock()
}
