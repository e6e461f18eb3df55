package transfer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/TheusHen/tlscodec/tlscodec/codec"
)

var (
	ErrHandshakeFailed  = errors.New("transfer: handshake failed")
	ErrHandshakeStalled = errors.New("transfer: handshake made no progress")
	ErrEncodeFailed     = errors.New("transfer: encode failed")
	ErrDecodeFailed     = errors.New("transfer: decode failed")
	ErrInvalidSide      = errors.New("transfer: invalid side")
)

// DefaultHandshakeRounds bounds Handshake when called with maxRounds <= 0.
// A full TLS 1.2 handshake needs four.
const DefaultHandshakeRounds = 16

// Side names one end of a Link.
type Side uint8

const (
	ClientSide Side = iota
	ServerSide
)

func (s Side) String() string {
	switch s {
	case ClientSide:
		return "client"
	case ServerSide:
		return "server"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

func (s Side) peer() Side { return 1 - s }

func (s Side) valid() bool { return s == ClientSide || s == ServerSide }

// Link connects two codecs through in-flight ciphertext queues.
type Link struct {
	mu     sync.Mutex
	codecs [2]*codec.Codec
	// wire[s] holds ciphertext travelling towards side s.
	wire [2][]byte
	pool *BufferPool
}

func NewLink(client, server *codec.Codec) *Link {
	return &Link{
		codecs: [2]*codec.Codec{client, server},
		pool:   NewBufferPool(0),
	}
}

// Codec returns the codec at side s.
func (l *Link) Codec(s Side) *codec.Codec {
	if !s.valid() {
		return nil
	}
	return l.codecs[s]
}

// Handshake shuttles handshake messages until both codecs are Done. Each
// round gives every side one Handshake call with everything in flight
// towards it.
func (l *Link) Handshake(maxRounds int) error {
	if maxRounds <= 0 {
		maxRounds = DefaultHandshakeRounds
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	buf := l.pool.Get()
	defer l.pool.Put(buf)

	var done [2]bool
	for round := 0; round < maxRounds; round++ {
		progress := false
		for _, s := range []Side{ClientSide, ServerSide} {
			if done[s] {
				continue
			}
			res := l.codecs[s].Handshake(l.wire[s], *buf)
			if res.Failed() {
				return fmt.Errorf("%w: %s side, round %d", ErrHandshakeFailed, s, round)
			}
			l.wire[s] = l.wire[s][res.Consumed:]
			l.wire[s.peer()] = append(l.wire[s.peer()], (*buf)[:res.Produced]...)
			done[s] = res.Done()
			if res.Consumed > 0 || res.Produced > 0 || res.Done() {
				progress = true
			}
		}
		if done[ClientSide] && done[ServerSide] {
			return nil
		}
		if !progress && round > 0 {
			return fmt.Errorf("%w after %d rounds", ErrHandshakeStalled, round+1)
		}
	}
	return fmt.Errorf("%w within %d rounds", ErrHandshakeStalled, maxRounds)
}

// Send encodes all of p on side from and queues the ciphertext towards the
// peer. Plaintext larger than one frame is split across records.
func (l *Link) Send(from Side, p []byte) error {
	if !from.valid() {
		return ErrInvalidSide
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	buf := l.pool.Get()
	defer l.pool.Put(buf)

	c := l.codecs[from]
	for len(p) > 0 {
		res := c.Encode(p, *buf)
		if res.Failed() {
			return fmt.Errorf("%w on %s side", ErrEncodeFailed, from)
		}
		l.wire[from.peer()] = append(l.wire[from.peer()], (*buf)[:res.Produced]...)
		p = p[res.Consumed:]
	}
	return nil
}

// Receive decodes ciphertext in flight towards side into p and returns the
// number of plaintext bytes written. It stops when p is full or the engine
// needs more ciphertext.
func (l *Link) Receive(side Side, p []byte) (int, error) {
	if !side.valid() {
		return 0, ErrInvalidSide
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.codecs[side]
	n := 0
	for n < len(p) {
		res := c.Decode(l.wire[side], p[n:])
		l.wire[side] = l.wire[side][res.Consumed:]
		if res.Failed() {
			return n, fmt.Errorf("%w on %s side", ErrDecodeFailed, side)
		}
		n += res.Produced
		if res.NeedsMorePeerData() || (res.Consumed == 0 && res.Produced == 0) {
			break
		}
	}
	return n, nil
}

// Pending returns how many ciphertext bytes are in flight towards side.
func (l *Link) Pending(side Side) int {
	if !side.valid() {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.wire[side])
}

// Deliver appends raw bytes to the ciphertext in flight towards side.
func (l *Link) Deliver(side Side, b []byte) {
	if !side.valid() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wire[side] = append(l.wire[side], b...)
}

// Take removes and returns the ciphertext in flight towards side.
func (l *Link) Take(side Side) []byte {
	if !side.valid() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.wire[side]
	l.wire[side] = nil
	return b
}

// Close closes both codecs.
func (l *Link) Close() error {
	return errors.Join(l.codecs[ClientSide].Close(), l.codecs[ServerSide].Close())
}
