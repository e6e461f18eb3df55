package codec

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/TheusHen/tlscodec/tlscodec/directbuf"
	"github.com/TheusHen/tlscodec/tlscodec/metrics"
	"github.com/TheusHen/tlscodec/tlscodec/record"
)

const (
	// MaximumFramePlaintextSize caps the plaintext one Encode call submits.
	MaximumFramePlaintextSize = record.MaxPlaintextSize
	// MaximumTLSFrameSize is the largest record a peer may send.
	MaximumTLSFrameSize = record.MaxFrameSize
	// MaximumFrameOverhead bounds how much larger than its plaintext a single
	// record produced by Encode can be.
	MaximumFrameOverhead = 256

	MinimumEncodeBufferSize = MaximumTLSFrameSize
	MinimumDecodeBufferSize = MaximumFramePlaintextSize
)

var (
	ErrNilConfig   = errors.New("codec: nil TLS config")
	ErrInvalidRole = errors.New("codec: invalid role")
)

// Role selects which side of the handshake a codec plays.
type Role uint8

const (
	Client Role = iota
	Server
)

func (r Role) String() string {
	switch r {
	case Client:
		return "client"
	case Server:
		return "server"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Options carries the ambient collaborators of a codec. The zero value logs
// nothing and records no metrics.
type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// session is the part of tls.Conn the codec drives outside the handshake
// goroutine.
type session interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	ConnectionState() tls.ConnectionState
	Close() error
}

// Codec is a TLS session whose ciphertext lives in caller buffers.
type Codec struct {
	id      ksuid.KSUID
	role    Role
	streams *directbuf.Conn
	conn    session
	engine  *engine
	done    atomic.Bool
	log     *zap.Logger
	metrics *metrics.Metrics
}

// New creates a codec on top of config, which belongs to the caller and is
// not modified. Renegotiation is always refused and every Encode call emits
// at most one record.
//
// A codec dropped without Close is closed when the garbage collector
// reclaims it, which also stops a handshake suspended waiting for peer data.
func New(config *tls.Config, role Role, opts Options) (*Codec, error) {
	if config == nil {
		return nil, ErrNilConfig
	}
	cfg := config.Clone()
	cfg.Renegotiation = tls.RenegotiateNever
	cfg.DynamicRecordSizingDisabled = true

	streams := directbuf.NewConn()
	var conn *tls.Conn
	switch role {
	case Client:
		conn = tls.Client(streams, cfg)
	case Server:
		conn = tls.Server(streams, cfg)
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidRole, uint8(role))
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	id := ksuid.New()
	c := &Codec{
		id:      id,
		role:    role,
		streams: streams,
		conn:    conn,
		engine:  newEngine(conn, streams),
		log:     logger.With(zap.String("codec_id", id.String()), zap.Stringer("role", role)),
		metrics: opts.Metrics,
	}
	// The engine goroutine never references c, so an abandoned codec stays
	// collectable.
	runtime.SetFinalizer(c, (*Codec).Close)
	return c, nil
}

func (c *Codec) Role() Role { return c.role }

// ID identifies the codec in log entries.
func (c *Codec) ID() string { return c.id.String() }

// HandshakeComplete reports whether Handshake has returned Done.
func (c *Codec) HandshakeComplete() bool { return c.done.Load() }

// ConnectionState reports the negotiated parameters. It returns the zero
// state until HandshakeComplete is true.
func (c *Codec) ConnectionState() tls.ConnectionState {
	if !c.done.Load() {
		// A suspended handshake holds the engine's handshake lock.
		return tls.ConnectionState{}
	}
	return c.conn.ConnectionState()
}

// Close releases the engine. A handshake suspended waiting for peer data is
// abandoned. The codec must not be used afterwards.
func (c *Codec) Close() error {
	runtime.SetFinalizer(c, nil)
	c.engine.close()
	// close_notify cannot be delivered without a bound buffer; the error only
	// says so.
	_ = c.conn.Close()
	return nil
}

// Handshake feeds fromPeer to the engine and collects whatever it wants to
// send into toPeer. It is a no-op returning Done once the handshake finished.
func (c *Codec) Handshake(fromPeer, toPeer []byte) HandshakeResult {
	if c.done.Load() {
		return handshakeCompleted()
	}
	in, err := directbuf.BindConst(&c.streams.In, fromPeer)
	if err != nil {
		return c.handshakePrecondition(err)
	}
	defer in.Release()
	out, err := directbuf.BindMutable(&c.streams.Out, toPeer)
	if err != nil {
		return c.handshakePrecondition(err)
	}
	defer out.Release()

	res := c.doHandshakeAndConsumePeerInput()
	if res.Failed() {
		return res
	}
	// The step may have produced bytes to send even when it also needs more
	// peer data, and after completion.
	res.Produced = c.streams.Out.Pending()
	c.metrics.Ciphertext(metrics.DirectionIn, res.Consumed)
	c.metrics.Ciphertext(metrics.DirectionOut, res.Produced)
	return res
}

func (c *Codec) doHandshakeAndConsumePeerInput() HandshakeResult {
	before := c.streams.In.Pending()
	ev := c.engine.step()
	consumed := before - c.streams.In.Pending()
	if consumed < 0 {
		c.log.DPanic("handshake consumed a negative number of bytes",
			zap.Int("pending_before", before), zap.Int("pending_after", c.streams.In.Pending()))
		return c.handshakeFailure(FailureContractViolation)
	}

	switch {
	case !ev.finished:
		c.log.Debug("TLS handshake needs more peer data", zap.Int("consumed", consumed))
		return HandshakeResult{Consumed: consumed, Status: NeedsMorePeerData}
	case ev.err == nil:
		state := c.conn.ConnectionState()
		if !state.HandshakeComplete {
			c.log.Error("TLS handshake is not complete even though the engine reported success")
			return c.handshakeFailure(FailureContractViolation)
		}
		c.done.Store(true)
		c.metrics.HandshakeDone()
		c.log.Debug("TLS handshake complete",
			zap.String("version", tls.VersionName(state.Version)),
			zap.String("cipher_suite", tls.CipherSuiteName(state.CipherSuite)),
			zap.String("alpn", state.NegotiatedProtocol))
		return HandshakeResult{Consumed: consumed, Status: Done}
	default:
		c.log.Error("TLS handshake failed", zap.Error(ev.err))
		return c.handshakeFailure(FailureProtocol)
	}
}

func (c *Codec) handshakePrecondition(err error) HandshakeResult {
	c.log.Error("handshake called with an unusable buffer", zap.Error(err))
	c.metrics.Failure("handshake", FailurePrecondition.String())
	return handshakeFailed()
}

func (c *Codec) handshakeFailure(kind FailureKind) HandshakeResult {
	c.metrics.HandshakeFailed()
	c.metrics.Failure("handshake", kind.String())
	return handshakeFailed()
}

// Encode protects up to MaximumFramePlaintextSize bytes of plaintext into
// ciphertext. Larger plaintext needs repeated calls. ciphertext must have room
// for the consumed plaintext plus MaximumFrameOverhead; MinimumEncodeBufferSize
// is always enough.
func (c *Codec) Encode(plaintext, ciphertext []byte) EncodeResult {
	if !c.done.Load() {
		return c.encodePrecondition("encode called before handshake completed", nil)
	}
	if err := directbuf.Verify(plaintext); err != nil {
		return c.encodePrecondition("encode called with an unusable plaintext buffer", err)
	}
	out, err := directbuf.BindMutable(&c.streams.Out, ciphertext)
	if err != nil {
		return c.encodePrecondition("encode called with an unusable ciphertext buffer", err)
	}
	defer out.Release()
	// The inbound stream is not touched here.

	consumed := 0
	if len(plaintext) != 0 {
		toConsume := min(len(plaintext), MaximumFramePlaintextSize)
		if len(ciphertext) < toConsume+MaximumFrameOverhead {
			// A short write would poison the engine's write side for good.
			return c.encodePrecondition("ciphertext buffer too small for one frame", nil,
				zap.Int("plaintext", toConsume), zap.Int("ciphertext_capacity", len(ciphertext)))
		}
		n, err := c.conn.Write(plaintext[:toConsume])
		if err != nil {
			c.log.Error("TLS write failed", zap.Error(err), zap.Int("written", n))
			c.metrics.Failure("encode", FailureProtocol.String())
			return encodeFailed()
		}
		if n != toConsume {
			c.log.Error("TLS write returned OK but did not consume all requested plaintext",
				zap.Int("requested", toConsume), zap.Int("written", n))
			c.metrics.Failure("encode", FailureContractViolation.String())
			return encodeFailed()
		}
		consumed = n
	}
	produced := c.streams.Out.Pending()
	c.metrics.Plaintext(metrics.DirectionOut, consumed)
	c.metrics.Ciphertext(metrics.DirectionOut, produced)
	return EncodeResult{Consumed: consumed, Produced: produced, Status: OK}
}

func (c *Codec) encodePrecondition(msg string, err error, fields ...zap.Field) EncodeResult {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	c.log.Error(msg, fields...)
	c.metrics.Failure("encode", FailurePrecondition.String())
	return encodeFailed()
}

// Decode feeds ciphertext to the engine and writes recovered plaintext into
// plaintext. The engine keeps incomplete frames internally, so a call that
// reports NeedsMorePeerData may still have consumed bytes.
func (c *Codec) Decode(ciphertext, plaintext []byte) DecodeResult {
	if !c.done.Load() {
		return c.decodePrecondition("decode called before handshake completed", nil)
	}
	if err := directbuf.Verify(plaintext); err != nil {
		return c.decodePrecondition("decode called with an unusable plaintext buffer", err)
	}
	if len(plaintext) == 0 {
		return c.decodePrecondition("decode called with an empty plaintext buffer", nil)
	}
	in, err := directbuf.BindConst(&c.streams.In, ciphertext)
	if err != nil {
		return c.decodePrecondition("decode called with an unusable ciphertext buffer", err)
	}
	defer in.Release()
	// The outbound stream is not written here.

	before := c.streams.In.Pending()
	res := c.drainAndProducePlaintext(plaintext)
	after := c.streams.In.Pending()
	if before < after {
		c.log.DPanic("decode consumed a negative number of bytes",
			zap.Int("pending_before", before), zap.Int("pending_after", after))
		c.metrics.Failure("decode", FailureContractViolation.String())
		return decodeFailed()
	}
	res.Consumed = before - after
	if res.Failed() {
		return res
	}
	c.metrics.Ciphertext(metrics.DirectionIn, res.Consumed)
	c.metrics.Plaintext(metrics.DirectionIn, res.Produced)
	return res
}

func (c *Codec) drainAndProducePlaintext(plaintext []byte) DecodeResult {
	// Read pulls from the inbound stream into the engine and decodes as many
	// complete frames as fit into plaintext.
	n, err := c.conn.Read(plaintext)
	switch {
	case n > 0:
		return DecodeResult{Produced: n, Status: OK}
	case errors.Is(err, directbuf.ErrWouldBlock):
		return DecodeResult{Status: NeedsMorePeerData}
	case err == nil:
		c.log.Error("TLS read returned neither plaintext nor an error")
		c.metrics.Failure("decode", FailureContractViolation.String())
		return decodeFailed()
	case errors.Is(err, io.EOF):
		c.log.Info("peer closed the TLS session")
		c.metrics.Failure("decode", FailureProtocol.String())
		return decodeFailed()
	default:
		c.log.Error("TLS read failed", zap.Error(err))
		c.metrics.Failure("decode", FailureProtocol.String())
		return decodeFailed()
	}
}

func (c *Codec) decodePrecondition(msg string, err error) DecodeResult {
	if err != nil {
		c.log.Error(msg, zap.Error(err))
	} else {
		c.log.Error(msg)
	}
	c.metrics.Failure("decode", FailurePrecondition.String())
	return decodeFailed()
}
