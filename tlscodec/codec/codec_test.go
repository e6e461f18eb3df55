package codec_test

import (
	"bytes"
	"crypto/rand"
	"crypto/tls"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/TheusHen/tlscodec/tlscodec/codec"
	"github.com/TheusHen/tlscodec/tlscodec/identity"
	"github.com/TheusHen/tlscodec/tlscodec/tlsctx"
)

type pair struct {
	client, server *codec.Codec
	serverKey      identity.KeyPair
}

func newPair(t testing.TB, version uint16, clientOpts, serverOpts codec.Options) *pair {
	t.Helper()
	kp, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	serverCfg, err := tlsctx.NewConfig(tlsctx.Options{
		SelfSigned: true,
		Identity:   &kp,
		MinVersion: version,
		MaxVersion: version,
		NextProtos: []string{"test/1"},
	})
	require.NoError(t, err)
	clientCfg, err := tlsctx.NewConfig(tlsctx.Options{
		MinVersion:         version,
		MaxVersion:         version,
		NextProtos:         []string{"test/1"},
		InsecureSkipVerify: true,
		PinnedPeers:        []identity.PeerID{kp.PeerID()},
	})
	require.NoError(t, err)

	client, err := codec.New(clientCfg, codec.Client, clientOpts)
	require.NoError(t, err)
	server, err := codec.New(serverCfg, codec.Server, serverOpts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return &pair{client: client, server: server, serverKey: kp}
}

// pump runs the handshake, delivering at most chunk bytes of in-flight data
// per call (0 means everything), and checks the per-call accounting.
func pump(t testing.TB, client, server *codec.Codec, chunk int) (toClient, toServer []byte) {
	t.Helper()
	codecs := []*codec.Codec{client, server}
	wire := [2][]byte{}
	done := [2]bool{}
	out := make([]byte, codec.MinimumEncodeBufferSize)

	for calls := 0; calls < 100000; calls++ {
		idle := true
		for s, c := range codecs {
			if done[s] {
				continue
			}
			in := wire[s]
			if chunk > 0 && len(in) > chunk {
				in = in[:chunk]
			}
			res := c.Handshake(in, out)
			require.False(t, res.Failed(), "handshake failed on side %d", s)
			require.LessOrEqual(t, res.Consumed, len(in))
			require.LessOrEqual(t, res.Produced, len(out))
			require.GreaterOrEqual(t, res.Consumed, 0)
			require.GreaterOrEqual(t, res.Produced, 0)

			wire[s] = wire[s][res.Consumed:]
			wire[1-s] = append(wire[1-s], out[:res.Produced]...)
			done[s] = res.Done()
			if res.Consumed > 0 || res.Produced > 0 || res.Done() {
				idle = false
			}
		}
		if done[0] && done[1] {
			return wire[0], wire[1]
		}
		if idle && calls > 0 {
			t.Fatalf("handshake stalled after %d calls", calls)
		}
	}
	t.Fatal("handshake did not finish")
	return nil, nil
}

func encodeAll(t testing.TB, c *codec.Codec, plaintext []byte) []byte {
	t.Helper()
	var wire []byte
	out := make([]byte, codec.MinimumEncodeBufferSize)
	for len(plaintext) > 0 {
		res := c.Encode(plaintext, out)
		require.Equal(t, codec.OK, res.Status)
		require.Positive(t, res.Consumed)
		require.LessOrEqual(t, res.Consumed, codec.MaximumFramePlaintextSize)
		require.LessOrEqual(t, res.Produced, res.Consumed+codec.MaximumFrameOverhead)
		wire = append(wire, out[:res.Produced]...)
		plaintext = plaintext[res.Consumed:]
	}
	return wire
}

// decodeAll feeds wire in chunk-sized pieces (0 means all at once) until want
// plaintext bytes have been produced.
func decodeAll(t testing.TB, c *codec.Codec, wire []byte, want, chunk int) []byte {
	t.Helper()
	got := make([]byte, 0, want)
	buf := make([]byte, codec.MinimumDecodeBufferSize)
	for len(got) < want {
		in := wire
		if chunk > 0 && len(in) > chunk {
			in = in[:chunk]
		}
		res := c.Decode(in, buf)
		require.False(t, res.Failed())
		require.LessOrEqual(t, res.Consumed, len(in))
		require.LessOrEqual(t, res.Produced, len(buf))
		wire = wire[res.Consumed:]
		got = append(got, buf[:res.Produced]...)
		if res.NeedsMorePeerData() {
			require.NotEmpty(t, wire, "engine wants more data but none is left")
		}
	}
	return got
}

func TestNewRejectsBadArguments(t *testing.T) {
	_, err := codec.New(nil, codec.Client, codec.Options{})
	assert.ErrorIs(t, err, codec.ErrNilConfig)

	_, err = codec.New(&tls.Config{}, codec.Role(5), codec.Options{})
	assert.ErrorIs(t, err, codec.ErrInvalidRole)
}

func TestNewDoesNotModifyConfig(t *testing.T) {
	cfg := &tls.Config{InsecureSkipVerify: true}
	c, err := codec.New(cfg, codec.Client, codec.Options{})
	require.NoError(t, err)
	defer c.Close()
	assert.False(t, cfg.DynamicRecordSizingDisabled)
}

func TestHandshake(t *testing.T) {
	for _, v := range []uint16{tls.VersionTLS12, tls.VersionTLS13} {
		t.Run(tls.VersionName(v), func(t *testing.T) {
			p := newPair(t, v, codec.Options{}, codec.Options{})
			assert.False(t, p.client.HandshakeComplete())

			_, toServer := pump(t, p.client, p.server, 0)
			assert.Empty(t, toServer)
			assert.True(t, p.client.HandshakeComplete())
			assert.True(t, p.server.HandshakeComplete())
		})
	}
}

func TestHandshakeIdempotentAfterDone(t *testing.T) {
	p := newPair(t, tls.VersionTLS13, codec.Options{}, codec.Options{})
	pump(t, p.client, p.server, 0)

	in := []byte{1, 2, 3}
	out := make([]byte, 64)
	res := p.server.Handshake(in, out)
	assert.Equal(t, codec.HandshakeResult{Status: codec.Done}, res)
	res = p.server.Handshake(nil, nil)
	assert.Equal(t, codec.HandshakeResult{Status: codec.Done}, res)
}

func TestHandshakeByteAtATime(t *testing.T) {
	for _, v := range []uint16{tls.VersionTLS12, tls.VersionTLS13} {
		t.Run(tls.VersionName(v), func(t *testing.T) {
			p := newPair(t, v, codec.Options{}, codec.Options{})
			toClient, _ := pump(t, p.client, p.server, 1)

			msg := []byte("fragmented")
			wire := encodeAll(t, p.server, msg)
			got := decodeAll(t, p.client, append(toClient, wire...), len(msg), 1)
			assert.Equal(t, msg, got)
		})
	}
}

func TestHandshakeNeedsMorePeerData(t *testing.T) {
	p := newPair(t, tls.VersionTLS13, codec.Options{}, codec.Options{})
	out := make([]byte, codec.MinimumEncodeBufferSize)

	res := p.server.Handshake(nil, out)
	assert.Equal(t, codec.HandshakeResult{Status: codec.NeedsMorePeerData}, res)

	res = p.client.Handshake(nil, out)
	require.Equal(t, codec.NeedsMorePeerData, res.Status)
	assert.Zero(t, res.Consumed)
	assert.Positive(t, res.Produced)
	hello := append([]byte(nil), out[:res.Produced]...)

	res = p.server.Handshake(hello[:3], out)
	assert.Equal(t, codec.HandshakeResult{Consumed: 3, Status: codec.NeedsMorePeerData}, res)
	res = p.server.Handshake(hello[3:], out)
	assert.Equal(t, codec.NeedsMorePeerData, res.Status)
	assert.Equal(t, len(hello)-3, res.Consumed)
	assert.Positive(t, res.Produced)
}

func TestHandshakeOutputBufferTooSmall(t *testing.T) {
	p := newPair(t, tls.VersionTLS13, codec.Options{}, codec.Options{})
	out := make([]byte, codec.MinimumEncodeBufferSize)
	res := p.client.Handshake(nil, out)
	require.Equal(t, codec.NeedsMorePeerData, res.Status)

	res = p.server.Handshake(append([]byte(nil), out[:res.Produced]...), make([]byte, 16))
	assert.Equal(t, codec.Failed, res.Status)
	assert.Zero(t, res.Consumed)
	assert.Zero(t, res.Produced)

	res = p.server.Handshake(nil, out)
	assert.Equal(t, codec.Failed, res.Status)
	assert.False(t, p.server.HandshakeComplete())
}

func TestHandshakeGarbageFails(t *testing.T) {
	p := newPair(t, tls.VersionTLS13, codec.Options{}, codec.Options{})
	res := p.server.Handshake(bytes.Repeat([]byte{0x17}, 64), make([]byte, 1024))
	assert.Equal(t, codec.Failed, res.Status)
}

func TestHandshakePinnedPeerMismatch(t *testing.T) {
	other, err := identity.GenerateKeyPair()
	require.NoError(t, err)

	serverCfg, err := tlsctx.NewConfig(tlsctx.Options{SelfSigned: true})
	require.NoError(t, err)
	clientCfg, err := tlsctx.NewConfig(tlsctx.Options{
		InsecureSkipVerify: true,
		PinnedPeers:        []identity.PeerID{other.PeerID()},
	})
	require.NoError(t, err)

	core, logs := observer.New(zapcore.DebugLevel)
	client, err := codec.New(clientCfg, codec.Client, codec.Options{Logger: zap.New(core)})
	require.NoError(t, err)
	defer client.Close()
	server, err := codec.New(serverCfg, codec.Server, codec.Options{})
	require.NoError(t, err)
	defer server.Close()

	out := make([]byte, codec.MinimumEncodeBufferSize)
	res := client.Handshake(nil, out)
	require.Equal(t, codec.NeedsMorePeerData, res.Status)
	hello := append([]byte(nil), out[:res.Produced]...)
	res = server.Handshake(hello, out)
	require.Equal(t, codec.NeedsMorePeerData, res.Status)
	flight := append([]byte(nil), out[:res.Produced]...)

	res = client.Handshake(flight, out)
	assert.Equal(t, codec.Failed, res.Status)
	assert.False(t, client.HandshakeComplete())
	assert.Equal(t, 1, logs.FilterMessage("TLS handshake failed").Len())
}

func TestHandshakeLogsCompletion(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p := newPair(t, tls.VersionTLS13, codec.Options{Logger: zap.New(core)}, codec.Options{})
	pump(t, p.client, p.server, 0)

	entries := logs.FilterMessage("TLS handshake complete").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "TLS 1.3", fields["version"])
	assert.Equal(t, "test/1", fields["alpn"])
	assert.Equal(t, p.client.ID(), fields["codec_id"])
	assert.Equal(t, "client", fields["role"])
}

func TestEncodeDecodeBeforeHandshake(t *testing.T) {
	p := newPair(t, tls.VersionTLS13, codec.Options{}, codec.Options{})
	buf := make([]byte, codec.MinimumEncodeBufferSize)

	enc := p.client.Encode([]byte("early"), buf)
	assert.Equal(t, codec.EncodeResult{Status: codec.Failed}, enc)
	dec := p.client.Decode([]byte("early"), buf)
	assert.Equal(t, codec.DecodeResult{Status: codec.Failed}, dec)

	// The failed calls leave the handshake usable.
	pump(t, p.client, p.server, 0)
}

func TestRoundTrip(t *testing.T) {
	for _, v := range []uint16{tls.VersionTLS12, tls.VersionTLS13} {
		t.Run(tls.VersionName(v), func(t *testing.T) {
			p := newPair(t, v, zapOptions(t), zapOptions(t))
			toClient, _ := pump(t, p.client, p.server, 0)

			msg := []byte("hello, server")
			got := decodeAll(t, p.server, encodeAll(t, p.client, msg), len(msg), 0)
			assert.Equal(t, msg, got)

			reply := []byte("hello, client")
			got = decodeAll(t, p.client, append(toClient, encodeAll(t, p.server, reply)...), len(reply), 0)
			assert.Equal(t, reply, got)
		})
	}
}

func TestEncodeCapsAtOneFrame(t *testing.T) {
	p := newPair(t, tls.VersionTLS13, codec.Options{}, codec.Options{})
	pump(t, p.client, p.server, 0)

	plaintext := make([]byte, 2*codec.MaximumFramePlaintextSize+10)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)

	out := make([]byte, codec.MinimumEncodeBufferSize)
	res := p.client.Encode(plaintext, out)
	require.Equal(t, codec.OK, res.Status)
	assert.Equal(t, codec.MaximumFramePlaintextSize, res.Consumed)
	assert.LessOrEqual(t, res.Produced, codec.MaximumTLSFrameSize)

	wire := append([]byte(nil), out[:res.Produced]...)
	wire = append(wire, encodeAll(t, p.client, plaintext[res.Consumed:])...)
	got := decodeAll(t, p.server, wire, len(plaintext), 0)
	assert.True(t, bytes.Equal(plaintext, got))
}

func TestEncodeEmptyPlaintext(t *testing.T) {
	p := newPair(t, tls.VersionTLS13, codec.Options{}, codec.Options{})
	pump(t, p.client, p.server, 0)

	res := p.client.Encode(nil, make([]byte, codec.MinimumEncodeBufferSize))
	assert.Equal(t, codec.EncodeResult{Status: codec.OK}, res)
}

func TestEncodeShortCiphertextBuffer(t *testing.T) {
	p := newPair(t, tls.VersionTLS13, codec.Options{}, codec.Options{})
	pump(t, p.client, p.server, 0)

	msg := []byte("does not fit")
	res := p.client.Encode(msg, make([]byte, len(msg)+10))
	assert.Equal(t, codec.EncodeResult{Status: codec.Failed}, res)

	// The refused call leaves the write side usable.
	got := decodeAll(t, p.server, encodeAll(t, p.client, msg), len(msg), 0)
	assert.Equal(t, msg, got)
}

func TestDecodeEmptyPlaintextBuffer(t *testing.T) {
	p := newPair(t, tls.VersionTLS13, codec.Options{}, codec.Options{})
	pump(t, p.client, p.server, 0)

	wire := encodeAll(t, p.client, []byte("x"))
	res := p.server.Decode(wire, nil)
	assert.Equal(t, codec.DecodeResult{Status: codec.Failed}, res)
}

func TestDecodeIntoSmallBuffer(t *testing.T) {
	p := newPair(t, tls.VersionTLS13, codec.Options{}, codec.Options{})
	pump(t, p.client, p.server, 0)

	msg := []byte("0123456789abcdefghij")
	wire := encodeAll(t, p.client, msg)

	small := make([]byte, 8)
	res := p.server.Decode(wire, small)
	require.Equal(t, codec.OK, res.Status)
	assert.Equal(t, len(wire), res.Consumed)
	assert.Equal(t, 8, res.Produced)
	got := append([]byte(nil), small[:res.Produced]...)

	// The rest of the record is already inside the engine.
	for len(got) < len(msg) {
		res = p.server.Decode(nil, small)
		require.Equal(t, codec.OK, res.Status)
		assert.Zero(t, res.Consumed)
		got = append(got, small[:res.Produced]...)
	}
	assert.Equal(t, msg, got)

	res = p.server.Decode(nil, small)
	assert.Equal(t, codec.DecodeResult{Status: codec.NeedsMorePeerData}, res)
}

func TestDecodePartialFrame(t *testing.T) {
	p := newPair(t, tls.VersionTLS13, codec.Options{}, codec.Options{})
	pump(t, p.client, p.server, 0)

	wire := encodeAll(t, p.client, []byte("split record"))
	buf := make([]byte, 64)

	res := p.server.Decode(wire[:7], buf)
	assert.Equal(t, codec.DecodeResult{Consumed: 7, Status: codec.NeedsMorePeerData}, res)

	res = p.server.Decode(wire[7:], buf)
	require.Equal(t, codec.OK, res.Status)
	assert.Equal(t, len(wire)-7, res.Consumed)
	assert.Equal(t, "split record", string(buf[:res.Produced]))
}

func TestDecodeTamperedCiphertext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	p := newPair(t, tls.VersionTLS13, codec.Options{}, codec.Options{Logger: zap.New(core)})
	pump(t, p.client, p.server, 0)

	wire := encodeAll(t, p.client, []byte("integrity"))
	wire[len(wire)-1] ^= 0x01

	res := p.server.Decode(wire, make([]byte, 64))
	assert.Equal(t, codec.Failed, res.Status)
	assert.Zero(t, res.Produced)
	assert.Equal(t, 1, logs.FilterMessage("TLS read failed").Len())

	// Failure is sticky.
	res = p.server.Decode(encodeAll(t, p.client, []byte("again")), make([]byte, 64))
	assert.Equal(t, codec.Failed, res.Status)
}

func TestCloseSuspendedHandshake(t *testing.T) {
	p := newPair(t, tls.VersionTLS13, codec.Options{}, codec.Options{})
	res := p.client.Handshake(nil, make([]byte, codec.MinimumEncodeBufferSize))
	require.Equal(t, codec.NeedsMorePeerData, res.Status)

	closed := make(chan error, 1)
	go func() { closed <- p.client.Close() }()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestConnectionStateDuringHandshake(t *testing.T) {
	p := newPair(t, tls.VersionTLS13, codec.Options{}, codec.Options{})
	res := p.client.Handshake(nil, make([]byte, codec.MinimumEncodeBufferSize))
	require.Equal(t, codec.NeedsMorePeerData, res.Status)

	states := make(chan tls.ConnectionState, 1)
	go func() { states <- p.client.ConnectionState() }()
	select {
	case state := <-states:
		assert.False(t, state.HandshakeComplete)
		assert.Zero(t, state.Version)
	case <-time.After(5 * time.Second):
		t.Fatal("ConnectionState did not return while the handshake was suspended")
	}

	pump(t, p.client, p.server, 0)
	state := p.client.ConnectionState()
	assert.True(t, state.HandshakeComplete)
	assert.Equal(t, uint16(tls.VersionTLS13), state.Version)
	assert.Equal(t, "test/1", state.NegotiatedProtocol)
}

// suspendHandshakes starts n client handshakes and drops the codecs without
// closing them.
func suspendHandshakes(t *testing.T, n int) {
	t.Helper()
	out := make([]byte, codec.MinimumEncodeBufferSize)
	for i := 0; i < n; i++ {
		c, err := codec.New(&tls.Config{InsecureSkipVerify: true}, codec.Client, codec.Options{})
		require.NoError(t, err)
		res := c.Handshake(nil, out)
		require.Equal(t, codec.NeedsMorePeerData, res.Status)
	}
}

func TestDroppedCodecReleasesHandshake(t *testing.T) {
	const codecs = 50
	before := runtime.NumGoroutine()
	suspendHandshakes(t, codecs)

	assert.Eventually(t, func() bool {
		runtime.GC()
		return runtime.NumGoroutine() <= before+5
	}, 10*time.Second, 20*time.Millisecond)
}

func TestCloseBeforeHandshake(t *testing.T) {
	c, err := codec.New(&tls.Config{InsecureSkipVerify: true}, codec.Client, codec.Options{})
	require.NoError(t, err)
	assert.NoError(t, c.Close())
}

func TestConcurrentEncodeDecode(t *testing.T) {
	p := newPair(t, tls.VersionTLS13, codec.Options{}, codec.Options{})
	toClient, _ := pump(t, p.client, p.server, 0)

	const messages = 200
	msg := bytes.Repeat([]byte("m"), 1000)

	var fromServer []byte
	for i := 0; i < messages; i++ {
		fromServer = append(fromServer, encodeAll(t, p.server, msg)...)
	}
	fromServer = append(toClient, fromServer...)

	var wg sync.WaitGroup
	var toServer []byte
	var received []byte
	wg.Add(2)
	go func() {
		defer wg.Done()
		out := make([]byte, codec.MinimumEncodeBufferSize)
		for i := 0; i < messages; i++ {
			res := p.client.Encode(msg, out)
			if res.Status != codec.OK {
				t.Errorf("encode %d: %s", i, res.Status)
				return
			}
			toServer = append(toServer, out[:res.Produced]...)
		}
	}()
	go func() {
		defer wg.Done()
		buf := make([]byte, codec.MinimumDecodeBufferSize)
		wire := fromServer
		for len(received) < messages*len(msg) {
			res := p.client.Decode(wire, buf)
			if res.Failed() || (res.NeedsMorePeerData() && len(wire) == 0) {
				t.Errorf("decode stopped with %s after %d bytes", res.Status, len(received))
				return
			}
			wire = wire[res.Consumed:]
			received = append(received, buf[:res.Produced]...)
		}
	}()
	wg.Wait()

	assert.Equal(t, messages*len(msg), len(received))
	got := decodeAll(t, p.server, toServer, messages*len(msg), 0)
	assert.Equal(t, bytes.Repeat(msg, messages), got)
}

func zapOptions(t *testing.T) codec.Options {
	return codec.Options{Logger: zaptest.NewLogger(t)}
}

func BenchmarkEncode(b *testing.B) {
	p := newPair(b, tls.VersionTLS13, codec.Options{}, codec.Options{})
	pump(b, p.client, p.server, 0)

	plaintext := make([]byte, codec.MaximumFramePlaintextSize)
	out := make([]byte, codec.MinimumEncodeBufferSize)
	b.SetBytes(int64(len(plaintext)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if res := p.client.Encode(plaintext, out); res.Failed() {
			b.Fatal("encode failed")
		}
	}
}

func BenchmarkRoundTrip(b *testing.B) {
	p := newPair(b, tls.VersionTLS13, codec.Options{}, codec.Options{})
	pump(b, p.client, p.server, 0)

	plaintext := make([]byte, codec.MaximumFramePlaintextSize)
	wire := make([]byte, codec.MinimumEncodeBufferSize)
	buf := make([]byte, codec.MinimumDecodeBufferSize)
	b.SetBytes(int64(len(plaintext)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		enc := p.client.Encode(plaintext, wire)
		if enc.Failed() {
			b.Fatal("encode failed")
		}
		dec := p.server.Decode(wire[:enc.Produced], buf)
		if dec.Failed() || dec.Consumed != enc.Produced {
			b.Fatalf("decode: %+v", dec)
		}
	}
}
