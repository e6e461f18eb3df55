// Package codec drives a TLS session entirely through caller-owned buffers.
//
// A Codec never touches a socket. The caller moves bytes:
//
//	for {
//		res := c.Handshake(fromPeer, toPeer)
//		send(toPeer[:res.Produced])
//		fromPeer = fromPeer[res.Consumed:]
//		if res.Done() || res.Failed() {
//			break
//		}
//		fromPeer = append(fromPeer, receive()...)
//	}
//
// and then alternates Encode and Decode as plaintext and ciphertext become
// available. Every buffer is borrowed for the duration of one call only.
//
// Failures are reported through the Status of a result, never as a Go error
// or panic. The single exception is an engine breaking its own accounting
// (for example consuming a negative number of bytes): that is logged through
// zap's DPanic, which panics under a development logger.
//
// Concurrency: Handshake must not run concurrently with any other call. Once
// the handshake is Done, one goroutine may Encode while another Decodes.
//
// A handshake waiting for peer data keeps a parked goroutine. Close stops it;
// a codec that is simply dropped is closed by its finalizer.
package codec
