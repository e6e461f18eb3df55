// Package directbuf exposes caller-owned memory to a TLS engine as its inbound
// and outbound ciphertext streams.
//
// A stream is only ever backed by a buffer belonging to the caller of the
// operation in progress. Buffers are bound through a view guard whose Release
// puts the stream back into the unbound state, and nothing is copied into
// storage owned by this package:
//
//	view, err := directbuf.BindConst(&conn.In, fromPeer)
//	if err != nil {
//		return err
//	}
//	defer view.Release()
//
// Conn adapts the two streams to net.Conn so that crypto/tls can run on top of
// them without owning a socket.
package directbuf
