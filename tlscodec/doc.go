// Package tlscodec provides a TLS session that never owns a socket.
//
// Callers hand every byte in and out through their own buffers: the codec
// consumes ciphertext received from the peer and produces ciphertext to send
// back, and protects or recovers plaintext on demand. This lets TLS run over
// any transport the application already has, without an extra copy into
// codec-owned buffers.
//
// An Engine holds the shared TLS configuration, logger and metrics, and
// creates one codec.Codec per session.
package tlscodec
