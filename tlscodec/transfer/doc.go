// Package transfer moves ciphertext between two codecs over an in-memory,
// lossless link.
//
// A Link plays the network for a client/server codec pair: it runs the
// handshake loop, encodes plaintext into frame-sized records and decodes
// whatever ciphertext is in flight towards a side. It is what the CLI
// selftest, the loopback example and the codec tests drive codecs with.
package transfer
