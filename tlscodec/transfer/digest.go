package transfer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/TheusHen/tlscodec/tlscodec/codec"
)

var ErrDigestMismatch = errors.New("transfer: payload digest mismatch")

// Digest is a Merkle tree over the frame-sized segments of a payload. Two
// digests of the same payload have equal roots; when they differ, the leaves
// show which frame was damaged.
type Digest struct {
	segments int
	size     int
	// nodes is a complete binary tree; leaves start at len(nodes)/2.
	nodes [][]byte
}

// NewDigest hashes p in codec.MaximumFramePlaintextSize segments, the same
// boundaries Link.Send uses for records.
func NewDigest(p []byte) *Digest {
	segments := (len(p) + codec.MaximumFramePlaintextSize - 1) / codec.MaximumFramePlaintextSize
	width := 1
	for width < segments {
		width *= 2
	}

	nodes := make([][]byte, 2*width-1)
	empty := sha256.Sum256(nil)
	for i := 0; i < width; i++ {
		leaf := empty[:]
		if i < segments {
			start := i * codec.MaximumFramePlaintextSize
			end := min(start+codec.MaximumFramePlaintextSize, len(p))
			sum := sha256.Sum256(p[start:end])
			leaf = sum[:]
		}
		nodes[width-1+i] = leaf
	}
	for i := width - 2; i >= 0; i-- {
		h := sha256.New()
		h.Write(nodes[2*i+1])
		h.Write(nodes[2*i+2])
		nodes[i] = h.Sum(nil)
	}
	return &Digest{segments: segments, size: len(p), nodes: nodes}
}

func (d *Digest) Root() []byte { return d.nodes[0] }

func (d *Digest) RootHex() string { return hex.EncodeToString(d.Root()) }

func (d *Digest) Segments() int { return d.segments }

// Check compares the payload received against d. The error names the first
// segment that differs.
func (d *Digest) Check(received []byte) error {
	if len(received) != d.size {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrDigestMismatch, len(received), d.size)
	}
	other := NewDigest(received)
	if bytes.Equal(d.Root(), other.Root()) {
		return nil
	}
	leaves := len(d.nodes) / 2
	for i := 0; i < d.segments; i++ {
		if !bytes.Equal(d.nodes[leaves+i], other.nodes[leaves+i]) {
			return fmt.Errorf("%w: segment %d of %d", ErrDigestMismatch, i, d.segments)
		}
	}
	return ErrDigestMismatch
}
