package transfer

import (
	"sync"

	"github.com/TheusHen/tlscodec/tlscodec/codec"
)

// BufferPool provides reusable ciphertext buffers for encode calls.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a pool of size-byte buffers. A non-positive size
// means codec.MinimumEncodeBufferSize, which always holds one full frame.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = codec.MinimumEncodeBufferSize
	}
	return &BufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		},
		size: size,
	}
}

func (p *BufferPool) Size() int { return p.size }

func (p *BufferPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool. Buffers of a different size are dropped.
func (p *BufferPool) Put(buf *[]byte) {
	if buf != nil && len(*buf) == p.size {
		p.pool.Put(buf)
	}
}
