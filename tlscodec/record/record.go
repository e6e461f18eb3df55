// Package record inspects TLS record framing without decrypting anything.
//
// It is used to reason about ciphertext that flows through a codec: how long
// the next frame is, whether a buffer holds a complete frame, and whether the
// first bytes of a connection look like a TLS ClientHello at all.
package record

import (
	"crypto/tls"
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// Constants defined by the protocol.
const (
	HeaderSize        = 5
	MaxPlaintextSize  = 1 << 14
	MaxCiphertextSize = MaxPlaintextSize + 2048
	MaxFrameSize      = HeaderSize + MaxCiphertextSize
)

var (
	ErrIncompleteHeader   = errors.New("record: incomplete header")
	ErrUnknownContentType = errors.New("record: unknown content type")
	ErrRecordTooLarge     = errors.New("record: length exceeds maximum ciphertext size")
)

// ContentType is the first byte of every record.
type ContentType uint8

const (
	ChangeCipherSpec ContentType = 20
	Alert            ContentType = 21
	Handshake        ContentType = 22
	ApplicationData  ContentType = 23
)

func (t ContentType) String() string {
	switch t {
	case ChangeCipherSpec:
		return "change_cipher_spec"
	case Alert:
		return "alert"
	case Handshake:
		return "handshake"
	case ApplicationData:
		return "application_data"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

func (t ContentType) valid() bool {
	return t >= ChangeCipherSpec && t <= ApplicationData
}

// Header is the fixed five byte prefix of a record.
type Header struct {
	Type    ContentType
	Version uint16
	Length  int
}

// FrameSize is the number of bytes the whole record occupies on the wire.
func (h Header) FrameSize() int { return HeaderSize + h.Length }

// VersionName returns the legacy record version in readable form. TLS 1.3
// records carry the TLS 1.2 value here.
func (h Header) VersionName() string { return tls.VersionName(h.Version) }

// ParseHeader decodes the header at the start of b.
func ParseHeader(b []byte) (Header, error) {
	s := cryptobyte.String(b)
	var (
		typ     uint8
		version uint16
		length  uint16
	)
	if !s.ReadUint8(&typ) || !s.ReadUint16(&version) || !s.ReadUint16(&length) {
		return Header{}, ErrIncompleteHeader
	}
	h := Header{Type: ContentType(typ), Version: version, Length: int(length)}
	if !h.Type.valid() {
		return Header{}, fmt.Errorf("%w: %d", ErrUnknownContentType, typ)
	}
	if h.Length > MaxCiphertextSize {
		return Header{}, fmt.Errorf("%w: %d", ErrRecordTooLarge, h.Length)
	}
	return h, nil
}

// Missing returns how many more bytes b needs before it starts with a
// complete frame. Zero means the first frame is complete.
func Missing(b []byte) (int, error) {
	if len(b) < HeaderSize {
		return HeaderSize - len(b), nil
	}
	h, err := ParseHeader(b)
	if err != nil {
		return 0, err
	}
	if n := h.FrameSize() - len(b); n > 0 {
		return n, nil
	}
	return 0, nil
}
