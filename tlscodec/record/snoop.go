package record

import "golang.org/x/crypto/cryptobyte"

// SnoopResult classifies the first bytes received on a connection.
type SnoopResult int

const (
	// NeedMoreData means the prefix is consistent with a ClientHello but too
	// short to tell.
	NeedMoreData SnoopResult = iota
	ClientHello
	NotTLS
)

func (r SnoopResult) String() string {
	switch r {
	case NeedMoreData:
		return "need_more_data"
	case ClientHello:
		return "client_hello"
	default:
		return "not_tls"
	}
}

// SnoopBytes is the prefix length after which Snoop never asks for more data.
const SnoopBytes = HeaderSize + 1

const handshakeTypeClientHello = 1

// Snoop reports whether prefix looks like the start of a TLS ClientHello
// record. Servers that accept both plaintext and TLS peers on one port use it
// before deciding to create a codec.
func Snoop(prefix []byte) SnoopResult {
	s := cryptobyte.String(prefix)
	var typ, major, minor, hsType uint8
	var length uint16

	if !s.ReadUint8(&typ) {
		return NeedMoreData
	}
	if ContentType(typ) != Handshake {
		return NotTLS
	}
	if !s.ReadUint8(&major) {
		return NeedMoreData
	}
	if major != 3 {
		return NotTLS
	}
	if !s.ReadUint8(&minor) {
		return NeedMoreData
	}
	if minor > 4 {
		return NotTLS
	}
	if !s.ReadUint16(&length) {
		return NeedMoreData
	}
	if length == 0 || int(length) > MaxCiphertextSize {
		return NotTLS
	}
	if !s.ReadUint8(&hsType) {
		return NeedMoreData
	}
	if hsType != handshakeTypeClientHello {
		return NotTLS
	}
	return ClientHello
}
