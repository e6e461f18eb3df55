package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
)

// PeerID is the stable identifier of a certificate holder.
// For Ed25519 keys it is SHA-256(PublicKey); for any other key type it is
// SHA-256 of the DER SubjectPublicKeyInfo.
type PeerID [32]byte

func PeerIDFromPublicKey(publicKey []byte) PeerID {
	sum := sha256.Sum256(publicKey)
	return PeerID(sum)
}

func PeerIDFromCertificate(cert *x509.Certificate) PeerID {
	if pub, ok := cert.PublicKey.(ed25519.PublicKey); ok {
		return PeerIDFromPublicKey(pub)
	}
	return PeerIDFromPublicKey(cert.RawSubjectPublicKeyInfo)
}

func ParsePeerIDHex(s string) (PeerID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PeerID{}, err
	}
	if len(b) != 32 {
		return PeerID{}, errors.New("invalid PeerID length")
	}
	var id PeerID
	copy(id[:], b)
	return id, nil
}

func (id PeerID) String() string {
	return hex.EncodeToString(id[:])
}
