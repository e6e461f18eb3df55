package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

var ErrEmptySecret = errors.New("identity: empty secret")

// DeriveKeyPair derives a keypair from a shared secret with HKDF-SHA256.
// label separates identities derived from the same secret.
func DeriveKeyPair(secret []byte, label string) (KeyPair, error) {
	if len(secret) == 0 {
		return KeyPair{}, ErrEmptySecret
	}
	seed := make([]byte, ed25519.SeedSize)
	kdf := hkdf.New(sha256.New, secret, nil, []byte("tlscodec identity "+label))
	if _, err := io.ReadFull(kdf, seed); err != nil {
		return KeyPair{}, err
	}
	return KeyPairFromSeed(seed)
}
