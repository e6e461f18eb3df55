// Package tlsctx builds the TLS configuration a codec engine runs with:
// certificates, trust roots, protocol version bounds and peer pinning.
package tlsctx

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/TheusHen/tlscodec/tlscodec/identity"
)

const (
	DefaultCommonName = "tlscodec"
)

var (
	ErrIncompleteKeyPair = errors.New("tlsctx: cert_file and key_file must be set together")
	ErrNoCACertificates  = errors.New("tlsctx: no certificates found in CA file")
	ErrUnknownVersion    = errors.New("tlsctx: unknown TLS version")
	ErrNoPeerCertificate = errors.New("tlsctx: peer presented no certificate")
	ErrPeerNotPinned     = errors.New("tlsctx: peer certificate is not pinned")
)

// Options describes the trust material and protocol constraints of an engine.
type Options struct {
	// CertFile and KeyFile hold a PEM certificate chain and private key.
	CertFile string
	KeyFile  string
	// CAFile holds PEM roots used to verify peers on both sides.
	CAFile string

	// SelfSigned generates a certificate for Identity (or a fresh identity)
	// when no CertFile is configured.
	SelfSigned bool
	Identity   *identity.KeyPair
	CommonName string

	ServerName         string
	MinVersion         uint16
	MaxVersion         uint16
	NextProtos         []string
	InsecureSkipVerify bool
	RequireClientCert  bool

	// PinnedPeers restricts accepted peers to these certificate identities,
	// checked in addition to (or, with InsecureSkipVerify, instead of) chain
	// verification.
	PinnedPeers []identity.PeerID
}

// NewConfig returns a *tls.Config usable for both client and server codecs.
func NewConfig(opts Options) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         opts.MinVersion,
		MaxVersion:         opts.MaxVersion,
		NextProtos:         append([]string(nil), opts.NextProtos...),
		ServerName:         opts.ServerName,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}

	switch {
	case opts.CertFile != "" || opts.KeyFile != "":
		if opts.CertFile == "" || opts.KeyFile == "" {
			return nil, ErrIncompleteKeyPair
		}
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	case opts.SelfSigned:
		kp := opts.Identity
		if kp == nil {
			generated, err := identity.GenerateKeyPair()
			if err != nil {
				return nil, err
			}
			kp = &generated
		}
		cert, err := SelfSignedCertificate(*kp, opts.CommonName)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	if opts.CAFile != "" {
		pool, err := LoadCertPool(opts.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
		cfg.ClientCAs = pool
	}

	if opts.RequireClientCert {
		if cfg.ClientCAs != nil {
			cfg.ClientAuth = tls.RequireAndVerifyClientCert
		} else {
			cfg.ClientAuth = tls.RequireAnyClientCert
		}
	}

	if len(opts.PinnedPeers) > 0 {
		cfg.VerifyPeerCertificate = PinnedPeerVerifier(opts.PinnedPeers)
	}
	return cfg, nil
}

// LoadCertPool reads every PEM certificate in path into a pool.
func LoadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%w: %s", ErrNoCACertificates, path)
	}
	return pool, nil
}

// PinnedPeerVerifier accepts a peer only if its leaf certificate maps to one
// of peers.
func PinnedPeerVerifier(peers []identity.PeerID) func([][]byte, [][]*x509.Certificate) error {
	allowed := make(map[identity.PeerID]struct{}, len(peers))
	for _, p := range peers {
		allowed[p] = struct{}{}
	}
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return ErrNoPeerCertificate
		}
		leaf, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("parse peer certificate: %w", err)
		}
		id := identity.PeerIDFromCertificate(leaf)
		if _, ok := allowed[id]; !ok {
			return fmt.Errorf("%w: %s", ErrPeerNotPinned, id)
		}
		return nil
	}
}

// ParseVersion maps "1.0" .. "1.3" (optionally prefixed with "TLS") to the
// crypto/tls constant. An empty string yields zero, the library default.
func ParseVersion(s string) (uint16, error) {
	v := strings.TrimSpace(strings.ToLower(s))
	v = strings.TrimPrefix(strings.TrimPrefix(v, "tls"), "v")
	v = strings.TrimSpace(v)
	switch v {
	case "":
		return 0, nil
	case "1.0", "10":
		return tls.VersionTLS10, nil
	case "1.1", "11":
		return tls.VersionTLS11, nil
	case "1.2", "12":
		return tls.VersionTLS12, nil
	case "1.3", "13":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownVersion, s)
	}
}
