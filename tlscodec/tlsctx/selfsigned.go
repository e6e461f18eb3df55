package tlsctx

import (
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"time"

	"github.com/TheusHen/tlscodec/tlscodec/identity"
)

// SelfSignedValidity is how long generated certificates stay valid.
const SelfSignedValidity = 24 * time.Hour

// SelfSignedPEM issues a self-signed certificate for kp and returns it and the
// private key PEM encoded.
func SelfSignedPEM(kp identity.KeyPair, commonName string, validity time.Duration) (certPEM, keyPEM []byte, err error) {
	if commonName == "" {
		commonName = DefaultCommonName
	}
	if validity <= 0 {
		validity = SelfSignedValidity
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return nil, nil, err
	}

	tpl := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: commonName,
		},
		DNSNames:  []string{commonName},
		NotBefore: time.Now().Add(-1 * time.Hour),
		NotAfter:  time.Now().Add(validity),
		KeyUsage:  x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &tpl, &tpl, kp.PublicKey, kp.PrivateKey)
	if err != nil {
		return nil, nil, err
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyBytes, err := x509.MarshalPKCS8PrivateKey(kp.PrivateKey)
	if err != nil {
		return nil, nil, err
	}
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})
	return certPEM, keyPEM, nil
}

// SelfSignedCertificate issues a self-signed certificate for kp valid for
// SelfSignedValidity.
func SelfSignedCertificate(kp identity.KeyPair, commonName string) (tls.Certificate, error) {
	certPEM, keyPEM, err := SelfSignedPEM(kp, commonName, SelfSignedValidity)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}
