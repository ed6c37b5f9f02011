// Package dtls wraps github.com/pion/dtls/v2 into the narrow surface this
// module needs: self-signed certificate generation, client/server
// handshakes tuned for WebRTC's DTLS-SRTP usage, and SRTP keying-material
// export. It does not implement the DTLS record layer itself — that is
// exactly the part of the original teacher repo (root dtls.go) that was
// never finished, and pion/dtls/v2 is the maintained descendant of the
// vendored fork the teacher depended on.
package dtls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/xerrors"
)

// KeyType selects the self-signed certificate's key algorithm.
type KeyType int

const (
	ECDSAP256 KeyType = iota
	RSA2048
)

// See https://golang.org/src/crypto/tls/generate_cert.go
func publicKey(priv interface{}) interface{} {
	switch k := priv.(type) {
	case *rsa.PrivateKey:
		return &k.PublicKey
	case *ecdsa.PrivateKey:
		return &k.PublicKey
	default:
		return nil
	}
}

// GenerateCertificate creates a self-signed certificate for DTLS use: CN
// "DTLS", valid from one day ago to 30 days from now (spec §4.4), keyed
// according to keyType.
func GenerateCertificate(keyType KeyType) (tls.Certificate, string, error) {
	notBefore := time.Now().Add(-24 * time.Hour)
	notAfter := notBefore.Add(31 * 24 * time.Hour)

	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return tls.Certificate{}, "", xerrors.Errorf("dtls: generating serial number: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{CommonName: "DTLS"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}

	var priv interface{}
	switch keyType {
	case RSA2048:
		template.SignatureAlgorithm = x509.SHA256WithRSA
		priv, err = rsa.GenerateKey(rand.Reader, 2048)
	default:
		template.SignatureAlgorithm = x509.ECDSAWithSHA256
		priv, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}
	if err != nil {
		return tls.Certificate{}, "", xerrors.Errorf("dtls: generating key: %w", err)
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, publicKey(priv), priv)
	if err != nil {
		return tls.Certificate{}, "", xerrors.Errorf("dtls: creating certificate: %w", err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}

	return cert, Fingerprint(der), nil
}

// Fingerprint formats the SHA-256 digest of a DER certificate as
// colon-separated uppercase hex pairs, matching the SDP a=fingerprint
// convention (spec §4.4).
func Fingerprint(der []byte) string {
	sum := sha256.Sum256(der)
	s := make([]byte, 0, len(sum)*3-1)
	for i, b := range sum {
		if i > 0 {
			s = append(s, ':')
		}
		s = append(s, []byte(fmt.Sprintf("%02X", b))...)
	}
	return string(s)
}
