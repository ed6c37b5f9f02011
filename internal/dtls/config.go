package dtls

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/tls"
	"time"

	pion "github.com/pion/dtls/v2"
)

// Config mirrors the shape DefaultDTLSConfig uses in the pack's
// loreste-karl reference, extended with the certificate/role knobs this
// spec's C4 component needs.
type Config struct {
	// Certificate is generated with GenerateCertificate if nil.
	Certificate *tls.Certificate
	KeyType     KeyType

	// IsServer selects the DTLS role: false dials a ClientHello
	// immediately; true waits for one and runs the HelloVerifyRequest
	// cookie exchange before accepting (spec §4.4).
	IsServer bool

	HandshakeTimeout time.Duration

	// InsecureSkipVerify is passed through to pion/dtls; DefaultConfig
	// sets it to true: WebRTC peers authenticate each other out-of-band
	// via the SDP fingerprint, not the certificate chain, so there is no
	// CA to verify against.
	InsecureSkipVerify bool

	ExtendedMasterSecret bool
}

// DefaultConfig returns sensible defaults: ECDSA-P256 self-signed
// certificate, 30s handshake timeout, extended master secret required
// (spec §4.4).
func DefaultConfig() Config {
	return Config{
		KeyType:              ECDSAP256,
		HandshakeTimeout:      30 * time.Second,
		InsecureSkipVerify:    true,
		ExtendedMasterSecret: true,
	}
}

// cipherSuitesFor returns the RFC-mandated cipher-suite set keyed off the
// certificate's key algorithm (spec §4.4).
func cipherSuitesFor(cert tls.Certificate) []pion.CipherSuiteID {
	switch cert.PrivateKey.(type) {
	case *rsa.PrivateKey:
		return []pion.CipherSuiteID{
			pion.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			pion.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
		}
	case *ecdsa.PrivateKey:
		return []pion.CipherSuiteID{
			pion.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			pion.TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA,
			pion.TLS_ECDHE_ECDSA_WITH_AES_128_CCM,
			pion.TLS_ECDHE_ECDSA_WITH_AES_128_CCM_8,
		}
	default:
		return nil
	}
}
