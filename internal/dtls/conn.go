package dtls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"sync"

	pion "github.com/pion/dtls/v2"

	"github.com/lanikai/rtcsecure/internal/logging"
)

// KeyingMaterial is the result of exporting keying material for the
// negotiated DTLS-SRTP profile: client_write_key || server_write_key ||
// client_write_salt || server_write_salt (spec §4.4).
type KeyingMaterial []byte

const exporterLabel = "EXTRACTOR-dtls_srtp"

// protectionProfileByName maps the SDP-level protection profile name
// (spec §6) to the DTLS-SRTP protection profile pion/dtls/v2 negotiates.
// AES_CM_* profiles and AEAD_AES_*_GCM both map onto the four SRTP
// protection profiles DTLS actually negotiates (RFC 5764 §4.1.2); the
// finer-grained cipher selection (ARIA/SEED/double-AEAD) happens entirely
// inside internal/srtp once the master key is derived.
var protectionProfileByName = map[string]pion.SRTPProtectionProfile{
	"AES_CM_128_HMAC_SHA1_80": pion.SRTP_AES128_CM_HMAC_SHA1_80,
	"AES_CM_128_HMAC_SHA1_32": pion.SRTP_AES128_CM_HMAC_SHA1_32,
	"AEAD_AES_128_GCM":        pion.SRTP_AEAD_AES_128_GCM,
	"AEAD_AES_256_GCM":        pion.SRTP_AEAD_AES_256_GCM,
}

// Peer wraps a single handshaken *pion/dtls.Conn, the exported SRTP keying
// material, and the captured peer certificate fingerprint.
type Peer struct {
	conn          *pion.Conn
	profile       pion.SRTPProtectionProfile
	keyLen, saltLen int

	mu              sync.Mutex
	peerFingerprint string
}

// Handshake runs the DTLS handshake over transport (typically an
// internal/mux.Endpoint matched by MatchDTLS) in either client or server
// role, per cfg. profileName selects the SRTP protection profile offered
// during the handshake (spec §4.4's UseSRTP extension).
func Handshake(ctx context.Context, transport net.Conn, cfg Config, profileName string, keyLen, saltLen int) (*Peer, error) {
	cert := cfg.Certificate
	if cert == nil {
		generated, _, err := GenerateCertificate(cfg.KeyType)
		if err != nil {
			return nil, &Error{"generate_certificate", err}
		}
		cert = &generated
	}

	profile, ok := protectionProfileByName[profileName]
	if !ok {
		profile = pion.SRTP_AES128_CM_HMAC_SHA1_80
	}

	dtlsCfg := &pion.Config{
		Certificates:           []tls.Certificate{*cert},
		InsecureSkipVerify:     cfg.InsecureSkipVerify,
		CipherSuites:           cipherSuitesFor(*cert),
		SRTPProtectionProfiles: []pion.SRTPProtectionProfile{profile},
		LoggerFactory:          logging.NewPionLoggerFactory(logging.DefaultLogger.WithTag("dtls")),
	}
	if cfg.ExtendedMasterSecret {
		dtlsCfg.ExtendedMasterSecret = pion.RequireExtendedMasterSecret
	}

	var conn *pion.Conn
	var err error
	if cfg.IsServer {
		conn, err = pion.ServerWithContext(ctx, transport, dtlsCfg)
	} else {
		conn, err = pion.ClientWithContext(ctx, transport, dtlsCfg)
	}
	if err != nil {
		return nil, &Error{"handshake", err}
	}

	peer := &Peer{conn: conn, profile: profile, keyLen: keyLen, saltLen: saltLen}
	peer.capturePeerCertificate()

	return peer, nil
}

func (p *Peer) capturePeerCertificate() {
	state := p.conn.ConnectionState()
	for _, raw := range state.PeerCertificates {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			continue
		}
		p.mu.Lock()
		p.peerFingerprint = Fingerprint(cert.Raw)
		p.mu.Unlock()
		return
	}
}

// PeerFingerprint returns the SHA-256 fingerprint of the remote peer's
// leaf certificate, for out-of-band verification against the SDP
// a=fingerprint line.
func (p *Peer) PeerFingerprint() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peerFingerprint
}

// ExportKeyingMaterial derives the SRTP master key material using the
// negotiated DTLS-SRTP profile (spec §4.4): client_write_key ||
// server_write_key || client_write_salt || server_write_salt.
func (p *Peer) ExportKeyingMaterial() (KeyingMaterial, error) {
	n := 2*p.keyLen + 2*p.saltLen
	km, err := p.conn.ExportKeyingMaterial(exporterLabel, nil, n)
	if err != nil {
		return nil, &Error{"export_keying_material", err}
	}
	return KeyingMaterial(km), nil
}

// Conn returns the underlying net.Conn for subsequent encrypted
// application-data reads/writes, not used by this module directly (SRTP
// runs over its own mux endpoint) but kept for symmetry with pion's API.
func (p *Peer) Conn() *pion.Conn { return p.conn }

func (p *Peer) Close() error { return p.conn.Close() }
