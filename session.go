// Package rtcsecure binds the connectivity (internal/ice, internal/turn),
// security (internal/dtls, internal/srtp) and demultiplexing (internal/mux)
// packages into the single cooperative-per-session orchestrator spec §4.8
// (C8) describes: gather a relay path, run the DTLS-SRTP handshake over
// it, derive the local and remote SRTP/SRTCP contexts (each one serving
// both RTP and RTCP), and expose protect/unprotect to
// an RTP framing layer. It corresponds to the teacher's root
// peer_connection.go, generalized from a full SDP-driven PeerConnection
// down to the security/connectivity plane this module's spec actually
// covers; SDP parsing, codec negotiation and media framing stay external
// collaborators (spec §1's named out-of-scope layers).
package rtcsecure

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/xerrors"

	"github.com/lanikai/rtcsecure/internal/dtls"
	"github.com/lanikai/rtcsecure/internal/ice"
	"github.com/lanikai/rtcsecure/internal/logging"
	"github.com/lanikai/rtcsecure/internal/mux"
	"github.com/lanikai/rtcsecure/internal/srtp"
)

var log = logging.DefaultLogger.WithTag("session")

// maxDatagramSize is spec §4.1's observed WebRTC fragmentation ceiling:
// the demultiplexer reads whole UDP datagrams up to this size.
const maxDatagramSize = 3000

// Fingerprint is the out-of-band certificate fingerprint carried in an
// SDP "a=fingerprint" line (spec §6), checked against the peer
// certificate internal/dtls captures during the handshake.
type Fingerprint struct {
	Algorithm string // e.g. "sha-256"
	Hex       string // colon-separated uppercase hex, matching dtls.Fingerprint's format
}

// PresharedKey carries an SDES-negotiated (RFC 4568) master key/salt/MKI
// in lieu of a DTLS-SRTP handshake (spec §6's "optional pre-shared
// (master_key, master_salt, mki) for SDES"). Both peers are assumed to
// have negotiated the same tuple out of band; this module does not
// implement SDES's own crypto-attribute parsing, only its consequence.
type PresharedKey struct {
	MasterKey  []byte
	MasterSalt []byte
	MKI        []byte
}

// Config configures one Session. Role/profile/fingerprint/peer values are
// exactly the parameters spec §6 says the SIP/SDP layer supplies.
type Config struct {
	IceServers []ice.IceServer

	// ProtectionProfile names the negotiated SRTP protection profile
	// (spec §3's SrtpProtectionProfile, e.g. "AES_CM_128_HMAC_SHA1_80" or
	// "AEAD_AES_256_GCM").
	ProtectionProfile string

	// IsDTLSServer selects the DTLS role (spec §4.4): false dials a
	// ClientHello, true waits for one and runs the cookie exchange.
	IsDTLSServer bool

	// RemoteFingerprint is the SDP-carried certificate fingerprint to
	// verify the DTLS peer certificate against. Zero value skips
	// verification (used only in the PresharedKey/SDES path, where no
	// DTLS handshake happens at all).
	RemoteFingerprint Fingerprint

	// PresharedKey, if set, bypasses the DTLS handshake entirely and
	// keys both SRTP contexts from this tuple instead of a DTLS
	// exporter. Required for cipher families DTLS-SRTP has no registered
	// protection-profile identifier for (ARIA, SEED, double-AEAD).
	PresharedKey *PresharedKey

	HandshakeTimeout time.Duration
}

// RekeyReason mirrors srtp.RekeyReason plus a DTLS-side cause, surfaced
// uniformly to the caller so it doesn't need to import internal/srtp
// itself just to watch for OnRekeyingRequested (spec §4.4, §4.6).
type RekeyReason int

const (
	RekeyLocalRTP RekeyReason = iota
	RekeyLocalRTCP
	RekeyRemoteRTP
	RekeyRemoteRTCP
)

// Counters exposes the observability counters spec §7 calls for: per-
// packet failures are dropped silently on the wire but must still be
// visible to a metrics/logging collaborator.
type Counters struct {
	HmacFailures   uint64
	ReplayFailures uint64
	MkiFailures    uint64
	Malformed      uint64
}

// Session owns one UDP transport (via an *ice.Agent), the DTLS peer
// handshaken over it, and the two SRTP/SRTCP contexts (local "encode",
// remote "decode") derived from the handshake's exported keying material.
// Per spec §5, every exported method except the read-only Counters
// snapshot is intended to be called from the single task that also drains
// readRTPLoop/readRTCPLoop/watchRekey — Session does not defend against
// concurrent Send* calls racing a Close.
type Session struct {
	cfg   Config
	agent *ice.Agent

	mux          *mux.Mux
	dtlsPeer     *dtls.Peer
	rtpEndpoint  *mux.Endpoint
	rtcpEndpoint *mux.Endpoint

	localCtx  *srtp.Context // protects outbound RTP/RTCP
	remoteCtx *srtp.Context // unprotects inbound RTP/RTCP

	onRTP  func([]byte)
	onRTCP func([]byte)

	counters Counters

	rekey chan RekeyEvent

	closeOnce sync.Once
	closed    chan struct{}
}

// RekeyEvent is delivered on Session.Rekey() when a master-key usage
// limit is reached on either context (spec §4.6's OnRekeyingRequested).
type RekeyEvent struct {
	Reason RekeyReason
}

// NewSession wraps an *ice.Agent the caller has already credentialed
// (ice.NewAgent plus SetRemoteCredentials, once the SDP offer/answer
// exchange that negotiates them has happened). The Agent's own candidate
// gathering already drives TURN allocation internally (internal/ice's
// Base.gatherRelay); Session's job starts once a transport-level path is
// selected.
func NewSession(agent *ice.Agent, cfg Config) *Session {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	return &Session{
		cfg:    cfg,
		agent:  agent,
		rekey:  make(chan RekeyEvent, 4),
		closed: make(chan struct{}),
	}
}

// GatherCandidates forwards to the underlying Agent (spec §4.8 step 1's
// ICE/TURN gathering), exposed here so a caller never needs to reach past
// Session into internal/ice directly.
func (s *Session) GatherCandidates(ctx context.Context) (<-chan ice.Candidate, error) {
	return s.agent.GatherCandidates(ctx)
}

// AddRemoteCandidate forwards a trickled remote candidate line to the
// Agent.
func (s *Session) AddRemoteCandidate(line string) error {
	return s.agent.AddRemoteCandidate(line)
}

// Connect drives ICE connectivity checks to completion, installs a TURN
// permission for remotePeer if the nominated path is relayed (spec §4.8
// steps 1-2), then runs the DTLS-SRTP handshake (or consumes the
// configured PresharedKey) and instantiates the SRTP contexts (steps
// 3-4). Once it returns successfully, Send/SendRTCP/OnRTP/OnRTCP are live
// and packets are being read off the wire.
func (s *Session) Connect(ctx context.Context, remotePeer *net.UDPAddr) error {
	conn, err := s.agent.Connect(ctx)
	if err != nil {
		return xerrors.Errorf("rtcsecure: ice connect: %w", err)
	}

	if err := s.agent.CreatePermission(remotePeer); err != nil {
		log.Warn("session: CreatePermission(%s): %v (continuing; path may not be relayed)", remotePeer, err)
	}

	s.mux = mux.NewMux(conn, maxDatagramSize)
	dtlsEndpoint := s.mux.NewEndpoint(mux.MatchDTLS)
	s.rtpEndpoint = s.mux.NewEndpoint(mux.MatchSRTP)
	s.rtcpEndpoint = s.mux.NewEndpoint(mux.MatchSRTCP)

	profile, err := srtp.LookupProfile(s.cfg.ProtectionProfile)
	if err != nil {
		s.mux.Close()
		return xerrors.Errorf("rtcsecure: %w", err)
	}

	var localKey, localSalt, remoteKey, remoteSalt []byte
	var mki []byte

	if s.cfg.PresharedKey != nil {
		pk := s.cfg.PresharedKey
		localKey, localSalt = pk.MasterKey, pk.MasterSalt
		remoteKey, remoteSalt = pk.MasterKey, pk.MasterSalt
		mki = pk.MKI
	} else {
		dtlsCfg := dtls.DefaultConfig()
		dtlsCfg.IsServer = s.cfg.IsDTLSServer
		dtlsCfg.HandshakeTimeout = s.cfg.HandshakeTimeout

		hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		defer cancel()

		peer, err := dtls.Handshake(hctx, dtlsEndpoint, dtlsCfg, s.cfg.ProtectionProfile, profile.KeyLen, profile.SaltLen)
		if err != nil {
			s.mux.Close()
			return xerrors.Errorf("rtcsecure: dtls handshake: %w", err)
		}
		s.dtlsPeer = peer

		if s.cfg.RemoteFingerprint.Hex != "" && peer.PeerFingerprint() != s.cfg.RemoteFingerprint.Hex {
			s.mux.Close()
			return xerrors.Errorf("rtcsecure: peer certificate fingerprint mismatch: got %s, want %s",
				peer.PeerFingerprint(), s.cfg.RemoteFingerprint.Hex)
		}

		km, err := peer.ExportKeyingMaterial()
		if err != nil {
			s.mux.Close()
			return xerrors.Errorf("rtcsecure: %w", err)
		}

		clientKey, serverKey, clientSalt, serverSalt := splitKeyingMaterial(km, profile.KeyLen, profile.SaltLen)
		if s.cfg.IsDTLSServer {
			localKey, localSalt = serverKey, serverSalt
			remoteKey, remoteSalt = clientKey, clientSalt
		} else {
			localKey, localSalt = clientKey, clientSalt
			remoteKey, remoteSalt = serverKey, serverSalt
		}
	}

	localCtx, err := srtp.NewContext(profile, localKey, localSalt, srtp.WithMKI(mki))
	if err != nil {
		s.mux.Close()
		return xerrors.Errorf("rtcsecure: building local srtp context: %w", err)
	}
	remoteCtx, err := srtp.NewContext(profile, remoteKey, remoteSalt, srtp.WithMKI(mki))
	if err != nil {
		s.mux.Close()
		return xerrors.Errorf("rtcsecure: building remote srtp context: %w", err)
	}
	s.localCtx, s.remoteCtx = localCtx, remoteCtx

	go s.readRTPLoop()
	go s.readRTCPLoop()
	go s.watchRekey()

	return nil
}

// splitKeyingMaterial slices a DTLS-SRTP exporter's output (spec §4.4)
// into its four RFC 5764 §4.2 components.
func splitKeyingMaterial(km dtls.KeyingMaterial, keyLen, saltLen int) (clientKey, serverKey, clientSalt, serverSalt []byte) {
	off := 0
	clientKey = km[off : off+keyLen]
	off += keyLen
	serverKey = km[off : off+keyLen]
	off += keyLen
	clientSalt = km[off : off+saltLen]
	off += saltLen
	serverSalt = km[off : off+saltLen]
	return
}

// SendRTP protects and transmits one RTP packet (spec §6's send(packet)).
func (s *Session) SendRTP(packet []byte) error {
	out, err := s.localCtx.ProtectRTP(nil, packet)
	if err != nil {
		return err
	}
	_, err = s.rtpEndpoint.Write(out)
	return err
}

// SendRTCP protects and transmits one RTCP compound packet (spec §6's
// send_rtcp(packet)).
func (s *Session) SendRTCP(packet []byte) error {
	out, err := s.localCtx.ProtectRTCP(nil, packet)
	if err != nil {
		return err
	}
	_, err = s.rtcpEndpoint.Write(out)
	return err
}

// OnRTP registers the callback invoked with each successfully
// unprotected RTP packet. It must be set before Connect to avoid racing
// the read loop's first delivery.
func (s *Session) OnRTP(cb func([]byte)) { s.onRTP = cb }

// OnRTCP registers the callback invoked with each successfully
// unprotected RTCP packet.
func (s *Session) OnRTCP(cb func([]byte)) { s.onRTCP = cb }

// Rekey returns the channel on which RekeyEvents are delivered (spec
// §4.6/§4.8's OnRekeyingRequested, surfaced across both the local and
// remote context's usage-limit counters). The caller is expected to
// drive a DTLS renegotiation and call Connect again on a fresh Session;
// this Session's contexts refuse further Protect calls once the limit is
// hit.
func (s *Session) Rekey() <-chan RekeyEvent { return s.rekey }

// Counters returns a point-in-time snapshot of this session's per-packet
// failure counters (spec §7's observability requirement for silently
// dropped packets).
func (s *Session) Counters() Counters {
	return Counters{
		HmacFailures:   atomic.LoadUint64(&s.counters.HmacFailures),
		ReplayFailures: atomic.LoadUint64(&s.counters.ReplayFailures),
		MkiFailures:    atomic.LoadUint64(&s.counters.MkiFailures),
		Malformed:      atomic.LoadUint64(&s.counters.Malformed),
	}
}

func (s *Session) readRTPLoop() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, err := s.rtpEndpoint.Read(buf)
		if err != nil {
			return
		}
		out, err := s.remoteCtx.UnprotectRTP(nil, buf[:n])
		if err != nil {
			s.noteFailure(err)
			continue
		}
		if s.onRTP != nil {
			s.onRTP(out)
		}
	}
}

func (s *Session) readRTCPLoop() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, err := s.rtcpEndpoint.Read(buf)
		if err != nil {
			return
		}
		out, err := s.remoteCtx.UnprotectRTCP(nil, buf[:n])
		if err != nil {
			s.noteFailure(err)
			continue
		}
		if s.onRTCP != nil {
			s.onRTCP(out)
		}
	}
}

// noteFailure implements spec §7's per-packet error taxonomy: these are
// observability events only, never retried, never propagated to the
// caller.
func (s *Session) noteFailure(err error) {
	switch {
	case xerrors.Is(err, srtp.ErrHmacCheckFailed):
		atomic.AddUint64(&s.counters.HmacFailures, 1)
	case xerrors.Is(err, srtp.ErrReplayCheckFailed):
		atomic.AddUint64(&s.counters.ReplayFailures, 1)
	case xerrors.Is(err, srtp.ErrMkiCheckFailed):
		atomic.AddUint64(&s.counters.MkiFailures, 1)
	case xerrors.Is(err, srtp.ErrMasterKeyRotationRequired):
		// already fired on the context's own Rekey channel
	default:
		atomic.AddUint64(&s.counters.Malformed, 1)
		log.Debug("session: dropping malformed packet: %v", err)
	}
}

// watchRekey forwards both contexts' RekeyEvent channels onto the
// Session's unified Rekey() channel until Close.
func (s *Session) watchRekey() {
	for {
		select {
		case ev, ok := <-s.localCtx.Rekey():
			if !ok {
				return
			}
			s.forwardRekey(ev, true)
		case ev, ok := <-s.remoteCtx.Rekey():
			if !ok {
				return
			}
			s.forwardRekey(ev, false)
		case <-s.closed:
			return
		}
	}
}

func (s *Session) forwardRekey(ev srtp.RekeyEvent, local bool) {
	var reason RekeyReason
	switch {
	case local && ev.Reason == srtp.RekeyRTP:
		reason = RekeyLocalRTP
	case local && ev.Reason == srtp.RekeyRTCP:
		reason = RekeyLocalRTCP
	case !local && ev.Reason == srtp.RekeyRTP:
		reason = RekeyRemoteRTP
	default:
		reason = RekeyRemoteRTCP
	}
	select {
	case s.rekey <- RekeyEvent{Reason: reason}:
	default:
	}
}

// Close tears down the session: the underlying mux (and with it the ICE
// Agent's transport), the DTLS peer, and every background goroutine.
// reason is logged only; there is no persisted state to flush (spec §6:
// "persisted state: none").
func (s *Session) Close(reason string) error {
	var err error
	s.closeOnce.Do(func() {
		log.Info("session: closing: %s", reason)
		close(s.closed)
		if s.dtlsPeer != nil {
			_ = s.dtlsPeer.Close()
		}
		if s.mux != nil {
			err = s.mux.Close()
		}
		s.agent.Close()
	})
	return err
}
