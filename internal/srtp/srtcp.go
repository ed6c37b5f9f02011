package srtp

import (
	"crypto/subtle"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"golang.org/x/xerrors"

	"github.com/lanikai/rtcsecure/internal/packet"
)

// encodeRTCPTrailer builds the 4-byte E-flag/index trailer RFC 3711
// §3.4 appends to every SRTCP packet, via the same allocation-free
// big-endian writer internal/packet provides for STUN/TURN/RTP framing.
func encodeRTCPTrailer(index uint32) [4]byte {
	var out [4]byte
	w := packet.NewWriter(out[:])
	w.WriteUint32(index | srtcpEFlagMask)
	return out
}

// decodeRTCPTrailer reads the 4-byte trailer back out with the matching
// packet.Reader, the counterpart to encodeRTCPTrailer.
func decodeRTCPTrailer(b []byte) uint32 {
	return packet.NewReader(b).ReadUint32()
}

// srtcpEFlagMask is the top bit of the 4-byte SRTCP index trailer (RFC
// 3711 §3.4): set when the packet is encrypted, clear for a plaintext
// RTCP compound packet carried unmodified inside an otherwise-SRTP
// session.
const srtcpEFlagMask = uint32(1) << 31

// rtcpSendState tracks the monotonic SRTCP index for one SSRC on the
// encoding side. Unlike RTP, RTCP carries its own 31-bit index directly
// on the wire (RFC 3711 §3.4), so there is no rollover-counter
// reconstruction needed on receive; the index simply increments by one
// per packet sent and is trusted (subject to replay-window checking) as
// received.
type rtcpSendState struct {
	mu    sync.Mutex
	index uint32
}

type rtcpRecvState struct {
	mu       sync.Mutex
	seen     map[uint32]bool // small recent-index set; replayWindowSize wide
	order    []uint32
	highest  uint32
	hasSeen  bool
}

func (c *Context) getRTCPSendState(ssrc uint32) *rtcpSendState {
	c.rtcpMu.Lock()
	defer c.rtcpMu.Unlock()
	s, ok := c.rtcpSend[ssrc]
	if !ok {
		s = &rtcpSendState{}
		c.rtcpSend[ssrc] = s
	}
	return s
}

func (c *Context) getRTCPRecvState(ssrc uint32) *rtcpRecvState {
	c.rtcpMu.Lock()
	defer c.rtcpMu.Unlock()
	s, ok := c.rtcpRecv[ssrc]
	if !ok {
		s = &rtcpRecvState{seen: make(map[uint32]bool)}
		c.rtcpRecv[ssrc] = s
	}
	return s
}

// check applies the same sliding-window replay policy UnprotectRTP's
// replaydetector.ReplayDetector enforces for RTP, reimplemented directly
// over the 31-bit SRTCP index space: reject indices more than
// replayWindowSize behind the highest index seen, and reject exact
// duplicates within the window.
func (s *rtcpRecvState) check(index uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasSeen {
		s.hasSeen = true
		s.highest = index
		s.seen[index] = true
		s.order = append(s.order, index)
		return true
	}

	if index+replayWindowSize <= s.highest {
		return false // too old
	}
	if s.seen[index] {
		return false // duplicate
	}

	s.seen[index] = true
	s.order = append(s.order, index)
	if index > s.highest {
		s.highest = index
	}

	// Trim entries that have fallen out of the window behind the new high
	// watermark so the map doesn't grow without bound over a long call.
	cutoff := int64(s.highest) - replayWindowSize
	kept := s.order[:0]
	for _, idx := range s.order {
		if int64(idx) <= cutoff {
			delete(s.seen, idx)
			continue
		}
		kept = append(kept, idx)
	}
	s.order = kept

	return true
}

// ProtectRTCP encrypts and authenticates one RTCP compound packet (spec
// §4.6's RTCP variant): the 31-bit index is appended with the E-flag
// set, then the whole thing (header, encrypted payload, index trailer)
// is authenticated the same way RTP is, or sealed as a single AEAD unit
// when the profile calls for one.
func (c *Context) ProtectRTCP(dst, plaintext []byte) ([]byte, error) {
	if atomic.AddUint64(&c.rtcpSendUses, 1) > maxRTCPMasterKeyUse {
		atomic.AddUint64(&c.rtcpSendUses, ^uint64(0))
		c.fireRekey(RekeyRTCP)
		return nil, ErrMasterKeyRotationRequired
	}
	if len(plaintext) < 8 {
		return nil, xerrors.Errorf("%w: RTCP packet too short", ErrMalformedPacket)
	}

	ssrc := binary.BigEndian.Uint32(plaintext[4:8])
	st := c.getRTCPSendState(ssrc)
	st.mu.Lock()
	index := st.index
	st.index++
	st.mu.Unlock()

	out := append(dst[:0], plaintext...)

	switch c.Profile.Cipher {
	case CipherDoubleAeadAes:
		return c.protectRTCPDoubleAEAD(out, ssrc, index)
	case CipherAeadAesGcm, CipherAriaGcm, CipherSeedGcm, CipherSeedCcm:
		return c.protectRTCPAEAD(out, ssrc, index)
	default:
		return c.protectRTCPStream(out, ssrc, index)
	}
}

func (c *Context) protectRTCPStream(buf []byte, ssrc uint32, index uint32) ([]byte, error) {
	c.rtcp.stream(buf[8:], ssrc, uint64(index))

	trailer := encodeRTCPTrailer(index)
	out := append(buf, trailer[:]...)

	return appendMKIAndTagRTCP(c.rtcp, out, c.mki), nil
}

func (c *Context) protectRTCPAEAD(buf []byte, ssrc uint32, index uint32) ([]byte, error) {
	if c.rtcp.aead == nil {
		return nil, ErrUnsupportedCipher
	}
	trailer := encodeRTCPTrailer(index)

	aad := append(append([]byte(nil), buf[:8]...), trailer[:]...)
	nonce := aeadNonceRTCP(c.rtcp.salt, ssrc, index|srtcpEFlagMask)
	sealed := c.rtcp.aead.Seal(nil, nonce, buf[8:], aad)

	out := append(append([]byte(nil), buf[:8]...), sealed...)
	if len(c.mki) > 0 {
		out = append(out, c.mki...)
	}
	out = append(out, trailer[:]...)
	return out, nil
}

func (c *Context) protectRTCPDoubleAEAD(buf []byte, ssrc uint32, index uint32) ([]byte, error) {
	if c.rtcp.aead == nil || c.rtcp.aeadSecond == nil {
		return nil, ErrUnsupportedCipher
	}
	trailer := encodeRTCPTrailer(index)

	innerNonce := aeadNonceRTCP(c.rtcp.salt, ssrc, index|srtcpEFlagMask)
	innerAAD := buf[:8]
	innerSealed := c.rtcp.aead.Seal(nil, innerNonce, buf[8:], innerAAD)

	// RTCP carries no per-packet header extension for a middlebox to
	// rewrite, so the OHB byte is always zero here; only RTP's
	// double-AEAD path exercises non-zero override bits.
	body := append(innerSealed, 0x00)

	outerAAD := append(append([]byte(nil), buf[:8]...), trailer[:]...)
	outerNonce := aeadNonceRTCP(c.rtcp.saltSecond, ssrc, index|srtcpEFlagMask)
	outerSealed := c.rtcp.aeadSecond.Seal(nil, outerNonce, body, outerAAD)

	out := append(append([]byte(nil), buf[:8]...), outerSealed...)
	out = append(out, trailer[:]...)
	return out, nil
}

// appendMKIAndTagRTCP mirrors appendMKIAndTag's layout but authenticates
// over (header || encrypted payload || index trailer), per RFC 3711
// §4.2's SRTCP authenticated-portion definition, rather than RTP's
// ROC-appended form.
func appendMKIAndTagRTCP(bc *boundCipher, buf []byte, mki []byte) []byte {
	if bc.auth == nil {
		return buf
	}
	tag := bc.auth(buf)
	out := append(buf, mki...)
	out = append(out, tag...)
	return out
}

// UnprotectRTCP verifies and decrypts one SRTCP compound packet.
func (c *Context) UnprotectRTCP(dst, ciphertext []byte) ([]byte, error) {
	if atomic.AddUint64(&c.rtcpRecvUses, 1) > maxRTCPMasterKeyUse {
		atomic.AddUint64(&c.rtcpRecvUses, ^uint64(0))
		c.fireRekey(RekeyRTCP)
		return nil, ErrMasterKeyRotationRequired
	}
	if len(ciphertext) < 8+4 {
		return nil, xerrors.Errorf("%w: RTCP packet too short", ErrMalformedPacket)
	}

	ssrc := binary.BigEndian.Uint32(ciphertext[4:8])

	switch c.Profile.Cipher {
	case CipherDoubleAeadAes:
		return c.unprotectRTCPDoubleAEAD(dst, ciphertext, ssrc)
	case CipherAeadAesGcm, CipherAriaGcm, CipherSeedGcm, CipherSeedCcm:
		return c.unprotectRTCPAEAD(dst, ciphertext, ssrc)
	default:
		return c.unprotectRTCPStream(dst, ciphertext, ssrc)
	}
}

func (c *Context) checkRTCPIndex(ssrc uint32, index uint32) error {
	st := c.getRTCPRecvState(ssrc)
	if !st.check(index) {
		return ErrReplayCheckFailed
	}
	return nil
}

func (c *Context) unprotectRTCPStream(dst, ciphertext []byte, ssrc uint32) ([]byte, error) {
	tagLen := c.rtcp.tagLen
	mkiLen := len(c.mki)
	if len(ciphertext) < 8+4+mkiLen+tagLen {
		return nil, xerrors.Errorf("%w: RTCP packet too short", ErrMalformedPacket)
	}

	tagStart := len(ciphertext) - tagLen
	trailerStart := tagStart - 4 - mkiLen
	mkiStart := trailerStart + 4

	if mkiLen > 0 && subtle.ConstantTimeCompare(ciphertext[mkiStart:tagStart], c.mki) != 1 {
		return nil, ErrMkiCheckFailed
	}

	trailer := decodeRTCPTrailer(ciphertext[trailerStart:mkiStart])
	encrypted := trailer&srtcpEFlagMask != 0
	index := trailer &^ srtcpEFlagMask

	if c.rtcp.auth != nil {
		authenticated := ciphertext[:trailerStart]
		authenticated = append(append([]byte(nil), authenticated...), ciphertext[trailerStart:mkiStart]...)
		want := c.rtcp.auth(authenticated)
		if subtle.ConstantTimeCompare(want, ciphertext[tagStart:]) != 1 {
			return nil, ErrHmacCheckFailed
		}
	}

	if err := c.checkRTCPIndex(ssrc, index); err != nil {
		return nil, err
	}

	out := append(dst[:0], ciphertext[:trailerStart]...)
	if encrypted {
		c.rtcp.stream(out[8:], ssrc, uint64(index))
	}
	return out, nil
}

func (c *Context) unprotectRTCPAEAD(dst, ciphertext []byte, ssrc uint32) ([]byte, error) {
	if c.rtcp.aead == nil {
		return nil, ErrUnsupportedCipher
	}
	mkiLen := len(c.mki)
	if len(ciphertext) < 8+4+mkiLen+c.rtcp.aead.Overhead() {
		return nil, xerrors.Errorf("%w: RTCP packet too short", ErrMalformedPacket)
	}

	trailer := decodeRTCPTrailer(ciphertext[len(ciphertext)-4:])
	index := trailer &^ srtcpEFlagMask
	if err := c.checkRTCPIndex(ssrc, index); err != nil {
		return nil, err
	}

	body := ciphertext[8 : len(ciphertext)-4]
	if mkiLen > 0 {
		mkiStart := len(body) - mkiLen
		if subtle.ConstantTimeCompare(body[mkiStart:], c.mki) != 1 {
			return nil, ErrMkiCheckFailed
		}
		body = body[:mkiStart]
	}

	aad := append(append([]byte(nil), ciphertext[:8]...), ciphertext[len(ciphertext)-4:]...)
	nonce := aeadNonceRTCP(c.rtcp.salt, ssrc, trailer)
	plaintext, err := c.rtcp.aead.Open(nil, nonce, body, aad)
	if err != nil {
		return nil, ErrHmacCheckFailed
	}

	out := append(dst[:0], ciphertext[:8]...)
	out = append(out, plaintext...)
	return out, nil
}

func (c *Context) unprotectRTCPDoubleAEAD(dst, ciphertext []byte, ssrc uint32) ([]byte, error) {
	if c.rtcp.aead == nil || c.rtcp.aeadSecond == nil {
		return nil, ErrUnsupportedCipher
	}
	if len(ciphertext) < 8+4 {
		return nil, xerrors.Errorf("%w: RTCP packet too short", ErrMalformedPacket)
	}

	trailer := decodeRTCPTrailer(ciphertext[len(ciphertext)-4:])
	index := trailer &^ srtcpEFlagMask
	if err := c.checkRTCPIndex(ssrc, index); err != nil {
		return nil, err
	}

	outerAAD := append(append([]byte(nil), ciphertext[:8]...), ciphertext[len(ciphertext)-4:]...)
	outerNonce := aeadNonceRTCP(c.rtcp.saltSecond, ssrc, trailer)
	outerBody, err := c.rtcp.aeadSecond.Open(nil, outerNonce, ciphertext[8:len(ciphertext)-4], outerAAD)
	if err != nil {
		return nil, ErrHmacCheckFailed
	}
	if len(outerBody) < 1 {
		return nil, xerrors.Errorf("%w: missing OHB trailer", ErrMalformedPacket)
	}
	innerCiphertext := outerBody[:len(outerBody)-1]

	innerAAD := ciphertext[:8]
	innerNonce := aeadNonceRTCP(c.rtcp.salt, ssrc, trailer)
	plaintext, err := c.rtcp.aead.Open(nil, innerNonce, innerCiphertext, innerAAD)
	if err != nil {
		return nil, ErrHmacCheckFailed
	}

	out := append(dst[:0], ciphertext[:8]...)
	out = append(out, plaintext...)
	return out, nil
}
