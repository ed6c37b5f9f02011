package srtp

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"sync/atomic"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func mustRandom(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

// buildRTPPacket constructs a minimal, valid 12-byte-header RTP packet
// (RFC 3550 §5.1): version 2, no padding, no CSRC, no extension.
func buildRTPPacket(seq uint16, ssrc uint32, payload []byte) []byte {
	buf := make([]byte, 12+len(payload))
	buf[0] = 0x80
	buf[1] = 96
	binary.BigEndian.PutUint16(buf[2:4], seq)
	binary.BigEndian.PutUint32(buf[4:8], 0x11223344)
	binary.BigEndian.PutUint32(buf[8:12], ssrc)
	copy(buf[12:], payload)
	return buf
}

// buildRTPPacketWithExtension builds a packet carrying a one-byte-header
// (RFC 8285-shaped, though this package only cares about the raw data
// block) header extension, for RFC 6904 tests.
func buildRTPPacketWithExtension(seq uint16, ssrc uint32, extData, payload []byte) []byte {
	lengthWords := len(extData) / 4
	buf := make([]byte, 12+4+len(extData)+len(payload))
	buf[0] = 0x90 // version 2 | extension bit
	buf[1] = 96
	binary.BigEndian.PutUint16(buf[2:4], seq)
	binary.BigEndian.PutUint32(buf[4:8], 0x11223344)
	binary.BigEndian.PutUint32(buf[8:12], ssrc)
	binary.BigEndian.PutUint16(buf[12:14], 0xBEDE)
	binary.BigEndian.PutUint16(buf[14:16], uint16(lengthWords))
	copy(buf[16:16+len(extData)], extData)
	copy(buf[16+len(extData):], payload)
	return buf
}

func newTestContext(t *testing.T, profileName string) *Context {
	t.Helper()
	profile, err := LookupProfile(profileName)
	require.NoError(t, err)
	mk := mustRandom(t, profile.KeyLen)
	ms := mustRandom(t, profile.SaltLen)
	ctx, err := NewContext(profile, mk, ms)
	require.NoError(t, err)
	return ctx
}

// TestProtectUnprotectRoundTrip is spec §8 invariant 1: for every
// supported profile, unprotect(protect(packet)) reproduces the original
// packet bytes.
func TestProtectUnprotectRoundTrip(t *testing.T) {
	profileNames := []string{
		"NULL",
		"AES_CM_128_HMAC_SHA1_80",
		"AES_CM_128_HMAC_SHA1_32",
		"AES_192_CM_HMAC_SHA1_80",
		"AES_256_CM_HMAC_SHA1_80",
		"AES_128_F8_HMAC_SHA1_80",
		"AEAD_AES_128_GCM",
		"AEAD_AES_256_GCM",
		"ARIA_128_CTR_HMAC_SHA1_80",
		"ARIA_256_CTR_HMAC_SHA1_80",
		"AEAD_ARIA_128_GCM",
		"AEAD_ARIA_256_GCM",
		"SEED_CTR_HMAC_SHA1_80",
		"SEED_CCM",
		"SEED_GCM",
		"DOUBLE_AEAD_AES_256_GCM_AES_256_GCM",
	}

	for _, name := range profileNames {
		name := name
		t.Run(name, func(t *testing.T) {
			ctx := newTestContext(t, name)

			payload := mustRandom(t, 1400)
			original := buildRTPPacket(1000, 0xCAFEBABE, payload)
			originalCopy := append([]byte(nil), original...)

			protected, err := ctx.ProtectRTP(nil, original)
			require.NoError(t, err)

			decoded, err := ctx.UnprotectRTP(nil, protected)
			require.NoError(t, err)
			require.Equal(t, originalCopy, decoded)
		})
	}
}

// TestAEADGrowsBufferBySixteenBytes is spec §8 scenario B.
func TestAEADGrowsBufferBySixteenBytes(t *testing.T) {
	ctx := newTestContext(t, "AEAD_AES_128_GCM")

	payload := mustRandom(t, 200)
	packet := buildRTPPacket(42, 0xAABBCCDD, payload)

	protected, err := ctx.ProtectRTP(nil, packet)
	require.NoError(t, err)
	require.Len(t, protected, len(packet)+16)

	decoded, err := ctx.UnprotectRTP(nil, protected)
	require.NoError(t, err)
	require.Equal(t, packet, decoded)
}

// TestHmacAuthTagLength is spec §8 scenario A's "protect appends a
// 10-byte tag" check, generalized across the HMAC-SHA1-80 profile.
func TestHmacAuthTagLength(t *testing.T) {
	ctx := newTestContext(t, "AES_CM_128_HMAC_SHA1_80")

	packet := buildRTPPacket(0, 0xCAFEBABE, bytes.Repeat([]byte{0x41}, 16))
	protected, err := ctx.ProtectRTP(nil, packet)
	require.NoError(t, err)
	require.Len(t, protected, len(packet)+10)
}

// TestDetermineRTPIndexAppendixA is spec §8 invariant 3 / scenario 3:
// s_l=2, SEQ=0xFFFE, ROC=7 reconstructs to 6*2^16 + 0xFFFE.
func TestDetermineRTPIndexAppendixA(t *testing.T) {
	index := determineRTPIndex(2, 0xFFFE, 7)
	require.Equal(t, uint64(6)<<16|0xFFFE, index)
}

// TestReplayRejection is spec §8 invariant 2 / scenario E: accepting
// [100, 101, 103, 102] then rejecting a repeat of 101 and an
// out-of-window 30.
func TestReplayRejection(t *testing.T) {
	ctx := newTestContext(t, "AES_CM_128_HMAC_SHA1_80")
	const ssrc = 0xC0FFEE01

	order := []uint16{100, 101, 103, 102}
	for _, seq := range order {
		packet := buildRTPPacket(seq, ssrc, []byte{0x01, 0x02, 0x03, 0x04})
		protected, err := ctx.ProtectRTP(nil, packet)
		require.NoError(t, err)
		_, err = ctx.UnprotectRTP(nil, protected)
		require.NoError(t, err, "seq %d should be accepted", seq)
	}

	dup := buildRTPPacket(101, ssrc, []byte{0x01, 0x02, 0x03, 0x04})
	dupProtected, err := ctx.ProtectRTP(nil, dup)
	require.NoError(t, err)
	_, err = ctx.UnprotectRTP(nil, dupProtected)
	require.ErrorIs(t, err, ErrReplayCheckFailed)

	old := buildRTPPacket(30, ssrc, []byte{0x01, 0x02, 0x03, 0x04})
	oldProtected, err := ctx.ProtectRTP(nil, old)
	require.NoError(t, err)
	_, err = ctx.UnprotectRTP(nil, oldProtected)
	require.ErrorIs(t, err, ErrReplayCheckFailed)
}

// TestHmacTamperLeavesStateUnchanged is spec §8 invariant 6: flipping a
// bit causes HmacCheckFailed without corrupting the replay
// bitmap/rollover state, so the genuine packet at that same index can
// still be accepted afterward.
func TestHmacTamperLeavesStateUnchanged(t *testing.T) {
	ctx := newTestContext(t, "AES_CM_128_HMAC_SHA1_80")
	const ssrc = 0xDEADBEEF

	first := buildRTPPacket(10, ssrc, []byte{0xAA, 0xBB, 0xCC, 0xDD})
	firstProtected, err := ctx.ProtectRTP(nil, first)
	require.NoError(t, err)
	_, err = ctx.UnprotectRTP(nil, firstProtected)
	require.NoError(t, err)

	second := buildRTPPacket(11, ssrc, []byte{0x01, 0x02, 0x03, 0x04})
	genuine, err := ctx.ProtectRTP(nil, second)
	require.NoError(t, err)

	tampered := append([]byte(nil), genuine...)
	tampered[12] ^= 0x01 // flip a payload byte, leave the tag alone

	_, err = ctx.UnprotectRTP(nil, tampered)
	require.ErrorIs(t, err, ErrHmacCheckFailed)

	// The same index, presented with its genuine bytes, must still be
	// accepted: the failed attempt must not have consumed the replay
	// window slot or advanced s_l/ROC.
	_, err = ctx.UnprotectRTP(nil, genuine)
	require.NoError(t, err)
}

// TestMkiRouting is spec §8 invariant 7: an unprotect whose MKI prefix
// doesn't match the configured context's MKI is rejected.
func TestMkiRouting(t *testing.T) {
	profile, err := LookupProfile("AES_CM_128_HMAC_SHA1_80")
	require.NoError(t, err)
	mk := mustRandom(t, profile.KeyLen)
	ms := mustRandom(t, profile.SaltLen)

	mki := []byte{0x01, 0x02, 0x03, 0x04}
	ctx, err := NewContext(profile, mk, ms, WithMKI(mki))
	require.NoError(t, err)

	packet := buildRTPPacket(5, 0x01020304, []byte{1, 2, 3, 4})
	protected, err := ctx.ProtectRTP(nil, packet)
	require.NoError(t, err)

	// Corrupt the MKI bytes (they sit just before the auth tag).
	tampered := append([]byte(nil), protected...)
	mkiStart := len(tampered) - profile.AuthTagLen - len(mki)
	tampered[mkiStart] ^= 0xFF

	_, err = ctx.UnprotectRTP(nil, tampered)
	require.ErrorIs(t, err, ErrMkiCheckFailed)

	// The untouched packet, with the correct MKI, must still verify.
	_, err = ctx.UnprotectRTP(nil, protected)
	require.NoError(t, err)
}

// TestHeaderExtensionEncryption is spec §8 invariant 8 (RFC 6904): an
// all-ones mask changes the wire extension bytes and unprotect restores
// them; an all-zeros mask leaves them untouched.
func TestHeaderExtensionEncryption(t *testing.T) {
	profile, err := LookupProfile("AES_CM_128_HMAC_SHA1_80")
	require.NoError(t, err)
	mk := mustRandom(t, profile.KeyLen)
	ms := mustRandom(t, profile.SaltLen)

	extData := []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}

	t.Run("all-ones mask encrypts extension", func(t *testing.T) {
		mask := bytes.Repeat([]byte{0xFF}, len(extData))
		ctx, err := NewContext(profile, mk, ms, WithHeaderExtensionMask(mask))
		require.NoError(t, err)

		packet := buildRTPPacketWithExtension(7, 0x0A0B0C0D, extData, []byte{1, 2, 3, 4})
		protected, err := ctx.ProtectRTP(nil, packet)
		require.NoError(t, err)
		require.NotEqual(t, extData, protected[16:16+len(extData)])

		decoded, err := ctx.UnprotectRTP(nil, protected)
		require.NoError(t, err)
		require.Equal(t, extData, decoded[16:16+len(extData)])
	})

	t.Run("all-zeros mask leaves extension plaintext", func(t *testing.T) {
		mask := make([]byte, len(extData))
		ctx, err := NewContext(profile, mk, ms, WithHeaderExtensionMask(mask))
		require.NoError(t, err)

		packet := buildRTPPacketWithExtension(8, 0x0A0B0C0D, extData, []byte{1, 2, 3, 4})
		protected, err := ctx.ProtectRTP(nil, packet)
		require.NoError(t, err)
		require.Equal(t, extData, protected[16:16+len(extData)])
	})
}

// TestMasterKeyRotationRequired is spec §8 invariant 5: once the usage
// counter is at the RTP cap, the next Protect call is refused and leaves
// the packet untouched, and fires a RekeyEvent.
func TestMasterKeyRotationRequired(t *testing.T) {
	ctx := newTestContext(t, "AES_CM_128_HMAC_SHA1_80")
	atomic.StoreUint64(&ctx.rtpSendUses, maxRTPMasterKeyUse)

	packet := buildRTPPacket(1, 0x01, []byte{1, 2, 3, 4})
	original := append([]byte(nil), packet...)

	out, err := ctx.ProtectRTP(nil, packet)
	require.Nil(t, out)
	require.ErrorIs(t, err, ErrMasterKeyRotationRequired)
	require.Equal(t, original, packet, "packet must be untouched on rotation refusal")

	select {
	case ev := <-ctx.Rekey():
		require.Equal(t, RekeyRTP, ev.Reason)
	default:
		t.Fatal("expected a RekeyEvent on hitting the master-key usage limit")
	}
}

// TestDoubleAEADOHBSeqOverride is spec §8 invariant 9: a middlebox that
// rewrites SEQ after the inner AEAD layer is sealed (simulated here via
// ProtectRTPRelay) produces a packet whose delivered SEQ, once
// UnprotectRTP restores it from the OHB trailer, is the pre-rewrite
// original rather than the on-the-wire value.
func TestDoubleAEADOHBSeqOverride(t *testing.T) {
	ctx := newTestContext(t, "DOUBLE_AEAD_AES_256_GCM_AES_256_GCM")
	const ssrc = 0x1234ABCD

	original := rtp.Header{SequenceNumber: 100, PayloadType: 96, SSRC: ssrc}

	rewritten := buildRTPPacket(200, ssrc, []byte{1, 2, 3, 4})
	rewritten[1] = 96 // same PT, only SEQ differs from original

	protected, err := ctx.ProtectRTPRelay(nil, rewritten, original)
	require.NoError(t, err)

	decoded, err := ctx.UnprotectRTP(nil, protected)
	require.NoError(t, err)

	var hdr rtp.Header
	_, err = hdr.Unmarshal(decoded)
	require.NoError(t, err)
	require.Equal(t, original.SequenceNumber, hdr.SequenceNumber, "delivered SEQ must be restored to the pre-rewrite original")
	require.Equal(t, []byte{1, 2, 3, 4}, decoded[12:])
}

// TestIndexOnSend is spec §8 invariant 4: protecting a packet with
// ROC=1, SEQ=5 authenticates under index 0x00010005. Verified indirectly
// by forcing the send-side ROC, then priming a receiver with a matching
// ROC/s_l so determineRTPIndex reconstructs that same index; an index
// mismatch would fail the HMAC check, since the authenticated region
// covers the ROC.
func TestIndexOnSend(t *testing.T) {
	ctx := newTestContext(t, "AES_CM_128_HMAC_SHA1_80")
	const ssrc = 0x5A5A5A5A

	ctx.mu.Lock()
	ctx.sendState[ssrc] = &sendState{roc: 1, started: true}
	ctx.mu.Unlock()

	packet := buildRTPPacket(5, ssrc, []byte{9, 9, 9, 9})
	protected, err := ctx.ProtectRTP(nil, packet)
	require.NoError(t, err)

	recv := ctx.getRecvState(ssrc)
	ctx.mu.Lock()
	recv.roc = 1
	recv.sL = 5
	recv.sLSet = true
	ctx.mu.Unlock()

	decoded, err := ctx.UnprotectRTP(nil, protected)
	require.NoError(t, err)
	require.Equal(t, packet, decoded)
}
