package srtp

import (
	"crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildRTCPSR constructs a minimal 28-byte RTCP Sender Report (RFC 3550
// §6.4.1): 8-byte fixed header plus a 20-byte sender-info block, no
// report blocks.
func buildRTCPSR(ssrc uint32) []byte {
	buf := make([]byte, 28)
	buf[0] = 0x80 // V=2, P=0, RC=0
	buf[1] = 200  // PT=SR
	binary.BigEndian.PutUint16(buf[2:4], 6)
	binary.BigEndian.PutUint32(buf[4:8], ssrc)
	return buf
}

func newTestRTCPContext(t *testing.T, profileName string) *Context {
	t.Helper()
	profile, err := LookupProfile(profileName)
	require.NoError(t, err)
	mk := make([]byte, profile.KeyLen)
	ms := make([]byte, profile.SaltLen)
	_, err = rand.Read(mk)
	require.NoError(t, err)
	_, err = rand.Read(ms)
	require.NoError(t, err)
	ctx, err := NewContext(profile, mk, ms)
	require.NoError(t, err)
	return ctx
}

// TestRTCPProtectUnprotectRoundTrip is spec §8 scenario F: protecting a
// 28-byte SR packet under AES_CM_128_HMAC_SHA1_80 trails a 4-byte index
// with the E bit set and a 10-byte HMAC tag, and unprotect restores the
// original bytes.
func TestRTCPProtectUnprotectRoundTrip(t *testing.T) {
	ctx := newTestRTCPContext(t, "AES_CM_128_HMAC_SHA1_80")

	sr := buildRTCPSR(0xFEEDFACE)
	original := append([]byte(nil), sr...)

	protected, err := ctx.ProtectRTCP(nil, sr)
	require.NoError(t, err)
	require.Len(t, protected, len(sr)+4+10)

	trailer := binary.BigEndian.Uint32(protected[len(protected)-10-4 : len(protected)-10])
	require.Equal(t, uint32(0x80000000), trailer, "E bit set, first packet carries index 0")

	decoded, err := ctx.UnprotectRTCP(nil, protected)
	require.NoError(t, err)
	require.Equal(t, original, decoded)

	// A second packet on the same SSRC advances the index by one (spec
	// §8 scenario F's "trailing 4 bytes carry index 1 with the E bit
	// set").
	second, err := ctx.ProtectRTCP(nil, buildRTCPSR(0xFEEDFACE))
	require.NoError(t, err)
	secondTrailer := binary.BigEndian.Uint32(second[len(second)-10-4 : len(second)-10])
	require.Equal(t, uint32(0x80000001), secondTrailer)
}

// TestRTCPProtectUnprotectRoundTripAEAD exercises the AEAD path, which
// folds authentication into the cipher instead of appending an HMAC tag.
func TestRTCPProtectUnprotectRoundTripAEAD(t *testing.T) {
	ctx := newTestRTCPContext(t, "AEAD_AES_128_GCM")

	sr := buildRTCPSR(0x01020304)
	original := append([]byte(nil), sr...)

	protected, err := ctx.ProtectRTCP(nil, sr)
	require.NoError(t, err)

	decoded, err := ctx.UnprotectRTCP(nil, protected)
	require.NoError(t, err)
	require.Equal(t, original, decoded)
}

// TestRTCPReplayRejection mirrors the RTP replay-window invariant for
// the 31-bit RTCP index space: a repeated index is rejected.
func TestRTCPReplayRejection(t *testing.T) {
	ctx := newTestRTCPContext(t, "AES_CM_128_HMAC_SHA1_80")
	const ssrc = 0x0A0B0C0D

	first, err := ctx.ProtectRTCP(nil, buildRTCPSR(ssrc))
	require.NoError(t, err)
	_, err = ctx.UnprotectRTCP(nil, first)
	require.NoError(t, err)

	second, err := ctx.ProtectRTCP(nil, buildRTCPSR(ssrc))
	require.NoError(t, err)
	_, err = ctx.UnprotectRTCP(nil, second)
	require.NoError(t, err)

	// Replaying the first packet's exact bytes must be rejected even
	// though its HMAC still verifies.
	_, err = ctx.UnprotectRTCP(nil, first)
	require.Error(t, err)
}
