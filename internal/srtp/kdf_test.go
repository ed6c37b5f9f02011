package srtp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustAESBlock(t *testing.T) cipher.Block {
	t.Helper()
	key := make([]byte, 16)
	_, err := rand.Read(key)
	require.NoError(t, err)
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	return block
}

// TestDeriveKeyDeterministic checks that deriveKey is a pure function of
// its inputs: calling it twice with identical arguments must yield
// identical session key material.
func TestDeriveKeyDeterministic(t *testing.T) {
	block := mustAESBlock(t)
	salt := make([]byte, 14)
	_, err := rand.Read(salt)
	require.NoError(t, err)

	a := deriveKey(block, salt, LabelRTPEncryption, 1000, 0, 16)
	b := deriveKey(block, salt, LabelRTPEncryption, 1000, 0, 16)
	require.Equal(t, a, b)
}

// TestDeriveKeyLabelsDiffer checks that RFC 3711 §4.3's distinct labels
// (encryption, auth, salt, ...) each produce a distinct key, since they
// share the same master salt and index but differ only in key_id's
// label byte.
func TestDeriveKeyLabelsDiffer(t *testing.T) {
	block := mustAESBlock(t)
	salt := make([]byte, 14)
	_, err := rand.Read(salt)
	require.NoError(t, err)

	labels := []byte{
		LabelRTPEncryption, LabelRTPAuth, LabelRTPSalt,
		LabelRTCPEncryption, LabelRTCPAuth, LabelRTCPSalt,
		LabelRTPHeaderEncrypt, LabelRTPHeaderSalt,
	}
	seen := make(map[string]bool)
	for _, label := range labels {
		k := string(deriveKey(block, salt, label, 0, 0, 16))
		require.False(t, seen[k], "label %d collided with an earlier label", label)
		seen[k] = true
	}
}

// TestDeriveKeyLength checks that deriveKey always returns exactly the
// requested number of bytes, across both sub-block and multi-block
// lengths.
func TestDeriveKeyLength(t *testing.T) {
	block := mustAESBlock(t)
	salt := make([]byte, 14)
	_, err := rand.Read(salt)
	require.NoError(t, err)

	for _, length := range []int{14, 16, 24, 32, 46} {
		out := deriveKey(block, salt, LabelRTPEncryption, 1, 0, length)
		require.Len(t, out, length)
	}
}

// TestDeriveKeyIndexIgnoredWhenKdrZero checks that, with key derivation
// disabled (kdr == 0), the packet index plays no role: r is pinned to
// 0 regardless of index, so the derived key stays constant across the
// whole session.
func TestDeriveKeyIndexIgnoredWhenKdrZero(t *testing.T) {
	block := mustAESBlock(t)
	salt := make([]byte, 14)
	_, err := rand.Read(salt)
	require.NoError(t, err)

	a := deriveKey(block, salt, LabelRTPEncryption, 0, 0, 16)
	b := deriveKey(block, salt, LabelRTPEncryption, 1<<40, 0, 16)
	require.Equal(t, a, b)
}

// TestDeriveKeyIndexChangesOutputWithKdr checks the opposite: once a
// non-zero key-derivation rate is set, crossing an r boundary changes
// the derived key.
func TestDeriveKeyIndexChangesOutputWithKdr(t *testing.T) {
	block := mustAESBlock(t)
	salt := make([]byte, 14)
	_, err := rand.Read(salt)
	require.NoError(t, err)

	const kdr = uint64(1) << 8 // r = index >> 8

	low := deriveKey(block, salt, LabelRTPEncryption, 0, kdr, 16)
	sameR := deriveKey(block, salt, LabelRTPEncryption, 0xFF, kdr, 16)
	require.Equal(t, low, sameR, "index values sharing the same r must derive the same key")

	high := deriveKey(block, salt, LabelRTPEncryption, 0x100, kdr, 16)
	require.NotEqual(t, low, high, "crossing an r boundary must change the derived key")
}

// TestCtrKeystreamDeterministic checks that ctrKeystream, keyed and
// seeded identically, reproduces the same keystream bytes (required for
// the sender and receiver to agree on encryption/decryption output).
func TestCtrKeystreamDeterministic(t *testing.T) {
	block := mustAESBlock(t)
	iv := make([]byte, block.BlockSize())
	_, err := rand.Read(iv)
	require.NoError(t, err)

	a := ctrKeystream(block, append([]byte(nil), iv...), 64)
	b := ctrKeystream(block, append([]byte(nil), iv...), 64)
	require.Equal(t, a, b)
}
