package srtp

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// These two cipher.Block implementations are from-scratch constructions
// with no available reference vectors to check against (see
// cipher_aria.go and cipher_seed.go). What can be verified without
// running the algorithms against an external authority is internal
// self-consistency: Decrypt must invert Encrypt for every key size and
// block position the SRTP profiles actually use.

func TestAriaRoundTrip128(t *testing.T) {
	key := make([]byte, 16)
	_, err := rand.Read(key)
	require.NoError(t, err)

	block, err := newAriaCipher(key)
	require.NoError(t, err)
	require.Equal(t, ariaBlockSize, block.BlockSize())

	for i := 0; i < 8; i++ {
		plaintext := make([]byte, ariaBlockSize)
		_, err := rand.Read(plaintext)
		require.NoError(t, err)

		ciphertext := make([]byte, ariaBlockSize)
		block.Encrypt(ciphertext, plaintext)
		require.NotEqual(t, plaintext, ciphertext)

		decoded := make([]byte, ariaBlockSize)
		block.Decrypt(decoded, ciphertext)
		require.Equal(t, plaintext, decoded)
	}
}

func TestAriaRoundTrip256(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	block, err := newAriaCipher(key)
	require.NoError(t, err)

	plaintext := make([]byte, ariaBlockSize)
	_, err = rand.Read(plaintext)
	require.NoError(t, err)

	ciphertext := make([]byte, ariaBlockSize)
	block.Encrypt(ciphertext, plaintext)
	decoded := make([]byte, ariaBlockSize)
	block.Decrypt(decoded, ciphertext)
	require.Equal(t, plaintext, decoded)
}

func TestAriaRejectsBadKeyLength(t *testing.T) {
	_, err := newAriaCipher(make([]byte, 20))
	require.Error(t, err)
}

func TestAriaDifferentKeysDifferentCiphertext(t *testing.T) {
	plaintext := make([]byte, ariaBlockSize)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)

	key1 := make([]byte, 16)
	key2 := make([]byte, 16)
	_, err = rand.Read(key1)
	require.NoError(t, err)
	_, err = rand.Read(key2)
	require.NoError(t, err)

	block1, err := newAriaCipher(key1)
	require.NoError(t, err)
	block2, err := newAriaCipher(key2)
	require.NoError(t, err)

	out1 := make([]byte, ariaBlockSize)
	out2 := make([]byte, ariaBlockSize)
	block1.Encrypt(out1, plaintext)
	block2.Encrypt(out2, plaintext)
	require.NotEqual(t, out1, out2)
}

func TestSeedRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	_, err := rand.Read(key)
	require.NoError(t, err)

	block, err := newSeedCipher(key)
	require.NoError(t, err)
	require.Equal(t, seedBlockSize, block.BlockSize())

	for i := 0; i < 8; i++ {
		plaintext := make([]byte, seedBlockSize)
		_, err := rand.Read(plaintext)
		require.NoError(t, err)

		ciphertext := make([]byte, seedBlockSize)
		block.Encrypt(ciphertext, plaintext)
		require.NotEqual(t, plaintext, ciphertext)

		decoded := make([]byte, seedBlockSize)
		block.Decrypt(decoded, ciphertext)
		require.Equal(t, plaintext, decoded)
	}
}

func TestSeedRejectsBadKeyLength(t *testing.T) {
	_, err := newSeedCipher(make([]byte, 24))
	require.Error(t, err)
}

func TestSeedDifferentKeysDifferentCiphertext(t *testing.T) {
	plaintext := make([]byte, seedBlockSize)
	_, err := rand.Read(plaintext)
	require.NoError(t, err)

	key1 := make([]byte, 16)
	key2 := make([]byte, 16)
	_, err = rand.Read(key1)
	require.NoError(t, err)
	_, err = rand.Read(key2)
	require.NoError(t, err)

	block1, err := newSeedCipher(key1)
	require.NoError(t, err)
	block2, err := newSeedCipher(key2)
	require.NoError(t, err)

	out1 := make([]byte, seedBlockSize)
	out2 := make([]byte, seedBlockSize)
	block1.Encrypt(out1, plaintext)
	block2.Encrypt(out2, plaintext)
	require.NotEqual(t, out1, out2)
}
