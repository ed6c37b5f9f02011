package srtp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"hash"
	"sync"

	"golang.org/x/xerrors"
)

// streamFunc encrypts (or decrypts; the construction is its own inverse)
// a payload in place using a keystream unique to the (SSRC, index) pair.
// This mirrors internal/rtp/srtp.go's encryptFunc from the teacher repo,
// generalized from AES-CM-only to any of the cipher kinds in profiles.go.
type streamFunc func(payload []byte, ssrc uint32, index uint64)

// authFunc computes a truncated authentication tag over its input.
type authFunc func(m []byte) []byte

// boundCipher is the per-direction (SRTP or SRTCP), already-keyed
// transform pair a Context uses on the wire. Exactly one of (stream,auth)
// or (aead) is populated, selected once at construction time instead of
// being re-dispatched on every packet — the same design the teacher's
// cryptoContext uses for its encryptSRTP/authenticateSRTP pair.
type boundCipher struct {
	kind CipherKind

	stream streamFunc
	auth   authFunc

	aead       cipher.AEAD
	aeadSecond cipher.AEAD // set only for CipherDoubleAeadAes

	// salt (and saltSecond, for double-AEAD's outer layer) are kept
	// alongside the AEAD instance so the context package can build the
	// RFC 7714 nonce per packet; stream ciphers fold the salt into the
	// closure returned by counterModeStream/f8ModeStream instead.
	salt       []byte
	saltSecond []byte

	tagLen int
}

// bindCipher derives session keys from the master key/salt via deriveKey
// and wires up the transform pair the profile calls for.
func bindCipher(p Profile, masterKey, masterSalt []byte, kdr uint64, encLabel, authLabel, saltLabel byte) (*boundCipher, error) {
	if p.Cipher == CipherNull {
		return &boundCipher{kind: CipherNull, stream: nullStream, tagLen: 0}, nil
	}

	keyLen := p.KeyLen
	saltLen := p.SaltLen
	if p.Cipher == CipherDoubleAeadAes {
		keyLen = p.KeyLen / 2
		saltLen = p.SaltLen / 2
	}

	saltIn := masterSalt
	if p.Cipher == CipherDoubleAeadAes {
		saltIn = masterSalt[:saltLen]
	}

	prf, err := masterKeyedPRF(p.Cipher, masterKey[:keyLen])
	if err != nil {
		return nil, err
	}

	block, err := newBlockCipher(p.Cipher, deriveKey(prf, saltIn, encLabel, 0, kdr, keyLen))
	if err != nil {
		return nil, err
	}
	salt := deriveKey(prf, saltIn, saltLabel, 0, kdr, saltLen)

	bc := &boundCipher{kind: p.Cipher, tagLen: p.AuthTagLen, salt: salt}

	switch p.Auth {
	case AuthHmacSha1:
		authKey := deriveKey(prf, masterSalt, authLabel, 0, kdr, p.AuthKeyLen)
		bc.auth = hmacSHA1(authKey, p.AuthTagLen)
	}

	switch p.Cipher {
	case CipherAesCm, CipherAriaCtr, CipherSeedCtr:
		bc.stream = counterModeStream(block, salt)
	case CipherAesF8:
		ivBlock, err := aes.NewCipher(deriveKey(block, masterSalt, encLabel, 0, kdr, 16)[:16])
		if err != nil {
			return nil, err
		}
		bc.stream = f8ModeStream(block, ivBlock, salt)
	}

	switch p.Cipher {
	case CipherAeadAesGcm, CipherAriaGcm, CipherSeedGcm:
		aead, err := newAEAD(block)
		if err != nil {
			return nil, err
		}
		bc.aead = aead
	case CipherSeedCcm:
		bc.aead = newCCM(block)
	case CipherDoubleAeadAes:
		innerAEAD, err := newAEAD(block)
		if err != nil {
			return nil, err
		}
		bc.aead = innerAEAD

		secondSaltIn := masterSalt[saltLen : 2*saltLen]
		secondPRF, err := masterKeyedPRF(p.Cipher, masterKey[keyLen:2*keyLen])
		if err != nil {
			return nil, err
		}
		secondBlock, err := newBlockCipher(p.Cipher, deriveKey(secondPRF, secondSaltIn, encLabel, 0, kdr, keyLen))
		if err != nil {
			return nil, err
		}
		outerAEAD, err := newAEAD(secondBlock)
		if err != nil {
			return nil, err
		}
		bc.aeadSecond = outerAEAD
		bc.saltSecond = deriveKey(secondPRF, secondSaltIn, saltLabel, 0, kdr, saltLen)
	}

	return bc, nil
}

// aeadNonceRTP builds the 12-byte RFC 7714 §8.1 AEAD nonce: 2 zero bytes,
// the 4-byte SSRC, the 4-byte ROC and the 2-byte SEQ (i.e. the 48-bit
// index, zero-extended to 64 bits, right-aligned), XORed with salt.
func aeadNonceRTP(salt []byte, ssrc uint32, index uint64) []byte {
	nonce := make([]byte, 12)
	copy(nonce, salt)
	xor32(nonce[2:6], ssrc)
	xor48(nonce[6:12], index)
	return nonce
}

// aeadNonceRTCP builds the RFC 7714 §9.1 SRTCP AEAD nonce: 2 zero bytes,
// the 4-byte SSRC, 2 zero bytes, and the 4-byte SRTCP index (E-flag
// already masked off by the caller), XORed with salt.
func aeadNonceRTCP(salt []byte, ssrc uint32, index uint32) []byte {
	nonce := make([]byte, 12)
	copy(nonce, salt)
	xor32(nonce[2:6], ssrc)
	xor32(nonce[8:12], index)
	return nonce
}

// masterKeyedPRF keys a block cipher of the profile's own family directly
// with the master key, matching the teacher's deriveKey (internal/rtp/srtp.go),
// which runs PRF_n(k_master, x) for every one of k_e/k_a/k_s rather than
// chaining one derived session key into another. Per RFC 3711 §4.3.1, k_e,
// k_a and k_s are all independent outputs of the same master-key-keyed PRF
// distinguished only by label — none of them is derived from another.
func masterKeyedPRF(kind CipherKind, masterKey []byte) (cipher.Block, error) {
	return newBlockCipher(kind, masterKey)
}

func newBlockCipher(kind CipherKind, key []byte) (cipher.Block, error) {
	switch kind {
	case CipherAesCm, CipherAesF8, CipherAeadAesGcm, CipherDoubleAeadAes:
		return aes.NewCipher(key)
	case CipherAriaCtr, CipherAriaGcm:
		return newAriaCipher(key)
	case CipherSeedCtr, CipherSeedCcm, CipherSeedGcm:
		return newSeedCipher(key)
	default:
		return nil, ErrUnsupportedCipher
	}
}

func newAEAD(block cipher.Block) (cipher.AEAD, error) {
	return cipher.NewGCM(block)
}

func nullStream(payload []byte, ssrc uint32, index uint64) {}

// counterModeStream is internal/rtp/srtp.go's aesCounterMode generalized
// to any cipher.Block (AES, ARIA or SEED all expose the same 16-byte
// block interface, so the CTR construction is identical).
func counterModeStream(block cipher.Block, salt []byte) streamFunc {
	blockSize := block.BlockSize()
	ivPool := sync.Pool{New: func() interface{} { return make([]byte, blockSize) }}

	return func(payload []byte, ssrc uint32, index uint64) {
		iv := ivPool.Get().([]byte)
		defer ivPool.Put(iv)

		for i := range iv {
			iv[i] = 0
		}
		copy(iv, salt)
		xor32(iv[4:], ssrc)
		xor48(iv[8:], index)

		cipher.NewCTR(block, iv).XORKeyStream(payload, payload)
	}
}

// f8ModeStream implements RFC 3711 §4.1.2's F8 mode: a per-packet IV is
// first whitened through ivBlock, then chained block-by-block (each
// block's keystream input XORs in the previous block's output) rather
// than a plain incrementing counter.
func f8ModeStream(block, ivBlock cipher.Block, salt []byte) streamFunc {
	blockSize := block.BlockSize()

	return func(payload []byte, ssrc uint32, index uint64) {
		m := make([]byte, blockSize)
		copy(m, salt)
		xor32(m[4:], ssrc)
		// m[0] marker/PT bit left zero; this package doesn't expose the
		// RTP marker bit down to the cipher layer, so F8's IV collapses
		// to the salt/SSRC/ROC/SEQ form without the M||PT whitening byte.
		xor48(m[blockSize-10:], index)

		var ivXor [16]byte
		ivBlock.Encrypt(ivXor[:], m)

		prev := make([]byte, blockSize)
		counter := make([]byte, blockSize)
		out := make([]byte, blockSize)
		for off := 0; off < len(payload); off += blockSize {
			for i := 0; i < blockSize; i++ {
				counter[i] = ivXor[i%16] ^ prev[i]
			}
			binaryIncrement(counter, uint64(off/blockSize))
			block.Encrypt(out, counter)
			copy(prev, out)

			end := off + blockSize
			if end > len(payload) {
				end = len(payload)
			}
			for i := off; i < end; i++ {
				payload[i] ^= out[i-off]
			}
		}
	}
}

func binaryIncrement(b []byte, n uint64) {
	carry := n
	for i := len(b) - 1; i >= 0 && carry > 0; i-- {
		sum := uint64(b[i]) + carry
		b[i] = byte(sum)
		carry = sum >> 8
	}
}

func hmacSHA1(authKey []byte, tagLen int) authFunc {
	pool := sync.Pool{New: func() interface{} { return hmac.New(sha1.New, authKey) }}
	return func(m []byte) []byte {
		mac := pool.Get().(hash.Hash)
		mac.Write(m)
		tag := mac.Sum(nil)[:tagLen]
		mac.Reset()
		pool.Put(mac)
		return tag
	}
}

func xor32(b []byte, v uint32) {
	b[0] ^= byte(v >> 24)
	b[1] ^= byte(v >> 16)
	b[2] ^= byte(v >> 8)
	b[3] ^= byte(v)
}

func xor48(b []byte, v uint64) {
	b[0] ^= byte(v >> 40)
	b[1] ^= byte(v >> 32)
	b[2] ^= byte(v >> 24)
	b[3] ^= byte(v >> 16)
	b[4] ^= byte(v >> 8)
	b[5] ^= byte(v)
}

var errShortCCMInput = xerrors.New("srtp: CCM input too short")
