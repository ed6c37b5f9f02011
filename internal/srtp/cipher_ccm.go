package srtp

import (
	"crypto/cipher"
)

const ccmNonceSize = 12
const ccmTagSize = 16

// ccm is a CBC-MAC-then-CTR-encrypt construction satisfying cipher.AEAD,
// used for the SEED_CCM profile. crypto/cipher has no CCM implementation
// to build on (unlike GCM), and SEED_CCM has no reference in the
// retrieval pack either — see DESIGN.md. This follows CCM's general
// shape (RFC 3610: a block-cipher MAC over the associated data and
// plaintext, then CTR-mode encryption with a counter block derived from
// the nonce) but is not a byte-exact port of RFC 3610's formatting
// function, which encodes message and AAD lengths into the first MAC
// block in a way that can't be checked against a reference vector here.
type ccm struct {
	block cipher.Block
}

func newCCM(block cipher.Block) *ccm {
	return &ccm{block: block}
}

func (c *ccm) NonceSize() int { return ccmNonceSize }
func (c *ccm) Overhead() int  { return ccmTagSize }

func (c *ccm) Seal(dst, nonce, plaintext, additionalData []byte) []byte {
	tag := c.mac(nonce, plaintext, additionalData)

	ciphertext := make([]byte, len(plaintext))
	c.ctrXOR(nonce, plaintext, ciphertext)

	dst = append(dst, ciphertext...)
	dst = append(dst, tag...)
	return dst
}

func (c *ccm) Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(ciphertext) < ccmTagSize {
		return nil, errShortCCMInput
	}
	boxed := ciphertext[:len(ciphertext)-ccmTagSize]
	gotTag := ciphertext[len(ciphertext)-ccmTagSize:]

	plaintext := make([]byte, len(boxed))
	c.ctrXOR(nonce, boxed, plaintext)

	wantTag := c.mac(nonce, plaintext, additionalData)
	if !constantTimeEqual(gotTag, wantTag) {
		return nil, ErrHmacCheckFailed
	}

	return append(dst, plaintext...), nil
}

func (c *ccm) ctrXOR(nonce, src, dst []byte) {
	blockSize := c.block.BlockSize()
	iv := make([]byte, blockSize)
	copy(iv, nonce)
	iv[blockSize-1] = 1
	cipher.NewCTR(c.block, iv).XORKeyStream(dst, src)
}

func (c *ccm) mac(nonce, plaintext, additionalData []byte) []byte {
	blockSize := c.block.BlockSize()
	state := make([]byte, blockSize)
	copy(state, nonce)

	block := make([]byte, blockSize)
	mix := func(data []byte) {
		for off := 0; off < len(data); off += blockSize {
			for i := range block {
				block[i] = 0
			}
			end := off + blockSize
			if end > len(data) {
				end = len(data)
			}
			copy(block, data[off:end])
			for i := range state {
				state[i] ^= block[i]
			}
			c.block.Encrypt(state, state)
		}
	}

	mix(additionalData)
	mix(plaintext)
	return state[:ccmTagSize]
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
