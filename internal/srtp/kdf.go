package srtp

import (
	"crypto/cipher"
	"encoding/binary"
)

// Key derivation labels, extending RFC 3711 §4.3's 0-5 with RFC 6904's
// header-extension labels 6-7.
const (
	LabelRTPEncryption    byte = 0
	LabelRTPAuth          byte = 1
	LabelRTPSalt          byte = 2
	LabelRTCPEncryption   byte = 3
	LabelRTCPAuth         byte = 4
	LabelRTCPSalt         byte = 5
	LabelRTPHeaderEncrypt byte = 6
	LabelRTPHeaderSalt    byte = 7
)

// deriveKey implements RFC 3711 §4.3's key derivation: given a bound
// block cipher keyed with the master key, derive `length` bytes of
// session key material for the given label, packet index and
// key-derivation rate.
//
//  1. r = (kdr == 0) ? 0 : index >> log2(kdr)
//  2. key_id = (label << 48) | r
//  3. x = master_salt XOR pad_to_salt_len(key_id)
//  4. output = AES_CM(block, iv = x || 0x0000, keystream)[0:length]
//
// block may be any cipher.Block (AES, ARIA or SEED), since the CTR
// construction itself is cipher-agnostic.
func deriveKey(block cipher.Block, masterSalt []byte, label byte, index uint64, kdr uint64, length int) []byte {
	var r uint64
	if kdr != 0 {
		shift := 0
		for kdr>>uint(shift) > 1 {
			shift++
		}
		r = index >> uint(shift)
	}

	// key_id is the 7-byte big-endian value label(1 byte) || r(6 bytes).
	var keyID [7]byte
	keyID[0] = label
	var rBytes [8]byte
	binary.BigEndian.PutUint64(rBytes[:], r&((1<<48)-1))
	copy(keyID[1:], rBytes[2:]) // low 48 bits of r

	// x = master_salt XOR pad_to_salt_len(key_id); key_id is right-aligned
	// (zero-padded on the left) to the salt's length, conventionally 14
	// bytes. IV = x || 0x0000 to fill out the block size.
	x := make([]byte, block.BlockSize())
	copy(x, masterSalt)
	saltLen := len(masterSalt)
	for i := 0; i < len(keyID); i++ {
		pos := saltLen - len(keyID) + i
		if pos >= 0 && pos < saltLen {
			x[pos] ^= keyID[i]
		}
	}

	return ctrKeystream(block, x, length)
}

// ctrKeystream generates length bytes of AES/ARIA/SEED-CM keystream with
// starting counter block iv (RFC 3711 §4.1.1: the IV itself is the
// initial counter value; each subsequent block increments it by one).
func ctrKeystream(block cipher.Block, iv []byte, length int) []byte {
	stream := cipher.NewCTR(block, iv)
	out := make([]byte, length)
	stream.XORKeyStream(out, out)
	return out
}
