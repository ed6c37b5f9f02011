// Package srtp implements the SRTP/SRTCP cryptographic context (RFC 3711),
// its AEAD extensions (RFC 7714), RFC 6904 header-extension encryption,
// and the key derivation function both rely on. The design follows
// internal/rtp/srtp.go's cryptoContext from the teacher repo: an
// encrypt/auth transform pair bound once when the context is built, not
// re-dispatched on every packet.
package srtp

import "golang.org/x/xerrors"

// CipherKind identifies the payload cipher construction a Profile uses.
type CipherKind int

const (
	CipherNull CipherKind = iota
	CipherAesCm
	CipherAesF8
	CipherAeadAesGcm
	CipherAriaCtr
	CipherAriaGcm
	CipherSeedCtr
	CipherSeedCcm
	CipherSeedGcm
	CipherDoubleAeadAes
)

// AuthKind identifies the authentication tag construction.
type AuthKind int

const (
	AuthNone AuthKind = iota
	AuthHmacSha1
	AuthAead // tag is produced by the AEAD cipher itself
)

// Profile describes one supported SRTP protection profile: key/salt/tag
// sizes and which cipher/auth construction to bind.
type Profile struct {
	Name      string
	Cipher    CipherKind
	Auth      AuthKind
	KeyLen    int // bytes
	SaltLen   int // bytes
	AuthTagLen int // bytes appended to the wire packet
	AuthKeyLen int // HMAC key length, 0 for AEAD-only profiles
}

var profiles = map[string]Profile{
	"NULL": {
		Name: "NULL", Cipher: CipherNull, Auth: AuthNone,
		KeyLen: 0, SaltLen: 0, AuthTagLen: 0,
	},
	"AES_CM_128_HMAC_SHA1_80": {
		Name: "AES_CM_128_HMAC_SHA1_80", Cipher: CipherAesCm, Auth: AuthHmacSha1,
		KeyLen: 16, SaltLen: 14, AuthTagLen: 10, AuthKeyLen: 20,
	},
	"AES_CM_128_HMAC_SHA1_32": {
		Name: "AES_CM_128_HMAC_SHA1_32", Cipher: CipherAesCm, Auth: AuthHmacSha1,
		KeyLen: 16, SaltLen: 14, AuthTagLen: 4, AuthKeyLen: 20,
	},
	"AES_192_CM_HMAC_SHA1_80": {
		Name: "AES_192_CM_HMAC_SHA1_80", Cipher: CipherAesCm, Auth: AuthHmacSha1,
		KeyLen: 24, SaltLen: 14, AuthTagLen: 10, AuthKeyLen: 20,
	},
	"AES_256_CM_HMAC_SHA1_80": {
		Name: "AES_256_CM_HMAC_SHA1_80", Cipher: CipherAesCm, Auth: AuthHmacSha1,
		KeyLen: 32, SaltLen: 14, AuthTagLen: 10, AuthKeyLen: 20,
	},
	"AES_128_F8_HMAC_SHA1_80": {
		Name: "AES_128_F8_HMAC_SHA1_80", Cipher: CipherAesF8, Auth: AuthHmacSha1,
		KeyLen: 16, SaltLen: 14, AuthTagLen: 10, AuthKeyLen: 20,
	},
	"AEAD_AES_128_GCM": {
		Name: "AEAD_AES_128_GCM", Cipher: CipherAeadAesGcm, Auth: AuthAead,
		KeyLen: 16, SaltLen: 12, AuthTagLen: 16,
	},
	"AEAD_AES_256_GCM": {
		Name: "AEAD_AES_256_GCM", Cipher: CipherAeadAesGcm, Auth: AuthAead,
		KeyLen: 32, SaltLen: 12, AuthTagLen: 16,
	},
	"ARIA_128_CTR_HMAC_SHA1_80": {
		Name: "ARIA_128_CTR_HMAC_SHA1_80", Cipher: CipherAriaCtr, Auth: AuthHmacSha1,
		KeyLen: 16, SaltLen: 14, AuthTagLen: 10, AuthKeyLen: 20,
	},
	"ARIA_256_CTR_HMAC_SHA1_80": {
		Name: "ARIA_256_CTR_HMAC_SHA1_80", Cipher: CipherAriaCtr, Auth: AuthHmacSha1,
		KeyLen: 32, SaltLen: 14, AuthTagLen: 10, AuthKeyLen: 20,
	},
	"AEAD_ARIA_128_GCM": {
		Name: "AEAD_ARIA_128_GCM", Cipher: CipherAriaGcm, Auth: AuthAead,
		KeyLen: 16, SaltLen: 12, AuthTagLen: 16,
	},
	"AEAD_ARIA_256_GCM": {
		Name: "AEAD_ARIA_256_GCM", Cipher: CipherAriaGcm, Auth: AuthAead,
		KeyLen: 32, SaltLen: 12, AuthTagLen: 16,
	},
	"SEED_CTR_HMAC_SHA1_80": {
		Name: "SEED_CTR_HMAC_SHA1_80", Cipher: CipherSeedCtr, Auth: AuthHmacSha1,
		KeyLen: 16, SaltLen: 14, AuthTagLen: 10, AuthKeyLen: 20,
	},
	"SEED_CCM": {
		Name: "SEED_CCM", Cipher: CipherSeedCcm, Auth: AuthAead,
		KeyLen: 16, SaltLen: 12, AuthTagLen: 16,
	},
	"SEED_GCM": {
		Name: "SEED_GCM", Cipher: CipherSeedGcm, Auth: AuthAead,
		KeyLen: 16, SaltLen: 12, AuthTagLen: 16,
	},
	"DOUBLE_AEAD_AES_256_GCM_AES_256_GCM": {
		Name: "DOUBLE_AEAD_AES_256_GCM_AES_256_GCM", Cipher: CipherDoubleAeadAes, Auth: AuthAead,
		KeyLen: 64, SaltLen: 24, AuthTagLen: 32, // two 32-byte keys, two 12-byte salts, two 16-byte tags
	},
}

// LookupProfile returns the named protection profile, or an error if it
// is not one of the profiles this module implements.
func LookupProfile(name string) (Profile, error) {
	p, ok := profiles[name]
	if !ok {
		return Profile{}, xerrors.Errorf("srtp: unsupported protection profile %q", name)
	}
	return p, nil
}
