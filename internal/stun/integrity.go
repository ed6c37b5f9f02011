package stun

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/binary"
	"hash/crc32"

	"golang.org/x/xerrors"
)

// LongTermKey derives the HMAC key for long-term credentials: TURN
// (RFC 5766 §9.2 via RFC 5389 §15.4) computes MESSAGE-INTEGRITY over
// MD5(username ":" realm ":" password) rather than the raw password used
// by ICE's short-term credentials.
func LongTermKey(username, realm, password string) []byte {
	sum := md5.Sum([]byte(username + ":" + realm + ":" + password))
	return sum[:]
}

var zeroes20 [20]byte

// AddMessageIntegrity appends a MESSAGE-INTEGRITY attribute computed with
// key (RFC 5389 §15.4). key is either the raw short-term password or the
// result of LongTermKey for TURN's long-term credentials.
func (msg *Message) AddMessageIntegrity(key []byte) {
	sig := hmac.New(sha1.New, key)

	// The attribute is appended first, zeroed, so it's included in
	// msg.Length; the hash is then taken over everything up to (but not
	// including) its own value.
	attr := msg.AddAttribute(AttrMessageIntegrity, zeroes20[:])

	b := msg.Bytes()
	beforeAttr := len(b) - attr.numBytes()
	sig.Write(b[0:beforeAttr])
	copy(attr.Value, sig.Sum(nil))
}

// VerifyMessageIntegrity recomputes the HMAC over the message as it would
// have looked before the MESSAGE-INTEGRITY attribute (and anything after
// it) was appended, and compares in constant time.
func (msg *Message) VerifyMessageIntegrity(key []byte) error {
	attr := msg.Get(AttrMessageIntegrity)
	if attr == nil {
		return xerrors.New("stun: no MESSAGE-INTEGRITY attribute present")
	}

	// Reconstruct the header+attributes up to (not including) this one,
	// with the length field set as if MESSAGE-INTEGRITY were the last
	// attribute (RFC 5389 §15.4 requires any attributes following
	// MESSAGE-INTEGRITY, e.g. FINGERPRINT, to be excluded from the hash).
	trimmed := &Message{
		Class:         msg.Class,
		Method:        msg.Method,
		TransactionID: msg.TransactionID,
	}
	for _, a := range msg.Attributes {
		if a.Type == AttrMessageIntegrity {
			break
		}
		trimmed.Attributes = append(trimmed.Attributes, a)
	}
	trimmed.Length = 0
	for _, a := range trimmed.Attributes {
		trimmed.Length += uint16(a.numBytes())
	}
	trimmed.Length += uint16(4 + 20) // the MESSAGE-INTEGRITY attribute itself

	sig := hmac.New(sha1.New, key)
	sig.Write(trimmed.Bytes()[:headerLength+int(trimmed.Length)-24])

	if !hmac.Equal(sig.Sum(nil), attr.Value) {
		return xerrors.New("stun: MESSAGE-INTEGRITY mismatch")
	}
	return nil
}

const fingerprintXor = 0x5354554e

// AddFingerprint appends a FINGERPRINT attribute (RFC 5389 §15.5). It must
// be the last attribute added.
func (msg *Message) AddFingerprint() {
	attr := msg.AddAttribute(AttrFingerprint, zeroes20[0:4])

	b := msg.Bytes()
	beforeAttr := len(b) - attr.numBytes()
	crc := crc32.ChecksumIEEE(b[0:beforeAttr])

	binary.BigEndian.PutUint32(attr.Value, crc^fingerprintXor)
}

// VerifyFingerprint checks the FINGERPRINT attribute, which must be the
// last attribute in the message.
func (msg *Message) VerifyFingerprint() error {
	if len(msg.Attributes) == 0 {
		return xerrors.New("stun: no attributes")
	}
	attr := msg.Attributes[len(msg.Attributes)-1]
	if attr.Type != AttrFingerprint {
		return xerrors.New("stun: FINGERPRINT is not the last attribute")
	}

	b := msg.Bytes()
	beforeAttr := len(b) - attr.numBytes()
	crc := crc32.ChecksumIEEE(b[0:beforeAttr])

	var want [4]byte
	binary.BigEndian.PutUint32(want[:], crc^fingerprintXor)
	if !bytes.Equal(want[:], attr.Value) {
		return xerrors.New("stun: FINGERPRINT mismatch")
	}
	return nil
}
