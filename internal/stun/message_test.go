package stun

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStunMessage(t *testing.T) {
	b := []byte{
		0x00, 0x01, 0x00, 0x4c, 0x21, 0x12, 0xa4, 0x42,
		0x56, 0x41, 0x66, 0x33, 0x5a, 0x49, 0x73, 0x4c,
		0x31, 0x64, 0x2f, 0x46, 0x00, 0x06, 0x00, 0x09,
		0x74, 0x6c, 0x47, 0x61, 0x3a, 0x6e, 0x33, 0x45,
		0x33, 0x00, 0x00, 0x00, 0xc0, 0x57, 0x00, 0x04,
		0x00, 0x01, 0x00, 0x0a, 0x80, 0x29, 0x00, 0x08,
		0x57, 0xfa, 0x3a, 0xdb, 0xb9, 0x81, 0x0a, 0xdd,
		0x00, 0x24, 0x00, 0x04, 0x6e, 0x7f, 0x1e, 0xff,
		0x00, 0x08, 0x00, 0x14, 0x16, 0xae, 0x21, 0xab,
		0x58, 0xa5, 0xba, 0x5f, 0x5d, 0x1d, 0xfe, 0xde,
		0xc5, 0x65, 0x52, 0xf5, 0x6f, 0x08, 0x60, 0x37,
		0x80, 0x28, 0x00, 0x04, 0x31, 0xfd, 0x4e, 0x69,
	}

	msg, err := Parse(b)
	require.NoError(t, err)
	require.Equal(t, Request, msg.Class)
	require.Equal(t, BindingMethod, msg.Method)
	require.Equal(t, "VAf3ZIsL1d/F", msg.TransactionID)

	b2 := msg.Bytes()
	require.True(t, bytes.Equal(b, b2), "round-tripped message differs from original")

	msg2, err := New(msg.Class, msg.Method, msg.TransactionID)
	require.NoError(t, err)
	for _, attr := range msg.Attributes {
		msg2.AddAttribute(attr.Type, attr.Value)
	}
	require.True(t, bytes.Equal(b, msg2.Bytes()), "reconstructed message differs from original")
}

func TestNewMessageRoundTrip(t *testing.T) {
	msg, err := New(Request, BindingMethod, "0123456789AB")
	require.NoError(t, err)

	msg2, err := Parse(msg.Bytes())
	require.NoError(t, err)
	require.Equal(t, msg.Length, msg2.Length)
	require.Equal(t, msg.Class, msg2.Class)
	require.Equal(t, msg.Method, msg2.Method)
	require.Equal(t, msg.TransactionID, msg2.TransactionID)
}

func TestMessageIntegrityRoundTrip(t *testing.T) {
	password := "hello"
	raddr := &net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 5678}

	msg, err := New(SuccessResponse, BindingMethod, "0123456789AB")
	require.NoError(t, err)
	msg.SetXorMappedAddress(raddr)
	msg.AddMessageIntegrity([]byte(password))
	msg.AddFingerprint()

	parsed, err := Parse(msg.Bytes())
	require.NoError(t, err)
	require.NoError(t, parsed.VerifyFingerprint())
	require.NoError(t, parsed.VerifyMessageIntegrity([]byte(password)))

	got, err := parsed.GetMappedAddress()
	require.NoError(t, err)
	require.Equal(t, raddr.IP.To4(), got.IP.To4())
	require.Equal(t, raddr.Port, got.Port)
}

func TestMessageIntegrityTamperDetected(t *testing.T) {
	msg, err := New(SuccessResponse, BindingMethod, "0123456789AB")
	require.NoError(t, err)
	msg.SetXorMappedAddress(&net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 5678})
	msg.AddMessageIntegrity([]byte("hello"))

	b := msg.Bytes()
	b[len(b)-1] ^= 0xff // flip a bit inside MESSAGE-INTEGRITY's value

	tampered, err := Parse(b)
	require.NoError(t, err)
	require.Error(t, tampered.VerifyMessageIntegrity([]byte("hello")))
}

func TestLongTermKeyMatchesTurnRealmBinding(t *testing.T) {
	key := LongTermKey("user", "realm.example.org", "pass")
	require.Len(t, key, 16) // MD5 digest

	msg, err := New(Request, AllocateMethod, "0123456789AB")
	require.NoError(t, err)
	msg.AddAttribute(AttrUsername, []byte("user"))
	msg.AddAttribute(AttrRealm, []byte("realm.example.org"))
	msg.AddAttribute(AttrNonce, []byte("abcd1234"))
	msg.AddMessageIntegrity(key)

	parsed, err := Parse(msg.Bytes())
	require.NoError(t, err)
	require.NoError(t, parsed.VerifyMessageIntegrity(key))
}

func TestPad4(t *testing.T) {
	vals := []uint16{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	want := []int{0, 3, 2, 1, 0, 3, 2, 1, 0, 3}
	for i, v := range vals {
		require.Equal(t, want[i], pad4(v))
	}
}

func TestErrorCodeRoundTrip(t *testing.T) {
	msg, err := New(ErrorResponse, AllocateMethod, "0123456789AB")
	require.NoError(t, err)
	msg.AddErrorCode(CodeUnauthorized, "Unauthorized")

	parsed, err := Parse(msg.Bytes())
	require.NoError(t, err)
	code, reason, ok := parsed.GetErrorCode()
	require.True(t, ok)
	require.Equal(t, CodeUnauthorized, code)
	require.Equal(t, "Unauthorized", reason)
}
