package dtls

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateCertificateECDSA(t *testing.T) {
	cert, fingerprint, err := GenerateCertificate(ECDSAP256)
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)
	require.Len(t, strings.Split(fingerprint, ":"), 32)
}

func TestGenerateCertificateRSA(t *testing.T) {
	cert, fingerprint, err := GenerateCertificate(RSA2048)
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)
	require.Len(t, strings.Split(fingerprint, ":"), 32)
}

func TestFingerprintIsUppercaseHex(t *testing.T) {
	_, fingerprint, err := GenerateCertificate(ECDSAP256)
	require.NoError(t, err)
	require.Equal(t, strings.ToUpper(fingerprint), fingerprint)
}
