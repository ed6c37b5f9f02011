package mux

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchByFirstByte(t *testing.T) {
	cases := []struct {
		name         string
		buf          []byte
		stun, dtls   bool
		srtp, srtcp  bool
	}{
		{"stun-binding-request", []byte{0x00, 0x01, 0, 0}, true, false, false, false},
		{"stun-top-of-range", []byte{19, 0}, true, false, false, false},
		{"dtls-bottom-of-range", []byte{20, 0}, false, true, false, false},
		{"dtls-client-hello", []byte{22, 0xfe, 0xff}, false, true, false, false},
		{"dtls-top-of-range", []byte{63, 0}, false, true, false, false},
		{"reserved", []byte{64, 0}, false, false, false, false},
		{"reserved-top", []byte{127, 0}, false, false, false, false},
		{"rtp", []byte{128, 111}, false, false, true, false},
		{"rtcp-sr", []byte{128, 200}, false, false, false, true},
		{"rtcp-rr", []byte{0x80, 201}, false, false, false, true},
		{"rtcp-marker-bit-set", []byte{0x80, 0x80 | 200}, false, false, false, true},
		{"top-of-range", []byte{191, 0}, false, false, true, false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.stun, MatchSTUN(c.buf), "STUN")
			assert.Equal(t, c.dtls, MatchDTLS(c.buf), "DTLS")
			assert.Equal(t, c.srtp, MatchSRTP(c.buf), "SRTP")
			assert.Equal(t, c.srtcp, MatchSRTCP(c.buf), "SRTCP")
		})
	}
}

func TestMatchEmptyBuffer(t *testing.T) {
	assert.False(t, MatchSTUN(nil))
	assert.False(t, MatchDTLS(nil))
	assert.False(t, MatchSRTP(nil))
	assert.False(t, MatchSRTCP(nil))
}
