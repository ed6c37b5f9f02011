package mux

// Datagram classification by first byte, per RFC 7983 (also RFC 5764 §5.1.2
// for the STUN/DTLS/SRTP split specifically):
//
//	0..19     STUN
//	20..63    DTLS
//	64..127   reserved (dropped)
//	128..191  RTP/RTCP (SRTP/SRTCP once a session key is in place)
//
// Within the RTP/RTCP range, payload type bytes 64..95 (second header byte
// masked with 0x7f) identify RTCP; everything else is RTP.

// MatchSTUN reports whether buf's first byte falls in the STUN range.
func MatchSTUN(buf []byte) bool {
	return len(buf) > 0 && buf[0] <= 19
}

// MatchDTLS reports whether buf's first byte falls in the DTLS record range.
func MatchDTLS(buf []byte) bool {
	return len(buf) > 0 && buf[0] >= 20 && buf[0] <= 63
}

// MatchSRTP reports whether buf looks like an RTP (not RTCP) packet.
func MatchSRTP(buf []byte) bool {
	return len(buf) >= 2 && buf[0] >= 128 && buf[0] <= 191 && !isRTCPPayloadType(buf[1])
}

// MatchSRTCP reports whether buf looks like an RTCP packet.
func MatchSRTCP(buf []byte) bool {
	return len(buf) >= 2 && buf[0] >= 128 && buf[0] <= 191 && isRTCPPayloadType(buf[1])
}

func isRTCPPayloadType(b byte) bool {
	pt := b & 0x7f
	return pt >= 64 && pt <= 95
}
