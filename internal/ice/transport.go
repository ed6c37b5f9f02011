// Package ice implements ICE (RFC 8445) connectivity establishment for a
// single media component: host/server-reflexive/relay candidate
// gathering, candidate pairing and prioritization, and STUN-based
// connectivity checks leading to a selected net.Conn the session
// orchestrator hands off to the DTLS layer. It is adapted from the
// teacher's internal/ice package, rewired onto the promoted
// internal/stun codec and the internal/turn relay client instead of its
// own private STUN implementation and never-finished TURN stubs.
//
// Only UDP transport is supported, matching this module's scope: the
// media plane this package connects is always RTP/RTCP over UDP (spec
// §1's "opaque RTP/RTCP payloads" over DTLS-SRTP), never TCP candidates.
package ice

import (
	"fmt"
	"net"
)

// TransportAddress is a comparable, loggable stand-in for *net.UDPAddr;
// ICE candidates and candidate pairs key off this rather than the
// pointer identity net.Addr would otherwise force on them.
type TransportAddress struct {
	IP   string
	Port int
}

func makeTransportAddress(addr *net.UDPAddr) TransportAddress {
	return TransportAddress{IP: addr.IP.String(), Port: addr.Port}
}

func (ta TransportAddress) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(ta.IP), Port: ta.Port}
}

func (ta TransportAddress) String() string {
	return fmt.Sprintf("udp/%s:%d", ta.IP, ta.Port)
}

func (ta TransportAddress) isLinkLocal() bool {
	ip := net.ParseIP(ta.IP)
	return ip != nil && (ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast())
}
