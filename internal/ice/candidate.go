package ice

import (
	"encoding/base32"
	"fmt"
	"hash/fnv"
)

// CandidateType identifies how a Candidate's transport address was
// obtained (RFC 8445 §5.1.1).
type CandidateType string

const (
	HostCandidate             CandidateType = "host"
	ServerReflexiveCandidate  CandidateType = "srflx"
	PeerReflexiveCandidate    CandidateType = "prflx"
	RelayCandidate            CandidateType = "relay"
)

// Candidate is a local or remote ICE candidate (RFC 8445 §5.1).
type Candidate struct {
	Address    TransportAddress
	Type       CandidateType
	Priority   uint32
	Foundation string
	Component  int

	base *Base // nil for remote candidates
}

func makeHostCandidate(base *Base) Candidate {
	return Candidate{
		Address:    base.address,
		Type:       HostCandidate,
		Priority:   computePriority(HostCandidate, base.component),
		Foundation: computeFoundation(HostCandidate, base.address, ""),
		Component:  base.component,
		base:       base,
	}
}

func makeServerReflexiveCandidate(base *Base, mapped TransportAddress, stunServer string) Candidate {
	return Candidate{
		Address:    mapped,
		Type:       ServerReflexiveCandidate,
		Priority:   computePriority(ServerReflexiveCandidate, base.component),
		Foundation: computeFoundation(ServerReflexiveCandidate, base.address, stunServer),
		Component:  base.component,
		base:       base,
	}
}

// makeRelayCandidate wraps a TURN-allocated relay transport address as an
// ICE candidate (RFC 8445 §5.1.1.1's relayed candidates, which the
// teacher's candidate.go reserved a "relay" type constant for but never
// constructed since its TURN client was never written).
func makeRelayCandidate(base *Base, relayed TransportAddress, turnServer string) Candidate {
	return Candidate{
		Address:    relayed,
		Type:       RelayCandidate,
		Priority:   computePriority(RelayCandidate, base.component),
		Foundation: computeFoundation(RelayCandidate, relayed, turnServer),
		Component:  base.component,
		base:       base,
	}
}

func makePeerReflexiveCandidate(base *Base, addr TransportAddress, priority uint32) Candidate {
	return Candidate{
		Address:    addr,
		Type:       PeerReflexiveCandidate,
		Priority:   priority,
		Foundation: computeFoundation(PeerReflexiveCandidate, addr, ""),
		Component:  base.component,
		base:       base,
	}
}

// computePriority implements RFC 8445 §5.1.2's recommended formula:
// priority = (2^24)*type_preference + (2^8)*local_preference + (256 -
// component_id). This module gathers at most one local IP address per
// base, so local_preference is always maximal.
func computePriority(typ CandidateType, component int) uint32 {
	var typePref uint32
	switch typ {
	case HostCandidate:
		typePref = 126
	case ServerReflexiveCandidate, PeerReflexiveCandidate:
		typePref = 110
	case RelayCandidate:
		typePref = 0
	}
	const localPref = 65535
	return typePref<<24 + localPref<<8 + uint32(256-component)
}

// peerPriority computes the priority this candidate would have if
// re-derived as peer-reflexive, for use constructing connectivity-check
// PRIORITY attributes (RFC 8445 §7.1.1).
func (c Candidate) peerPriority() uint32 {
	return computePriority(PeerReflexiveCandidate, c.Component)
}

// computeFoundation implements RFC 8445 §5.1.1.3: unique per (type, base
// IP, protocol, STUN/TURN server).
func computeFoundation(typ CandidateType, base TransportAddress, server string) string {
	fingerprint := fmt.Sprintf("%s/udp/%s", typ, base.IP)
	if server != "" {
		fingerprint += "/" + server
	}
	h := fnv.New64()
	h.Write([]byte(fingerprint))
	return base32.StdEncoding.EncodeToString(h.Sum(nil))[:8]
}

func (c Candidate) String() string {
	return fmt.Sprintf("candidate:%s %d udp %d %s %d typ %s",
		c.Foundation, c.Component, c.Priority, c.Address.IP, c.Address.Port, c.Type)
}

// SDPString renders this candidate as an SDP a=candidate line (RFC 8839).
func (c Candidate) SDPString() string {
	return c.String()
}
