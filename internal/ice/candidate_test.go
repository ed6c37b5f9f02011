package ice

import (
	"testing"
)

func TestComputePriorityOrdering(t *testing.T) {
	// RFC 8445 §4.1.2.1's recommended type preferences rank host above
	// server-reflexive/peer-reflexive above relay, for any fixed
	// component.
	host := computePriority(HostCandidate, 1)
	srflx := computePriority(ServerReflexiveCandidate, 1)
	prflx := computePriority(PeerReflexiveCandidate, 1)
	relay := computePriority(RelayCandidate, 1)

	if !(host > srflx && srflx > relay) {
		t.Errorf("priority ordering violated: host=%d srflx=%d relay=%d", host, srflx, relay)
	}
	if srflx != prflx {
		t.Errorf("srflx and prflx should share a type preference: srflx=%d prflx=%d", srflx, prflx)
	}
}

func TestComputePriorityComponentBreaksTies(t *testing.T) {
	// Lower component number must win (256 - component_id term), all
	// else equal.
	c1 := computePriority(HostCandidate, 1)
	c2 := computePriority(HostCandidate, 2)
	if c1 <= c2 {
		t.Errorf("component 1 priority (%d) should exceed component 2 priority (%d)", c1, c2)
	}
}

func TestComputeFoundationStableAndDistinguishing(t *testing.T) {
	addr := TransportAddress{IP: "192.168.1.5", Port: 5000}

	a := computeFoundation(HostCandidate, addr, "")
	b := computeFoundation(HostCandidate, addr, "")
	if a != b {
		t.Errorf("computeFoundation not stable across calls: %q != %q", a, b)
	}

	// A different base IP must (with overwhelming probability) produce a
	// different foundation, since candidates sharing a foundation are
	// treated as redundant for pacing purposes (RFC 8445 §5.1.1.3).
	other := TransportAddress{IP: "10.0.0.9", Port: 5000}
	c := computeFoundation(HostCandidate, other, "")
	if a == c {
		t.Errorf("different base IPs produced the same foundation %q", a)
	}

	// A different candidate type must also distinguish the foundation.
	d := computeFoundation(ServerReflexiveCandidate, addr, "stun.example.com:3478")
	if a == d {
		t.Errorf("host and srflx foundations collided: %q", a)
	}
}

func TestCandidateSDPStringRoundTrip(t *testing.T) {
	c := Candidate{
		Address:    TransportAddress{IP: "203.0.113.4", Port: 54321},
		Type:       HostCandidate,
		Priority:   2130706431,
		Foundation: "abcd1234",
		Component:  1,
	}

	line := c.SDPString()
	parsed, err := parseCandidateSDP(line)
	if err != nil {
		t.Fatalf("parseCandidateSDP(%q) failed: %v", line, err)
	}

	if parsed.Address != c.Address {
		t.Errorf("Address = %+v, want %+v", parsed.Address, c.Address)
	}
	if parsed.Type != c.Type {
		t.Errorf("Type = %v, want %v", parsed.Type, c.Type)
	}
	if parsed.Priority != c.Priority {
		t.Errorf("Priority = %d, want %d", parsed.Priority, c.Priority)
	}
	if parsed.Foundation != c.Foundation {
		t.Errorf("Foundation = %q, want %q", parsed.Foundation, c.Foundation)
	}
	if parsed.Component != c.Component {
		t.Errorf("Component = %d, want %d", parsed.Component, c.Component)
	}
}

func TestParseCandidateSDPRejectsTCP(t *testing.T) {
	_, err := parseCandidateSDP("candidate:1 1 TCP 2105458943 198.51.100.1 9 typ host")
	if err == nil {
		t.Error("expected an error for a TCP candidate line, got nil")
	}
}

func TestParseCandidateSDPRejectsMalformed(t *testing.T) {
	_, err := parseCandidateSDP("candidate:garbage")
	if err == nil {
		t.Error("expected an error for a malformed candidate line, got nil")
	}
}

func TestParseCandidateSDPAcceptsLeadingAttributePrefix(t *testing.T) {
	c, err := parseCandidateSDP("a=candidate:1 1 UDP 2105458943 198.51.100.1 9 typ srflx")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Type != ServerReflexiveCandidate {
		t.Errorf("Type = %v, want %v", c.Type, ServerReflexiveCandidate)
	}
}

func TestTransportAddressIsLinkLocal(t *testing.T) {
	cases := []struct {
		ip   string
		want bool
	}{
		{"169.254.1.1", true},
		{"fe80::1", true},
		{"192.168.1.1", false},
		{"8.8.8.8", false},
	}
	for _, c := range cases {
		ta := TransportAddress{IP: c.ip, Port: 1}
		if got := ta.isLinkLocal(); got != c.want {
			t.Errorf("TransportAddress{%q}.isLinkLocal() = %v, want %v", c.ip, got, c.want)
		}
	}
}
