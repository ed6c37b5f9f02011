package ice

import "fmt"

// PairState is a candidate pair's position in the ICE checklist state
// machine (RFC 8445 §6.1.2.6).
type PairState int

const (
	Frozen PairState = iota
	Waiting
	InProgress
	Succeeded
	Failed
)

func (s PairState) String() string {
	switch s {
	case Frozen:
		return "frozen"
	case Waiting:
		return "waiting"
	case InProgress:
		return "in-progress"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "?"
	}
}

// CandidatePair couples a local and remote candidate under connectivity
// check. Exactly one base (the local candidate's) sends/receives the
// checks; the "connection" a selected pair yields is that base's
// PacketConn filtered to the remote candidate's address.
type CandidatePair struct {
	id        string
	local     Candidate
	remote    Candidate
	component int

	state     PairState
	nominated bool
}

func newCandidatePair(seq int, local, remote Candidate) *CandidatePair {
	return &CandidatePair{
		id:        fmt.Sprintf("pair#%d", seq),
		local:     local,
		remote:    remote,
		component: local.Component,
	}
}

func (p *CandidatePair) String() string {
	return fmt.Sprintf("%s: %s -> %s [%s]", p.id, p.local.Address, p.remote.Address, p.state)
}

// canBePaired restricts pairing to candidates in the same component
// (this module only ever gathers component 1, but the check is kept for
// fidelity to RFC 8445 §6.1.2.2, which pairs on component identity, not
// candidate type).
func canBePaired(local, remote Candidate) bool {
	return local.Component == remote.Component
}

// priority implements RFC 8445 §6.1.2.3's pair priority formula, from the
// perspective of the controlled agent this module always acts as (spec
// §4.3 treats the local peer as the TURN/ICE-lite-style controlled side
// relative to the SIP/SDP offerer).
func (p *CandidatePair) priority() uint64 {
	g := uint64(p.remote.Priority) // controlling agent's priority
	d := uint64(p.local.Priority)  // controlled agent's priority
	lo, hi := g, d
	if d < g {
		lo, hi = d, g
	}
	var b uint64
	if g > d {
		b = 1
	}
	return lo<<32 + hi<<1 + b
}

// isRedundant implements RFC 8445 §6.1.2.4: pairs are redundant if they
// share a remote candidate and a local base.
func isRedundant(p1, p2 *CandidatePair) bool {
	return p1.remote.Address == p2.remote.Address && p1.local.base.address == p2.local.base.address
}
