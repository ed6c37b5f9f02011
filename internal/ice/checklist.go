package ice

import (
	"net"
	"sort"
	"sync"
	"time"

	"github.com/lanikai/rtcsecure/internal/stun"
	"github.com/pion/randutil"
)

// checklistState is the aggregate state of a Checklist (RFC 8445 §6.1.2.1,
// trimmed to the two outcomes this single-component client cares about).
type checklistState int

const (
	checklistRunning checklistState = iota
	checklistCompleted
	checklistFailed
)

// Checklist runs RFC 8445 §6's connectivity-check state machine over one
// component's candidate pairs: pair/prune/sort on every new candidate,
// periodic ordinary checks plus triggered checks on incoming requests,
// and promotion to "selected" once a nominated pair succeeds.
type Checklist struct {
	localPassword  string
	remotePassword string
	remoteUfrag    string
	tiebreaker     uint64

	mu             sync.Mutex
	pairs          []*CandidatePair
	triggeredQueue []*CandidatePair
	valid          []*CandidatePair
	selected       *CandidatePair
	state          checklistState
	nextPairID     int
	nextToCheck    int

	listeners      map[int]chan checklistState
	nextListenerID int
}

// tiebreakerSource is shared across checklists: RFC 8445 §5.2's tiebreaker
// only needs to be unpredictable to peers, not cryptographically secure, so
// a math-random generator (as the pack's other examples use for
// similarly non-security-critical values like RTX SSRCs) is the right
// tool rather than crypto/rand.
var tiebreakerSource = randutil.NewMathRandomGenerator()

func newChecklist(remoteUfrag, localPassword, remotePassword string) *Checklist {
	tiebreaker := uint64(tiebreakerSource.Uint32())<<32 | uint64(tiebreakerSource.Uint32())
	return &Checklist{
		remoteUfrag:    remoteUfrag,
		localPassword:  localPassword,
		remotePassword: remotePassword,
		tiebreaker:     tiebreaker,
		listeners:      make(map[int]chan checklistState),
	}
}

// addCandidatePairs pairs every local candidate in locals against every
// remote candidate in remotes (RFC 8445 §6.1.2.2), appends the
// non-redundant results, and re-sorts/re-prunes the whole list.
func (cl *Checklist) addCandidatePairs(locals, remotes []Candidate) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	for _, local := range locals {
		for _, remote := range remotes {
			if !canBePaired(local, remote) {
				continue
			}
			p := newCandidatePair(cl.nextPairID, local, remote)
			cl.nextPairID++
			p.state = Waiting
			cl.pairs = append(cl.pairs, p)
		}
	}
	cl.pairs = sortAndPrune(cl.pairs)
}

func sortAndPrune(pairs []*CandidatePair) []*CandidatePair {
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].priority() > pairs[j].priority()
	})

	pruned := pairs[:0]
	for i, p := range pairs {
		redundant := false
		for _, kept := range pruned {
			if isRedundant(p, kept) {
				redundant = true
				break
			}
		}
		if redundant && p.state != InProgress && p.state != Succeeded {
			continue
		}
		pruned = append(pruned, pairs[i])
	}
	return pruned
}

// nextPair returns the next candidate pair due a connectivity check:
// triggered checks first (RFC 8445 §7.3.1.4), then round-robin over
// Waiting pairs (RFC 8445 §6.1.4.2).
func (cl *Checklist) nextPair() *CandidatePair {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if len(cl.triggeredQueue) > 0 {
		p := cl.triggeredQueue[0]
		cl.triggeredQueue = cl.triggeredQueue[1:]
		return p
	}

	n := len(cl.pairs)
	for i := 0; i < n; i++ {
		k := (cl.nextToCheck + i) % n
		if cl.pairs[k].state == Waiting {
			cl.nextToCheck = (k + 1) % n
			return cl.pairs[k]
		}
	}
	return nil
}

// sendCheck sends a STUN Binding request connectivity check for p (RFC
// 8445 §7.2.2), short-term credentials per RFC 8445 §7.2.2 / RFC 5389
// §10.
func (cl *Checklist) sendCheck(p *CandidatePair, localUfrag string) error {
	req, err := stun.NewBindingRequest("")
	if err != nil {
		return err
	}
	req.AddUsername(cl.remoteUfrag + ":" + localUfrag)
	req.AddIceControlled(cl.tiebreaker)
	req.AddPriority(p.local.peerPriority())
	req.AddMessageIntegrity([]byte(cl.remotePassword))
	req.AddFingerprint()

	p.state = InProgress
	retransmit := time.AfterFunc(cl.rto(), func() {
		cl.mu.Lock()
		if p.state == InProgress {
			p.state = Waiting
		}
		cl.mu.Unlock()
	})

	return p.local.base.sendStun(req, p.remote.Address.UDPAddr(), func(resp *stun.Message, from *net.UDPAddr) {
		retransmit.Stop()
		cl.processResponse(p, resp)
	})
}

// rto computes the STUN retransmission timeout per RFC 8445 §14.3,
// scaled by the number of pairs still under active consideration.
func (cl *Checklist) rto() time.Duration {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	n := 0
	for _, p := range cl.pairs {
		if p.state == Waiting || p.state == InProgress {
			n++
		}
	}
	if n == 0 {
		n = 1
	}
	return time.Duration(n) * 50 * time.Millisecond
}

func (cl *Checklist) processResponse(p *CandidatePair, resp *stun.Message) {
	cl.mu.Lock()
	if p.state != InProgress {
		cl.mu.Unlock()
		return
	}
	switch resp.Class {
	case stun.SuccessResponse:
		p.state = Succeeded
		cl.valid = append(cl.valid, p)
	default:
		p.state = Failed
	}
	cl.mu.Unlock()

	cl.updateState()
}

// handleStunRequest answers an incoming connectivity check (RFC 8445
// §7.3), adopting a peer-reflexive candidate pair if the request came
// from an address not already in the checklist, and nominates the pair
// if USE-CANDIDATE was set (spec's controlled-agent role: the SIP/SDP
// offerer nominates, this module never does).
func (cl *Checklist) handleStunRequest(req *stun.Message, base *Base, from *net.UDPAddr) {
	p := cl.findPair(base, from)
	if p == nil {
		p = cl.adoptPeerReflexive(base, from, req.GetPriority())
	}
	if req.HasUseCandidate() && !p.nominated {
		cl.nominate(p)
	}

	resp, err := stun.New(stun.SuccessResponse, stun.BindingMethod, req.TransactionID)
	if err != nil {
		return
	}
	resp.SetXorMappedAddress(from)
	resp.AddMessageIntegrity([]byte(cl.localPassword))
	resp.AddFingerprint()

	if err := base.sendStun(resp, from, nil); err != nil {
		log.Warn("ice: failed to send connectivity check response: %v", err)
	}

	cl.triggerCheck(p)
}

func (cl *Checklist) adoptPeerReflexive(base *Base, from *net.UDPAddr, priority uint32) *CandidatePair {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	local := makeHostCandidate(base)
	remote := makePeerReflexiveCandidate(base, makeTransportAddress(from), priority)

	p := newCandidatePair(cl.nextPairID, local, remote)
	cl.nextPairID++
	p.state = Waiting
	cl.pairs = append(cl.pairs, p)
	cl.pairs = sortAndPrune(cl.pairs)
	return p
}

func (cl *Checklist) findPair(base *Base, from *net.UDPAddr) *CandidatePair {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	remote := makeTransportAddress(from)
	for _, p := range cl.pairs {
		if p.local.base == base && p.remote.Address == remote {
			return p
		}
	}
	return nil
}

func (cl *Checklist) triggerCheck(p *CandidatePair) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if p.state == Frozen || p.state == Waiting {
		cl.triggeredQueue = append(cl.triggeredQueue, p)
	}
}

func (cl *Checklist) nominate(p *CandidatePair) {
	cl.mu.Lock()
	if p.state == Frozen {
		p.state = Waiting
	}
	p.nominated = true
	cl.mu.Unlock()
	cl.updateState()
}

func (cl *Checklist) updateState() {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.state != checklistRunning {
		return
	}
	for _, p := range cl.valid {
		if p.nominated {
			cl.selected = p
			cl.state = checklistCompleted
			break
		}
	}

	for _, ch := range cl.listeners {
		select {
		case ch <- cl.state:
		default:
		}
	}
}

func (cl *Checklist) addListener() (int, <-chan checklistState) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	id := cl.nextListenerID
	cl.nextListenerID++
	ch := make(chan checklistState, 1)
	cl.listeners[id] = ch
	return id, ch
}

func (cl *Checklist) removeListener(id int) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	delete(cl.listeners, id)
}

func (cl *Checklist) Selected() *CandidatePair {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.selected
}
