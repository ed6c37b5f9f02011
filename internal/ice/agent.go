package ice

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/lanikai/rtcsecure/internal/stun"
)

// Credentials holds one side's ICE short-term-credential values (RFC
// 8445 §5.3).
type Credentials struct {
	Ufrag    string
	Password string
}

func generateCredentials() Credentials {
	var buf [24]byte
	rand.Read(buf[:])
	enc := base64.RawURLEncoding.EncodeToString(buf[:])
	return Credentials{Ufrag: enc[:8], Password: enc[8:]}
}

// Agent runs ICE connectivity establishment for a single component of a
// single media stream: gathers local candidates (host, server-reflexive,
// relay), accepts trickled remote candidates, performs connectivity
// checks, and yields a net.Conn for the nominated pair. It corresponds to
// the teacher's Agent, generalized to gather relay candidates (its TODO)
// via internal/turn and to use internal/stun throughout.
type Agent struct {
	Local  Credentials
	remote Credentials

	servers []IceServer

	bases     []*Base
	checklist *Checklist

	mu               sync.Mutex
	localCandidates  []Candidate
	remoteCandidates []Candidate

	dataIn chan []byte
}

// NewAgent creates an Agent with freshly generated local ICE credentials,
// gathering candidates against servers (spec §3's IceServer list, a mix
// of "stun:" and "turn:" URLs).
func NewAgent(servers []IceServer) *Agent {
	return &Agent{
		Local:   generateCredentials(),
		servers: servers,
		dataIn:  make(chan []byte, 64),
	}
}

// SetRemoteCredentials configures the remote peer's ICE ufrag/password,
// learned from its SDP offer/answer (spec §6).
func (a *Agent) SetRemoteCredentials(remote Credentials) {
	a.remote = remote
	a.checklist = newChecklist(remote.Ufrag, a.Local.Password, remote.Password)
}

// GatherCandidates opens one Base per local interface, starts its read
// loop, and asynchronously gathers host/server-reflexive/relay
// candidates, trickling each onto the returned channel as it becomes
// available (RFC 8445 §2.3's trickle ICE). The channel is closed once
// gathering completes.
func (a *Agent) GatherCandidates(ctx context.Context) (<-chan Candidate, error) {
	bases, err := gatherBases(1)
	if err != nil {
		return nil, err
	}
	a.bases = bases

	for _, base := range bases {
		go base.readLoop(a.makeDefaultHandler(base), a.dataIn)
	}

	out := make(chan Candidate, 16)
	go func() {
		defer close(out)
		var wg sync.WaitGroup
		for _, base := range bases {
			wg.Add(1)
			go func(base *Base) {
				defer wg.Done()
				a.gatherForBase(ctx, base, out)
			}(base)
		}
		wg.Wait()
	}()
	return out, nil
}

func (a *Agent) gatherForBase(ctx context.Context, base *Base, out chan<- Candidate) {
	host := makeHostCandidate(base)
	a.addLocalCandidate(host)
	select {
	case out <- host:
	case <-ctx.Done():
		return
	}

	if base.address.isLinkLocal() {
		return
	}

	for _, server := range a.servers {
		if hostport, ok := server.hostport("stun"); ok {
			mapped, err := base.gatherReflexive(hostport)
			if err != nil {
				log.Debug("ice: STUN gather failed for %s via %s: %v", base.address, hostport, err)
				continue
			}
			if mapped == base.address {
				continue
			}
			c := makeServerReflexiveCandidate(base, mapped, hostport)
			a.addLocalCandidate(c)
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}

		if hostport, ok := server.hostport("turn"); ok {
			relay, _, err := base.gatherRelay(server, hostport)
			if err != nil {
				log.Debug("ice: TURN allocate failed for %s via %s: %v", base.address, hostport, err)
				continue
			}
			c := makeRelayCandidate(base, relay, hostport)
			a.addLocalCandidate(c)
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *Agent) addLocalCandidate(c Candidate) {
	a.mu.Lock()
	a.localCandidates = append(a.localCandidates, c)
	remotes := append([]Candidate(nil), a.remoteCandidates...)
	a.mu.Unlock()

	if a.checklist != nil {
		a.checklist.addCandidatePairs([]Candidate{c}, remotes)
	}
}

// AddRemoteCandidate parses and adds one trickled remote candidate line
// (RFC 8839 a=candidate syntax).
func (a *Agent) AddRemoteCandidate(line string) error {
	c, err := parseCandidateSDP(line)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.remoteCandidates = append(a.remoteCandidates, c)
	locals := append([]Candidate(nil), a.localCandidates...)
	a.mu.Unlock()

	if a.checklist != nil {
		a.checklist.addCandidatePairs(locals, []Candidate{c})
	}
	return nil
}

// makeDefaultHandler builds the callback that processes unsolicited STUN
// traffic on base: incoming connectivity checks and keepalive
// indications.
func (a *Agent) makeDefaultHandler(base *Base) stunHandler {
	return func(msg *stun.Message, from *net.UDPAddr) {
		if a.checklist == nil {
			return
		}
		switch msg.Class {
		case stun.Request:
			a.checklist.handleStunRequest(msg, base, from)
		default:
			// Indications (keepalives) and stray responses need no action.
		}
	}
}

// Connect drives connectivity checks to completion and returns a net.Conn
// bound to the nominated candidate pair, or an error if none succeeds
// before ctx is done.
func (a *Agent) Connect(ctx context.Context) (net.Conn, error) {
	if a.checklist == nil {
		return nil, fmt.Errorf("ice: remote credentials not set")
	}

	lid, updates := a.checklist.addListener()
	defer a.checklist.removeListener(lid)

	ta := time.NewTicker(50 * time.Millisecond)
	defer ta.Stop()
	tr := time.NewTicker(30 * time.Second)
	defer tr.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case state := <-updates:
			switch state {
			case checklistCompleted:
				p := a.checklist.Selected()
				conn := newDataConn(p.local.base, p.remote.Address.UDPAddr(), a.dataIn)
				return conn, nil
			case checklistFailed:
				return nil, fmt.Errorf("ice: connectivity checks failed")
			}

		case <-ta.C:
			if p := a.checklist.nextPair(); p != nil {
				if err := a.checklist.sendCheck(p, a.Local.Ufrag); err != nil {
					log.Warn("ice: connectivity check send failed: %v", err)
				}
			}

		case <-tr.C:
			if p := a.checklist.Selected(); p != nil {
				ind, err := stun.NewBindingIndication()
				if err == nil {
					p.local.base.sendStun(ind, p.remote.Address.UDPAddr(), nil)
				}
			}
		}
	}
}

func (a *Agent) Close() {
	for _, base := range a.bases {
		base.Close()
	}
}

// CreatePermission installs a TURN permission for peer on the nominated
// pair's local base, if that base allocated a relay (spec §4.8 step 2:
// "turn.create_permission(remote_peer)"). It is a no-op, not an error,
// when the selected path never went through a TURN relay.
func (a *Agent) CreatePermission(peer *net.UDPAddr) error {
	if a.checklist == nil {
		return fmt.Errorf("ice: no checklist")
	}
	p := a.checklist.Selected()
	if p == nil {
		return fmt.Errorf("ice: no selected candidate pair")
	}
	if p.local.base.turnClient == nil {
		return nil
	}
	return p.local.base.turnClient.CreatePermission(peer)
}

// parseCandidateSDP parses one "candidate:..." SDP attribute line (RFC
// 8839 §4.1) into a remote Candidate.
func parseCandidateSDP(line string) (Candidate, error) {
	line = strings.TrimPrefix(strings.TrimSpace(line), "a=")
	fields := strings.Fields(strings.TrimPrefix(line, "candidate:"))
	if len(fields) < 6 {
		return Candidate{}, fmt.Errorf("ice: malformed candidate line: %q", line)
	}

	var foundation, transport, ip string
	var component int
	var priority uint32
	var port int
	foundation = fields[0]
	fmt.Sscanf(fields[1], "%d", &component)
	transport = fields[2]
	fmt.Sscanf(fields[3], "%d", &priority)
	ip = fields[4]
	fmt.Sscanf(fields[5], "%d", &port)

	if !strings.EqualFold(transport, "udp") {
		return Candidate{}, fmt.Errorf("ice: unsupported candidate transport %q", transport)
	}

	typ := HostCandidate
	for i := 6; i+1 < len(fields); i += 2 {
		if fields[i] == "typ" {
			typ = CandidateType(fields[i+1])
		}
	}

	return Candidate{
		Address:    TransportAddress{IP: ip, Port: port},
		Type:       typ,
		Priority:   priority,
		Foundation: foundation,
		Component:  component,
	}, nil
}
