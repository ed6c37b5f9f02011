// Package turn implements a TURN (RFC 5766) relay client: allocate a relay
// transport address on a TURN server, create permissions for peers, and
// keep both alive with refresh timers. It builds directly on
// internal/stun's message codec and reuses the teacher's
// transaction-handler/timer idiom from internal/ice's Agent/Base.
package turn

import (
	"net"
	"sync"
	"time"

	"github.com/lanikai/rtcsecure/internal/logging"
	"github.com/lanikai/rtcsecure/internal/stun"
	"golang.org/x/xerrors"
)

var log = logging.DefaultLogger.WithTag("turn")

// State is the client's position in the Allocate/Refresh state machine
// (spec §4.3).
type State int

const (
	Unresolved State = iota
	Resolved
	Allocating
	Allocated
	Refreshing
	Failed
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "Unresolved"
	case Resolved:
		return "Resolved"
	case Allocating:
		return "Allocating"
	case Allocated:
		return "Allocated"
	case Refreshing:
		return "Refreshing"
	case Failed:
		return "Failed"
	default:
		return "?"
	}
}

const (
	maxAllocateAttempts  = 5
	retransmitInterval   = 1000 * time.Millisecond
	minAttemptSpacing    = 500 * time.Millisecond
	defaultLifetime      = 600 * time.Second
	defaultPermLifetime  = 300 * time.Second
	refreshGrace         = 10 * time.Second
)

// Config holds the credentials and server endpoint for a single IceServer.
type Config struct {
	ServerAddr *net.UDPAddr
	Username   string
	Password   string
}

// permission tracks a single peer permission's refresh schedule.
type permission struct {
	peer    *net.UDPAddr
	expiry  time.Time
	timer   *time.Timer
}

// Client drives one TURN allocation against one server. Conn is expected
// to already be demultiplexed to STUN/TURN traffic only (an
// internal/mux.Endpoint matched by MatchSTUN, typically), so Client never
// needs to look at non-STUN bytes.
type Client struct {
	conn net.PacketConn
	cfg  Config

	mu          sync.Mutex
	state       State
	serverAddr  *net.UDPAddr
	realm       string
	nonce       string
	relayAddr   *net.UDPAddr
	expiry      time.Time
	refreshTimer *time.Timer
	permissions map[string]*permission

	transactions map[string]chan *stun.Message
}

// NewClient creates a Client for the given server/credentials. The
// returned client does not send anything until GetRelayEndpoint is called.
func NewClient(conn net.PacketConn, cfg Config) *Client {
	return &Client{
		conn:         conn,
		cfg:          cfg,
		state:        Unresolved,
		serverAddr:   cfg.ServerAddr,
		permissions:  make(map[string]*permission),
		transactions: make(map[string]chan *stun.Message),
	}
}

// HandlePacket feeds a datagram read from conn to the client if it is a
// STUN/TURN response matching an outstanding transaction. It returns false
// if the packet was not claimed (not a response the client is waiting on).
func (c *Client) HandlePacket(data []byte, from *net.UDPAddr) bool {
	msg, err := stun.Parse(data)
	if err != nil || msg == nil {
		return false
	}
	if msg.Class != stun.SuccessResponse && msg.Class != stun.ErrorResponse {
		return false
	}

	c.mu.Lock()
	ch, ok := c.transactions[msg.TransactionID]
	c.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case ch <- msg:
	default:
	}
	return true
}

func (c *Client) register(txID string) chan *stun.Message {
	ch := make(chan *stun.Message, 1)
	c.mu.Lock()
	c.transactions[txID] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) unregister(txID string) {
	c.mu.Lock()
	delete(c.transactions, txID)
	c.mu.Unlock()
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// sendAndWait transmits msg to addr, retransmitting on retransmitInterval
// until a response arrives or the context-less deadline elapses. It
// returns the matched response, or nil on timeout.
func (c *Client) sendAndWait(msg *stun.Message, addr *net.UDPAddr, deadline time.Time) (*stun.Message, error) {
	ch := c.register(msg.TransactionID)
	defer c.unregister(msg.TransactionID)

	wire := msg.Bytes()
	if _, err := c.conn.WriteTo(wire, addr); err != nil {
		return nil, xerrors.Errorf("turn: send to %s: %w", addr, err)
	}

	ticker := time.NewTicker(retransmitInterval)
	defer ticker.Stop()

	deadlineTimer := time.NewTimer(time.Until(deadline))
	defer deadlineTimer.Stop()

	for {
		select {
		case resp := <-ch:
			return resp, nil
		case <-ticker.C:
			if _, err := c.conn.WriteTo(wire, addr); err != nil {
				return nil, xerrors.Errorf("turn: retransmit to %s: %w", addr, err)
			}
		case <-deadlineTimer.C:
			return nil, nil
		}
	}
}
