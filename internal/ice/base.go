package ice

import (
	"net"
	"strings"
	"sync"
	"time"

	"github.com/lanikai/rtcsecure/internal/logging"
	"github.com/lanikai/rtcsecure/internal/stun"
	"github.com/lanikai/rtcsecure/internal/turn"
	"golang.org/x/xerrors"
)

var log = logging.DefaultLogger.WithTag("ice")

const (
	maxDatagramSize       = 1500
	timeoutQuerySTUN      = 5 * time.Second
	timeoutReadFromBase   = 30 * time.Second
)

// IceServer names one STUN or TURN server to gather candidates against
// (spec §3): a "stun:" URL yields a server-reflexive candidate, a
// "turn:" URL (with Username/Credential, RFC 5766 long-term credentials)
// yields a relay candidate. No server-reflexive candidate is gathered
// from a "turn:" URL.
type IceServer struct {
	URLs       []string
	Username   string
	Credential string
}

func (s IceServer) hostport(scheme string) (string, bool) {
	for _, u := range s.URLs {
		if strings.HasPrefix(u, scheme+":") {
			return strings.TrimPrefix(u, scheme+":"), true
		}
	}
	return "", false
}

// stunHandler processes one STUN message read on a Base, either a
// connectivity-check request/indication from the remote peer or a
// response to a transaction this Base itself initiated.
type stunHandler func(msg *stun.Message, from *net.UDPAddr)

// Base is the local transport address an agent sends from (RFC 8445's
// "base"): one UDP socket per local interface address, demultiplexing
// STUN traffic to registered per-transaction handlers and everything
// else to a data channel.
type Base struct {
	conn      *net.UDPConn
	address   TransportAddress
	component int

	mu       sync.Mutex
	handlers map[string]stunHandler

	turnClient *turn.Client
	turnServer string
}

// gatherBases opens one UDP socket per non-loopback local IPv4 address
// (spec's supplemented ICE feature is IPv4/UDP-only, matching the rest
// of this module).
func gatherBases(component int) ([]*Base, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var bases []*Base
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}
			base, err := createBase(ip4, component)
			if err != nil {
				log.Debug("ice: failed to create base for %s: %v", ip4, err)
				continue
			}
			bases = append(bases, base)
		}
	}
	return bases, nil
}

func createBase(ip net.IP, component int) (*Base, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: ip, Port: 0})
	if err != nil {
		return nil, err
	}
	return &Base{
		conn:      conn,
		address:   makeTransportAddress(conn.LocalAddr().(*net.UDPAddr)),
		component: component,
		handlers:  make(map[string]stunHandler),
	}, nil
}

func (b *Base) Close() error { return b.conn.Close() }

// sendStun writes msg to addr, registering handler (if non-nil) to
// receive the matching response by transaction ID.
func (b *Base) sendStun(msg *stun.Message, addr *net.UDPAddr, handler stunHandler) error {
	if handler != nil {
		b.mu.Lock()
		b.handlers[msg.TransactionID] = handler
		b.mu.Unlock()
	}
	_, err := b.conn.WriteToUDP(msg.Bytes(), addr)
	return err
}

func (b *Base) removeHandler(transactionID string) {
	b.mu.Lock()
	delete(b.handlers, transactionID)
	b.mu.Unlock()
}

// readLoop demultiplexes STUN traffic (routed to the registered
// per-transaction handler, or defaultHandler for unsolicited
// requests/indications) from opaque data traffic (sent to dataIn), until
// the socket is closed.
func (b *Base) readLoop(defaultHandler stunHandler, dataIn chan<- []byte) {
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		data := append([]byte(nil), buf[:n]...)

		msg, err := stun.Parse(data)
		if err != nil {
			log.Debug("ice: malformed STUN-looking packet from %s: %v", from, err)
			continue
		}
		if msg == nil {
			select {
			case dataIn <- data:
			default:
				log.Warn("ice: dropping data packet, reader not keeping up")
			}
			continue
		}

		b.mu.Lock()
		handler, ok := b.handlers[msg.TransactionID]
		if ok {
			delete(b.handlers, msg.TransactionID)
		}
		b.mu.Unlock()

		switch {
		case ok:
			handler(msg, from)
		case b.handleTurn(data, from):
			// Claimed by the TURN client (Allocate/Refresh/CreatePermission
			// response); nothing further to do.
		case defaultHandler != nil:
			defaultHandler(msg, from)
		}
	}
}

// gatherReflexive queries stunServer ("host:port") for this base's
// server-reflexive mapping (RFC 8445 §5.1.1.2, the plain STUN Binding
// exchange, no credentials involved).
func (b *Base) gatherReflexive(stunServer string) (TransportAddress, error) {
	serverAddr, err := net.ResolveUDPAddr("udp4", stunServer)
	if err != nil {
		return TransportAddress{}, err
	}

	req, err := stun.NewBindingRequest("")
	if err != nil {
		return TransportAddress{}, err
	}

	type result struct {
		addr *net.UDPAddr
		err  error
	}
	resultCh := make(chan result, 1)

	err = b.sendStun(req, serverAddr, func(resp *stun.Message, from *net.UDPAddr) {
		if resp.Class != stun.SuccessResponse {
			resultCh <- result{err: xerrors.New("stun: binding request failed")}
			return
		}
		mapped, err := resp.GetMappedAddress()
		resultCh <- result{addr: mapped, err: err}
	})
	if err != nil {
		return TransportAddress{}, err
	}

	select {
	case r := <-resultCh:
		if r.err != nil {
			return TransportAddress{}, r.err
		}
		return makeTransportAddress(r.addr), nil
	case <-time.After(timeoutQuerySTUN):
		b.removeHandler(req.TransactionID)
		return TransportAddress{}, xerrors.New("stun: binding request timed out")
	}
}

// gatherRelay allocates a relay transport address on a TURN server
// (spec §4.3) and returns the relayed address. The second result is the
// base's own host address: the Allocate response's XOR-MAPPED-ADDRESS
// is not read, so no server-reflexive mapping is returned.
func (b *Base) gatherRelay(server IceServer, hostport string) (relay, reflexive TransportAddress, err error) {
	serverAddr, err := net.ResolveUDPAddr("udp4", hostport)
	if err != nil {
		return
	}

	client := turn.NewClient(b.conn, turn.Config{
		ServerAddr: serverAddr,
		Username:   server.Username,
		Password:   server.Credential,
	})
	b.turnClient = client
	b.turnServer = hostport

	relayAddr, err := client.GetRelayEndpoint(20 * time.Second)
	if err != nil {
		return
	}
	relay = makeTransportAddress(relayAddr)
	return relay, b.address, nil
}

// handleTurn lets the Base's read loop forward non-connectivity-check
// STUN responses (TURN Allocate/Refresh/CreatePermission responses) to
// the TURN client, which registers its own transactions independently of
// the Base's own per-transaction handlers for connectivity checks.
func (b *Base) handleTurn(data []byte, from *net.UDPAddr) bool {
	if b.turnClient == nil {
		return false
	}
	return b.turnClient.HandlePacket(data, from)
}
