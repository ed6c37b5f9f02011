package turn

import (
	"net"
	"time"

	"github.com/lanikai/rtcsecure/internal/stun"
	"golang.org/x/xerrors"
)

// CreatePermission installs a permission for peer on the current
// allocation, so the relay will forward datagrams to/from it (RFC 5766
// §9). The permission is refreshed automatically, same as the allocation
// itself, using the server-advised (or default 300s) lifetime.
func (c *Client) CreatePermission(peer *net.UDPAddr) error {
	c.mu.Lock()
	if c.state != Allocated && c.state != Refreshing {
		c.mu.Unlock()
		return xerrors.New("turn: no active allocation")
	}
	username, realm, nonce, serverAddr := c.cfg.Username, c.realm, c.nonce, c.serverAddr
	c.mu.Unlock()

	msg, err := stun.New(stun.Request, stun.CreatePermissionMethod, "")
	if err != nil {
		return err
	}
	msg.SetXorPeerAddress(peer)
	msg.AddUsername(username)
	msg.AddRealm(realm)
	msg.AddNonce(nonce)
	msg.AddMessageIntegrity(stun.LongTermKey(username, realm, c.cfg.Password))

	resp, err := c.sendAndWait(msg, serverAddr, time.Now().Add(retransmitInterval*maxAllocateAttempts))
	if err != nil {
		return err
	}
	if resp == nil {
		return xerrors.New("turn: CreatePermission timed out")
	}
	if resp.Class == stun.ErrorResponse {
		code, reason, _ := resp.GetErrorCode()
		return xerrors.Errorf("turn: CreatePermission refused: %d (%s)", code, reason)
	}

	lifetime := defaultPermLifetime
	if secs, ok := resp.GetLifetime(); ok {
		lifetime = time.Duration(secs) * time.Second
	}
	fireIn := lifetime - refreshGrace
	if fireIn < 0 {
		fireIn = 0
	}

	key := peer.String()
	p := &permission{peer: peer, expiry: time.Now().Add(lifetime)}
	p.timer = time.AfterFunc(fireIn, func() {
		_ = c.CreatePermission(peer)
	})

	c.mu.Lock()
	if old, ok := c.permissions[key]; ok {
		old.timer.Stop()
	}
	c.permissions[key] = p
	c.mu.Unlock()

	return nil
}
