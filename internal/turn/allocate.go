package turn

import (
	"net"
	"time"

	"github.com/lanikai/rtcsecure/internal/stun"
)

// GetRelayEndpoint runs the Allocate handshake to completion (spec §4.3):
// up to maxAllocateAttempts transmissions, transparently handling a
// 401/438 challenge (storing the returned NONCE/REALM and resending an
// authenticated request with a fresh transaction id) and an
// ALTERNATE-SERVER redirect. It returns (nil, nil) — not an error — if no
// relay could be obtained within timeout; partial success (a reflexive
// address with no relay) is never surfaced, per spec.
func (c *Client) GetRelayEndpoint(timeout time.Duration) (*net.UDPAddr, error) {
	c.setState(Resolved)
	deadline := time.Now().Add(timeout)

	authenticated := false

	for attempt := 0; attempt < maxAllocateAttempts; attempt++ {
		if time.Now().After(deadline) {
			break
		}
		c.setState(Allocating)

		msg, err := stun.New(stun.Request, stun.AllocateMethod, "")
		if err != nil {
			return nil, err
		}
		msg.AddRequestedTransport(stun.RequestedTransportUDP)

		c.mu.Lock()
		realm, nonce, username := c.realm, c.nonce, c.cfg.Username
		serverAddr := c.serverAddr
		c.mu.Unlock()

		if authenticated {
			msg.AddUsername(username)
			msg.AddRealm(realm)
			msg.AddNonce(nonce)
			msg.AddMessageIntegrity(stun.LongTermKey(username, realm, c.cfg.Password))
		}

		attemptDeadline := time.Now().Add(retransmitInterval)
		if attemptDeadline.After(deadline) {
			attemptDeadline = deadline
		}
		resp, err := c.sendAndWait(msg, serverAddr, attemptDeadline)
		if err != nil {
			log.Warn("allocate: %s", err)
			continue
		}
		if resp == nil {
			continue // no response within retransmitInterval; the next attempt retransmits
		}

		if resp.Class == stun.ErrorResponse {
			code, reason, _ := resp.GetErrorCode()
			switch code {
			case stun.CodeUnauthorized, stun.CodeStaleNonce:
				c.mu.Lock()
				c.realm = resp.GetRealm()
				c.nonce = resp.GetNonce()
				c.mu.Unlock()
				authenticated = true
				continue
			case stun.CodeTryAlternate:
				if alt := resp.Get(stun.AttrAlternateServer); alt != nil {
					addr, aerr := decodeAlternate(alt.Value)
					if aerr == nil {
						c.mu.Lock()
						c.serverAddr = addr
						c.mu.Unlock()
					}
				}
				continue
			default:
				log.Warn("allocate: server error %d (%s)", code, reason)
				continue
			}
		}

		relayAddr, err := resp.GetXorRelayedAddress()
		if err != nil || relayAddr == nil {
			continue
		}

		lifetime := defaultLifetime
		if secs, ok := resp.GetLifetime(); ok {
			lifetime = time.Duration(secs) * time.Second
		}

		c.mu.Lock()
		c.relayAddr = relayAddr
		c.expiry = time.Now().Add(lifetime)
		c.mu.Unlock()
		c.setState(Allocated)
		c.scheduleRefresh(lifetime)

		return relayAddr, nil
	}

	c.setState(Failed)
	return nil, nil
}

func decodeAlternate(value []byte) (*net.UDPAddr, error) {
	msg := &stun.Message{}
	return msg.DecodeAddressAttr(value)
}

// scheduleRefresh arms a single-shot timer firing refreshGrace before
// expiry, as spec.md requires ("expiry - 10s grace").
func (c *Client) scheduleRefresh(lifetime time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
	}
	fireIn := lifetime - refreshGrace
	if fireIn < 0 {
		fireIn = 0
	}
	c.refreshTimer = time.AfterFunc(fireIn, c.refresh)
}

func (c *Client) refresh() {
	c.setState(Refreshing)

	c.mu.Lock()
	username, realm, nonce, serverAddr := c.cfg.Username, c.realm, c.nonce, c.serverAddr
	c.mu.Unlock()

	msg, err := stun.New(stun.Request, stun.RefreshMethod, "")
	if err != nil {
		log.Error("refresh: %s", err)
		return
	}
	msg.AddLifetime(uint32(defaultLifetime / time.Second))
	msg.AddUsername(username)
	msg.AddRealm(realm)
	msg.AddNonce(nonce)
	msg.AddMessageIntegrity(stun.LongTermKey(username, realm, c.cfg.Password))

	resp, err := c.sendAndWait(msg, serverAddr, time.Now().Add(retransmitInterval*maxAllocateAttempts))
	if err != nil || resp == nil || resp.Class == stun.ErrorResponse {
		log.Warn("turn: refresh failed, allocation will expire")
		c.setState(Failed)
		return
	}

	lifetime := defaultLifetime
	if secs, ok := resp.GetLifetime(); ok {
		lifetime = time.Duration(secs) * time.Second
	}
	c.mu.Lock()
	c.expiry = time.Now().Add(lifetime)
	c.mu.Unlock()
	c.setState(Allocated)
	c.scheduleRefresh(lifetime)
}

// Close releases the client's timers. It does not deallocate server-side
// state (a zero-lifetime Refresh would do that, but the orchestrator may
// be tearing down because the allocation already failed).
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
	}
	for _, p := range c.permissions {
		p.timer.Stop()
	}
}
