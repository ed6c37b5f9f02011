// Package mux demultiplexes a single net.Conn carrying STUN, DTLS and
// SRTP/SRTCP datagrams on one 5-tuple (RFC 5764 §5) into separate
// net.Conn-shaped Endpoints, one per protocol, so internal/stun,
// internal/dtls and internal/srtp never have to share a socket directly.
package mux

import (
	"net"
	"sync"

	"github.com/lanikai/rtcsecure/internal/logging"
)

var log = logging.DefaultLogger.WithTag("mux")

const numBufferPackets = 32

// MatchFunc reports whether buf belongs to the protocol an Endpoint was
// created for. See MatchSTUN, MatchDTLS and MatchSRTP.
type MatchFunc func(buf []byte) bool

// Mux classifies datagrams read from a single underlying net.Conn and
// dispatches each to the first Endpoint whose MatchFunc accepts it.
type Mux struct {
	lock       sync.Mutex
	nextConn   net.Conn
	endpoints  map[*Endpoint]MatchFunc
	order      []*Endpoint
	bufferSize int
}

// NewMux creates a Mux that takes ownership of conn and closes it when the
// Mux is closed.
func NewMux(conn net.Conn, bufferSize int) *Mux {
	m := &Mux{
		nextConn:   conn,
		endpoints:  make(map[*Endpoint]MatchFunc),
		bufferSize: bufferSize,
	}

	go m.readLoop()

	return m
}

// NewEndpoint registers a new Endpoint whose Read returns only datagrams
// for which f reports true. Endpoints are tried in registration order, so
// register the most specific matchers (STUN, then DTLS) before a catch-all.
func (m *Mux) NewEndpoint(f MatchFunc) *Endpoint {
	e := createEndpoint(m, numBufferPackets, m.bufferSize)

	m.lock.Lock()
	m.endpoints[e] = f
	m.order = append(m.order, e)
	m.lock.Unlock()

	return e
}

func (m *Mux) RemoveEndpoint(e *Endpoint) {
	m.lock.Lock()
	delete(m.endpoints, e)
	for i, o := range m.order {
		if o == e {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.lock.Unlock()
}

// Close closes the Mux and every registered Endpoint.
func (m *Mux) Close() error {
	m.lock.Lock()
	for e := range m.endpoints {
		e.close()
		delete(m.endpoints, e)
	}
	m.order = nil
	m.lock.Unlock()

	return m.nextConn.Close()
}

func (m *Mux) readLoop() {
	defer m.Close()

	buf := make([]byte, m.bufferSize)
	for {
		n, err := m.nextConn.Read(buf)
		if err != nil {
			return
		}

		// "Give a penny, take a penny": the datagram is handed to the
		// endpoint in exchange for one of its unused buffers, so the mux
		// never allocates in steady state.
		buf = m.dispatch(buf[:n])
		buf = buf[0:cap(buf)]
	}
}

func (m *Mux) dispatch(buf []byte) []byte {
	var endpoint *Endpoint

	m.lock.Lock()
	for _, e := range m.order {
		if m.endpoints[e](buf) {
			endpoint = e
			break
		}
	}
	m.lock.Unlock()

	if endpoint == nil {
		if len(buf) > 0 {
			log.Debug("no endpoint registered for packet starting with 0x%02x", buf[0])
		}
		return buf
	}

	return endpoint.deliver(buf)
}
