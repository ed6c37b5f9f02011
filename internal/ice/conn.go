package ice

import (
	"io"
	"net"
	"time"
)

// dataConn adapts a selected CandidatePair's base and peer address to
// net.Conn, so the DTLS/SRTP layers above never need to know this
// traffic arrived over a UDP socket shared with ICE/STUN/TURN control
// messages (spec §5's shared-socket-multiplex requirement). Reads come
// from the Base's demultiplexed data channel instead of the socket
// directly, since the Base's readLoop must keep draining STUN traffic
// for keepalives and any late peer-reflexive discovery.
type dataConn struct {
	base   *Base
	remote *net.UDPAddr
	in     <-chan []byte

	readDeadline time.Time
}

func newDataConn(base *Base, remote *net.UDPAddr, in <-chan []byte) *dataConn {
	return &dataConn{base: base, remote: remote, in: in}
}

func (c *dataConn) Read(b []byte) (int, error) {
	var timer *time.Timer
	var timeout <-chan time.Time
	if !c.readDeadline.IsZero() {
		timer = time.NewTimer(time.Until(c.readDeadline))
		timeout = timer.C
		defer timer.Stop()
	}

	select {
	case data, ok := <-c.in:
		if !ok {
			return 0, io.EOF
		}
		n := copy(b, data)
		return n, nil
	case <-timeout:
		return 0, errTimeout{}
	}
}

func (c *dataConn) Write(b []byte) (int, error) {
	return c.base.conn.WriteToUDP(b, c.remote)
}

func (c *dataConn) Close() error { return nil }

func (c *dataConn) LocalAddr() net.Addr  { return c.base.conn.LocalAddr() }
func (c *dataConn) RemoteAddr() net.Addr { return c.remote }

func (c *dataConn) SetDeadline(t time.Time) error {
	c.readDeadline = t
	return nil
}
func (c *dataConn) SetReadDeadline(t time.Time) error {
	c.readDeadline = t
	return nil
}
func (c *dataConn) SetWriteDeadline(t time.Time) error { return nil }

type errTimeout struct{}

func (errTimeout) Error() string   { return "ice: read timeout" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }
