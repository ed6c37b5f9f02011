package turn

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlePacketIgnoresNonStun(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	c := NewClient(pc, Config{ServerAddr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 3478}})
	require.False(t, c.HandlePacket([]byte{0x80, 0x00, 0x00, 0x00}, nil))
}

func TestHandlePacketRoutesMatchedTransaction(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	c := NewClient(pc, Config{ServerAddr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 3478}})

	txID := "0123456789AB"
	ch := c.register(txID)
	defer c.unregister(txID)

	msg, err := newTestSuccessResponse(txID)
	require.NoError(t, err)

	require.True(t, c.HandlePacket(msg, nil))
	select {
	case got := <-ch:
		require.Equal(t, txID, got.TransactionID)
	default:
		t.Fatal("expected matched response to be delivered")
	}
}

func TestStateStringer(t *testing.T) {
	require.Equal(t, "Allocated", Allocated.String())
	require.Equal(t, "Failed", Failed.String())
}
