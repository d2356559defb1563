package receiver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/arloliu/go-framer/dispatch"
	"github.com/arloliu/go-framer/envelope"
	"github.com/arloliu/go-framer/framing"
	"github.com/stretchr/testify/require"
)

func attachUDP(t *testing.T, r *Receiver) (*dispatch.Queue, *net.UDPConn) {
	t.Helper()

	conn := listenUDP(t)
	q := dispatch.NewQueue()
	if err := r.Attach(context.Background(), NewUDP(conn), q); err != nil {
		t.Fatalf("attachUDP: %v", err)
	}

	return q, conn
}

func TestUDP_RemotePortFollowsEachDatagram(t *testing.T) {
	require := require.New(t)

	r := newTestReceiver(t, newTestConfig(t, framing.RawChunk))
	q, server := attachUDP(t, r)

	senderA := listenUDP(t)
	senderB := listenUDP(t)

	_, err := senderA.WriteTo([]byte("from-a"), server.LocalAddr())
	require.NoError(err)
	first := waitEnvelopes(t, q, 1)[0]

	_, err = senderB.WriteTo([]byte("from-b"), server.LocalAddr())
	require.NoError(err)
	second := waitEnvelopes(t, q, 1)[0]

	require.Equal([]byte("from-a"), first.Payload())
	require.Equal(senderA.LocalAddr().(*net.UDPAddr).Port, first.RemotePort())
	require.Equal([]byte("from-b"), second.Payload())
	require.Equal(senderB.LocalAddr().(*net.UDPAddr).Port, second.RemotePort())
	require.NotEqual(first.RemotePort(), second.RemotePort())

	require.Equal(envelope.UDPTransport, second.Transport())
	require.Equal(ConnKey(server.LocalAddr()), r.Key())
	require.Equal(senderB.LocalAddr().String(), r.RemoteAddr().String())
}

func TestUDP_WriteRepliesToLastPeer(t *testing.T) {
	require := require.New(t)

	r := newTestReceiver(t, newTestConfig(t, framing.RawChunk))
	q, server := attachUDP(t, r)

	_, err := r.Write([]byte("nobody"))
	require.ErrorIs(err, ErrNoPeer)

	client := listenUDP(t)
	_, err = client.WriteTo([]byte("ping"), server.LocalAddr())
	require.NoError(err)
	waitEnvelopes(t, q, 1)

	_, err = r.Write([]byte("pong"))
	require.NoError(err)

	buf := make([]byte, 16)
	require.NoError(client.SetReadDeadline(time.Now().Add(2 * time.Second)))
	n, _, err := client.ReadFrom(buf)
	require.NoError(err)
	require.Equal("pong", string(buf[:n]))
}

func TestUDP_BinaryDatagrams(t *testing.T) {
	require := require.New(t)

	r := newTestReceiver(t, newTestConfig(t, framing.Binary))
	q, server := attachUDP(t, r)

	client := listenUDP(t)

	// a truncated frame is dropped; the next datagram still arrives
	wire := framing.Pack("Ping", []byte{0x01, 0x02})
	_, err := client.WriteTo(wire[:40], server.LocalAddr())
	require.NoError(err)
	_, err = client.WriteTo(wire, server.LocalAddr())
	require.NoError(err)

	env := waitEnvelopes(t, q, 1)[0]
	require.Equal("Ping", env.TypeName())
	require.Equal([]byte{0x01, 0x02}, env.Payload())
	require.Equal(uint64(1), r.Metrics().DroppedFrameCount.Load())
}

func TestUDP_DisposeNeverFiresCallback(t *testing.T) {
	require := require.New(t)

	r := newTestReceiver(t, newTestConfig(t, framing.RawChunk))
	rec := &disconnectRecorder{}
	r.OnDisconnect(rec.callback)
	attachUDP(t, r)

	require.True(r.IsConnected())
	r.Dispose()
	require.False(r.IsConnected())
	require.Equal(0, rec.count())
}
