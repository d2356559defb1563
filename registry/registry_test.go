package registry

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/arloliu/go-framer/dispatch"
	"github.com/arloliu/go-framer/envelope"
	"github.com/arloliu/go-framer/framing"
	"github.com/arloliu/go-framer/receiver"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T, kind framing.Kind, opts ...receiver.Option) *receiver.Config {
	t.Helper()

	defaults := []receiver.Option{
		receiver.WithPollTimeout(5 * time.Millisecond),
		receiver.WithDisposeTimeout(time.Second),
	}

	cfg, err := receiver.NewConfig(kind, append(defaults, opts...)...)
	if err != nil {
		t.Fatalf("newTestConfig: %v", err)
	}

	return cfg
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *dispatch.Queue) {
	t.Helper()

	q := dispatch.NewQueue()
	reg := New(q, opts...)
	t.Cleanup(func() { _ = reg.Close() })

	return reg, q
}

func waitEnvelope(t *testing.T, q *dispatch.Queue) *envelope.Envelope {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if env, ok := q.Pop(); ok {
			return env
		}
		if time.Now().After(deadline) {
			t.Fatal("waitEnvelope: timed out")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

type disconnects struct {
	mu   sync.Mutex
	keys []string
}

func (d *disconnects) handler(key string, _ receiver.Transport) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.keys = append(d.keys, key)
}

func (d *disconnects) get() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.keys...)
}

func TestListenTCP_AcceptsAndRemovesOnDisconnect(t *testing.T) {
	require := require.New(t)

	dc := &disconnects{}
	reg, q := newTestRegistry(t, WithDisconnectHandler(dc.handler))

	addr, err := reg.ListenTCP(context.Background(), "127.0.0.1:0", newTestConfig(t, framing.Binary))
	require.NoError(err)

	client, err := net.Dial("tcp", addr.String())
	require.NoError(err)
	defer client.Close()

	_, err = client.Write(framing.Pack("Ping", []byte{0x01, 0x02}))
	require.NoError(err)

	env := waitEnvelope(t, q)
	require.Equal("Ping", env.TypeName())

	key := receiver.ConnKey(client.LocalAddr())
	require.Equal(key, env.ReceiverKey())
	require.Equal([]string{key}, reg.Keys())
	require.Equal(1, reg.Len())

	rcv, ok := reg.Get(key)
	require.True(ok)
	require.True(rcv.IsConnected())

	require.NoError(client.Close())
	require.Eventually(func() bool { return reg.Len() == 0 }, 2*time.Second, 2*time.Millisecond)
	require.Eventually(func() bool { return len(dc.get()) == 1 }, 2*time.Second, 2*time.Millisecond)
	require.Equal([]string{key}, dc.get())
}

func TestDialTCP_SendAndSendTyped(t *testing.T) {
	require := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	reg, q := newTestRegistry(t)
	rcv, err := reg.DialTCP(context.Background(), ln.Addr().String(), newTestConfig(t, framing.Binary))
	require.NoError(err)

	peer := <-accepted
	defer peer.Close()
	require.Equal(receiver.ConnKey(peer.LocalAddr()), rcv.Key())

	require.NoError(reg.SendTyped(rcv.Key(), "Ping", []byte{0x01, 0x02}))

	wire := make([]byte, 70)
	require.NoError(peer.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, err = io.ReadFull(peer, wire)
	require.NoError(err)
	require.Equal(framing.Pack("Ping", []byte{0x01, 0x02}), wire)

	// echo back
	_, err = peer.Write(wire)
	require.NoError(err)
	env := waitEnvelope(t, q)
	require.Equal([]byte{0x01, 0x02}, env.Payload())

	require.NoError(reg.Send(rcv.Key(), []byte("raw")))
	buf := make([]byte, 3)
	_, err = io.ReadFull(peer, buf)
	require.NoError(err)
	require.Equal("raw", string(buf))
}

func TestSend_Errors(t *testing.T) {
	require := require.New(t)

	reg, _ := newTestRegistry(t)

	require.ErrorIs(reg.Send("missing", nil), ErrReceiverNotFound)
	require.ErrorIs(reg.SendTyped("missing", "T", nil), ErrReceiverNotFound)

	rcv, err := reg.ListenUDP(context.Background(), "127.0.0.1:0", newTestConfig(t, framing.RawChunk))
	require.NoError(err)
	require.ErrorIs(reg.SendTyped(rcv.Key(), "T", nil), ErrSendUnsupported)
}

func TestSendTyped_RejectsOversizedFrame(t *testing.T) {
	require := require.New(t)

	reg, _ := newTestRegistry(t)
	cfg := newTestConfig(t, framing.Binary,
		receiver.WithMaxTypeNameLength(4), receiver.WithMaxPayloadLength(8))

	local, remote := net.Pipe()
	defer remote.Close()

	rcv, err := reg.AttachTransport(receiver.NewTCP(local), cfg)
	require.NoError(err)

	require.ErrorIs(reg.SendTyped(rcv.Key(), "Ping", make([]byte, 9)), framing.ErrPayloadTooLarge)
	require.ErrorIs(reg.SendTyped(rcv.Key(), "Pings", nil), framing.ErrTypeNameTooLong)
	require.Equal(receiver.ConnectedState, rcv.State())
}

func TestListenUDP_ReceiveAndReply(t *testing.T) {
	require := require.New(t)

	reg, q := newTestRegistry(t)
	rcv, err := reg.ListenUDP(context.Background(), "127.0.0.1:0", newTestConfig(t, framing.RawChunk))
	require.NoError(err)

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(err)
	defer client.Close()

	_, err = client.WriteTo([]byte("hello"), rcv.LocalAddr())
	require.NoError(err)

	env := waitEnvelope(t, q)
	require.Equal([]byte("hello"), env.Payload())
	require.Equal(client.LocalAddr().(*net.UDPAddr).Port, env.RemotePort())

	require.NoError(reg.Send(rcv.Key(), []byte("world")))

	buf := make([]byte, 16)
	require.NoError(client.SetReadDeadline(time.Now().Add(2 * time.Second)))
	n, _, err := client.ReadFrom(buf)
	require.NoError(err)
	require.Equal("world", string(buf[:n]))
}

func TestAttachTransport_ReplacesSameKey(t *testing.T) {
	require := require.New(t)

	reg, _ := newTestRegistry(t)
	cfg := newTestConfig(t, framing.Binary)

	a, aRemote := net.Pipe()
	defer aRemote.Close()
	b, bRemote := net.Pipe()
	defer bRemote.Close()

	first, err := reg.AttachTransport(receiver.NewTCP(a), cfg)
	require.NoError(err)
	second, err := reg.AttachTransport(receiver.NewTCP(b), cfg)
	require.NoError(err)

	require.Equal(first.Key(), second.Key())
	require.Equal(receiver.DisposedState, first.State())
	require.Equal(receiver.ConnectedState, second.State())

	got, ok := reg.Get(second.Key())
	require.True(ok)
	require.Same(second, got)
}

func TestAttachTransport_IncompatibleFraming(t *testing.T) {
	require := require.New(t)

	reg, _ := newTestRegistry(t)
	a, aRemote := net.Pipe()
	defer a.Close()
	defer aRemote.Close()

	_, err := reg.AttachTransport(receiver.NewTCP(a), newTestConfig(t, framing.LineDelimited))
	require.ErrorIs(err, receiver.ErrIncompatibleFraming)
	require.Equal(0, reg.Len())
}

func TestRemove(t *testing.T) {
	require := require.New(t)

	dc := &disconnects{}
	reg, _ := newTestRegistry(t, WithDisconnectHandler(dc.handler))

	rcv, err := reg.ListenUDP(context.Background(), "127.0.0.1:0", newTestConfig(t, framing.RawChunk))
	require.NoError(err)

	require.NoError(reg.Remove(rcv.Key()))
	require.ErrorIs(reg.Remove(rcv.Key()), ErrReceiverNotFound)
	require.Equal(receiver.DisposedState, rcv.State())
	require.Empty(dc.get())
}

func TestClose_DisposesEverything(t *testing.T) {
	require := require.New(t)

	reg, _ := newTestRegistry(t)

	addr, err := reg.ListenTCP(context.Background(), "127.0.0.1:0", newTestConfig(t, framing.RawChunk))
	require.NoError(err)

	client, err := net.Dial("tcp", addr.String())
	require.NoError(err)
	defer client.Close()
	require.Eventually(func() bool { return reg.Len() == 1 }, 2*time.Second, 2*time.Millisecond)

	udp, err := reg.ListenUDP(context.Background(), "127.0.0.1:0", newTestConfig(t, framing.RawChunk))
	require.NoError(err)

	require.NoError(reg.Close())
	require.NoError(reg.Close())

	require.Equal(0, reg.Len())
	require.Equal(receiver.DisposedState, udp.State())

	_, err = net.DialTimeout("tcp", addr.String(), 200*time.Millisecond)
	require.Error(err)

	_, err = reg.ListenUDP(context.Background(), "127.0.0.1:0", newTestConfig(t, framing.RawChunk))
	require.ErrorIs(err, ErrRegistryClosed)
	_, err = reg.DialTCP(context.Background(), addr.String(), newTestConfig(t, framing.RawChunk))
	require.ErrorIs(err, ErrRegistryClosed)
}

func TestOpenSerial_MissingPort(t *testing.T) {
	reg, _ := newTestRegistry(t)

	_, err := reg.OpenSerial("/dev/framer-test-does-not-exist", 9600,
		newTestConfig(t, framing.LineDelimited))
	require.Error(t, err)
	require.Equal(t, 0, reg.Len())
}
