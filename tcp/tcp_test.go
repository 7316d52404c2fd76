package tcp_test

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cyphernet-wg/reactor"
	"github.com/cyphernet-wg/reactor/tcp"
)

// recordingBroker collects every notification delivered to it, sorted
// by concrete type, so tests can assert on exactly the kind of event
// they care about.
type recordingBroker struct {
	mu           sync.Mutex
	listening    []tcp.Listening
	accepted     []tcp.Accepted
	received     [][]byte
	disconnected []tcp.Disconnected
	other        []error

	receivedCh chan []byte
}

func newRecordingBroker() *recordingBroker {
	return &recordingBroker{receivedCh: make(chan []byte, 64)}
}

func (b *recordingBroker) HandleErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch e := err.(type) {
	case tcp.Listening:
		b.listening = append(b.listening, e)
	case tcp.Accepted:
		b.accepted = append(b.accepted, e)
	case tcp.Received:
		cp := append([]byte(nil), e.Data...)
		b.received = append(b.received, cp)
		select {
		case b.receivedCh <- cp:
		default:
		}
	case tcp.Disconnected:
		b.disconnected = append(b.disconnected, e)
	default:
		b.other = append(b.other, err)
	}
}

func (b *recordingBroker) listenAddr() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.listening) == 0 {
		return "", false
	}
	return b.listening[0].Locator.Addr, true
}

func newLoopbackReactor(t *testing.T, broker *recordingBroker) *reactor.Reactor[*tcp.TCPResource, tcp.TCPLocator] {
	t.Helper()
	poller, err := reactor.NewPoller()
	require.NoError(t, err)
	io := reactor.NewFDIOManager[*tcp.TCPResource, tcp.TCPLocator](poller)
	return reactor.With[*tcp.TCPResource, tcp.TCPLocator](io, broker, tcp.NewFactory(broker))
}

// S1 (Echo): a listener resource accepts one connection and the
// resulting stream resource observes the bytes written to it, driven over a real loopback socket and a
// real reactor goroutine rather than a fake poller.
func TestEcho(t *testing.T) {
	broker := newRecordingBroker()
	rt := newLoopbackReactor(t, broker)
	defer rt.Shutdown()

	require.NoError(t, rt.Connect(tcp.ListenContext{Addr: "127.0.0.1:0"}))

	var addr string
	require.Eventually(t, func() bool {
		a, ok := broker.listenAddr()
		addr = a
		return ok
	}, time.Second, 5*time.Millisecond, "listener never bound")

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return len(broker.accepted) >= 1
	}, time.Second, 5*time.Millisecond, "connection never accepted")

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	data := broker.waitForData(t, 2*time.Second)
	require.Equal(t, "ping", string(data))
}

func (b *recordingBroker) waitForData(t *testing.T, timeout time.Duration) []byte {
	t.Helper()
	select {
	case data := <-b.receivedCh:
		return data
	case <-time.After(timeout):
		t.Fatal("timed out waiting for received data")
		return nil
	}
}

// Sending to a locator the reactor never registered is a silent no-op,
// matching the core's own documented Send contract.
func TestSendToUnknownResourceIsNoop(t *testing.T) {
	broker := newRecordingBroker()
	rt := newLoopbackReactor(t, broker)
	defer rt.Shutdown()

	unknown := tcp.TCPLocator{Kind: tcp.KindConnection, Addr: "127.0.0.1:1"}
	require.NoError(t, rt.Send(unknown, []byte("nobody home")))

	time.Sleep(20 * time.Millisecond)
	broker.mu.Lock()
	defer broker.mu.Unlock()
	require.Empty(t, broker.other)
}

// Shutdown drains every registered resource and returns; a second call
// reports the channel as already broken instead of panicking on a
// double close.
func TestShutdownIsIdempotent(t *testing.T) {
	broker := newRecordingBroker()
	rt := newLoopbackReactor(t, broker)

	require.NoError(t, rt.Connect(tcp.ListenContext{Addr: "127.0.0.1:0"}))
	require.Eventually(t, func() bool {
		_, ok := broker.listenAddr()
		return ok
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, rt.Shutdown())
	require.ErrorIs(t, rt.Shutdown(), reactor.ErrShutdownChannelBroken)
}

// A dial that never completes a handshake (nothing listening on the
// port) surfaces as a Disconnected with a dial-level reason, since the
// connection was never established, rather than hanging the reactor
// goroutine.
func TestDialRefused(t *testing.T) {
	broker := newRecordingBroker()
	rt := newLoopbackReactor(t, broker)
	defer rt.Shutdown()

	// Bind a throwaway listener and close it immediately to obtain a
	// port nothing is listening on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	require.NoError(t, rt.Connect(tcp.DialContext{Addr: addr}))

	require.Eventually(t, func() bool {
		broker.mu.Lock()
		defer broker.mu.Unlock()
		return len(broker.disconnected) >= 1
	}, 2*time.Second, 10*time.Millisecond, "dial never reported a disconnect")

	broker.mu.Lock()
	defer broker.mu.Unlock()
	require.True(t, broker.disconnected[0].Reason.IsDialError(), "a refused dial must be classified as a DialError, not a ConnectionError")
}
