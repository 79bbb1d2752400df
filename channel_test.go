package tchannel

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestRegisterRejectsRedefinition(t *testing.T) {
	registry := map[string]*Channel{}
	a := newTestNode(t, registry, "127.0.0.1:4040", "A[1]", nil)

	h := func(arg2, arg3 []byte, caller string, respond RespondFunc) {}

	require.NoError(t, a.ch.Register("echo", h))
	err := a.ch.Register("echo", h)
	require.True(t, errors.Is(err, ErrEndpointExists), "unexpected error %v", err)
}

func TestAddPeerRejectsSelf(t *testing.T) {
	registry := map[string]*Channel{}
	a := newTestNode(t, registry, "127.0.0.1:4040", "A[1]", nil)

	_, err := a.ch.AddPeer("127.0.0.1:4040")
	require.Equal(t, ErrSelfPeer, err)

	err = a.ch.Send(SendOptions{}, []byte("x"), nil, nil, func(error, []byte, []byte) {})
	require.Error(t, err, "Send without Host must fail")
}

func TestPeerListPrefersOutbound(t *testing.T) {
	var pl peerList
	in1 := &Connection{direction: Inbound}
	in2 := &Connection{direction: Inbound}
	out := &Connection{direction: Outbound}

	pl.addTail(in1)
	pl.addTail(in2)
	pl.addHead(out)

	require.Same(t, out, pl.head())

	// splicing does not promote anything implicitly
	require.True(t, pl.remove(in1))
	require.Same(t, out, pl.head())

	require.True(t, pl.remove(out))
	require.Same(t, in2, pl.head())

	require.False(t, pl.remove(out))
	require.True(t, pl.remove(in2))
	require.True(t, pl.empty())
}

func TestOutboundConnectionPreferred(t *testing.T) {
	registry := map[string]*Channel{}
	a := newTestNode(t, registry, "127.0.0.1:4040", "A[1]", nil)
	b := newTestNode(t, registry, "127.0.0.1:4041", "B[1]", nil)

	// A dials B: B's table gains an inbound entry for A
	_, err := a.ch.AddPeer("127.0.0.1:4041")
	require.NoError(t, err)
	waitConn(t, b.identified)

	inConn := b.ch.GetPeer("127.0.0.1:4040")
	require.NotNil(t, inConn)
	require.Equal(t, Inbound, inConn.Direction())

	// B dials A: the new outbound connection takes the head
	outConn, err := b.ch.AddPeer("127.0.0.1:4040")
	require.NoError(t, err)
	require.Same(t, outConn, b.ch.GetPeer("127.0.0.1:4040"))
	require.Equal(t, Outbound, outConn.Direction())
}

func TestPeerRemovedAfterReset(t *testing.T) {
	registry := map[string]*Channel{}
	a := newTestNode(t, registry, "127.0.0.1:4040", "A[1]", nil)
	b := newTestNode(t, registry, "127.0.0.1:4041", "B[1]", nil)

	conn, err := a.ch.AddPeer("127.0.0.1:4041")
	require.NoError(t, err)
	waitConn(t, b.identified)

	_ = conn.resetAll(ErrSocketClosed)

	require.Nil(t, a.ch.GetPeer("127.0.0.1:4041"))

	// the far side observes the close and drops its entry too
	require.Eventually(t, func() bool {
		return b.ch.GetPeer("127.0.0.1:4040") == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestChannelClose(t *testing.T) {
	registry := map[string]*Channel{}
	a := newTestNode(t, registry, "127.0.0.1:4040", "A[1]", nil)
	b := newTestNode(t, registry, "127.0.0.1:4041", "B[1]", nil)

	require.NoError(t, b.ch.Register("blackhole", func(arg2, arg3 []byte, caller string, respond RespondFunc) {
	}))

	res := make(chan callResult, 1)
	require.NoError(t, a.ch.Send(
		SendOptions{Host: "127.0.0.1:4041", Timeout: 10 * time.Second},
		[]byte("blackhole"), nil, nil,
		sinkInto(res),
	))

	require.NoError(t, a.ch.Close())

	// pending operations fail with the shutdown error
	r := waitResult(t, res)
	require.True(t, errors.Is(r.err, ErrChannelDestroyed), "unexpected error %v", r.err)

	// a destroyed channel refuses new work
	_, err := a.ch.AddPeer("127.0.0.1:4041")
	require.Equal(t, ErrChannelDestroyed, err)

	// second close is a no-op
	require.NoError(t, a.ch.Close())
}

func TestServeOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	b, err := NewChannel(Options{
		HostPort:    ln.Addr().String(),
		ProcessName: "B[1]",
		Logger:      logger,
	})
	require.NoError(t, err)

	serveDone := make(chan error, 1)
	go func() { serveDone <- b.Serve(ln) }()

	require.NoError(t, b.Register("echo", func(arg2, arg3 []byte, caller string, respond RespondFunc) {
		respond(nil, arg2, arg3)
	}))

	a, err := NewChannel(Options{
		HostPort:    "127.0.0.1:4099",
		ProcessName: "A[1]",
		Logger:      logger,
	})
	require.NoError(t, err)

	res := make(chan callResult, 1)
	require.NoError(t, a.Send(
		SendOptions{Host: ln.Addr().String(), Timeout: 2 * time.Second},
		[]byte("echo"), []byte("h"), []byte("hello"),
		sinkInto(res),
	))

	r := waitResult(t, res)
	require.NoError(t, r.err)
	require.Equal(t, []byte("hello"), r.arg3)

	require.NoError(t, a.Close())
	require.NoError(t, b.Close())

	select {
	case err := <-serveDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func TestIntrospectState(t *testing.T) {
	registry := map[string]*Channel{}
	a := newTestNode(t, registry, "127.0.0.1:4040", "A[1]", nil)
	b := newTestNode(t, registry, "127.0.0.1:4041", "B[1]", nil)

	require.NoError(t, a.ch.Register("echo", func(arg2, arg3 []byte, caller string, respond RespondFunc) {}))
	require.NoError(t, a.ch.Register("add", func(arg2, arg3 []byte, caller string, respond RespondFunc) {}))

	_, err := a.ch.AddPeer("127.0.0.1:4041")
	require.NoError(t, err)
	waitConn(t, a.identified)
	waitConn(t, b.identified)

	state := a.ch.IntrospectState()
	require.Equal(t, "127.0.0.1:4040", state.HostPort)
	require.Equal(t, "A[1]", state.ProcessName)
	require.Equal(t, []string{"add", "echo"}, state.Endpoints)

	require.Len(t, state.Peers, 1)
	require.Equal(t, "127.0.0.1:4041", state.Peers[0].HostPort)
	require.Len(t, state.Peers[0].Connections, 1)

	cs := state.Peers[0].Connections[0]
	require.Equal(t, "out", cs.Direction)
	require.True(t, cs.Identified)
	require.Equal(t, "127.0.0.1:4041", cs.RemoteName)
}
