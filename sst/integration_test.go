package sst

import (
	"context"
	"testing"
	"time"

	"github.com/ericruth/tcpsst/clock"
	"github.com/ericruth/tcpsst/reactor"
	"github.com/ericruth/tcpsst/sstlog"
	"github.com/stretchr/testify/require"
)

// TestConnectListenDeliversOnOpenedStream exercises S1 end to end over
// real loopback TCP sockets: A connects to B with a small multiplex
// width, opens a stream, sends a payload, and B's registered stream
// handler observes it. Grounded on std/comp_test.go's net.Pipe-based
// round-trip style, adapted to the two-peer TCP dial/listen this
// package actually uses.
func TestConnectListenDeliversOnOpenedStream(t *testing.T) {
	rxA := reactor.New(64)
	rxB := reactor.New(64)
	go rxA.Run()
	go rxB.Run()
	defer rxA.Stop()
	defer rxB.Stop()

	cfg := DefaultConfig()
	cfg.MultiplexWidth = 2

	ln, err := Listen("127.0.0.1:0", cfg, rxB, sstlog.Discard{})
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *Session, 1)
	go func() {
		s, err := ln.Accept()
		require.NoError(t, err)
		accepted <- s
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a, err := Connect(ctx, ln.Addr().String(), cfg, rxA, sstlog.Discard{})
	require.NoError(t, err)
	defer a.Disconnect()

	var b *Session
	select {
	case b = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for accept")
	}
	defer b.Disconnect()

	received := make(chan []byte, 1)
	b.OnNewStream(func(stream *Stream) {
		stream.SetCallbacks(CallbackSet{
			OnBytesReceived: func(payload []byte) {
				cp := append([]byte(nil), payload...)
				received <- cp
			},
		})
	})

	stream, err := a.OpenStream(Reliable, Ordered, CallbackSet{})
	require.NoError(t, err)
	require.Equal(t, StreamID(1), stream.ID(), "initiator's first stream id must be 1")

	require.NoError(t, stream.Send([]byte("hello")))

	select {
	case got := <-received:
		require.Equal(t, []byte("hello"), got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

// TestStreamCloseFiresDisconnectedExactlyOnce checks property 5.
func TestStreamCloseFiresDisconnectedExactlyOnce(t *testing.T) {
	rxA := reactor.New(64)
	rxB := reactor.New(64)
	go rxA.Run()
	go rxB.Run()
	defer rxA.Stop()
	defer rxB.Stop()

	cfg := DefaultConfig()
	cfg.MultiplexWidth = 1
	cfg.CloseAckTimeout = clock.Seconds(2)

	ln, err := Listen("127.0.0.1:0", cfg, rxB, sstlog.Discard{})
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *Session, 1)
	go func() {
		s, _ := ln.Accept()
		accepted <- s
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a, err := Connect(ctx, ln.Addr().String(), cfg, rxA, sstlog.Discard{})
	require.NoError(t, err)
	defer a.Disconnect()

	b := <-accepted
	defer b.Disconnect()

	disconnectCount := 0
	done := make(chan struct{})
	stream, err := a.OpenStream(Reliable, Ordered, CallbackSet{
		OnDisconnected: func(reason error) {
			disconnectCount++
			close(done)
		},
	})
	require.NoError(t, err)

	require.NoError(t, stream.Close())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for disconnect")
	}
	require.Equal(t, 1, disconnectCount)

	// A second Close must not fire OnDisconnected again.
	require.NoError(t, stream.Close())
	require.Equal(t, 1, disconnectCount)
}

// TestOnDrainedFiresOnceOnDisconnect checks that the session-level
// drain hook runs exactly once when the local side disconnects.
func TestOnDrainedFiresOnceOnDisconnect(t *testing.T) {
	rxA := reactor.New(64)
	rxB := reactor.New(64)
	go rxA.Run()
	go rxB.Run()
	defer rxA.Stop()
	defer rxB.Stop()

	cfg := DefaultConfig()
	cfg.MultiplexWidth = 1

	ln, err := Listen("127.0.0.1:0", cfg, rxB, sstlog.Discard{})
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *Session, 1)
	go func() {
		s, _ := ln.Accept()
		accepted <- s
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a, err := Connect(ctx, ln.Addr().String(), cfg, rxA, sstlog.Discard{})
	require.NoError(t, err)

	b := <-accepted
	defer b.Disconnect()

	drainCount := 0
	done := make(chan struct{})
	a.OnDrained(func() {
		drainCount++
		close(done)
	})

	a.Disconnect()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for drain")
	}
	require.Equal(t, 1, drainCount)

	// A second Disconnect must not fire OnDrained again.
	a.Disconnect()
	require.Equal(t, 1, drainCount)
}

// TestCloneFromOpensAndDeliversOnSecondStream exercises clone_from
// end to end: a second stream minted via CloneFrom announces itself
// with NEW_STREAM exactly like OpenStream, and bytes sent on it are
// delivered to the peer just like any other stream.
func TestCloneFromOpensAndDeliversOnSecondStream(t *testing.T) {
	rxA := reactor.New(64)
	rxB := reactor.New(64)
	go rxA.Run()
	go rxB.Run()
	defer rxA.Stop()
	defer rxB.Stop()

	cfg := DefaultConfig()
	cfg.MultiplexWidth = 2

	ln, err := Listen("127.0.0.1:0", cfg, rxB, sstlog.Discard{})
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *Session, 1)
	go func() {
		s, _ := ln.Accept()
		accepted <- s
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a, err := Connect(ctx, ln.Addr().String(), cfg, rxA, sstlog.Discard{})
	require.NoError(t, err)
	defer a.Disconnect()

	b := <-accepted
	defer b.Disconnect()

	received := make(chan []byte, 1)
	b.OnNewStream(func(stream *Stream) {
		stream.SetCallbacks(CallbackSet{
			OnBytesReceived: func(payload []byte) {
				cp := append([]byte(nil), payload...)
				received <- cp
			},
		})
	})

	first, err := a.OpenStream(Reliable, Ordered, CallbackSet{})
	require.NoError(t, err)

	var clone Stream
	second, err := clone.CloneFrom(first, CallbackSet{})
	require.NoError(t, err)
	require.NotEqual(t, first.ID(), second.ID())
	require.Equal(t, StreamID(3), second.ID(), "initiator's second allocated id must be 3")

	require.NoError(t, second.Send([]byte("cloned")))

	select {
	case got := <-received:
		require.Equal(t, []byte("cloned"), got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery on the cloned stream")
	}
}
