package sst

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/ericruth/tcpsst/reactor"
	"github.com/ericruth/tcpsst/sstlog"
	"github.com/stretchr/testify/require"
)

// TestListenerDropsFollowConnectionWithUnknownNonce checks that a
// follow-handshake connection with no matching pending lead session
// is closed rather than causing the listener to block or panic.
func TestListenerDropsFollowConnectionWithUnknownNonce(t *testing.T) {
	rx := reactor.New(16)
	go rx.Run()
	defer rx.Stop()

	ln, err := Listen("127.0.0.1:0", DefaultConfig(), rx, sstlog.Discard{})
	require.NoError(t, err)
	defer ln.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], 0xDEADBEEF)
	_, err = conn.Write(nb[:])
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err, "listener should close an orphan follow connection")
}

func TestListenerCloseUnblocksAccept(t *testing.T) {
	rx := reactor.New(16)
	go rx.Run()
	defer rx.Stop()

	ln, err := Listen("127.0.0.1:0", DefaultConfig(), rx, sstlog.Discard{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := ln.Accept()
		done <- err
	}()

	require.NoError(t, ln.Close())

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept did not unblock after Close")
	}
}
