package sst

import (
	"bufio"
	"encoding/binary"
	"net"

	"github.com/pkg/errors"
	"lukechampine.com/frand"
)

// Handshake layout, big-endian throughout:
//
//	first sub-connection of a new Session:
//	    magic[3]="SST" version:u8 width:u8 nonce:u64
//	every later sub-connection of the same Session:
//	    nonce:u64
//
// nonce ties a pool of TCP connections back to the Session they
// belong to; it is generated with frand rather than math/rand so two
// Sessions dialed back-to-back from the same process never collide.
const (
	protocolVersion = 1
	handshakeMagic  = "SST"
)

func newNonce() uint64 {
	var b [8]byte
	frand.Read(b[:])
	n := binary.BigEndian.Uint64(b[:])
	if n == 0 {
		n = 1
	}
	return n
}

// writeLeadHandshake writes the first-sub-connection handshake.
func writeLeadHandshake(conn net.Conn, width int, nonce uint64) error {
	buf := make([]byte, 0, len(handshakeMagic)+1+1+8)
	buf = append(buf, handshakeMagic...)
	buf = append(buf, protocolVersion, byte(width))
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], nonce)
	buf = append(buf, nb[:]...)
	_, err := conn.Write(buf)
	return err
}

// writeFollowHandshake writes a subsequent sub-connection's handshake.
func writeFollowHandshake(conn net.Conn, nonce uint64) error {
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], nonce)
	_, err := conn.Write(nb[:])
	return err
}

// peekHandshakeKind inspects the first bytes off r without consuming
// more than necessary to tell a lead handshake from a follow one, so
// the listener can disambiguate before either side of the connection
// has any further framing to go on.
func peekHandshakeKind(r *bufio.Reader) (lead bool, err error) {
	head, err := r.Peek(len(handshakeMagic))
	if err != nil {
		return false, err
	}
	return string(head) == handshakeMagic, nil
}

func readLeadHandshake(r *bufio.Reader) (version, width int, nonce uint64, err error) {
	hdr := make([]byte, len(handshakeMagic)+1+1+8)
	if _, err = readFull(r, hdr); err != nil {
		return 0, 0, 0, err
	}
	if string(hdr[:len(handshakeMagic)]) != handshakeMagic {
		return 0, 0, 0, errors.WithStack(ErrHandshakeFailed)
	}
	off := len(handshakeMagic)
	version = int(hdr[off])
	width = int(hdr[off+1])
	nonce = binary.BigEndian.Uint64(hdr[off+2:])
	if version != protocolVersion {
		return 0, 0, 0, errors.WithStack(ErrHandshakeFailed)
	}
	return version, width, nonce, nil
}

func readFollowHandshake(r *bufio.Reader) (nonce uint64, err error) {
	var nb [8]byte
	if _, err = readFull(r, nb[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(nb[:]), nil
}
