package sst

import (
	"bufio"

	"github.com/pkg/errors"
)

// The wire encoding for both StreamID and the frame length prefix is a
// base-128 varint with the continuation bit in the LOW bit of each
// byte (not the high bit, as in protobuf/LEB128): bit0 set means
// "more bytes follow", bits 1-7 carry 7 bits of magnitude, least
// significant group first.
//
//	byte := (chunk << 1) | continuation
const (
	maxUint30        = 1 << 30 // PacketLength ceiling: 0..2^30-1
	maxStreamIDBytes = 9       // ceil(64/7)
	maxLengthBytes   = 5       // ceil(30/7)
)

// putVarint appends the varint encoding of v onto buf and returns the
// extended slice.
func putVarint(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf = append(buf, (b<<1)|1)
		} else {
			buf = append(buf, b<<1)
			return buf
		}
	}
}

// varintLen reports the number of bytes putVarint would emit for v.
func varintLen(v uint64) int {
	n := 1
	for v >>= 7; v != 0; v >>= 7 {
		n++
	}
	return n
}

// readVarint decodes a varint from r, enforcing maxBytes as a hostile
// input guard (a StreamID or length prefix that never terminates its
// continuation bit within the legal byte count is a protocol
// violation, not a slow value).
func readVarint(r *bufio.Reader, maxBytes int) (uint64, error) {
	var v uint64
	for i := 0; i < maxBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v |= uint64(b>>1) << (7 * uint(i))
		if b&1 == 0 {
			return v, nil
		}
	}
	return 0, errors.WithStack(ErrBadLength)
}

// decodeVarintBytes decodes a varint from the front of buf, returning
// the value and the number of bytes consumed.
func decodeVarintBytes(buf []byte, maxBytes int) (uint64, int, error) {
	var v uint64
	for i := 0; i < maxBytes && i < len(buf); i++ {
		b := buf[i]
		v |= uint64(b>>1) << (7 * uint(i))
		if b&1 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, errors.WithStack(ErrBadLength)
}
