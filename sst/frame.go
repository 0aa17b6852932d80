package sst

import (
	"bufio"

	"github.com/pkg/errors"
)

// Wire frame: len:uint30_varint sid:streamid_varint body:bytes
//
// len counts the bytes of sid-varint+body together, so a reader knows
// exactly how many bytes to read before it has even parsed sid.

// encodeFrame appends the wire encoding of a (sid, payload) pair onto
// buf and returns the extended slice.
func encodeFrame(buf []byte, sid StreamID, payload []byte) ([]byte, error) {
	sidLen := varintLen(uint64(sid))
	total := sidLen + len(payload)
	if total >= maxUint30 {
		return nil, errors.WithStack(ErrPayloadTooLarge)
	}
	buf = putVarint(buf, uint64(total))
	buf = putVarint(buf, uint64(sid))
	buf = append(buf, payload...)
	return buf, nil
}

// readFrame reads one complete frame from r: the length prefix, then
// exactly that many bytes, split into sid and body. It never reads
// past the frame boundary, so the caller's bufio.Reader is left
// positioned at the next frame's length prefix.
//
// The returned body is backed by a buffer leased from alloc; the
// caller must invoke the returned release func exactly once, after it
// is done with the payload, so the buffer returns to the pool.
func readFrame(r *bufio.Reader, maxPayload int, alloc *chunkAllocator) (StreamID, []byte, func(), error) {
	total, err := readVarint(r, maxLengthBytes)
	if err != nil {
		return 0, nil, nil, err
	}
	if total == 0 {
		return 0, nil, nil, errors.WithStack(ErrBadLength)
	}
	if int(total) > maxPayload+maxStreamIDBytes {
		return 0, nil, nil, errors.WithStack(ErrPayloadTooLarge)
	}

	bufp := alloc.get(int(total))
	if _, err := readFull(r, *bufp); err != nil {
		alloc.put(bufp)
		return 0, nil, nil, err
	}

	sid, n, err := decodeVarintBytes(*bufp, maxStreamIDBytes)
	if err != nil {
		alloc.put(bufp)
		return 0, nil, nil, err
	}
	release := func() { alloc.put(bufp) }
	body := (*bufp)[n:]
	if len(body) == 0 {
		body = nil // an empty payload decodes as nil, not as a zero-length slice
	}
	return StreamID(sid), body, release, nil
}

// readFull is io.ReadFull specialized to *bufio.Reader; split out so
// both frame decode and the handshake reader share one helper.
func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
