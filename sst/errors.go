package sst

import "github.com/pkg/errors"

// Error kinds surfaced at the sst package boundary. I/O errors on a
// sub-connection are never returned from Send; they are reported
// asynchronously via OnDisconnected for every live Stream instead.
// Encode-time failures (PayloadTooLarge, IllegalReliability) are
// programmer errors and are returned directly to the call site.
var (
	ErrConnectionFailed   = errors.New("tcpsst: connection failed")
	ErrHandshakeFailed    = errors.New("tcpsst: handshake failed")
	ErrPeerClosed         = errors.New("tcpsst: peer closed")
	ErrProtocolViolation  = errors.New("tcpsst: protocol violation")
	ErrStreamIDExhausted  = errors.New("tcpsst: stream id space exhausted")
	ErrNotConnected       = errors.New("tcpsst: not connected")
	ErrPayloadTooLarge    = errors.New("tcpsst: payload too large")
	ErrIllegalReliability = errors.New("tcpsst: ordered+unreliable is not a legal reliability combination")
	ErrBadLength          = errors.New("tcpsst: malformed length prefix")
	ErrUnknownStream      = errors.New("tcpsst: no live socket for this stream")
	ErrLocalDisconnect    = errors.New("tcpsst: session disconnected locally")
)
