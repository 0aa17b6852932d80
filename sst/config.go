package sst

import (
	"github.com/ericruth/tcpsst/clock"
	"github.com/pkg/errors"
)

// Config tunes a Session. The shape is grounded on the teacher's
// BuildSmuxConfig/smux.Config pair: a plain struct with a
// DefaultConfig constructor and a VerifyConfig sanity check, called
// once at Connect/Listen time.
type Config struct {
	// MultiplexWidth is the number of parallel TCP sub-connections a
	// Session opens to its peer. The initiator chooses it; the
	// acceptor confirms it during the handshake.
	MultiplexWidth int

	// HighWaterMark is the per-sub-connection outbound queue depth
	// past which unreliable sends are silently dropped.
	HighWaterMark int

	// HandshakeTimeout bounds how long a Listener waits to read each
	// incoming sub-connection's handshake. Connect does not use it;
	// its dialing is bounded only by the caller's context.
	HandshakeTimeout clock.Duration

	// CloseAckTimeout bounds how long a local Stream.Close() waits for
	// the peer's ACK_CLOSE before retiring the stream id unilaterally.
	CloseAckTimeout clock.Duration

	// MaxFramePayload caps the body size sst will accept for a single
	// decoded frame before treating the length prefix as hostile; it
	// must stay below 2^30, the protocol's own PacketLength ceiling.
	MaxFramePayload int

	// AcceptBacklog sizes the channel Listener uses to hand completed
	// Sessions to the caller of Listener.Accept.
	AcceptBacklog int
}

// DefaultConfig returns the tuning tcpsst uses unless the caller
// overrides it, mirroring the teacher's DefaultConfig.
func DefaultConfig() *Config {
	return &Config{
		MultiplexWidth:   3,
		HighWaterMark:    256,
		HandshakeTimeout: clock.Seconds(10),
		CloseAckTimeout:  clock.Seconds(30),
		MaxFramePayload:  1 << 26, // 64MiB sanity cap, well under 2^30-1
		AcceptBacklog:    64,
	}
}

// VerifyConfig sanity-checks cfg the way the teacher's VerifyConfig
// does for smux.Config, failing loudly on nonsensical tuning rather
// than letting it surface as a mysterious runtime failure later.
func VerifyConfig(cfg *Config) error {
	if cfg.MultiplexWidth < 1 || cfg.MultiplexWidth > 16 {
		return errors.New("tcpsst: multiplex width must be in [1,16]")
	}
	if cfg.HighWaterMark <= 0 {
		return errors.New("tcpsst: high water mark must be positive")
	}
	if cfg.HandshakeTimeout <= 0 {
		return errors.New("tcpsst: handshake timeout must be positive")
	}
	if cfg.CloseAckTimeout <= 0 {
		return errors.New("tcpsst: close ack timeout must be positive")
	}
	if cfg.MaxFramePayload <= 0 || cfg.MaxFramePayload >= maxUint30 {
		return errors.New("tcpsst: max frame payload must be in (0, 2^30)")
	}
	if cfg.AcceptBacklog <= 0 {
		return errors.New("tcpsst: accept backlog must be positive")
	}
	return nil
}
