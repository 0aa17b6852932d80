package sst

// CallbackSet holds the per-stream handlers a caller registers when it
// accepts or opens a Stream. sst copies the handle out of its
// bookkeeping map before invoking any of these, so a handler that
// turns around and calls back into the Session or Stream never
// deadlocks against the lock sst used to look it up.
type CallbackSet struct {
	// OnConnected reports, once, whether the owning Session had
	// reached Connected by the time this CallbackSet was installed.
	// Because Connect/Listen in this package are synchronous — they
	// only ever hand back a Session once it is fully Connected, or
	// return an error with no Session at all — every CallbackSet is,
	// in spec.md §4.3's terms, a "late registrant": there is no window
	// in which a Stream exists on a not-yet-Connected Session for
	// OnConnected to observe the pre-Connected race the original
	// design describes. OnConnected therefore fires synthetically and
	// immediately, from SetCallbacks itself, with the Session's
	// connectedness at that instant (true in the overwhelming common
	// case; false only if the Session has already started draining by
	// the time the callback set is installed).
	OnConnected func(ok bool)

	// OnBytesReceived is invoked once per received payload, in wire
	// order for Ordered streams, in arbitrary order for Unordered ones.
	OnBytesReceived func(payload []byte)

	// OnDisconnected is invoked exactly once per Stream, whether the
	// cause was a local Close completing, a peer CLOSE_STREAM, or the
	// owning Session draining. After it fires no further
	// OnBytesReceived call for that stream will occur.
	OnDisconnected func(reason error)
}

func (c *CallbackSet) connected(ok bool) {
	if c != nil && c.OnConnected != nil {
		c.OnConnected(ok)
	}
}

func (c *CallbackSet) bytesReceived(payload []byte) {
	if c != nil && c.OnBytesReceived != nil {
		c.OnBytesReceived(payload)
	}
}

func (c *CallbackSet) disconnected(reason error) {
	if c != nil && c.OnDisconnected != nil {
		c.OnDisconnected(reason)
	}
}
