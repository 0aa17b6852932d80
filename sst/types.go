package sst

// StreamID identifies a logical stream within a Session. Stream id 0
// is reserved for control frames and is never handed out by
// allocation. Odd ids are allocated by whichever peer dialed the
// Session; even ids by whichever peer accepted it.
type StreamID uint64

const controlStreamID StreamID = 0

// Reliability selects whether a Stream's sends are guaranteed
// delivery (backed by the sub-connection's TCP byte stream and the
// per-connection write queue) or best-effort (dropped at send time
// once the destination sub-connection's queue passes its
// high-water mark).
type Reliability int

const (
	Reliable Reliability = iota
	Unreliable
)

// Ordering selects whether a Stream's sends must arrive in the order
// they were sent. Unreliable+Ordered is the one combination the
// protocol forbids: dropping a send while still promising order
// would require the receiver to stall waiting for a packet that will
// never come.
type Ordering int

const (
	Ordered Ordering = iota
	Unordered
)
