package sst

import (
	"runtime"
	"sync/atomic"

	"github.com/ericruth/tcpsst/sstlog"
	"github.com/pkg/errors"
)

// Stream is a logical, independently addressable byte stream
// multiplexed over a Session's pool of TCP sub-connections. A Stream
// is never safe to use after its OnDisconnected callback has fired.
//
// Send and Close coordinate through status, the design's send-status
// word: Send is a sender admitted only while no closer holds the
// word; Close (and the session's peer-close / drain paths, the other
// two call sites the design allows) is a closer that blocks further
// sends, then spins until any in-flight sender has finished before
// retiring the id. This is the one place in the package that needs
// lock-free coordination on the hot path, since every Send on a busy
// stream would otherwise contend a mutex that a closer only ever
// touches once.
type Stream struct {
	id     StreamID
	sess   *session
	reliab Reliability
	order  Ordering

	cb     atomic.Value // *CallbackSet
	status sendStatus

	retired int32 // atomic bool: markDisconnected has already fired
}

func newStream(id StreamID, sess *session, reliab Reliability, order Ordering) (*Stream, error) {
	if reliab == Unreliable && order == Ordered {
		return nil, errors.WithStack(ErrIllegalReliability)
	}
	return &Stream{
		id:     id,
		sess:   sess,
		reliab: reliab,
		order:  order,
	}, nil
}

// ID returns the stream's wire identifier.
func (s *Stream) ID() StreamID { return s.id }

// Reliability reports whether Send on this stream is guaranteed
// delivery or best-effort.
func (s *Stream) Reliability() Reliability { return s.reliab }

// Ordering reports whether this stream's receiver sees payloads in
// send order.
func (s *Stream) Ordering() Ordering { return s.order }

// SetCallbacks installs (or replaces) the handler pair for this
// stream. It is safe to call from any goroutine, including from
// inside a callback already running for this stream.
//
// If cb.OnConnected is set, it fires synthetically and immediately
// (see the CallbackSet doc comment on OnConnected for why every
// registrant is a "late" one in this implementation).
func (s *Stream) SetCallbacks(cb CallbackSet) {
	s.cb.Store(&cb)
	if cb.OnConnected != nil && s.sess != nil {
		sess := s.sess
		sess.mu.Lock()
		connected := sess.state == stateConnected
		sess.mu.Unlock()
		sess.reactor.Dispatch(func() { cb.connected(connected) })
	}
}

func (s *Stream) callbacks() *CallbackSet {
	v, _ := s.cb.Load().(*CallbackSet)
	return v
}

// Send transmits payload on this stream. PayloadTooLarge is the only
// failure ever returned to the caller (a programmer error, per §7);
// every other obstacle — the stream already closing, the session not
// connected — is a silent drop, matching the fire-and-forget contract
// the design documents for this transport. Send never blocks on
// actual socket I/O: once admitted as a sender it only hands the
// payload to the sub-connection's write queue.
func (s *Stream) Send(payload []byte) error {
	if len(payload) > s.sess.cfg.MaxFramePayload {
		return errors.WithStack(ErrPayloadTooLarge)
	}

	admitted := s.status.withSender(func() {
		conn, err := s.sess.connFor(s.id)
		if err != nil {
			return
		}
		conn.enqueue(s.id, payload, s.reliab == Reliable)
	})
	if !admitted {
		s.sess.log.Log("sst.stream", sstlog.Debug, "send to closed stream")
	}
	return nil
}

// Close begins an orderly shutdown of the stream: it acquires the
// send-status closer slot (refusing further sends immediately),
// spins until any sender already in flight has returned, then sends
// CLOSE_STREAM and waits (bounded by the Session's CloseAckTimeout)
// for ACK_CLOSE before the local OnDisconnected fires. Close is
// idempotent; calling it twice is a no-op — only the first caller to
// win the closer slot drives the protocol exchange.
func (s *Stream) Close() error {
	for {
		cur := atomic.LoadUint32(&s.status.word)
		if cur&sendStatusCloserMask != 0 {
			return nil // a closer already holds the slot
		}
		if atomic.CompareAndSwapUint32(&s.status.word, cur, cur+sendStatusClosing) {
			break
		}
	}
	for s.status.activeSenders() != 0 {
		runtime.Gosched()
	}
	return s.sess.closeStream(s)
}

// CloneFrom allocates a new Stream on the same Session as other,
// installs cb, and announces it to the peer with NEW_STREAM, per
// spec.md §4.4's clone_from. It fails if other has no live Session or
// that Session is not Connected.
//
// The design notes call out that the source's clone_from downcasts
// across a polymorphic stream interface to recover the underlying
// multiplexed socket; that concern doesn't arise here since Stream is
// the only concrete stream type sst has, so there is nothing to
// downcast across. CloneFrom is defined as a method on *Stream, as
// spec.md's clone_from is, but its own receiver carries no state the
// call needs — every input comes from other — so it is typically
// called as other.CloneFrom(other, cb).
func (*Stream) CloneFrom(other *Stream, cb CallbackSet) (*Stream, error) {
	if other == nil || other.sess == nil {
		return nil, errors.WithStack(ErrUnknownStream)
	}
	sess := other.sess

	sess.mu.Lock()
	connected := sess.state == stateConnected
	sess.mu.Unlock()
	if !connected {
		return nil, errors.WithStack(ErrNotConnected)
	}

	id, err := sess.allocateID()
	if err != nil {
		return nil, err
	}
	st, err := newStream(id, sess, other.reliab, other.order)
	if err != nil {
		return nil, err
	}
	st.SetCallbacks(cb)

	sess.mu.Lock()
	sess.streams[id] = st
	sess.mu.Unlock()

	conn, err := sess.connFor(id)
	if err != nil {
		return nil, err
	}
	body := putVarint([]byte{ctrlNewStream}, uint64(id))
	conn.enqueue(controlStreamID, body, true)
	return st, nil
}

// markDisconnected is called by the session from whichever of the
// design's three closer call sites first determines the stream is
// gone — the user's own Close, the peer's CLOSE_STREAM arriving on
// the recv path, or the session's drain on sub-connection loss — and
// is idempotent across all of them.
func (s *Stream) markDisconnected(reason error) {
	if !atomic.CompareAndSwapInt32(&s.retired, 0, 1) {
		return
	}
	if s.status.acquireCloser() {
		for s.status.activeSenders() != 0 {
			runtime.Gosched()
		}
	}
	s.callbacks().disconnected(reason)
}
