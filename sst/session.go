package sst

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/ericruth/tcpsst/clock"
	"github.com/ericruth/tcpsst/reactor"
	"github.com/ericruth/tcpsst/sstlog"
	"github.com/ericruth/tcpsst/subid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// sessionState is the MultiplexedSocket lifecycle.
type sessionState int32

const (
	stateUnconnected sessionState = iota
	stateConnecting
	stateConnected
	stateDraining
	stateDisconnected
)

// Session is the multiplexed socket bound to one peer: a fixed pool
// of TCP sub-connections plus the logical streams layered over them.
// It is the "MultiplexedSocket" of the design notes.
type Session struct {
	impl *session
}

type session struct {
	cfg     *Config
	log     sstlog.Logger
	reactor reactor.Reactor
	clk     clock.Source

	initiator bool
	nonce     uint64

	mu      sync.Mutex
	state   sessionState
	conns   []*subConn
	streams map[StreamID]*Stream

	idCount uint64 // count of ids this side has allocated so far

	closeAcks map[StreamID]chan struct{}

	lostConns int32

	alloc *chunkAllocator
	stats stats

	statsLoggers map[subid.ID]chan struct{}

	onNewStream func(*Stream) // invoked when the peer opens a stream
	onDrained   func()        // invoked once, on final disconnect
}

func newSession(cfg *Config, rx reactor.Reactor, lg sstlog.Logger, clk clock.Source, initiator bool) *session {
	return &session{
		cfg:          cfg,
		log:          lg,
		reactor:      rx,
		clk:          clk,
		initiator:    initiator,
		streams:      make(map[StreamID]*Stream),
		closeAcks:    make(map[StreamID]chan struct{}),
		alloc:        newChunkAllocator(),
		statsLoggers: make(map[subid.ID]chan struct{}),
	}
}

// Connect dials cfg.MultiplexWidth TCP connections to addr and
// returns a connected Session. The first connection carries the lead
// handshake; the rest carry only the nonce it established.
func Connect(ctx context.Context, addr string, cfg *Config, rx reactor.Reactor, lg sstlog.Logger) (*Session, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	if lg == nil {
		lg = sstlog.Discard{}
	}

	s := newSession(cfg, rx, lg, clock.System, true)
	s.state = stateConnecting

	var d net.Dialer
	nonce := newNonce()
	s.nonce = nonce

	first, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "tcpsst: dial")
	}
	if err := writeLeadHandshake(first, cfg.MultiplexWidth, nonce); err != nil {
		first.Close()
		return nil, errors.Wrap(err, "tcpsst: lead handshake")
	}
	s.addConn(first, bufio.NewReader(first))

	// The lead connection must land first (it is what carries the
	// handshake nonce into existence), but the remaining width-1 follow
	// connections have no ordering dependency on each other, so they
	// dial and handshake concurrently rather than one at a time.
	g, gctx := errgroup.WithContext(ctx)
	for i := 1; i < cfg.MultiplexWidth; i++ {
		g.Go(func() error {
			c, err := d.DialContext(gctx, "tcp", addr)
			if err != nil {
				return errors.Wrap(err, "tcpsst: dial follow connection")
			}
			if err := writeFollowHandshake(c, nonce); err != nil {
				c.Close()
				return errors.Wrap(err, "tcpsst: follow handshake")
			}
			s.addConn(c, bufio.NewReader(c))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.teardown(err)
		return nil, err
	}

	s.mu.Lock()
	s.state = stateConnected
	s.mu.Unlock()
	lg.Log("sst.session", sstlog.Debug, "connected")
	return &Session{impl: s}, nil
}

func (s *session) addConn(conn net.Conn, r *bufio.Reader) {
	s.mu.Lock()
	idx := len(s.conns)
	s.conns = append(s.conns, nil)
	s.mu.Unlock()

	sc := newSubConn(conn, r, s, idx)

	s.mu.Lock()
	s.conns[idx] = sc
	s.mu.Unlock()
}

// connFor picks which sub-connection carries sid, grounded on the
// design's requirement that a given stream's frames always travel the
// same sub-connection so per-stream ordering is never reshuffled by
// striping across sockets mid-stream.
func (s *session) connFor(sid StreamID) (*subConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateConnected || len(s.conns) == 0 {
		return nil, errors.WithStack(ErrNotConnected)
	}
	idx := int(uint64(sid) % uint64(len(s.conns)))
	c := s.conns[idx]
	if c == nil {
		return nil, errors.WithStack(ErrNotConnected)
	}
	return c, nil
}

func (s *session) allocateID() (StreamID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idCount++
	if s.idCount > maxStreamAllocations {
		return 0, errors.WithStack(ErrStreamIDExhausted)
	}
	base := StreamID(2)
	if s.initiator {
		base = StreamID(1)
	}
	return base + StreamID(2*(s.idCount-1)), nil
}

const maxStreamAllocations = (1<<62 - 1) / 2

// OpenStream allocates a new Stream with this side's id parity,
// registers cb, and sends NEW_STREAM to the peer.
func (s *Session) OpenStream(reliab Reliability, order Ordering, cb CallbackSet) (*Stream, error) {
	impl := s.impl
	id, err := impl.allocateID()
	if err != nil {
		return nil, err
	}
	st, err := newStream(id, impl, reliab, order)
	if err != nil {
		return nil, err
	}
	st.SetCallbacks(cb)

	impl.mu.Lock()
	impl.streams[id] = st
	impl.mu.Unlock()

	conn, err := impl.connFor(id)
	if err != nil {
		return nil, err
	}
	body := putVarint([]byte{ctrlNewStream}, uint64(id))
	conn.enqueue(controlStreamID, body, true)
	return st, nil
}

// OnNewStream registers fn to be called, on the reactor thread,
// whenever the peer opens a new stream. fn should call
// Stream.SetCallbacks before returning if it wants to observe bytes
// the peer already queued behind NEW_STREAM.
func (s *Session) OnNewStream(fn func(*Stream)) {
	s.impl.mu.Lock()
	s.impl.onNewStream = fn
	s.impl.mu.Unlock()
}

// OnDrained registers fn to be called, on the reactor thread, exactly
// once, the first time the session leaves stateConnected for good
// (peer loss, local Disconnect, or a sub-connection failure). It
// fires after every live stream has already received its own
// OnDisconnected.
func (s *Session) OnDrained(fn func()) {
	s.impl.mu.Lock()
	s.impl.onDrained = fn
	s.impl.mu.Unlock()
}

// NumStreams reports the number of live streams.
func (s *Session) NumStreams() int {
	s.impl.mu.Lock()
	defer s.impl.mu.Unlock()
	return len(s.impl.streams)
}

// Stats returns a point-in-time snapshot of session counters.
func (s *Session) Stats() Stats {
	return s.impl.stats.snapshot()
}

// Disconnect begins draining the session: every live stream is told
// OnDisconnected, then every sub-connection is closed.
func (s *Session) Disconnect() {
	s.impl.teardown(errors.WithStack(ErrLocalDisconnect))
}

func (s *session) teardown(reason error) {
	s.mu.Lock()
	if s.state == stateDisconnected || s.state == stateDraining {
		s.mu.Unlock()
		return
	}
	s.state = stateDraining
	streams := make([]*Stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	conns := append([]*subConn(nil), s.conns...)
	s.mu.Unlock()

	for _, st := range streams {
		stCopy := st
		s.reactor.Dispatch(func() { stCopy.markDisconnected(reason) })
	}
	for _, c := range conns {
		if c != nil {
			c.beginClose()
		}
	}

	s.mu.Lock()
	s.streams = make(map[StreamID]*Stream)
	s.state = stateDisconnected
	onDrained := s.onDrained
	loggers := s.statsLoggers
	s.statsLoggers = make(map[subid.ID]chan struct{})
	s.mu.Unlock()

	for _, stop := range loggers {
		close(stop)
	}

	if onDrained != nil {
		s.reactor.Dispatch(onDrained)
	}
}

// onConnLost is called by a subConn's I/O goroutines when the socket
// fails. Losing any one sub-connection drains the whole Session: the
// design treats the pool as a unit, not as independently-failing
// links, since a logical stream is pinned to exactly one of them.
func (s *session) onConnLost(idx int, err error) {
	s.log.Log("sst.session", sstlog.Debug, "sub-connection lost: "+err.Error())
	s.teardown(errors.Wrap(err, "tcpsst: sub-connection lost"))
}

func (s *session) dispatchIncoming(sid StreamID, payload []byte, release func()) {
	if sid == controlStreamID {
		s.handleControlFrame(payload)
		release()
		return
	}
	s.mu.Lock()
	st, ok := s.streams[sid]
	s.mu.Unlock()
	if !ok {
		release() // no live stream; drop silently, mirrors CLOSE_STREAM-on-unknown-sid handling
		return
	}
	s.stats.addReceived(len(payload))
	s.reactor.Dispatch(func() {
		// Loaded on the reactor thread, after any OnNewStream handler
		// queued ahead of this frame has installed its callbacks.
		st.callbacks().bytesReceived(payload)
		release()
	})
}

const (
	ctrlNewStream   byte = 1
	ctrlCloseStream byte = 2
	ctrlAckClose    byte = 3
)

func (s *session) handleControlFrame(body []byte) {
	if len(body) == 0 {
		return
	}
	op := body[0]
	rest := body[1:]
	id, n, err := decodeVarintBytes(rest, maxStreamIDBytes)
	if err != nil {
		return
	}
	sid := StreamID(id)
	extra := rest[n:]

	switch op {
	case ctrlNewStream:
		s.handleNewStream(sid, extra)
	case ctrlCloseStream:
		s.handleCloseStream(sid)
	case ctrlAckClose:
		s.handleAckClose(sid)
	}
}

func (s *session) handleNewStream(sid StreamID, initial []byte) {
	st, err := newStream(sid, s, Reliable, Ordered)
	if err != nil {
		return
	}
	// initial is backed by the control frame's pooled buffer, which
	// is released as soon as handleControlFrame returns; copy it out
	// before handing it to the asynchronously-dispatched callback.
	var initCopy []byte
	if len(initial) > 0 {
		initCopy = append([]byte(nil), initial...)
	}

	s.mu.Lock()
	s.streams[sid] = st
	onNew := s.onNewStream
	s.mu.Unlock()

	s.reactor.Dispatch(func() {
		if onNew != nil {
			onNew(st)
		}
		if len(initCopy) > 0 {
			st.callbacks().bytesReceived(initCopy)
		}
	})
}

func (s *session) handleCloseStream(sid StreamID) {
	s.mu.Lock()
	st, ok := s.streams[sid]
	if ok {
		delete(s.streams, sid)
	}
	s.mu.Unlock()

	if ok {
		s.reactor.Dispatch(func() { st.markDisconnected(errors.WithStack(ErrPeerClosed)) })
	}

	// ACK_CLOSE is sent regardless of whether sid was known: an
	// unknown sid here means the peer raced a close with an already
	// retired stream, and the resolved behavior is a silent ack, not
	// a protocol error.
	if conn, err := s.connFor(sid); err == nil {
		body := putVarint([]byte{ctrlAckClose}, uint64(sid))
		conn.enqueue(controlStreamID, body, true)
	}
}

func (s *session) handleAckClose(sid StreamID) {
	s.mu.Lock()
	ch, ok := s.closeAcks[sid]
	if ok {
		delete(s.closeAcks, sid)
	}
	s.mu.Unlock()
	if ok {
		close(ch)
	}
}

// closeStream drives the local half of an orderly close: send
// CLOSE_STREAM, wait for ACK_CLOSE up to CloseAckTimeout, then fire
// OnDisconnected regardless of whether the ack arrived in time.
func (s *session) closeStream(st *Stream) error {
	conn, err := s.connFor(st.id)
	if err != nil {
		st.markDisconnected(err)
		return nil
	}

	ack := make(chan struct{})
	s.mu.Lock()
	s.closeAcks[st.id] = ack
	delete(s.streams, st.id)
	s.mu.Unlock()

	body := putVarint([]byte{ctrlCloseStream}, uint64(st.id))
	conn.enqueue(controlStreamID, body, true)

	go func() {
		timer := time.NewTimer(s.cfg.CloseAckTimeout.AsStdlib())
		defer timer.Stop()
		select {
		case <-ack:
		case <-timer.C:
		}
		st.markDisconnected(nil)
	}()
	return nil
}
