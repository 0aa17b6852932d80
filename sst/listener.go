package sst

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/ericruth/tcpsst/clock"
	"github.com/ericruth/tcpsst/reactor"
	"github.com/ericruth/tcpsst/sstlog"
	"github.com/pkg/errors"
)

// Listener accepts incoming TCP connections, groups them into
// per-Session pools by nonce, and hands a completed Session to
// Accept once all MultiplexWidth sub-connections of a pool have
// arrived. Grounded on smux's chAccepts pattern, adapted for the
// two-phase handshake this protocol uses instead of a single stream.
type Listener struct {
	ln      net.Listener
	cfg     *Config
	reactor reactor.Reactor
	log     sstlog.Logger

	mu      sync.Mutex
	pending map[uint64]*pendingSession

	accepted chan *Session
	closeCh  chan struct{}
	once     sync.Once
}

type pendingSession struct {
	sess  *session
	width int
	got   int
}

// Listen opens addr and begins accepting Sessions.
func Listen(addr string, cfg *Config, rx reactor.Reactor, lg sstlog.Logger) (*Listener, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := VerifyConfig(cfg); err != nil {
		return nil, err
	}
	if lg == nil {
		lg = sstlog.Discard{}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "tcpsst: listen")
	}
	l := &Listener{
		ln:       ln,
		cfg:      cfg,
		reactor:  rx,
		log:      lg,
		pending:  make(map[uint64]*pendingSession),
		accepted: make(chan *Session, cfg.AcceptBacklog),
		closeCh:  make(chan struct{}),
	}
	go l.acceptLoop()
	return l, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept blocks until a fully-formed Session arrives or the Listener
// is closed.
func (l *Listener) Accept() (*Session, error) {
	select {
	case s, ok := <-l.accepted:
		if !ok {
			return nil, errors.WithStack(ErrNotConnected)
		}
		return s, nil
	case <-l.closeCh:
		return nil, errors.WithStack(ErrNotConnected)
	}
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	l.once.Do(func() { close(l.closeCh) })
	return l.ln.Close()
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.closeCh:
			default:
				l.log.Log("sst.listener", sstlog.Warn, "accept: "+err.Error())
			}
			return
		}
		go l.handleConn(conn)
	}
}

func (l *Listener) handleConn(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(l.cfg.HandshakeTimeout.AsStdlib()))
	r := bufio.NewReader(conn)

	lead, err := peekHandshakeKind(r)
	if err != nil {
		conn.Close()
		return
	}

	if lead {
		version, width, nonce, err := readLeadHandshake(r)
		_ = version
		if err != nil {
			conn.Close()
			return
		}
		l.admitLead(conn, r, nonce, width)
		return
	}

	nonce, err := readFollowHandshake(r)
	if err != nil {
		conn.Close()
		return
	}
	l.admitFollow(conn, r, nonce)
}

func (l *Listener) admitLead(conn net.Conn, r *bufio.Reader, nonce uint64, width int) {
	conn.SetReadDeadline(time.Time{})

	sess := newSession(l.cfg, l.reactor, l.log, clock.System, false)
	ps := &pendingSession{sess: sess, width: width}

	l.mu.Lock()
	l.pending[nonce] = ps
	l.mu.Unlock()

	l.addToPending(ps, nonce, conn, r)
}

func (l *Listener) admitFollow(conn net.Conn, r *bufio.Reader, nonce uint64) {
	conn.SetReadDeadline(time.Time{})

	l.mu.Lock()
	ps, ok := l.pending[nonce]
	l.mu.Unlock()
	if !ok {
		conn.Close() // no matching lead connection; drop it
		return
	}
	l.addToPending(ps, nonce, conn, r)
}

func (l *Listener) addToPending(ps *pendingSession, nonce uint64, conn net.Conn, r *bufio.Reader) {
	ps.sess.addConn(conn, r)

	l.mu.Lock()
	ps.got++
	done := ps.got >= ps.width
	if done {
		delete(l.pending, nonce)
	}
	l.mu.Unlock()

	if !done {
		return
	}

	ps.sess.mu.Lock()
	ps.sess.state = stateConnected
	ps.sess.mu.Unlock()

	select {
	case l.accepted <- &Session{impl: ps.sess}:
	case <-l.closeCh:
		ps.sess.teardown(errors.WithStack(ErrNotConnected))
	}
}
