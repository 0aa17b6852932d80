// Package reactor is the event-loop collaborator tcpsst dispatches
// callbacks through. The core transport never assumes a particular
// reactor implementation; it only calls Dispatch/Post against the
// Reactor interface passed into Listen/Connect.
//
// Per the accompanying design notes, the process-wide singleton here
// is a thin convenience, never a dependency: Shared only exists so a
// small demo binary can avoid wiring one explicitly.
package reactor

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"

	"github.com/ericruth/tcpsst/subid"
)

// Reactor serializes callback execution onto a single logical thread.
type Reactor interface {
	// Post schedules fn to run on the reactor thread and returns
	// immediately, regardless of which goroutine called it.
	Post(fn func())

	// Dispatch runs fn on the reactor thread if the caller is already
	// on it, otherwise behaves like Post. Core code uses Dispatch so a
	// reactor-thread callback invoking another reactor-thread callback
	// doesn't pay a channel round trip.
	Dispatch(fn func())

	// Run blocks, executing posted work until Stop is called.
	Run()

	// Poll runs queued work for up to one iteration and reports
	// whether any was found; used by callers driving their own loop.
	Poll() bool

	// Stop requests loop termination; Run returns once drained.
	Stop()

	// Reset clears the stopped state so the reactor can Run again.
	Reset()

	// Schedule registers fn to be tracked under id so it can later be
	// identified; the reactor does not interpret id beyond bookkeeping.
	Schedule(id subid.ID, fn func())

	// Cancel prevents a previously Scheduled callback from firing if it
	// has not already been dispatched.
	Cancel(id subid.ID)
}

// loop is the single-goroutine Reactor implementation grounded in the
// teacher's channel-driven main loop: one worker goroutine selects
// over a work queue and a stop signal, nothing fancier.
type loop struct {
	work chan func()
	stop chan struct{}

	mu        sync.Mutex
	running   bool
	threadID  uint64 // goroutine id of the current Run(), 0 if not running

	cancelled sync.Map // subid.ID -> struct{}
}

// New constructs a Reactor with a bounded work queue. Callers that
// need an unbounded queue should size backlog generously; Post blocks
// once the queue is full, which is the same backpressure
// Dispatch/Post give any bounded-channel reactor.
func New(backlog int) Reactor {
	return &loop{
		work: make(chan func(), backlog),
		stop: make(chan struct{}),
	}
}

func (l *loop) Post(fn func()) {
	select {
	case l.work <- fn:
	case <-l.stop:
	}
}

func (l *loop) Dispatch(fn func()) {
	if l.onReactorThread() {
		fn()
		return
	}
	l.Post(fn)
}

func (l *loop) onReactorThread() bool {
	l.mu.Lock()
	id := l.threadID
	l.mu.Unlock()
	return id != 0 && id == goroutineID()
}

func (l *loop) Run() {
	l.mu.Lock()
	l.running = true
	l.threadID = goroutineID()
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.threadID = 0
		l.mu.Unlock()
	}()

	for {
		select {
		case fn := <-l.work:
			if fn != nil {
				fn()
			}
		case <-l.stop:
			l.drain()
			return
		}
	}
}

func (l *loop) drain() {
	for {
		select {
		case fn := <-l.work:
			if fn != nil {
				fn()
			}
		default:
			return
		}
	}
}

func (l *loop) Poll() bool {
	select {
	case fn := <-l.work:
		if fn != nil {
			fn()
		}
		return true
	default:
		return false
	}
}

func (l *loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		close(l.stop)
		l.running = false
	}
}

func (l *loop) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stop = make(chan struct{})
	l.running = false
}

func (l *loop) Schedule(id subid.ID, fn func()) {
	l.Post(func() {
		if _, cancelled := l.cancelled.LoadAndDelete(id); cancelled {
			return
		}
		fn()
	})
}

func (l *loop) Cancel(id subid.ID) {
	l.cancelled.Store(id, struct{}{})
}

var (
	sharedOnce sync.Once
	shared     Reactor
)

// Shared returns a lazily-initialized process-wide Reactor. Nothing in
// the sst package requires callers to use it; it exists purely as a
// convenience accessor for small tools that don't want to own a loop.
func Shared() Reactor {
	sharedOnce.Do(func() {
		shared = New(1024)
		go shared.Run()
	})
	return shared
}

// goroutineID extracts the calling goroutine's runtime id from its
// stack trace header ("goroutine 123 [running]:"). It is used only to
// tell Dispatch apart from Post; nothing about correctness elsewhere
// in tcpsst depends on goroutine identity.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	b = b[:bytes.IndexByte(b, ' ')]
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
