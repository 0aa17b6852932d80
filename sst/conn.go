package sst

import (
	"bufio"
	"net"
	"sync"
)

// subConn wraps one of a Session's underlying TCP connections. It
// enforces the single-writer discipline the design calls for: writes
// are pushed onto a FIFO queue and a single goroutine drains it, so at
// most one write is ever outstanding on the socket at a time. Reads
// run on their own goroutine straight into the owning Session's frame
// dispatcher, grounded on smux's recvLoop/sendLoop split.
type subConn struct {
	conn   net.Conn
	reader *bufio.Reader

	sess *session
	idx  int // index of this sub-connection within sess.conns

	status sendStatus

	outbox  chan queuedFrame
	closeCh chan struct{}
	once    sync.Once
}

type queuedFrame struct {
	sid     StreamID
	payload []byte
	// reliable frames are retried at the caller's discretion; sst
	// itself never retries a write, it only reports loss of the
	// sub-connection via OnDisconnected.
}

func newSubConn(conn net.Conn, reader *bufio.Reader, sess *session, idx int) *subConn {
	c := &subConn{
		conn:    conn,
		reader:  reader,
		sess:    sess,
		idx:     idx,
		outbox:  make(chan queuedFrame, sess.cfg.HighWaterMark),
		closeCh: make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	return c
}

// enqueue pushes a frame onto the write FIFO. It refuses admission
// once a closer has been accepted (beginClose is underway), matching
// the sendStatus word's "no new senders once closing" rule. When
// reliable is false and the queue is already at its high-water mark,
// the frame is dropped rather than blocking the caller; this is the
// send-time drop the design specifies for Unreliable streams.
// Reliable sends always block until there is room or the connection
// dies.
func (c *subConn) enqueue(sid StreamID, payload []byte, reliable bool) bool {
	sent := false
	c.status.withSender(func() {
		if !reliable {
			select {
			case c.outbox <- queuedFrame{sid: sid, payload: payload}:
				sent = true
			case <-c.closeCh:
			default:
			}
			return
		}
		select {
		case c.outbox <- queuedFrame{sid: sid, payload: payload}:
			sent = true
		case <-c.closeCh:
		}
	})
	if !sent {
		c.sess.stats.addDropped()
	}
	return sent
}

func (c *subConn) queueDepth() int {
	return len(c.outbox)
}

func (c *subConn) writeLoop() {
	var buf []byte
	for {
		select {
		case qf, ok := <-c.outbox:
			if !ok {
				return
			}
			buf = buf[:0]
			var err error
			buf, err = encodeFrame(buf, qf.sid, qf.payload)
			if err != nil {
				continue // programmer error already reported at Send time
			}
			if _, err := c.conn.Write(buf); err != nil {
				c.sess.onConnLost(c.idx, err)
				return
			}
			c.sess.stats.addSent(len(qf.payload))
		case <-c.closeCh:
			return
		}
	}
}

func (c *subConn) readLoop() {
	for {
		sid, payload, release, err := readFrame(c.reader, c.sess.cfg.MaxFramePayload, c.sess.alloc)
		if err != nil {
			c.sess.onConnLost(c.idx, err)
			return
		}
		c.sess.dispatchIncoming(sid, payload, release)
	}
}

// beginClose stops accepting new writes and tears down the socket.
// Safe to call more than once; only the first call has effect.
func (c *subConn) beginClose() {
	c.once.Do(func() {
		if c.status.acquireCloser() {
			defer c.status.releaseCloser()
		}
		close(c.closeCh)
		c.conn.Close()
	})
}
