package sst

import (
	"encoding/csv"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ericruth/tcpsst/clock"
	"github.com/ericruth/tcpsst/sstlog"
	"github.com/ericruth/tcpsst/subid"
)

// stats holds the atomic counters backing Session.Stats, grounded on
// the teacher's std/snmp.go counter-bag: plain atomic integers bumped
// on the hot path, snapshotted into a value type for callers.
type stats struct {
	bytesReceived uint64
	framesSent    uint64
	bytesSent     uint64
	framesDropped uint64
}

func (s *stats) addReceived(n int) {
	atomic.AddUint64(&s.bytesReceived, uint64(n))
}

func (s *stats) addSent(n int) {
	atomic.AddUint64(&s.framesSent, 1)
	atomic.AddUint64(&s.bytesSent, uint64(n))
}

func (s *stats) addDropped() {
	atomic.AddUint64(&s.framesDropped, 1)
}

func (s *stats) snapshot() Stats {
	return Stats{
		BytesReceived: atomic.LoadUint64(&s.bytesReceived),
		FramesSent:    atomic.LoadUint64(&s.framesSent),
		BytesSent:     atomic.LoadUint64(&s.bytesSent),
		FramesDropped: atomic.LoadUint64(&s.framesDropped),
	}
}

// Stats is a point-in-time snapshot of a Session's traffic counters.
type Stats struct {
	BytesReceived uint64
	FramesSent    uint64
	BytesSent     uint64
	FramesDropped uint64
}

var statsHeader = []string{"unix", "bytes_received", "frames_sent", "bytes_sent", "frames_dropped"}

// WithStatsLogger starts a ticker that, every interval, writes one CSV
// row of the Session's current Stats to w. It is grounded directly on
// the teacher's std/snmp.go SnmpLogger: a ticker loop around a
// csv.Writer, a header written once, one timestamped row appended per
// tick. The write itself runs on the Session's reactor thread — each
// tick is handed to reactor.Schedule under the one subid.ID minted for
// this logger (and returned to the caller) so the
// csv.Writer is only ever touched from one goroutine at a time and a
// pending-but-not-yet-run tick can be cancelled cleanly. Logging stops
// automatically when the Session drains; it can also be stopped early
// with StopStatsLogger.
func (s *Session) WithStatsLogger(interval clock.Duration, w io.Writer) subid.ID {
	impl := s.impl
	id := subid.New()
	stop := make(chan struct{})

	impl.mu.Lock()
	impl.statsLoggers[id] = stop
	impl.mu.Unlock()

	cw := csv.NewWriter(w)
	wroteHeader := false

	go func() {
		ticker := time.NewTicker(interval.AsStdlib())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				impl.reactor.Schedule(id, func() {
					if !wroteHeader {
						if err := cw.Write(statsHeader); err != nil {
							impl.log.Log("sst.stats", sstlog.Warn, "stats logger header: "+err.Error())
						}
						wroteHeader = true
					}
					snap := impl.stats.snapshot()
					row := []string{
						strconv.FormatInt(time.Now().Unix(), 10),
						strconv.FormatUint(snap.BytesReceived, 10),
						strconv.FormatUint(snap.FramesSent, 10),
						strconv.FormatUint(snap.BytesSent, 10),
						strconv.FormatUint(snap.FramesDropped, 10),
					}
					if err := cw.Write(row); err != nil {
						impl.log.Log("sst.stats", sstlog.Warn, "stats logger row: "+err.Error())
						return
					}
					cw.Flush()
				})
			case <-stop:
				return
			}
		}
	}()
	return id
}

// StopStatsLogger stops future ticks from the logger WithStatsLogger
// started under id, and cancels whichever tick it may already have
// scheduled onto the reactor but not yet run.
func (s *Session) StopStatsLogger(id subid.ID) {
	impl := s.impl
	impl.reactor.Cancel(id)

	impl.mu.Lock()
	stop, ok := impl.statsLoggers[id]
	if ok {
		delete(impl.statsLoggers, id)
	}
	impl.mu.Unlock()
	if ok {
		close(stop)
	}
}
