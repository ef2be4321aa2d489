package xmemcache

import (
	"go.uber.org/atomic"
)

// ClientStats contains statistics about client operations.
// Snapshots are taken with Client.ClientStats and are plain values.
type ClientStats struct {
	Gets          uint64 // keys requested by get, gets and multi-get
	GetHits       uint64 // keys found
	Sets          uint64 // set, add, replace, append and prepend
	Deletes       uint64
	Increments    uint64 // incr and decr
	CASAttempts   uint64 // cas commands sent, including retries
	CASConflicts  uint64 // cas commands answered EXISTS or NOT_FOUND
	Errors        uint64 // calls that returned an error
	Timeouts      uint64 // calls that ran out of time
	NoReplyWrites uint64 // commands sent with noreply
}

// ServerStats contains statistics about one server.
type ServerStats struct {
	Addr         string
	Weight       int
	Live         bool
	BreakerState string // empty without circuit breaker

	OpenConns int32 // sessions currently open
	PoolConns int32 // sessions held by the pool, open or not yet destroyed

	AcquireCount     uint64
	AcquireWaitCount uint64

	Connects    uint64 // successful dials
	Disconnects uint64 // sessions closed, for any reason
	DialErrors  uint64
	Reconnects  uint64 // times the server was put back into routing
	Failures    uint64 // calls failed by connection loss or timeout
}

type clientStatsCollector struct {
	gets, getHits, sets, deletes, increments atomic.Uint64
	casAttempts, casConflicts                atomic.Uint64
	errors, timeouts, noReply                atomic.Uint64
}

func newClientStatsCollector() *clientStatsCollector {
	return &clientStatsCollector{}
}

func (c *clientStatsCollector) recordGet(keys, hits int) {
	c.gets.Add(uint64(keys))
	c.getHits.Add(uint64(hits))
}

func (c *clientStatsCollector) recordSet()       { c.sets.Inc() }
func (c *clientStatsCollector) recordDelete()    { c.deletes.Inc() }
func (c *clientStatsCollector) recordIncrement() { c.increments.Inc() }
func (c *clientStatsCollector) recordNoReply()   { c.noReply.Inc() }

func (c *clientStatsCollector) recordCAS(conflict bool) {
	c.casAttempts.Inc()
	if conflict {
		c.casConflicts.Inc()
	}
}

func (c *clientStatsCollector) recordError(err error) {
	if err == nil {
		return
	}
	c.errors.Inc()
	if isTimeout(err) {
		c.timeouts.Inc()
	}
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Gets:          c.gets.Load(),
		GetHits:       c.getHits.Load(),
		Sets:          c.sets.Load(),
		Deletes:       c.deletes.Load(),
		Increments:    c.increments.Load(),
		CASAttempts:   c.casAttempts.Load(),
		CASConflicts:  c.casConflicts.Load(),
		Errors:        c.errors.Load(),
		Timeouts:      c.timeouts.Load(),
		NoReplyWrites: c.noReply.Load(),
	}
}

type serverStatsCollector struct {
	connects, disconnects, dialErrors, reconnects, failures atomic.Uint64
}

func newServerStatsCollector() *serverStatsCollector {
	return &serverStatsCollector{}
}

func (c *serverStatsCollector) recordConnect()    { c.connects.Inc() }
func (c *serverStatsCollector) recordDisconnect() { c.disconnects.Inc() }
func (c *serverStatsCollector) recordDialError()  { c.dialErrors.Inc() }
func (c *serverStatsCollector) recordReconnect()  { c.reconnects.Inc() }
func (c *serverStatsCollector) recordFailure()    { c.failures.Inc() }

func (c *serverStatsCollector) snapshot() ServerStats {
	return ServerStats{
		Connects:    c.connects.Load(),
		Disconnects: c.disconnects.Load(),
		DialErrors:  c.dialErrors.Load(),
		Reconnects:  c.reconnects.Load(),
		Failures:    c.failures.Load(),
	}
}
