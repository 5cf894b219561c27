// Package stats holds the atomic counters the simulator accumulates:
// per-level miss/evict/flush, global fault classification, flush-kind
// classification, and the free-running instret/minstret counters the ISS
// maintains.
package stats

import (
	"fmt"
	"io"
	"sync/atomic"
)

// LevelCounters are the miss/evict/flush counters a single TLB level
// (I/D/C/S) accumulates. Updated with relaxed ordering; they are
// monotonic bookkeeping, never load-bearing for translation correctness.
type LevelCounters struct {
	Miss  atomic.Uint64
	Evict atomic.Uint64
	Flush atomic.Uint64
}

// AddMiss increments the miss counter. Satisfies core.LevelStats.
func (c *LevelCounters) AddMiss() { c.Miss.Add(1) }

// AddEvict increments the eviction counter.
func (c *LevelCounters) AddEvict() { c.Evict.Add(1) }

// AddFlush increments the flush counter by n.
func (c *LevelCounters) AddFlush(n uint64) { c.Flush.Add(n) }

// Reset zeroes the counters.
func (c *LevelCounters) Reset() {
	c.Miss.Store(0)
	c.Evict.Store(0)
	c.Flush.Store(0)
}

// FaultCounters classify page-walk outcomes by pgtable.CheckPermission's
// first-matching-condition code, plus the accessed/dirty refresh counts.
type FaultCounters struct {
	V, U, S, R, W, X, A, D atomic.Uint64
}

func (f *FaultCounters) Reset() {
	f.V.Store(0)
	f.U.Store(0)
	f.S.Store(0)
	f.R.Store(0)
	f.W.Store(0)
	f.X.Store(0)
	f.A.Store(0)
	f.D.Store(0)
}

// FlushCounters classify flush(hart, asid, vpn) calls by kind.
type FlushCounters struct {
	Full, GPage, ASID, Page atomic.Uint64
}

func (f *FlushCounters) Reset() {
	f.Full.Store(0)
	f.GPage.Store(0)
	f.ASID.Store(0)
	f.Page.Store(0)
}

// Counters is the full process-wide statistics surface: one LevelCounters
// per logical stack (I/D/C/S — instruction, data, per-hart-shared,
// system-shared), global fault and flush-kind counters, and the
// ISS-maintained instret/minstret free-running counters.
type Counters struct {
	ITLB, DTLB, CTLB, STLB LevelCounters
	Fault                  FaultCounters
	FlushKind              FlushCounters
	Instret, Minstret      atomic.Uint64
}

// New returns a zeroed Counters.
func New() *Counters { return &Counters{} }

// Reset zeroes every counter. instret/minstret are left untouched: they
// are the ISS's free-running clock, not simulator bookkeeping.
func (c *Counters) Reset() {
	c.ITLB.Reset()
	c.DTLB.Reset()
	c.CTLB.Reset()
	c.STLB.Reset()
	c.Fault.Reset()
	c.FlushKind.Reset()
}

// Fprint writes the human-readable counter dump the simulator produces on
// reset_counters(print=true) and at process exit.
func (c *Counters) Fprint(w io.Writer) {
	fmt.Fprintf(w, "TLBSim counters:\n")
	fmt.Fprintf(w, "  instret:  %d\n", c.Instret.Load())
	fmt.Fprintf(w, "  minstret: %d\n", c.Minstret.Load())
	printLevel := func(name string, l *LevelCounters) {
		fmt.Fprintf(w, "  %s: miss=%d evict=%d flush=%d\n", name, l.Miss.Load(), l.Evict.Load(), l.Flush.Load())
	}
	printLevel("itlb", &c.ITLB)
	printLevel("dtlb", &c.DTLB)
	printLevel("ctlb", &c.CTLB)
	printLevel("stlb", &c.STLB)
	fmt.Fprintf(w, "  faults: v=%d u=%d s=%d r=%d w=%d x=%d a=%d d=%d\n",
		c.Fault.V.Load(), c.Fault.U.Load(), c.Fault.S.Load(), c.Fault.R.Load(),
		c.Fault.W.Load(), c.Fault.X.Load(), c.Fault.A.Load(), c.Fault.D.Load())
	fmt.Fprintf(w, "  flushes: full=%d gpage=%d asid=%d page=%d\n",
		c.FlushKind.Full.Load(), c.FlushKind.GPage.Load(), c.FlushKind.ASID.Load(), c.FlushKind.Page.Load())
}

// RecordFault increments the counter matching a pgtable fault/update code.
// perm<0 classifies a fault by pgtable's Fault* codes; perm>0 classifies
// an accessed/dirty refresh (dirty takes precedence when both bits are
// being set, matching the walker's first-match-wins classification).
func (c *Counters) RecordFault(perm int) {
	switch {
	case perm == -1:
		c.Fault.V.Add(1)
	case perm == -2:
		c.Fault.U.Add(1)
	case perm == -3:
		c.Fault.S.Add(1)
	case perm == -4:
		c.Fault.R.Add(1)
	case perm == -5:
		c.Fault.W.Add(1)
	case perm == -6:
		c.Fault.X.Add(1)
	case perm > 0 && perm&0x80 != 0:
		c.Fault.D.Add(1)
	case perm > 0:
		c.Fault.A.Add(1)
	}
}
