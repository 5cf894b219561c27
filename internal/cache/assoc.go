package cache

import (
	"sync"

	"tlbsim/internal/asidtag"
	"tlbsim/internal/core"
	"tlbsim/internal/stats"
)

// L0Notifier is the ISS's invalidate_l0 callback: notified whenever a
// hart-associated level evicts a valid entry, preserving inclusion from
// the ISS-owned L0 cache upward.
type L0Notifier interface {
	InvalidateL0(hartid int, vpn uint64)
}

// Assoc is a fully associative FIFO TLB level (§4.3).
type Assoc struct {
	mu     sync.Mutex
	set    *fifoSet
	parent core.Stage
	hartID int // -1 for shared levels
	stats  *stats.LevelCounters
	cfg    *core.PipelineConfig
	notify L0Notifier
}

// NewAssoc returns a fully associative level of the given size. hartID is
// -1 for a shared level; any other value marks the level hart-associated
// so evictions notify the ISS's L0 cache.
func NewAssoc(parent core.Stage, st *stats.LevelCounters, cfg *core.PipelineConfig, notify L0Notifier, hartID, size int) *Assoc {
	return &Assoc{set: newFifoSet(size), parent: parent, hartID: hartID, stats: st, cfg: cfg, notify: notify}
}

func (a *Assoc) Parent() core.Stage { return a.parent }

func (a *Assoc) FindAndLock(e *core.Entry) (bool, any) {
	a.mu.Lock()
	hit := a.set.Lookup(e.VPN, e.ASID)
	if hit {
		found := a.set.Peek()
		e.PPN, e.Pte, e.Granularity = found.PPN, found.Pte, found.Granularity
	}
	return hit, nil
}

func (a *Assoc) Unlock(any) { a.mu.Unlock() }

func (a *Assoc) InsertAndUnlock(_ any, e *core.Entry, perm int) {
	defer a.mu.Unlock()
	evicted, wasValid := a.set.Insert(*e)
	if wasValid {
		a.stats.AddEvict()
		if a.hartID != -1 {
			a.notify.InvalidateL0(a.hartID, evicted.VPN)
		}
	}
}

// Access runs the default pipeline (§4.2).
func (a *Assoc) Access(e *core.Entry, req core.Request) int {
	return core.DefaultAccess(a, a.stats, a.cfg, e, req)
}

func (a *Assoc) FlushLocal(tag asidtag.Tag, vpn uint64) {
	a.mu.Lock()
	n := a.set.FlushLocal(tag, vpn)
	a.mu.Unlock()
	a.stats.AddFlush(n)
}

func (a *Assoc) Flush(tag asidtag.Tag, vpn uint64) {
	core.RecursiveFlush(a, a.parent, tag, vpn)
}
