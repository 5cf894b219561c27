package cache

import (
	"sync"

	"tlbsim/internal/asidtag"
	"tlbsim/internal/core"
	"tlbsim/internal/stats"
)

type idealKey struct {
	vpn   uint64
	realm uint32
	asid  uint16
}

type idealGlobalKey struct {
	vpn   uint64
	realm uint32
}

// Ideal is the unbounded, never-evicting reference level (§4.5): a hash
// map keyed by (vpn, asid) plus a separate map for global entries keyed
// ASID-agnostically within a realm. It never calls InvalidateL0 — there
// is never an eviction to report.
type Ideal struct {
	mu     sync.Mutex
	byASID map[idealKey]core.Entry
	global map[idealGlobalKey]core.Entry
	parent core.Stage
	stats  *stats.LevelCounters
	cfg    *core.PipelineConfig
}

// NewIdeal returns an ideal/unbounded level.
func NewIdeal(parent core.Stage, st *stats.LevelCounters, cfg *core.PipelineConfig) *Ideal {
	return &Ideal{
		byASID: make(map[idealKey]core.Entry),
		global: make(map[idealGlobalKey]core.Entry),
		parent: parent,
		stats:  st,
		cfg:    cfg,
	}
}

func (i *Ideal) Parent() core.Stage { return i.parent }

// FindAndLock checks the global map first, then the ASID-specific map, as
// prescribed by §4.5 — a global entry in the same realm always answers
// before falling back to an exact-ASID lookup.
func (i *Ideal) FindAndLock(e *core.Entry) (bool, any) {
	i.mu.Lock()
	if g, ok := i.global[idealGlobalKey{vpn: e.VPN, realm: e.ASID.Realm()}]; ok {
		e.PPN, e.Pte, e.Granularity = g.PPN, g.Pte, g.Granularity
		return true, nil
	}
	if s, ok := i.byASID[idealKey{vpn: e.VPN, realm: e.ASID.Realm(), asid: e.ASID.ASID()}]; ok {
		e.PPN, e.Pte, e.Granularity = s.PPN, s.Pte, s.Granularity
		return true, nil
	}
	return false, nil
}

func (i *Ideal) Unlock(any) { i.mu.Unlock() }

// InsertAndUnlock routes by the entry's global bit, never evicting.
func (i *Ideal) InsertAndUnlock(_ any, e *core.Entry, perm int) {
	defer i.mu.Unlock()
	if e.ASID.Global() {
		i.global[idealGlobalKey{vpn: e.VPN, realm: e.ASID.Realm()}] = *e
		return
	}
	i.byASID[idealKey{vpn: e.VPN, realm: e.ASID.Realm(), asid: e.ASID.ASID()}] = *e
}

func (i *Ideal) Access(e *core.Entry, req core.Request) int {
	return core.DefaultAccess(i, i.stats, i.cfg, e, req)
}

// FlushLocal mirrors §4.3's matching semantics via map iteration/erase.
func (i *Ideal) FlushLocal(tag asidtag.Tag, vpn uint64) {
	i.mu.Lock()
	var n uint64
	for k, e := range i.global {
		if k.realm != tag.Realm() {
			continue
		}
		if vpn != 0 && e.VPN != vpn {
			continue
		}
		if !tag.MatchesFlush(e.ASID) {
			continue
		}
		delete(i.global, k)
		n++
	}
	for k, e := range i.byASID {
		if k.realm != tag.Realm() {
			continue
		}
		if vpn != 0 && e.VPN != vpn {
			continue
		}
		if !tag.MatchesFlush(e.ASID) {
			continue
		}
		delete(i.byASID, k)
		n++
	}
	i.mu.Unlock()
	i.stats.AddFlush(n)
}

func (i *Ideal) Flush(tag asidtag.Tag, vpn uint64) {
	core.RecursiveFlush(i, i.parent, tag, vpn)
}
