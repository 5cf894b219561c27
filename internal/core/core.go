// Package core defines the shared entry type, the stage capability
// interfaces every TLB level implements, and the generic default access
// pipeline (§4.2) that fully-associative, set-associative and validator
// levels all build on.
package core

import (
	"tlbsim/internal/asidtag"
	"tlbsim/internal/pgtable"
)

// Entry is a resolved (or in-flight) translation: the unit cache levels
// store, evict and flush.
type Entry struct {
	VPN         uint64
	PPN         uint64
	Pte         pgtable.Pte
	ASID        asidtag.Tag
	Granularity int // 0 = 4KiB leaf, 1 = 2MiB, 2 = 1GiB, 3 = 512GiB
}

// Valid reports whether e carries a live ASID tag.
func (e *Entry) Valid() bool { return e.ASID.Valid() }

// Request is the subset of a translation request every stage needs: the
// permission-relevant flags plus the hart and tag context. The root
// package's Request embeds this; internal packages depend only on this
// narrower view to avoid an import cycle back to the root package.
type Request struct {
	HartID      int
	Ifetch      bool
	Write       bool
	Supervisor  bool
	SUM         bool
	MXR         bool
	SatpMode    pgtable.Mode
	SatpRootPPN uint64
	// Satp is the raw satp register value, redundant with SatpMode/
	// SatpRootPPN/the entry's ASID tag but carried for the ASID
	// validator, which needs the literal register to compare roots
	// across accesses (§4.7).
	Satp uint64
}

// PermRequest narrows a Request to what pgtable.CheckPermission needs.
func (r Request) PermRequest() pgtable.PermRequest {
	return pgtable.PermRequest{
		Ifetch:     r.Ifetch,
		Write:      r.Write,
		Supervisor: r.Supervisor,
		SUM:        r.SUM,
		MXR:        r.MXR,
	}
}

// Stage is the capability set every TLB level (and the page-walker, and
// the replayer) exposes outward: translate, and the two flush entry
// points. FlushLocal invalidates only this stage's own storage;
// Flush additionally recurses to the parent. This replaces the source's
// virtual dispatch over a TLB base class (see design notes).
type Stage interface {
	Access(e *Entry, req Request) int
	FlushLocal(tag asidtag.Tag, vpn uint64)
	Flush(tag asidtag.Tag, vpn uint64)
}

// RecursiveFlush is the default Flush behaviour shared by every
// parent-having stage: flush local storage, then recurse to the parent.
// Leaf stages (page-walker, replayer) have no parent and so never call
// this; they implement Flush as a no-op directly.
func RecursiveFlush(self Stage, parent Stage, tag asidtag.Tag, vpn uint64) {
	self.FlushLocal(tag, vpn)
	if parent != nil {
		parent.Flush(tag, vpn)
	}
}

// LevelStats is the subset of per-level counters DefaultAccess touches.
// internal/stats.LevelCounters satisfies this.
type LevelStats interface {
	AddMiss()
}

// PipelineConfig holds the two simulator-wide knobs the default access
// pipeline consults. One instance is shared by every stage in a
// simulator (there is exactly one hardware_pte_update and one
// cache_invalidate_entries setting per configuration document).
type PipelineConfig struct {
	HardwarePTEUpdate      bool
	CacheInvalidateEntries bool
}

// Level is the narrower capability a concrete cache kind implements so
// DefaultAccess can drive it: find-and-lock, unlock, insert-and-unlock,
// and its parent stage. FindAndLock returns an opaque lock token
// alongside the hit flag; the token is threaded back into Unlock/
// InsertAndUnlock so a level whose lock granularity is finer than "one
// lock for the whole level" (the set-associative level, one lock per
// set) can tell which lock a given access is holding without shared
// mutable state racing across concurrent accesses to different slots.
type Level interface {
	FindAndLock(e *Entry) (hit bool, token any)
	Unlock(token any)
	InsertAndUnlock(token any, e *Entry, perm int)
	Parent() Stage
}

// DefaultAccess implements the generic cache-level access pipeline from
// §4.2: find, check permission on hit, otherwise (or on A/D refresh)
// delegate to the parent while holding the lock, then conditionally
// insert.
func DefaultAccess(self Level, st LevelStats, cfg *PipelineConfig, e *Entry, req Request) int {
	var perm int
	hit, token := self.FindAndLock(e)
	if hit {
		perm = pgtable.CheckPermission(e.Pte, req.PermRequest())
		if perm <= 0 || !cfg.HardwarePTEUpdate {
			self.Unlock(token)
			return perm
		}
	}

	st.AddMiss()
	perm = self.Parent().Access(e, req)
	if !cfg.CacheInvalidateEntries && perm != 0 {
		self.Unlock(token)
		return perm
	}

	self.InsertAndUnlock(token, e, perm)
	return perm
}
