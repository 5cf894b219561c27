// Package walker implements the terminal page-walker stage: the only
// stage with no parent that actually resolves a VPN against guest
// physical memory.
package walker

import (
	"tlbsim/internal/asidtag"
	"tlbsim/internal/core"
	"tlbsim/internal/pgtable"
)

// Memory is the host callback table a page-walker needs: an aligned
// 8-byte load and an atomic compare-and-set, both against guest physical
// memory addressed by byte offset.
type Memory interface {
	PhysLoad(addr uint64) uint64
	PhysCmpxchg(addr uint64, expected, new uint64) bool
}

// Walker is the page-walker stage. It has no parent: Flush/FlushLocal are
// no-ops, matching the source's PageWalker being a dead end in the flush
// chain.
type Walker struct {
	mem               Memory
	hardwarePTEUpdate bool
}

// New returns a page-walker against the given guest-memory callback
// table. hardwarePTEUpdate mirrors the configuration document's
// hardware_pte_update: when false, no compare-and-swap is ever issued.
func New(mem Memory, hardwarePTEUpdate bool) *Walker {
	return &Walker{mem: mem, hardwarePTEUpdate: hardwarePTEUpdate}
}

// FlushLocal is a no-op: the page-walker has no cached state.
func (w *Walker) FlushLocal(asidtag.Tag, uint64) {}

// Flush is a no-op for the same reason.
func (w *Walker) Flush(asidtag.Tag, uint64) {}

const pageShift = 12

// Access walks the page table rooted at req-derived satp fields, resolving
// e.VPN. See §4.1: decode mode, verify the VPN is canonical, descend the
// radix tree, classify permission, optionally CAS accessed/dirty bits,
// and on success populate e.PPN/Pte/Granularity and the entry's global bit.
func (w *Walker) Access(e *core.Entry, req core.Request) int {
	levels, ok := req.SatpMode.Levels()
	if !ok {
		panic("walker: unsupported satp mode")
	}
	vpnBits := uint(levels) * 9
	if !pgtable.Canonical(e.VPN, vpnBits) {
		return pgtable.NonCanonical
	}

	ppn := req.SatpRootPPN
	global := e.ASID.Global()
	for i := 0; i < levels; i++ {
		bitsLeft := vpnBits - 9*uint(i+1)
		index := (e.VPN >> bitsLeft) & 0x1ff
		addr := (ppn << pageShift) + index*8
		pte := pgtable.Pte(w.mem.PhysLoad(addr))

		if !pte.Has(pgtable.PteV) {
			return w.invalid(e, req)
		}
		if pte.Has(pgtable.PteW) && !pte.Has(pgtable.PteR) {
			return w.invalid(e, req)
		}
		if pte.Has(pgtable.PteW) && pte.Has(pgtable.PteX) && !pte.Has(pgtable.PteR) {
			return w.invalid(e, req)
		}
		if pte.Has(pgtable.PteG) {
			global = true
		}

		leaf := pte.Has(pgtable.PteR) || pte.Has(pgtable.PteW) || pte.Has(pgtable.PteX)
		if !leaf {
			ppn = pte.PPN()
			continue
		}

		if pte.PPN()&((uint64(1)<<bitsLeft)-1) != 0 {
			return w.invalid(e, req)
		}

		perm := pgtable.CheckPermission(pte, req.PermRequest())
		if perm > 0 && w.hardwarePTEUpdate {
			updated := pte | pgtable.Pte(perm)
			if w.mem.PhysCmpxchg(addr, uint64(pte), uint64(updated)) {
				pte = updated
			}
		}

		e.PPN = pte.PPN() | (e.VPN & ((uint64(1) << bitsLeft) - 1))
		e.Pte = pte
		e.Granularity = levels - 1 - i
		e.ASID = e.ASID.WithGlobal(global)
		return perm
	}
	// Reached when the last level's PTE is still a non-leaf pointer: the
	// walk ran out of levels, so the translation is invalid.
	return w.invalid(e, req)
}

func (w *Walker) invalid(e *core.Entry, req core.Request) int {
	e.PPN = 0
	e.Pte = 0
	return pgtable.CheckPermission(0, req.PermRequest())
}
