package walker

import (
	"testing"

	"tlbsim/internal/asidtag"
	"tlbsim/internal/core"
	"tlbsim/internal/pgtable"
)

// fakeMemory is a byte-addressed guest physical memory backed by a map of
// 8-byte words, keyed by address — enough to drive the walker through a
// handful of page-table levels in tests.
type fakeMemory struct {
	words       map[uint64]uint64
	cmpxchgCall int
}

func newFakeMemory() *fakeMemory { return &fakeMemory{words: make(map[uint64]uint64)} }

func (m *fakeMemory) PhysLoad(addr uint64) uint64 { return m.words[addr] }

func (m *fakeMemory) PhysCmpxchg(addr uint64, expected, new uint64) bool {
	m.cmpxchgCall++
	if m.words[addr] != expected {
		return false
	}
	m.words[addr] = new
	return true
}

func scenarioAMemory() *fakeMemory {
	m := newFakeMemory()
	m.words[(0x200<<12)+0] = 0x200001  // non-leaf, V only, PPN 0x800
	m.words[(0x800<<12)+0] = 0x400001  // non-leaf, V only, PPN 0x1000
	m.words[(0x1000<<12)+0] = 0x2000DF // leaf V|R|W|X|U|A|D, PPN 0x800
	return m
}

func TestScenarioACleanWalk(t *testing.T) {
	mem := scenarioAMemory()
	w := New(mem, true)
	e := &core.Entry{VPN: 0, ASID: asidtag.New(false, 0, 0)}
	req := core.Request{SatpMode: pgtable.ModeSv39, SatpRootPPN: 0x200}

	perm := w.Access(e, req)
	if perm != 0 {
		t.Fatalf("perm = %d, want 0 (clean hit, A/D already set, nothing to update)", perm)
	}
	if e.PPN != 0x800 {
		t.Fatalf("ppn = %#x, want 0x800", e.PPN)
	}
	if e.Granularity != 0 {
		t.Fatalf("granularity = %d, want 0", e.Granularity)
	}
}

func TestScenarioBPermissionFault(t *testing.T) {
	mem := scenarioAMemory()
	w := New(mem, true)
	e := &core.Entry{VPN: 0, ASID: asidtag.New(false, 0, 0)}
	req := core.Request{SatpMode: pgtable.ModeSv39, SatpRootPPN: 0x200, Supervisor: true}

	perm := w.Access(e, req)
	if perm != pgtable.FaultU {
		t.Fatalf("perm = %d, want FaultU (%d)", perm, pgtable.FaultU)
	}
}

func TestScenarioCAccessedDirtyUpdate(t *testing.T) {
	mem := scenarioAMemory()
	mem.words[(0x1000<<12)+0] = 0x200013 // leaf V|R|U, PPN 0x800, no A, no D
	w := New(mem, true)
	e := &core.Entry{VPN: 0, ASID: asidtag.New(false, 0, 0)}
	req := core.Request{SatpMode: pgtable.ModeSv39, SatpRootPPN: 0x200}

	perm := w.Access(e, req)
	if perm != int(pgtable.PteA) {
		t.Fatalf("perm = %#x, want A bit (%#x)", perm, pgtable.PteA)
	}
	if mem.cmpxchgCall != 1 {
		t.Fatalf("expected exactly one cmpxchg, got %d", mem.cmpxchgCall)
	}
	got := pgtable.Pte(mem.words[(0x1000<<12)+0])
	if !got.Has(pgtable.PteA) {
		t.Fatalf("expected A bit set in guest memory after cmpxchg")
	}
}

func TestCanonicalVPNRejection(t *testing.T) {
	mem := scenarioAMemory()
	w := New(mem, true)
	req := core.Request{SatpMode: pgtable.ModeSv39, SatpRootPPN: 0x200}

	bad := &core.Entry{VPN: 0x8000_0000, ASID: asidtag.New(false, 0, 0)}
	if perm := w.Access(bad, req); perm != pgtable.NonCanonical {
		t.Fatalf("perm = %d, want NonCanonical", perm)
	}

	good := &core.Entry{VPN: 0xFFFF_FFFF_FF80_0000, ASID: asidtag.New(false, 0, 0)}
	if perm := w.Access(good, req); perm == pgtable.NonCanonical {
		t.Fatalf("sign-extended VPN incorrectly rejected as non-canonical")
	}
}

func TestHardwarePTEUpdateDisabledNoCmpxchg(t *testing.T) {
	mem := scenarioAMemory()
	mem.words[(0x1000<<12)+0] = 0x200013 // leaf V|R|U, PPN 0x800, no A, no D
	w := New(mem, false)
	e := &core.Entry{VPN: 0, ASID: asidtag.New(false, 0, 0)}
	req := core.Request{SatpMode: pgtable.ModeSv39, SatpRootPPN: 0x200}

	perm := w.Access(e, req)
	if mem.cmpxchgCall != 0 {
		t.Fatalf("expected no cmpxchg when hardware_pte_update is disabled, got %d", mem.cmpxchgCall)
	}
	if perm != int(pgtable.PteA) {
		t.Fatalf("perm = %#x, want A-bit classification even without the write", perm)
	}
}
