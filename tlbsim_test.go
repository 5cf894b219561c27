package tlbsim

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"tlbsim/internal/config"
	"tlbsim/internal/pgtable"
)

// fakeMem is a byte-addressed guest physical memory backed by a map of
// 8-byte words, enough to host a small Sv39 page table.
type fakeMem struct {
	words     map[uint64]uint64
	evictions []uint64
}

func newFakeMem() *fakeMem { return &fakeMem{words: make(map[uint64]uint64)} }

func (m *fakeMem) PhysLoad(addr uint64) uint64 { return m.words[addr] }

func (m *fakeMem) PhysCmpxchg(addr uint64, expected, new uint64) bool {
	if m.words[addr] != expected {
		return false
	}
	m.words[addr] = new
	return true
}

func (m *fakeMem) InvalidateL0(hartid int, vpn uint64) {
	m.evictions = append(m.evictions, vpn)
}

// identityMap3 builds a 3-level Sv39 page table mapping vpn to ppn with
// the given leaf flags, rooted at rootPPN, using level-2 table at
// tableA and level-1 table at tableB (both distinct physical pages).
func identityMap3(m *fakeMem, rootPPN, tableA, tableB, vpn, ppn uint64, leafFlags pgtable.Pte) {
	l2 := (vpn >> 18) & 0x1ff
	l1 := (vpn >> 9) & 0x1ff
	l0 := vpn & 0x1ff

	m.words[(rootPPN<<12)+l2*8] = (tableA << 10) | uint64(pgtable.PteV)
	m.words[(tableA<<12)+l1*8] = (tableB << 10) | uint64(pgtable.PteV)
	m.words[(tableB<<12)+l0*8] = (ppn << 10) | uint64(leafFlags)
}

func satp(asid uint16, rootPPN uint64) uint64 {
	return pgtable.Satp{Mode: pgtable.ModeSv39, ASID: asid, RootPPN: rootPPN}.Encode()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Scenario A/B (spec.md §8): a clean walk through a bare hierarchy (no
// caching configured at all — every stage list empty) succeeds, and a
// permission-violating access on the same mapping faults.
func TestAccessCleanWalkAndPermissionFault(t *testing.T) {
	mem := newFakeMem()
	identityMap3(mem, 0x10, 0x20, 0x30, 7, 0x900, pgtable.PteV|pgtable.PteR|pgtable.PteW)

	doc := config.Default()
	sim, err := NewFromDocument(doc, mem, quietLogger())
	if err != nil {
		t.Fatalf("NewFromDocument: %v", err)
	}
	defer sim.Close()

	resp := sim.Access(Request{Satp: satp(1, 0x10), VPN: 7, ASID: 1, HartID: 0, Write: true, Supervisor: true})
	if !resp.Perm || resp.PPN != 0x900 {
		t.Fatalf("clean walk: resp = %+v, want perm=true ppn=0x900", resp)
	}

	resp = sim.Access(Request{Satp: satp(1, 0x10), VPN: 7, ASID: 1, HartID: 0, Ifetch: true, Supervisor: true})
	if resp.Perm {
		t.Fatalf("fetch from a non-executable page should fault, got %+v", resp)
	}
}

// Scenario D (spec.md §8): a 2-way itlb exceeding capacity evicts FIFO
// and notifies the ISS's L0 cache of the evicted VPN.
func TestAccessFIFOEvictionNotifiesL0(t *testing.T) {
	mem := newFakeMem()
	// vpn 1, 2, 3 all fall under the same level-2/level-1 index (vpn <
	// 512), so they share one leaf table (tableB) with distinct l0 slots.
	identityMap3(mem, 0x10, 0x20, 0x30, 1, 0x100, pgtable.PteV|pgtable.PteR|pgtable.PteX|pgtable.PteA)
	identityMap3(mem, 0x10, 0x20, 0x30, 2, 0x200, pgtable.PteV|pgtable.PteR|pgtable.PteX|pgtable.PteA)
	identityMap3(mem, 0x10, 0x20, 0x30, 3, 0x300, pgtable.PteV|pgtable.PteR|pgtable.PteX|pgtable.PteA)

	doc := config.Default()
	doc.ITLB = []config.StageTemplate{{Type: config.KindAssoc, Size: 2}}
	sim, err := NewFromDocument(doc, mem, quietLogger())
	if err != nil {
		t.Fatalf("NewFromDocument: %v", err)
	}
	defer sim.Close()

	req := func(vpn uint64) Request {
		return Request{Satp: satp(1, 0x10), VPN: vpn, ASID: 1, HartID: 0, Ifetch: true, Supervisor: true}
	}
	sim.Access(req(1))
	sim.Access(req(2))
	sim.Access(req(3)) // evicts vpn 1, the oldest fill

	if len(mem.evictions) != 1 || mem.evictions[0] != 1 {
		t.Fatalf("evictions = %v, want [1]", mem.evictions)
	}

	if sim.Counters().ITLB.Evict.Load() != 1 {
		t.Fatalf("itlb evict counter = %d, want 1", sim.Counters().ITLB.Evict.Load())
	}
}

// Scenario E (spec.md §8): a full flush (asid=-1, vpn=0) drains a cached
// entry so the next access is a fresh miss, and is counted as a Full
// flush.
func TestFlushFullDrainsCacheAndCountsAsFull(t *testing.T) {
	mem := newFakeMem()
	identityMap3(mem, 0x10, 0x20, 0x30, 5, 0x500, pgtable.PteV|pgtable.PteR|pgtable.PteA)

	doc := config.Default()
	doc.DTLB = []config.StageTemplate{{Type: config.KindAssoc, Size: 4}}
	sim, err := NewFromDocument(doc, mem, quietLogger())
	if err != nil {
		t.Fatalf("NewFromDocument: %v", err)
	}
	defer sim.Close()

	sim.Access(Request{Satp: satp(1, 0x10), VPN: 5, ASID: 1, HartID: 0, Supervisor: true})
	if sim.Counters().DTLB.Miss.Load() != 1 {
		t.Fatalf("expected one miss before flush, got %d", sim.Counters().DTLB.Miss.Load())
	}

	sim.Flush(0, -1, 0)
	if sim.Counters().FlushKind.Full.Load() != 1 {
		t.Fatalf("flush-kind Full = %d, want 1", sim.Counters().FlushKind.Full.Load())
	}

	sim.Access(Request{Satp: satp(1, 0x10), VPN: 5, ASID: 1, HartID: 0, Supervisor: true})
	if sim.Counters().DTLB.Miss.Load() != 2 {
		t.Fatalf("expected a second miss after the full flush re-fetched the entry, got %d", sim.Counters().DTLB.Miss.Load())
	}
}

// Scenario F (spec.md §8): an ASID reuse without an intervening flush is
// surfaced by the ASID validator's diagnostic stream.
func TestASIDValidatorSurfacesReuseThroughTheFullStack(t *testing.T) {
	mem := newFakeMem()
	identityMap3(mem, 0x10, 0x20, 0x30, 1, 0x100, pgtable.PteV|pgtable.PteR)

	var diag strings.Builder
	logger := slog.New(slog.NewTextHandler(&diag, nil))

	doc := config.Default()
	doc.STLB = []config.StageTemplate{{Type: config.KindValidate}}
	sim, err := NewFromDocument(doc, mem, logger)
	if err != nil {
		t.Fatalf("NewFromDocument: %v", err)
	}
	defer sim.Close()

	sim.Access(Request{Satp: satp(9, 0x10), VPN: 1, ASID: 9, HartID: 0, Supervisor: true})
	sim.Access(Request{Satp: satp(9, 0x11), VPN: 1, ASID: 9, HartID: 0, Supervisor: true})

	if !strings.Contains(diag.String(), "ASID 9 reused") {
		t.Fatalf("expected an ASID-reuse diagnostic in the log stream, got:\n%s", diag.String())
	}
}
