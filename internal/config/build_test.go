package config

import (
	"testing"

	"tlbsim/internal/stats"
)

// fakeClient is a minimal Client: guest memory backed by a map, plus a
// record of invalidate_l0 calls.
type fakeClient struct {
	words       map[uint64]uint64
	invalidated []uint64
}

func newFakeClient() *fakeClient { return &fakeClient{words: make(map[uint64]uint64)} }

func (c *fakeClient) PhysLoad(addr uint64) uint64 { return c.words[addr] }

func (c *fakeClient) PhysCmpxchg(addr uint64, expected, new uint64) bool {
	if c.words[addr] != expected {
		return false
	}
	c.words[addr] = new
	return true
}

func (c *fakeClient) InvalidateL0(hartid int, vpn uint64) {
	c.invalidated = append(c.invalidated, vpn)
}

func TestBuildHartLazyAndIndependentPerHart(t *testing.T) {
	client := newFakeClient()
	doc := Default()
	doc.CTLB = []StageTemplate{{Type: KindAssoc, Size: 4}}
	doc.ITLB = []StageTemplate{{Type: KindAssoc, Size: 2}}
	doc.DTLB = []StageTemplate{{Type: KindAssoc, Size: 2}}

	counters := stats.New()
	b, err := NewBuilder(doc, client, counters, nil)
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}

	itlb0, dtlb0, err := b.BuildHart(0)
	if err != nil {
		t.Fatalf("BuildHart(0): %v", err)
	}
	itlb1, _, err := b.BuildHart(1)
	if err != nil {
		t.Fatalf("BuildHart(1): %v", err)
	}
	if itlb0 == itlb1 {
		t.Fatalf("expected independent per-hart itlb instances")
	}
	if dtlb0 == nil {
		t.Fatalf("expected a non-nil dtlb stack")
	}
}

func TestBuildRejectsUnknownStageType(t *testing.T) {
	doc := Default()
	doc.STLB = []StageTemplate{{Type: "nonsense"}}
	_, err := NewBuilder(doc, newFakeClient(), stats.New(), nil)
	if err == nil {
		t.Fatalf("expected NewBuilder to reject an unknown stage type")
	}
}
