package cache

import (
	"math/bits"
	"sync"

	"tlbsim/internal/asidtag"
	"tlbsim/internal/core"
	"tlbsim/internal/stats"
)

// setAssocSet is one set's storage plus its own lock (§4.4: "per-set
// lock").
type setAssocSet struct {
	mu  sync.Mutex
	set *fifoSet
}

// SetAssoc is a set-associative FIFO TLB level (§4.4).
type SetAssoc struct {
	sets     []*setAssocSet
	setBits  uint // log2(len(sets))
	parent   core.Stage
	hartID   int
	stats    *stats.LevelCounters
	cfg      *core.PipelineConfig
	notify   L0Notifier
}

// NewSetAssoc returns a set-associative level holding size entries total
// across sets of associativity assoc. size/assoc must be a power of two.
func NewSetAssoc(parent core.Stage, st *stats.LevelCounters, cfg *core.PipelineConfig, notify L0Notifier, hartID, size, assoc int) *SetAssoc {
	numSets := size / assoc
	if numSets < 1 {
		numSets = 1
	}
	sets := make([]*setAssocSet, numSets)
	for i := range sets {
		sets[i] = &setAssocSet{set: newFifoSet(assoc)}
	}
	return &SetAssoc{
		sets:    sets,
		setBits: uint(bits.Len(uint(numSets - 1))),
		parent:  parent,
		hartID:  hartID,
		stats:   st,
		cfg:     cfg,
		notify:  notify,
	}
}

// index computes the set index for a VPN/tag pair per §4.4: the low
// set-index bits of the VPN, XORed with the byte-swapped realm id shifted
// down to the same width — keeping VPN locality while dispersing the
// realm bits of harts sharing this cache.
func (s *SetAssoc) index(vpn uint64, tag asidtag.Tag) int {
	if s.setBits == 0 {
		return 0
	}
	mask := uint64(len(s.sets) - 1)
	swapped := bits.ReverseBytes32(tag.Realm())
	return int((vpn & mask) ^ uint64(swapped>>(32-s.setBits)))
}

func (s *SetAssoc) Parent() core.Stage { return s.parent }

// token carries the selected set's pointer from FindAndLock through to
// Unlock/InsertAndUnlock so concurrent accesses to different sets never
// share mutable state.
func (s *SetAssoc) FindAndLock(e *core.Entry) (bool, any) {
	set := s.sets[s.index(e.VPN, e.ASID)]
	set.mu.Lock()
	hit := set.set.Lookup(e.VPN, e.ASID)
	if hit {
		found := set.set.Peek()
		e.PPN, e.Pte, e.Granularity = found.PPN, found.Pte, found.Granularity
	}
	return hit, set
}

func (s *SetAssoc) Unlock(token any) {
	token.(*setAssocSet).mu.Unlock()
}

func (s *SetAssoc) InsertAndUnlock(token any, e *core.Entry, perm int) {
	set := token.(*setAssocSet)
	defer set.mu.Unlock()
	evicted, wasValid := set.set.Insert(*e)
	if wasValid {
		s.stats.AddEvict()
		if s.hartID != -1 {
			s.notify.InvalidateL0(s.hartID, evicted.VPN)
		}
	}
}

func (s *SetAssoc) Access(e *core.Entry, req core.Request) int {
	return core.DefaultAccess(s, s.stats, s.cfg, e, req)
}

// FlushLocal with vpn=0 iterates every set; otherwise it targets the one
// set the (asid, vpn) pair indexes to.
func (s *SetAssoc) FlushLocal(tag asidtag.Tag, vpn uint64) {
	var n uint64
	if vpn == 0 {
		for _, set := range s.sets {
			set.mu.Lock()
			n += set.set.FlushLocal(tag, vpn)
			set.mu.Unlock()
		}
	} else {
		set := s.sets[s.index(vpn, tag)]
		set.mu.Lock()
		n = set.set.FlushLocal(tag, vpn)
		set.mu.Unlock()
	}
	s.stats.AddFlush(n)
}

func (s *SetAssoc) Flush(tag asidtag.Tag, vpn uint64) {
	core.RecursiveFlush(s, s.parent, tag, vpn)
}
