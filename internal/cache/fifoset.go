// Package cache implements the three concrete TLB-level kinds (fully
// associative FIFO, set-associative FIFO, ideal/unbounded) plus the
// hart-isolator pass-through stage, all driven by core.DefaultAccess.
package cache

import (
	"tlbsim/internal/asidtag"
	"tlbsim/internal/core"
)

// fifoSet is one associative set of slots with FIFO replacement (§4.3).
// Both the fully-associative level (a single fifoSet) and each set of the
// set-associative level share this.
type fifoSet struct {
	slots  []core.Entry
	valid  []bool
	ptr    int
	target int // set by Lookup, consumed by Peek/Insert
}

func newFifoSet(size int) *fifoSet {
	return &fifoSet{slots: make([]core.Entry, size), valid: make([]bool, size)}
}

// Lookup scans for a matching valid entry. On a match it records the
// match's index as the refresh target and reports a hit. On a miss it
// records the first empty slot, or the FIFO pointer if the set is full.
func (s *fifoSet) Lookup(vpn uint64, tag asidtag.Tag) bool {
	empty := -1
	for i, v := range s.valid {
		if !v {
			if empty < 0 {
				empty = i
			}
			continue
		}
		if s.slots[i].VPN == vpn && tag.Matches(s.slots[i].ASID) {
			s.target = i
			return true
		}
	}
	if empty >= 0 {
		s.target = empty
		return false
	}
	s.target = s.ptr
	return false
}

// Peek returns the entry at the last Lookup's target (valid only after a
// hit).
func (s *fifoSet) Peek() core.Entry { return s.slots[s.target] }

// Insert writes e at the last Lookup's target, advancing the FIFO pointer
// if the target was the FIFO victim slot, and reports the evicted entry
// (and whether it was valid) so the caller can notify the ISS.
func (s *fifoSet) Insert(e core.Entry) (evicted core.Entry, wasValid bool) {
	if s.target == s.ptr {
		s.ptr = (s.ptr + 1) % len(s.slots)
	}
	evicted, wasValid = s.slots[s.target], s.valid[s.target]
	s.slots[s.target] = e
	s.valid[s.target] = true
	return evicted, wasValid
}

// FlushLocal invalidates every valid slot matching the flush rule (§4.3):
// vpn=0 means "any VPN" (full-ASID flush); asid/realm matching follows
// Tag.MatchesFlush. Returns the number of slots invalidated.
func (s *fifoSet) FlushLocal(tag asidtag.Tag, vpn uint64) uint64 {
	var n uint64
	for i, v := range s.valid {
		if !v {
			continue
		}
		if vpn != 0 && s.slots[i].VPN != vpn {
			continue
		}
		if !tag.MatchesFlush(s.slots[i].ASID) {
			continue
		}
		s.valid[i] = false
		n++
	}
	return n
}
