package cache

import (
	"tlbsim/internal/asidtag"
	"tlbsim/internal/core"
)

// Isolator is the hart-isolator pass-through stage (§4.6): it brands an
// access's realm with the hart id on descent so a shared upper level
// multiplexes multiple harts without their translations aliasing, then
// restores the original realm bits (preserving the global bit) on
// ascent. It holds no storage of its own.
type Isolator struct {
	parent core.Stage
	hartID uint32
}

// NewIsolator returns a hart isolator branding with hartID. Must not be
// placed in a shared-context slot — internal/config rejects that at
// build time, matching §4.6's "configuration error."
func NewIsolator(parent core.Stage, hartID int) *Isolator {
	return &Isolator{parent: parent, hartID: uint32(hartID)}
}

func (h *Isolator) Access(e *core.Entry, req core.Request) int {
	origRealm := e.ASID.Realm()
	e.ASID = e.ASID.WithRealm(h.hartID)
	perm := h.parent.Access(e, req)
	e.ASID = e.ASID.WithRealm(origRealm)
	return perm
}

// FlushLocal brands the flush tag with the hart's realm and forwards to
// the parent's FlushLocal only — it never recurses further than the
// parent, since "local" here means "this stage and the one stage it
// fronts," matching the original's pass-through with no storage of its
// own to invalidate.
func (h *Isolator) FlushLocal(tag asidtag.Tag, vpn uint64) {
	h.parent.FlushLocal(tag.WithRealm(h.hartID), vpn)
}

func (h *Isolator) Flush(tag asidtag.Tag, vpn uint64) {
	h.parent.Flush(tag.WithRealm(h.hartID), vpn)
}
