package validate

import (
	"fmt"
	"io"
	"sync"

	"tlbsim/internal/asidtag"
	"tlbsim/internal/cache"
	"tlbsim/internal/core"
	"tlbsim/internal/pgtable"
	"tlbsim/internal/stats"
)

// TLBValidator wraps an ideal cache level (§4.7). It behaves as the
// default pipeline on miss, but on a hit it also re-queries the parent
// with a duplicate of the entry and compares the two, reporting any of
// three staleness conditions as a diagnostic without altering the result
// returned to the caller.
type TLBValidator struct {
	mu     sync.Mutex
	w      io.Writer
	ideal  *cache.Ideal
	parent core.Stage
	stats  *stats.LevelCounters
}

// NewTLBValidator wraps parent with staleness detection, keyed by an
// internal ideal cache so every previously-seen translation can be
// re-verified on each subsequent hit.
func NewTLBValidator(parent core.Stage, st *stats.LevelCounters, cfg *core.PipelineConfig, w io.Writer) *TLBValidator {
	return &TLBValidator{w: w, ideal: cache.NewIdeal(parent, st, cfg), parent: parent, stats: st}
}

func (t *TLBValidator) Parent() core.Stage { return t.parent }

func (t *TLBValidator) Access(e *core.Entry, req core.Request) int {
	hit, token := t.ideal.FindAndLock(e)
	if !hit {
		t.ideal.Unlock(token)
		return t.ideal.Access(e, req)
	}

	cached := *e
	dup := *e
	t.ideal.Unlock(token)

	parentPerm := t.parent.Access(&dup, req)
	t.reportStaleness(cached, dup, parentPerm)

	*e = cached
	return pgtable.CheckPermission(cached.Pte, req.PermRequest())
}

func (t *TLBValidator) reportStaleness(cached, fresh core.Entry, freshPerm int) {
	if freshPerm < 0 && cached.Pte.Has(pgtable.PteV) {
		fmt.Fprintf(t.w, colorize("TLBValidator: vpn %#x invalidated without flush\n"), cached.VPN)
		return
	}
	if fresh.PPN != 0 && fresh.PPN != cached.PPN {
		fmt.Fprintf(t.w, colorize("TLBValidator: vpn %#x PPN changed without flush (cached=%#x fresh=%#x)\n"), cached.VPN, cached.PPN, fresh.PPN)
		return
	}
	for _, bit := range []pgtable.Pte{pgtable.PteR, pgtable.PteW, pgtable.PteX} {
		if cached.Pte.Has(bit) && !fresh.Pte.Has(bit) {
			fmt.Fprintf(t.w, colorize("TLBValidator: vpn %#x permission reduced without flush\n"), cached.VPN)
			return
		}
	}
}

func (t *TLBValidator) FlushLocal(tag asidtag.Tag, vpn uint64) {
	t.ideal.FlushLocal(tag, vpn)
}

func (t *TLBValidator) Flush(tag asidtag.Tag, vpn uint64) {
	core.RecursiveFlush(t, t.parent, tag, vpn)
}
