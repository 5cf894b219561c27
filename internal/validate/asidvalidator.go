// Package validate implements the two semantic validators (§4.7):
// ASIDValidator, which watches for software misuse of ASIDs, and
// TLBValidator, which watches for stale translations surviving a
// required flush. Neither alters a translation's result; both are
// transparent upstream stages.
package validate

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/x/ansi"

	"tlbsim/internal/asidtag"
	"tlbsim/internal/core"
	"tlbsim/internal/pgtable"
)

const colorErr = "\x1b[1;31m"

func colorize(s string) string { return colorErr + s + ansi.ResetStyle }

// consistentSatp reports whether two satp values agree on every field but
// ASID.
func consistentSatp(a, b uint64) bool {
	const asidMask = uint64(0xffff) << 44
	return (a^b)&^asidMask == 0
}

func satpNoASID(satp uint64) uint64 {
	const asidMask = uint64(0xffff) << 44
	return satp &^ asidMask
}

// ASIDValidator tracks satp/ASID consistency and reports, out-of-band,
// the four aliasing/reuse conditions named in §4.7. It sits above the
// rest of the stack and otherwise defers translation entirely to its
// parent.
type ASIDValidator struct {
	mu sync.Mutex
	w  io.Writer

	// hartThreshold resolves the open question on the ASID<32 heuristic
	// (SPEC_FULL.md §5.1): ASIDs below this value might be a translated
	// hart id rather than a real ASID, so flush_local conservatively
	// clears the corresponding zero_asids slot too.
	hartThreshold int

	nonzeroASIDs map[uint16]uint64      // ASID -> latest satp seen
	zeroASIDs    map[int]uint64         // hartid -> latest satp seen under ASID 0
	revMap       map[uint64]uint16      // satp-without-ASID -> latest ASID associated with that root
	revMapSeen   map[uint64]bool        // tracks presence distinctly from a legitimately-zero ASID value

	parent core.Stage
}

// NewASIDValidator wraps parent (conventionally a TLBValidator) with ASID
// consistency tracking. hartThreshold is the configurable heuristic
// boundary described above; pass 32 to match the original default.
func NewASIDValidator(parent core.Stage, w io.Writer, hartThreshold int) *ASIDValidator {
	return &ASIDValidator{
		w:             w,
		hartThreshold: hartThreshold,
		nonzeroASIDs:  make(map[uint16]uint64),
		zeroASIDs:     make(map[int]uint64),
		revMap:        make(map[uint64]uint16),
		revMapSeen:    make(map[uint64]bool),
		parent:        parent,
	}
}

// Access tracks the request's satp/ASID pair and reports any of the four
// diagnostics before delegating translation unchanged to the parent.
func (v *ASIDValidator) Access(e *core.Entry, req core.Request) int {
	satp := req.Satp
	asid := pgtable.DecodeSatp(satp).ASID
	hartid := req.HartID

	v.mu.Lock()
	if asid == 0 {
		for a, test := range v.nonzeroASIDs {
			if !consistentSatp(satp, test) {
				fmt.Fprintf(v.w, colorize("ASIDValidator: hart %d uses ASID 0 (satp=%#x) while ASID %d (satp=%#x) is in-use\n"), hartid, satp, a, test)
				delete(v.nonzeroASIDs, a)
			}
		}
		if test, ok := v.zeroASIDs[hartid]; ok && test != 0 && !consistentSatp(satp, test) {
			fmt.Fprintf(v.w, colorize("ASIDValidator: hart %d reuses ASID 0 (old satp=%#x, new satp=%#x) without flushing\n"), hartid, test, satp)
		}
		v.zeroASIDs[hartid] = satp
	} else {
		if test, ok := v.nonzeroASIDs[asid]; ok && test != 0 && !consistentSatp(satp, test) {
			fmt.Fprintf(v.w, colorize("ASIDValidator: ASID %d reused (old satp=%#x, new satp=%#x) without flushing\n"), asid, test, satp)
		}
		for h, test := range v.zeroASIDs {
			if test != 0 && !consistentSatp(satp, test) {
				fmt.Fprintf(v.w, colorize("ASIDValidator: ASID %d is used (satp=%#x) while hart %d still uses ASID 0 (satp=%#x)\n"), asid, satp, h, test)
				delete(v.zeroASIDs, h)
			}
		}

		noASID := satpNoASID(satp)
		if prevASID, ok := v.revMap[noASID]; ok && v.revMapSeen[noASID] && prevASID != asid {
			if prevSatp, ok2 := v.nonzeroASIDs[prevASID]; ok2 && consistentSatp(prevSatp, satp) {
				fmt.Fprintf(v.w, colorize("ASIDValidator: satp %#x now associated with ASID %d while previous ASID %d is still marked live\n"), satp, asid, prevASID)
				delete(v.nonzeroASIDs, prevASID)
			}
		}
		v.revMap[noASID] = asid
		v.revMapSeen[noASID] = true

		v.nonzeroASIDs[asid] = satp
	}
	v.mu.Unlock()

	return v.parent.Access(e, req)
}

// FlushLocal only tracks full-ASID flushes (vpn=0); page-level flushes
// don't affect ASID-reuse tracking.
func (v *ASIDValidator) FlushLocal(tag asidtag.Tag, vpn uint64) {
	if vpn != 0 {
		return
	}
	v.mu.Lock()
	if tag.Global() {
		v.zeroASIDs = make(map[int]uint64)
		v.nonzeroASIDs = make(map[uint16]uint64)
	} else {
		asid := tag.ASID()
		if int(asid) < v.hartThreshold {
			delete(v.zeroASIDs, int(asid))
		}
		delete(v.nonzeroASIDs, asid)
	}
	v.mu.Unlock()
}

func (v *ASIDValidator) Flush(tag asidtag.Tag, vpn uint64) {
	core.RecursiveFlush(v, v.parent, tag, vpn)
}
