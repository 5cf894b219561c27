// Package pgtable holds the RISC-V Sv39/Sv48 page-table bit layout: PTE
// flags, satp field decode, and the permission-check classifier shared by
// the page-walker and every cache level's hit path.
package pgtable

// PTE flag bits, per the satp/PTE layout.
const (
	PteV Pte = 1 << 0 // valid
	PteR Pte = 1 << 1 // readable
	PteW Pte = 1 << 2 // writable
	PteX Pte = 1 << 3 // executable
	PteU Pte = 1 << 4 // user-accessible
	PteG Pte = 1 << 5 // global
	PteA Pte = 1 << 6 // accessed
	PteD Pte = 1 << 7 // dirty
)

// Pte is a raw 64-bit page-table entry.
type Pte uint64

// PPN extracts the next-level (or leaf) physical page number from a PTE.
func (p Pte) PPN() uint64 { return uint64(p) >> 10 }

// Has reports whether all bits of mask are set.
func (p Pte) Has(mask Pte) bool { return p&mask == mask }

// Mode is the satp.mode field.
type Mode uint8

const (
	ModeBare Mode = 0
	ModeSv39 Mode = 8
	ModeSv48 Mode = 9
)

const (
	satpModeShift = 60
	satpASIDShift = 44
	satpASIDMask  = 0xffff
	satpPPNMask   = (uint64(1) << 44) - 1
)

// Satp is a decoded supervisor address-translation-pointer register value.
type Satp struct {
	Mode    Mode
	ASID    uint16
	RootPPN uint64
}

// DecodeSatp unpacks a raw satp register value.
func DecodeSatp(raw uint64) Satp {
	return Satp{
		Mode:    Mode(raw >> satpModeShift),
		ASID:    uint16(raw>>satpASIDShift) & satpASIDMask,
		RootPPN: raw & satpPPNMask,
	}
}

// Encode repacks a Satp into its raw register form.
func (s Satp) Encode() uint64 {
	return uint64(s.Mode)<<satpModeShift | (uint64(s.ASID)&satpASIDMask)<<satpASIDShift | (s.RootPPN & satpPPNMask)
}

// Levels returns the page-table depth for the satp mode, and whether the
// mode is one this walker supports (Sv39, Sv48). ModeBare and any other
// value are unsupported.
func (m Mode) Levels() (levels int, ok bool) {
	switch m {
	case ModeSv39:
		return 3, true
	case ModeSv48:
		return 4, true
	default:
		return 0, false
	}
}

// Canonical reports whether vpn's low vpnBits bits, sign-extended, equal
// vpn itself — i.e. the bits above vpnBits are a proper sign extension, as
// required of a legal virtual address's VPN field.
func Canonical(vpn uint64, vpnBits uint) bool {
	shift := 64 - vpnBits
	return uint64(int64(vpn<<shift)>>shift) == vpn
}

// Fault classification codes, returned (negative) from CheckPermission and
// propagated as the page-walker's and the access pipeline's perm code.
const (
	FaultV = -1 // !V: not present
	FaultU = -2 // U&&supervisor&&!sum
	FaultS = -3 // !U&&!supervisor
	FaultR = -4 // load/fetch-as-load denied
	FaultW = -5 // store denied
	FaultX = -6 // fetch denied
)

// NonCanonical is the perm code for a VPN that fails the canonical check;
// distinct from the ordinary fault codes above so callers can surface an
// access fault rather than a page fault.
const NonCanonical = -100

// PermRequest is the subset of a translation request CheckPermission needs.
type PermRequest struct {
	Ifetch     bool
	Write      bool
	Supervisor bool
	SUM        bool
	MXR        bool
}

// CheckPermission classifies a PTE against a request, first-match-wins:
// !V, then U/supervisor/sum, then supervisor-only, then read, write,
// fetch. If none fire, it returns the OR-mask of accessed/dirty bits that
// still need to be set in the PTE (0 meaning a clean hit needing no
// update).
func CheckPermission(pte Pte, req PermRequest) int {
	if !pte.Has(PteV) {
		return FaultV
	}
	if pte.Has(PteU) && req.Supervisor && !req.SUM {
		return FaultU
	}
	if !pte.Has(PteU) && !req.Supervisor {
		return FaultS
	}
	if !req.Ifetch && !req.Write && !(pte.Has(PteR) || (pte.Has(PteX) && req.MXR)) {
		return FaultR
	}
	if req.Write && !pte.Has(PteW) {
		return FaultW
	}
	if req.Ifetch && !pte.Has(PteX) {
		return FaultX
	}
	mask := Pte(PteA)
	if req.Write {
		mask |= PteD
	}
	update := mask &^ (pte & mask)
	return int(update)
}
