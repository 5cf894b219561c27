package tlbsim

// Request is one translation request from the ISS (§3, §6). Satp carries
// the mode/ASID/root-PPN triple per §6's layout; ASID duplicates satp's
// ASID field and is accepted for convenience, matching the source's
// tlbsim_req_t.
type Request struct {
	Satp       uint64
	VPN        uint64
	ASID       uint16
	HartID     int
	Ifetch     bool
	Write      bool
	Supervisor bool
	SUM        bool
	MXR        bool
}

// Response is the result of one translation (§3).
type Response struct {
	PPN         uint64
	Pte         uint64
	Granularity int
	// Perm reports whether the translation is permitted. Matches the
	// source's tlbsim_resp_t.perm: false means the permission check
	// failed (a page fault of some classification — see ResetCounters's
	// fault breakdown for which).
	Perm bool
}
