// Package tlbsim is a configurable, multi-level TLB simulator for a
// RISC-V-style (Sv39/Sv48) virtual-memory architecture. An instruction-set
// simulator (ISS) drives it per hart: Access resolves one virtual page
// number, Flush issues an SFENCE.VMA-equivalent invalidation.
package tlbsim

import (
	"io"
	"log/slog"
	"sync"

	"tlbsim/internal/asidtag"
	"tlbsim/internal/config"
	"tlbsim/internal/core"
	"tlbsim/internal/pgtable"
	"tlbsim/internal/replay"
	"tlbsim/internal/stats"
)

// Simulator is the top-level TLB hierarchy dispatcher (§4.9): per-hart
// I-TLB/D-TLB selection, ASID substitution, flush routing, and the
// counter surface.
type Simulator struct {
	builder  *config.Builder
	counters *stats.Counters
	logger   *slog.Logger

	mu    sync.Mutex
	harts map[int]*hartStack
}

type hartStack struct {
	itlb core.Stage
	dtlb core.Stage
}

// New parses and validates a configuration document (§6) and returns a
// Simulator wired to client's callback table. Configuration errors (bad
// satp mode is a walker-time panic, not here; bad stage types, an
// isolator in shared context, a missing log file) are returned rather
// than treated as fatal — matching SPEC_FULL.md §1's one deliberate
// idiom change from the teacher's freestanding exit(1) style.
func New(r io.Reader, client Client, logger *slog.Logger) (*Simulator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	doc, err := config.Load(r)
	if err != nil {
		return nil, err
	}
	return NewFromDocument(doc, client, logger)
}

// NewFromDocument is New, given an already-parsed configuration
// document (e.g. one built programmatically rather than read from a
// file).
func NewFromDocument(doc *config.Document, client Client, logger *slog.Logger) (*Simulator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	counters := stats.New()
	b, err := config.NewBuilder(doc, client, counters, logger)
	if err != nil {
		return nil, err
	}
	return &Simulator{builder: b, counters: counters, logger: logger, harts: make(map[int]*hartStack)}, nil
}

// Close releases resources the simulator opened (log stage files, a
// replay trace).
func (s *Simulator) Close() error { return s.builder.Close() }

// Counters returns the simulator's atomic statistics surface.
func (s *Simulator) Counters() *stats.Counters { return s.counters }

// Replayer returns the shared LogReplayer configured by the document's
// replay key, or nil if none was configured. A driver (e.g.
// cmd/tlbsim-replay) uses this to feed a recorded trace into one of the
// simulator's own hart stacks via ReplayStep (§4.8).
func (s *Simulator) Replayer() *replay.LogReplayer { return s.builder.Replayer() }

// DTLBFor returns hartID's D-TLB stage, building its private stacks if
// this is the hart's first use. Exposed so a replay driver can target a
// specific hart's hierarchy without going through Access.
func (s *Simulator) DTLBFor(hartID int) core.Stage { return s.hart(hartID).dtlb }

func (s *Simulator) hart(hartID int) *hartStack {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs, ok := s.harts[hartID]
	if ok {
		return hs
	}
	itlb, dtlb, err := s.builder.BuildHart(hartID)
	if err != nil {
		// Only reachable if the document's ctlb/itlb/dtlb templates are
		// themselves malformed in a way stlb validation didn't already
		// catch at New time — a programmer/configuration error.
		panic(err)
	}
	hs = &hartStack{itlb: itlb, dtlb: dtlb}
	s.harts[hartID] = hs
	return hs
}

// hartIfExists returns hartID's stack without constructing it, or nil —
// used by Flush, which must not manufacture a hart's private caches just
// to invalidate them (§4.9; original_source/src/sim.cc's
// "TLBs not setup yet" early return).
func (s *Simulator) hartIfExists(hartID int) *hartStack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.harts[hartID]
}

// Access performs one translation (§4.9, §6). If the request's ASID is
// zero, the hart id is substituted so harts sharing ASID 0 are
// distinguished in shared levels.
func (s *Simulator) Access(req Request) Response {
	hs := s.hart(req.HartID)

	asid := req.ASID
	if asid == 0 {
		asid = uint16(req.HartID)
	}
	satp := pgtable.DecodeSatp(req.Satp)
	e := &core.Entry{VPN: req.VPN, ASID: asidtag.New(false, 0, asid)}
	creq := core.Request{
		HartID:      req.HartID,
		Ifetch:      req.Ifetch,
		Write:       req.Write,
		Supervisor:  req.Supervisor,
		SUM:         req.SUM,
		MXR:         req.MXR,
		SatpMode:    satp.Mode,
		SatpRootPPN: satp.RootPPN,
		Satp:        req.Satp,
	}

	var stage core.Stage
	if req.Ifetch {
		stage = hs.itlb
	} else {
		stage = hs.dtlb
	}

	perm := stage.Access(e, creq)
	s.counters.RecordFault(perm)
	return Response{PPN: e.PPN, Pte: uint64(e.Pte), Granularity: e.Granularity, Perm: perm >= 0}
}

// Flush issues an SFENCE.VMA-equivalent invalidation (§4.9, §6).
// asid == -1 means ASID-agnostic (translated to a global flush at realm
// 0); asid == 0 substitutes the hart id; vpn == 0 means a full-ASID
// flush. The I-TLB only receives a local (non-recursive) flush — I-TLB
// entries are physically rebuilt by fetching — while the D-TLB receives
// a full recursive flush, which is also what drains the shared ctlb/stlb
// levels (avoiding double-counting a flush from both sides).
func (s *Simulator) Flush(hartID, asid int, vpn uint64) {
	switch {
	case vpn == 0 && asid == -1:
		s.counters.FlushKind.Full.Add(1)
	case vpn == 0:
		s.counters.FlushKind.ASID.Add(1)
	case asid == -1:
		s.counters.FlushKind.GPage.Add(1)
	default:
		s.counters.FlushKind.Page.Add(1)
	}

	hs := s.hartIfExists(hartID)
	if hs == nil {
		return
	}

	var tag asidtag.Tag
	switch {
	case asid == -1:
		tag = asidtag.New(true, 0, 0)
	case asid == 0:
		tag = asidtag.New(false, 0, uint16(hartID))
	default:
		tag = asidtag.New(false, 0, uint16(asid))
	}

	hs.itlb.FlushLocal(tag, vpn)
	hs.dtlb.Flush(tag, vpn)
}

// ResetCounters optionally prints, then zeroes every counter (§6) except
// the ISS-maintained instret/minstret, which are left as they are.
func (s *Simulator) ResetCounters(w io.Writer, print bool) {
	if print && w != nil {
		s.counters.Fprint(w)
	}
	s.counters.Reset()
}
