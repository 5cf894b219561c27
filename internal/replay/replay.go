// Package replay implements the access logger and log replayer (§4.8):
// a shared stage that records access/flush events into a binary stream,
// and a terminal stage that drives a recorded stream back into a
// device-under-test hierarchy.
package replay

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"tlbsim/internal/asidtag"
	"tlbsim/internal/core"
	"tlbsim/internal/pgtable"
)

type recordTag uint8

const (
	tagAccess recordTag = iota
	tagFlush
)

// wireRequest is core.Request's fixed-width wire form. All fields are
// fixed-size values so encoding/binary can serialize the struct
// directly, matching §6's "fixed-width packet" requirement.
type wireRequest struct {
	Satp        uint64
	SatpRootPPN uint64
	HartID      int32
	SatpMode    pgtable.Mode
	Ifetch      bool
	Write       bool
	Supervisor  bool
	SUM         bool
	MXR         bool
}

// wireEntry is core.Entry's fixed-width wire form.
type wireEntry struct {
	VPN         uint64
	PPN         uint64
	Pte         pgtable.Pte
	ASID        asidtag.Tag
	Granularity int32
}

// record is the binary log record shared by AccessLogger and LogReplayer
// (§6). Only one of the two payloads is meaningful per Tag, but both are
// always present so every record has the same on-disk size.
type record struct {
	Tag       recordTag
	Req       wireRequest
	Entry     wireEntry
	FlushTag  asidtag.Tag
	FlushVPN  uint64
}

func toWireRequest(req core.Request) wireRequest {
	return wireRequest{
		Satp:        req.Satp,
		SatpRootPPN: req.SatpRootPPN,
		HartID:      int32(req.HartID),
		SatpMode:    req.SatpMode,
		Ifetch:      req.Ifetch,
		Write:       req.Write,
		Supervisor:  req.Supervisor,
		SUM:         req.SUM,
		MXR:         req.MXR,
	}
}

func (w wireRequest) toRequest() core.Request {
	return core.Request{
		HartID:      int(w.HartID),
		Ifetch:      w.Ifetch,
		Write:       w.Write,
		Supervisor:  w.Supervisor,
		SUM:         w.SUM,
		MXR:         w.MXR,
		SatpMode:    w.SatpMode,
		SatpRootPPN: w.SatpRootPPN,
		Satp:        w.Satp,
	}
}

func toWireEntry(e core.Entry) wireEntry {
	return wireEntry{VPN: e.VPN, PPN: e.PPN, Pte: e.Pte, ASID: e.ASID, Granularity: int32(e.Granularity)}
}

func (w wireEntry) toEntry() core.Entry {
	return core.Entry{VPN: w.VPN, PPN: w.PPN, Pte: w.Pte, ASID: w.ASID, Granularity: int(w.Granularity)}
}

// AccessLogger is a shared stage (§4.8, §5 "one spinlock around the
// parent call plus record emission"): on access it delegates to the
// parent, then appends a fixed-size record so records appear atomically
// and in the order results were produced; on flush it appends a flush
// record. It holds no cached state of its own.
type AccessLogger struct {
	mu     sync.Mutex
	w      io.Writer
	parent core.Stage
}

// NewAccessLogger returns a logging stage wrapping parent. Writes to w
// are best-effort (§7: "I/O errors in the logger are best-effort").
func NewAccessLogger(parent core.Stage, w io.Writer) *AccessLogger {
	return &AccessLogger{w: w, parent: parent}
}

// Access holds the spinlock across the parent call and the record
// emission (§5), so concurrent harts' records appear atomically and in
// the order their results were produced rather than interleaving their
// binary.Write calls into a corrupt stream.
func (l *AccessLogger) Access(e *core.Entry, req core.Request) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	perm := l.parent.Access(e, req)
	rec := record{Tag: tagAccess, Req: toWireRequest(req), Entry: toWireEntry(*e)}
	binary.Write(l.w, binary.LittleEndian, &rec)
	return perm
}

// FlushLocal records the flush; this stage owns no storage. Flush
// records it through FlushLocal and then forwards to the parent so levels
// below the logger still see the flush — unlike the original's
// AccessLogger::flush, which records but does not forward (see
// DESIGN.md: a correctness fix, not a faithful port, required to satisfy
// §8 property 4 when something is stacked below the logger in stlb). The
// same spinlock protects this emission.
func (l *AccessLogger) FlushLocal(tag asidtag.Tag, vpn uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec := record{Tag: tagFlush, FlushTag: tag, FlushVPN: vpn}
	binary.Write(l.w, binary.LittleEndian, &rec)
}

func (l *AccessLogger) Flush(tag asidtag.Tag, vpn uint64) {
	core.RecursiveFlush(l, l.parent, tag, vpn)
}

// LogReplayer is a top-of-stack substitute for the page-walker (§4.8):
// as a parent, it returns the last-read record's resolved entry and
// recomputes only perm from its cached PTE, ignoring whatever the
// caller's own entry held. It is also driven directly as a trace
// source via ReplayStep.
type LogReplayer struct {
	r    io.Reader
	last core.Entry
}

// NewLogReplayer returns a replayer reading records from r.
func NewLogReplayer(r io.Reader) *LogReplayer {
	return &LogReplayer{r: r}
}

func (p *LogReplayer) FlushLocal(asidtag.Tag, uint64) {}
func (p *LogReplayer) Flush(asidtag.Tag, uint64)      {}

// Access returns the stored pre-resolved entry from the most recently
// replayed access record, recomputing only perm from its PTE.
func (p *LogReplayer) Access(e *core.Entry, req core.Request) int {
	e.PPN = p.last.PPN
	e.Pte = p.last.Pte
	e.Granularity = p.last.Granularity
	e.ASID = p.last.ASID
	return pgtable.CheckPermission(e.Pte, req.PermRequest())
}

// ReplayStep reads one record from the stream and drives it into target:
// an ACCESS record primes p's own stored result from the recorded
// resolved entry, then issues a fresh access for the recorded VPN/ASID
// into target (so target's own cache levels are exercised exactly as
// they were during the original recording); a FLUSH record issues the
// recorded flush. Returns false, nil at a clean EOF.
func (p *LogReplayer) ReplayStep(target core.Stage) (bool, error) {
	var rec record
	if err := binary.Read(p.r, binary.LittleEndian, &rec); err != nil {
		if err == io.EOF {
			return false, nil
		}
		return false, fmt.Errorf("replay: reading record: %w", err)
	}
	switch rec.Tag {
	case tagAccess:
		p.last = rec.Entry.toEntry()
		req := rec.Req.toRequest()
		e := core.Entry{VPN: p.last.VPN, ASID: p.last.ASID}
		target.Access(&e, req)
	case tagFlush:
		target.Flush(rec.FlushTag, rec.FlushVPN)
	default:
		return false, fmt.Errorf("replay: malformed record tag %d", rec.Tag)
	}
	return true, nil
}
