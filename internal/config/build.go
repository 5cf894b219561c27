package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"tlbsim/internal/cache"
	"tlbsim/internal/core"
	"tlbsim/internal/replay"
	"tlbsim/internal/stats"
	"tlbsim/internal/validate"
	"tlbsim/internal/walker"
)

// Memory, Notifier and Client mirror the subset of the root package's
// Client interface each constructed stage needs. Defined locally so this
// package need not import the root package (which would be an import
// cycle); any value satisfying the root tlbsim.Client interface also
// satisfies this one, Go interfaces being structural.
type Memory interface {
	PhysLoad(addr uint64) uint64
	PhysCmpxchg(addr uint64, expected, new uint64) bool
}

type Notifier interface {
	InvalidateL0(hartid int, vpn uint64)
}

type Client interface {
	Memory
	Notifier
}

// slogWriter adapts an *slog.Logger to an io.Writer, so the coloured
// validator diagnostic stream (§7) is threaded through the same logging
// surface as configuration echo, per SPEC_FULL.md §1.
type slogWriter struct{ logger *slog.Logger }

func (w slogWriter) Write(p []byte) (int, error) {
	w.logger.Warn(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// Builder constructs the shared (stlb) stack once and each hart's
// private (ctlb/itlb/dtlb) stacks on demand, matching
// original_source/src/config.cc's setup_env2 (eager, shared) plus
// setup_private_tlb (lazy, per hart).
type Builder struct {
	doc      *Document
	client   Client
	counters *stats.Counters
	logger   *slog.Logger
	cfg      *core.PipelineConfig

	ctlbHartAssoc bool // len(ITLB)==0 && len(DTLB)==0, per original's inv computation

	mu       sync.Mutex
	closers  []io.Closer
	shared   core.Stage
	replayer *replay.LogReplayer
}

// NewBuilder validates doc and eagerly builds the shared stlb stack.
func NewBuilder(doc *Document, client Client, counters *stats.Counters, logger *slog.Logger) (*Builder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	b := &Builder{
		doc:           doc,
		client:        client,
		counters:      counters,
		logger:        logger,
		cfg:           &core.PipelineConfig{HardwarePTEUpdate: doc.HardwarePTEUpdate, CacheInvalidateEntries: doc.CacheInvalidateEntries},
		ctlbHartAssoc: len(doc.ITLB) == 0 && len(doc.DTLB) == 0,
	}
	logger.Info("tlb configuration",
		"need_instret", doc.NeedInstret, "need_minstret", doc.NeedMinstret,
		"cache_invalidate_entries", doc.CacheInvalidateEntries,
		"hardware_pte_update", doc.HardwarePTEUpdate, "replay", doc.Replay)
	if err := b.buildShared(); err != nil {
		return nil, err
	}
	return b, nil
}

// Replayer returns the shared LogReplayer, or nil if the document did
// not configure one. Used by a driver (e.g. cmd/tlbsim-replay) to feed
// a recorded trace into a device-under-test hierarchy via ReplayStep.
func (b *Builder) Replayer() *replay.LogReplayer { return b.replayer }

// Close releases any file handles the builder opened (log stage files,
// the replay trace), matching §5's "buffered writes must flush at
// process exit" resource-lifetime note.
func (b *Builder) Close() error {
	var firstErr error
	for _, c := range b.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *Builder) buildShared() error {
	var root core.Stage
	if b.doc.Replay != "" {
		f, err := os.Open(b.doc.Replay)
		if err != nil {
			return fmt.Errorf("config: opening replay trace %q: %w", b.doc.Replay, err)
		}
		b.closers = append(b.closers, f)
		b.replayer = replay.NewLogReplayer(f)
		root = b.replayer
	} else {
		root = walker.New(b.client, b.doc.HardwarePTEUpdate)
	}
	stage, err := b.instantiateStack(b.doc.STLB, root, &b.counters.STLB, -1, false)
	if err != nil {
		return err
	}
	b.shared = stage
	return nil
}

// BuildHart lazily constructs hartID's private ctlb/itlb/dtlb stacks atop
// the shared stlb stack. Only the innermost hart-owned level in each
// stack is hart-associated (so its evictions notify the ISS's L0 cache);
// the ctlb's innermost level is hart-associated only when both itlb and
// dtlb templates are empty, matching config.cc's setup_private_tlb
// exactly (otherwise itlb/dtlb's own innermost level already covers it).
func (b *Builder) BuildHart(hartID int) (itlb, dtlb core.Stage, err error) {
	ctlb, err := b.instantiateStack(b.doc.CTLB, b.shared, &b.counters.CTLB, hartID, b.ctlbHartAssoc)
	if err != nil {
		return nil, nil, err
	}
	itlb, err = b.instantiateStack(b.doc.ITLB, ctlb, &b.counters.ITLB, hartID, true)
	if err != nil {
		return nil, nil, err
	}
	dtlb, err = b.instantiateStack(b.doc.DTLB, ctlb, &b.counters.DTLB, hartID, true)
	if err != nil {
		return nil, nil, err
	}
	return itlb, dtlb, nil
}

// instantiateStack builds one ordered stage list atop parent. Element 0
// is innermost (closest to the hart), so — matching config.cc's
// backward loop — we process the list from its last index down to 0,
// threading each result in as the next iteration's parent; the final
// stage (built from index 0) is what descends directly from the hart.
func (b *Builder) instantiateStack(tmpls []StageTemplate, parent core.Stage, st *stats.LevelCounters, hartID int, innermostHartAssoc bool) (core.Stage, error) {
	stage := parent
	for i := len(tmpls) - 1; i >= 0; i-- {
		hartAssoc := i == 0 && innermostHartAssoc
		next, err := b.instantiate(tmpls[i], stage, st, hartID, hartAssoc)
		if err != nil {
			return nil, err
		}
		stage = next
	}
	return stage, nil
}

func (b *Builder) instantiate(tmpl StageTemplate, parent core.Stage, st *stats.LevelCounters, hartID int, hartAssoc bool) (core.Stage, error) {
	effHart := -1
	if hartAssoc {
		effHart = hartID
	}
	switch tmpl.Type {
	case KindAssoc:
		return cache.NewAssoc(parent, st, b.cfg, b.client, effHart, tmpl.Size), nil
	case KindSet:
		assoc := tmpl.Assoc
		if assoc == 0 {
			assoc = 8
		}
		return cache.NewSetAssoc(parent, st, b.cfg, b.client, effHart, tmpl.Size, assoc), nil
	case KindIdeal:
		return cache.NewIdeal(parent, st, b.cfg), nil
	case KindIsolate:
		// Validate already rejected this in a shared (stlb) context;
		// hartID is always the real hart id here, never -1.
		return cache.NewIsolator(parent, hartID), nil
	case KindValidate:
		tlbv := validate.NewTLBValidator(parent, st, b.cfg, slogWriter{b.logger})
		return validate.NewASIDValidator(tlbv, slogWriter{b.logger}, b.doc.ASIDValidatorHartThreshold), nil
	case KindLog:
		f, err := os.Create(tmpl.File)
		if err != nil {
			return nil, fmt.Errorf("config: opening log file %q: %w", tmpl.File, err)
		}
		b.mu.Lock()
		b.closers = append(b.closers, f)
		b.mu.Unlock()
		return replay.NewAccessLogger(parent, f), nil
	default:
		return nil, fmt.Errorf("config: unknown stage type %q", tmpl.Type)
	}
}
