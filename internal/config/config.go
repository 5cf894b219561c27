// Package config loads the TLB hierarchy's stage-template document (§6)
// and builds the per-hart I-TLB/D-TLB stacks and the shared C-TLB/S-TLB
// stacks it describes (§4.9).
package config

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// StageKind is one of the recognised stage-template type keys.
type StageKind string

const (
	KindAssoc    StageKind = "assoc"
	KindSet      StageKind = "set"
	KindIdeal    StageKind = "ideal"
	KindIsolate  StageKind = "isolate"
	KindValidate StageKind = "validate"
	KindLog      StageKind = "log"
)

// StageTemplate is one element of an stlb/ctlb/itlb/dtlb array (§6).
type StageTemplate struct {
	Type  StageKind `yaml:"type"`
	Size  int       `yaml:"size,omitempty"`
	Assoc int       `yaml:"assoc,omitempty"`
	File  string    `yaml:"file,omitempty"`
}

// Document is the parsed configuration (§6). Element 0 of each stage
// list is innermost (closest to the hart).
type Document struct {
	NeedInstret                bool   `yaml:"need_instret"`
	NeedMinstret               bool   `yaml:"need_minstret"`
	CacheInvalidateEntries     bool   `yaml:"cache_invalidate_entries"`
	HardwarePTEUpdate          bool   `yaml:"hardware_pte_update"`
	Replay                     string `yaml:"replay,omitempty"`
	ASIDValidatorHartThreshold int    `yaml:"asid_validator_hart_threshold"`

	STLB []StageTemplate `yaml:"stlb"`
	CTLB []StageTemplate `yaml:"ctlb"`
	ITLB []StageTemplate `yaml:"itlb"`
	DTLB []StageTemplate `yaml:"dtlb"`
}

// defaultHartThreshold resolves SPEC_FULL.md §5.1's open question: the
// original hard-codes 32 as "an ASID below this might be a translated
// hart id"; we expose it as a document key instead.
const defaultHartThreshold = 32

// Default returns a Document with every §6 scalar default applied and
// empty stage lists — a bare page-walker with no caching at all.
func Default() *Document {
	return &Document{
		NeedInstret:                true,
		NeedMinstret:               true,
		HardwarePTEUpdate:          true,
		ASIDValidatorHartThreshold: defaultHartThreshold,
	}
}

// rawDocument mirrors Document but with pointer scalars, so Load can
// distinguish "key omitted" (apply the §6 default) from "key present
// and explicitly false/zero".
type rawDocument struct {
	NeedInstret                *bool  `yaml:"need_instret"`
	NeedMinstret               *bool  `yaml:"need_minstret"`
	CacheInvalidateEntries     *bool  `yaml:"cache_invalidate_entries"`
	HardwarePTEUpdate          *bool  `yaml:"hardware_pte_update"`
	Replay                     string `yaml:"replay"`
	ASIDValidatorHartThreshold *int   `yaml:"asid_validator_hart_threshold"`

	STLB []StageTemplate `yaml:"stlb"`
	CTLB []StageTemplate `yaml:"ctlb"`
	ITLB []StageTemplate `yaml:"itlb"`
	DTLB []StageTemplate `yaml:"dtlb"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// Load parses a configuration document and validates it (§6: "JSON-like
// document... any equivalent format suffices" — we accept YAML, a
// line-oriented superset-ish equivalent). Configuration errors (§7) are
// returned rather than treated as fatal; the caller decides whether to
// exit.
func Load(r io.Reader) (*Document, error) {
	var raw rawDocument
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("config: parsing document: %w", err)
	}
	doc := &Document{
		NeedInstret:                boolOr(raw.NeedInstret, true),
		NeedMinstret:               boolOr(raw.NeedMinstret, true),
		CacheInvalidateEntries:     boolOr(raw.CacheInvalidateEntries, false),
		HardwarePTEUpdate:          boolOr(raw.HardwarePTEUpdate, true),
		Replay:                     raw.Replay,
		ASIDValidatorHartThreshold: intOr(raw.ASIDValidatorHartThreshold, defaultHartThreshold),
		STLB:                       raw.STLB,
		CTLB:                       raw.CTLB,
		ITLB:                       raw.ITLB,
		DTLB:                       raw.DTLB,
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Validate checks every stage-template array against §6's per-context
// rules: an isolator is forbidden in the shared stlb context, and an
// access logger is only permitted there. Matches
// original_source/src/config.cc's validate_template, one error instead
// of a freestanding exit(1).
func (d *Document) Validate() error {
	for _, t := range d.STLB {
		if t.Type == KindIsolate {
			return fmt.Errorf("config: stlb: %w", errIsolatorInShared)
		}
		if err := validateKind(t, true); err != nil {
			return err
		}
	}
	for _, list := range []struct {
		name string
		tmpl []StageTemplate
	}{{"ctlb", d.CTLB}, {"itlb", d.ITLB}, {"dtlb", d.DTLB}} {
		for _, t := range list.tmpl {
			if t.Type == KindLog {
				return fmt.Errorf("config: %s: %w", list.name, errLoggerNotShared)
			}
			if err := validateKind(t, false); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateKind(t StageTemplate, shared bool) error {
	switch t.Type {
	case KindAssoc, KindSet, KindIdeal, KindIsolate, KindValidate:
		return nil
	case KindLog:
		if !shared {
			return fmt.Errorf("config: %w", errLoggerNotShared)
		}
		if t.File == "" {
			return fmt.Errorf("config: log stage missing required file key")
		}
		return nil
	default:
		return fmt.Errorf("config: %q is not an accepted TLB stage type", t.Type)
	}
}
