// Package asidtag implements the packed 32-bit ASID tag used to key and
// match TLB entries and flush requests.
package asidtag

// Tag is a packed ASID tag: bit 31 is the global flag, bits 29..16 are the
// realm id, bits 15..0 are the ASID proper. The all-ones value (Invalid)
// means "absent".
type Tag uint32

const (
	globalBit = 1 << 31
	realmMask = 0x3fff
	realmSift = 16
	asidMask  = 0xffff
)

// Invalid is the sentinel tag meaning "no ASID" (all bits set).
const Invalid Tag = 0xffffffff

// New packs a tag from its three fields.
func New(global bool, realm uint32, asid uint16) Tag {
	t := Tag(asid) & asidMask
	t |= Tag(realm&realmMask) << realmSift
	if global {
		t |= globalBit
	}
	return t
}

// Global reports whether the global flag is set.
func (t Tag) Global() bool { return t&globalBit != 0 }

// Realm returns the 14-bit realm id.
func (t Tag) Realm() uint32 { return uint32(t>>realmSift) & realmMask }

// ASID returns the 16-bit ASID proper.
func (t Tag) ASID() uint16 { return uint16(t & asidMask) }

// WithGlobal returns t with the global bit set or cleared.
func (t Tag) WithGlobal(global bool) Tag {
	if global {
		return t | globalBit
	}
	return t &^ globalBit
}

// WithRealm returns t with the realm field replaced.
func (t Tag) WithRealm(realm uint32) Tag {
	return (t &^ (Tag(realmMask) << realmSift)) | (Tag(realm&realmMask) << realmSift)
}

// Valid reports whether t is not the Invalid sentinel.
func (t Tag) Valid() bool { return t != Invalid }

// Matches implements the lookup matching rule, with t the lookup tag and
// entry the stored entry's tag: different realm never matches; an entry
// with the global flag matches any ASID in the same realm; otherwise the
// ASID proper must be equal.
func (t Tag) Matches(entry Tag) bool {
	if t.Realm() != entry.Realm() {
		return false
	}
	if entry.Global() {
		return true
	}
	return t.ASID() == entry.ASID()
}

// MatchesFlush implements the flush matching rule: different realm never
// matches; a global flush matches any entry in the realm; a non-global
// flush never evicts global entries; otherwise ASIDs must be equal.
func (t Tag) MatchesFlush(entry Tag) bool {
	if t.Realm() != entry.Realm() {
		return false
	}
	if t.Global() {
		return true
	}
	if entry.Global() {
		return false
	}
	return t.ASID() == entry.ASID()
}
