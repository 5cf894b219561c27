package asidtag

import "testing"

func TestPackUnpack(t *testing.T) {
	tag := New(true, 0x1234, 0xbeef)
	if !tag.Global() {
		t.Fatalf("expected global bit set")
	}
	if tag.Realm() != 0x1234&realmMask {
		t.Fatalf("realm = %x, want %x", tag.Realm(), 0x1234&realmMask)
	}
	if tag.ASID() != 0xbeef {
		t.Fatalf("asid = %x, want %x", tag.ASID(), 0xbeef)
	}
}

func TestInvalidSentinel(t *testing.T) {
	if Invalid.Valid() {
		t.Fatalf("Invalid must not be valid")
	}
	if New(true, 0x3fff, 0xffff).Valid() == false {
		t.Fatalf("all-bits-but-not-Invalid should still be valid")
	}
}

func TestMatchesLookup(t *testing.T) {
	g := New(true, 1, 5)
	other := New(false, 1, 9)
	if !other.Matches(g) {
		t.Fatalf("global entry should match any ASID in same realm")
	}
	diffRealm := New(true, 2, 5)
	if g.Matches(diffRealm) {
		t.Fatalf("different realm must never match")
	}
	nonGlobalReq := New(false, 1, 9)
	nonGlobalEntry := New(false, 1, 9)
	if !nonGlobalReq.Matches(nonGlobalEntry) {
		t.Fatalf("equal non-global ASIDs in same realm should match")
	}
	if nonGlobalReq.Matches(New(false, 1, 10)) {
		t.Fatalf("different non-global ASID must not match")
	}
}

func TestMatchesFlush(t *testing.T) {
	globalFlush := New(true, 1, 0)
	entry := New(false, 1, 9)
	if !globalFlush.MatchesFlush(entry) {
		t.Fatalf("global flush should match any entry in the realm")
	}
	globalEntry := New(true, 1, 9)
	nonGlobalFlush := New(false, 1, 9)
	if nonGlobalFlush.MatchesFlush(globalEntry) {
		t.Fatalf("non-global flush must never evict global entries")
	}
	if !nonGlobalFlush.MatchesFlush(New(false, 1, 9)) {
		t.Fatalf("equal ASID non-global flush should match")
	}
	if nonGlobalFlush.MatchesFlush(New(false, 2, 9)) {
		t.Fatalf("different realm must never match on flush")
	}
}
