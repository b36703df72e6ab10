package linker

import "testing"

// TestMergedSectionInsertDedups checks spec.md's invariant 2's dedup
// half: two callers inserting the same byte sequence get back the same
// SectionFragment rather than two, regardless of which file interned it.
func TestMergedSectionInsertDedups(t *testing.T) {
	m := NewMergedSection(".rodata", 0, 0)

	f1 := m.Insert("hello\x00", 0, 1)
	f2 := m.Insert("hello\x00", 0, 2)

	if f1 != f2 {
		t.Fatalf("expected the same fragment for identical keys, got distinct pointers")
	}
	if len(m.Map) != 1 {
		t.Fatalf("expected exactly one entry in the dedup map, got %d", len(m.Map))
	}
}

// TestMergedSectionInsertOwnershipIsLowestPriority checks invariant 2's
// "belongs to the lowest-priority file" clause directly: whichever
// caller wins ownership is decided by priority, not call order, so a
// higher-priority file reaching Insert first still loses ownership once
// the lower-priority file's call lands.
func TestMergedSectionInsertOwnershipIsLowestPriority(t *testing.T) {
	m := NewMergedSection(".rodata.str1.1", 0, 0)

	highPriorityFirst := m.Insert("world\x00", 1, 5)
	if highPriorityFirst.OwnerPriority != 5 || highPriorityFirst.P2Align != 1 {
		t.Fatalf("expected the first caller to provisionally own the fragment")
	}

	lowPriorityLater := m.Insert("world\x00", 3, 2)
	if lowPriorityLater != highPriorityFirst {
		t.Fatalf("expected the same fragment for identical keys")
	}
	if lowPriorityLater.OwnerPriority != 2 {
		t.Fatalf("expected ownership to move to the lower-priority caller, got priority %d", lowPriorityLater.OwnerPriority)
	}
	if lowPriorityLater.P2Align != 3 {
		t.Fatalf("expected the fragment's alignment to come from its new owner, got %d", lowPriorityLater.P2Align)
	}

	// A later, even-higher-priority caller must not be able to reclaim
	// ownership or overwrite the winning owner's alignment.
	m.Insert("world\x00", 0, 9)
	if highPriorityFirst.OwnerPriority != 2 || highPriorityFirst.P2Align != 3 {
		t.Fatalf("expected a higher-priority caller to leave the elected owner untouched")
	}
}

// TestMergedSectionInsertRaisesAlignment checks that a lower-priority
// caller asking for a stricter alignment than the current owner takes
// over both the ownership and the alignment together.
func TestMergedSectionInsertRaisesAlignment(t *testing.T) {
	m := NewMergedSection(".rodata", 0, 0)

	frag := m.Insert("x\x00", 0, 5)
	if frag.P2Align != 0 {
		t.Fatalf("expected initial alignment 0, got %d", frag.P2Align)
	}

	m.Insert("x\x00", 3, 1)
	if frag.P2Align != 3 {
		t.Fatalf("expected alignment raised to 3, got %d", frag.P2Align)
	}
}

// TestMergedSectionAssignOffsetsDisjointAndAligned checks that
// AssignOffsets lays out every live fragment at an address consistent
// with its own alignment and never overlapping another fragment's byte
// range, mirroring invariant 4's disjointness requirement one level
// down (fragments inside a single MergedSection, rather than sections
// inside the whole output).
func TestMergedSectionAssignOffsetsDisjointAndAligned(t *testing.T) {
	m := NewMergedSection(".rodata.str1.1", 0, 0)

	keys := []struct {
		s       string
		p2align uint32
	}{
		{"a\x00", 0},
		{"bb\x00\x00\x00\x00\x00\x00", 3},
		{"ccc\x00", 1},
	}

	frags := make(map[string]*SectionFragment)
	for _, k := range keys {
		frags[k.s] = m.Insert(k.s, k.p2align, 1)
		frags[k.s].IsAlive = true
	}

	m.AssignOffsets()

	type span struct {
		start, end uint64
	}
	var spans []span
	for _, k := range keys {
		f := frags[k.s]
		if uint64(f.Offset)%(1<<f.P2Align) != 0 {
			t.Fatalf("fragment %q offset %d not aligned to 1<<%d", k.s, f.Offset, f.P2Align)
		}
		spans = append(spans, span{uint64(f.Offset), uint64(f.Offset) + uint64(len(k.s))})
	}

	for i := 0; i < len(spans); i++ {
		for j := i + 1; j < len(spans); j++ {
			if spans[i].start < spans[j].end && spans[j].start < spans[i].end {
				t.Fatalf("fragment spans overlap: %v and %v", spans[i], spans[j])
			}
		}
	}

	if m.Shdr.Size%m.Shdr.AddrAlign != 0 {
		t.Fatalf("section size %d not aligned to %d", m.Shdr.Size, m.Shdr.AddrAlign)
	}
}

// TestMergedSectionAssignOffsetsSkipsDead checks that a fragment nobody
// ever marked alive (no live section still references its bytes) gets
// no offset assigned and consumes no space in the final section.
func TestMergedSectionAssignOffsetsSkipsDead(t *testing.T) {
	m := NewMergedSection(".rodata.str1.1", 0, 0)

	live := m.Insert("keep\x00", 0, 1)
	live.IsAlive = true
	dead := m.Insert("drop\x00", 0, 1)

	m.AssignOffsets()

	if dead.Offset != ^uint32(0) {
		t.Fatalf("expected a dead fragment to keep its sentinel offset, got %d", dead.Offset)
	}
	if m.Shdr.Size != uint64(len("keep\x00")) {
		t.Fatalf("expected section size to count only the live fragment, got %d", m.Shdr.Size)
	}
}
