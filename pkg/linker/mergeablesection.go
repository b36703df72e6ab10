package linker

import "sort"

// MergeableSection holds the pieces splitSection cuts out of a single
// SHF_MERGE input section: each entry in Strs is one piece's raw bytes
// (a null-terminated string for SHF_STRINGS sections, a fixed EntSize
// record otherwise), FragOffsets is that piece's byte offset in the
// original section, and Fragments is the deduplicated SectionFragment
// each piece was interned into inside Parent.
type MergeableSection struct {
	Parent      *MergedSection
	P2Align     uint8
	Strs        []string
	FragOffsets []uint32
	Fragments   []*SectionFragment
}

// GetFragment maps a byte offset into the original, pre-split section
// back to the piece that used to live there and the remaining offset
// inside it, so a relocation or symbol value expressed in terms of the
// old section can be rewritten in terms of the new fragment.
func (m *MergeableSection) GetFragment(offset uint32) (*SectionFragment, uint32) {
	pos := sort.Search(len(m.FragOffsets), func(i int) bool {
		return offset < m.FragOffsets[i]
	})

	if pos == 0 {
		return nil, 0
	}

	idx := pos - 1
	return m.Fragments[idx], offset - m.FragOffsets[idx]
}
