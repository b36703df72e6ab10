package linker

import "debug/elf"

// GotEntry describes one 8-byte slot to be written into .got (or, for
// TLSGD, the first of a pair of adjacent slots). Type is the dynamic
// relocation kind needed at that slot when the output is a DSO or PIE
// and the value cannot be resolved at link time; elf.R_X86_64_NONE
// means the slot's value is already final and no .rela.dyn entry is
// emitted for it.
type GotEntry struct {
	Idx  int64
	Val  uint64
	Type int64
	Sym  *Symbol
}

func NewGotEntry(idx int64, val uint64, typ int64) GotEntry {
	return GotEntry{Idx: idx, Val: val, Type: typ}
}

func (e *GotEntry) IsRel() bool {
	return e.Type != int64(elf.R_X86_64_NONE)
}
