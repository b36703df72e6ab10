package linker

import (
	"debug/elf"
	"sync"
	"sync/atomic"
)

// Need-flags recorded by RelocScanner (spec.md §4.6) and consumed by
// the table-assignment pass. Bits are OR'd in from many goroutines at
// once (one per live section), so every setter goes through
// Symbol.AddFlags rather than a plain `|=`.
const (
	NeedsGot      uint32 = 1 << 0
	NeedsPlt      uint32 = 1 << 1
	NeedsCopyrel  uint32 = 1 << 2
	NeedsGotTp    uint32 = 1 << 3
	NeedsTlsGd    uint32 = 1 << 4
	NeedsTlsLd    uint32 = 1 << 5
	NeedsDynsym   uint32 = 1 << 6
	NeedsPltGot   uint32 = 1 << 7
)

type Symbol struct {
	File *ObjectFile

	InputSection    *InputSection
	OutputSection   Chunker
	SectionFragment *SectionFragment

	Value uint64
	Name  string

	SymIdx int32
	AuxIdx int32
	VerIdx uint16

	Flags      uint32
	Visibility uint8

	IsWeak     bool
	IsExported bool

	// Imported is true for a symbol whose definition comes from a
	// SharedObject rather than an ObjectFile (spec.md §4.3's DSO
	// interposition rule: a DSO definition never outranks a regular
	// object definition, but can satisfy an otherwise-undefined ref).
	Imported bool

	// HasCopyRel is set once table assignment has placed a copy
	// relocation for this symbol, so a second relocation against the
	// same symbol reuses the slot instead of allocating another.
	HasCopyRel bool

	// Traced marks a symbol named by --trace-symbol=<name> (spec.md §6).
	// No pass sets it from ctx.Arg.TraceSymbol, and nothing logs the
	// definition or reference sites of a traced symbol.
	Traced bool

	mu sync.Mutex
}

func NewSymbol(name string) *Symbol {
	s := &Symbol{
		Name:       name,
		SymIdx:     -1,
		AuxIdx:     -1,
		Visibility: uint8(elf.STV_DEFAULT),
	}
	return s
}

// AddFlags atomically ORs bits into Flags. Safe to call from any
// number of concurrent RelocScanner workers.
func (s *Symbol) AddFlags(bits uint32) {
	for {
		old := atomic.LoadUint32(&s.Flags)
		if old&bits == bits {
			return
		}
		if atomic.CompareAndSwapUint32(&s.Flags, old, old|bits) {
			return
		}
	}
}

func (s *Symbol) HasFlag(bit uint32) bool {
	return atomic.LoadUint32(&s.Flags)&bit != 0
}

func (s *Symbol) SetInputSection(isec *InputSection) {
	s.InputSection = isec
	s.OutputSection = nil
	s.SectionFragment = nil
}
func (s *Symbol) SetOutputSection(osec Chunker) {
	s.InputSection = nil
	s.OutputSection = osec
	s.SectionFragment = nil
}
func (s *Symbol) SetSectionFragment(frag *SectionFragment) {
	s.InputSection = nil
	s.OutputSection = nil
	s.SectionFragment = frag
}

func (s *Symbol) aux(ctx *Session) *SymbolAux {
	if s.AuxIdx == -1 {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.AuxIdx == -1 {
			s.AuxIdx = ctx.NewAux()
		}
	}
	return ctx.Aux(s.AuxIdx)
}

func (s *Symbol) GetGotIdx(ctx *Session) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return ctx.SymbolsAux[s.AuxIdx].GotIdx
}

func (s *Symbol) GetGotTpIdx(ctx *Session) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return ctx.SymbolsAux[s.AuxIdx].GotTpIdx
}

func (s *Symbol) GetPltIdx(ctx *Session) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return ctx.SymbolsAux[s.AuxIdx].PltIdx
}

func (s *Symbol) GetDynsymIdx(ctx *Session) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return ctx.SymbolsAux[s.AuxIdx].DynsymIdx
}

func (s *Symbol) SetGotIdx(ctx *Session, idx int32) {
	s.aux(ctx).GotIdx = idx
}

func (s *Symbol) SetGotTpIdx(ctx *Session, idx int32) {
	s.aux(ctx).GotTpIdx = idx
}

func (s *Symbol) SetPltIdx(ctx *Session, idx int32) {
	s.aux(ctx).PltIdx = idx
}

func (s *Symbol) SetPltGotIdx(ctx *Session, idx int32) {
	s.aux(ctx).PltGotIdx = idx
}

func (s *Symbol) SetDynsymIdx(ctx *Session, idx int32) {
	s.aux(ctx).DynsymIdx = idx
}

func (s *Symbol) SetTlsGdIdx(ctx *Session, idx int32) {
	s.aux(ctx).TlsGdIdx = idx
}

func (s *Symbol) GetTlsGdIdx(ctx *Session) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return ctx.SymbolsAux[s.AuxIdx].TlsGdIdx
}

func (s *Symbol) SetTlsLdIdx(ctx *Session, idx int32) {
	s.aux(ctx).TlsLdIdx = idx
}

func (s *Symbol) GetTlsLdIdx(ctx *Session) int32 {
	if s.AuxIdx == -1 {
		return -1
	}
	return ctx.SymbolsAux[s.AuxIdx].TlsLdIdx
}

func (s *Symbol) SetCopyrelAddr(ctx *Session, addr uint64) {
	s.aux(ctx).CopyrelAddr = addr
	s.HasCopyRel = true
}

func (s *Symbol) GetCopyrelAddr(ctx *Session) uint64 {
	if s.AuxIdx == -1 {
		return 0
	}
	return ctx.SymbolsAux[s.AuxIdx].CopyrelAddr
}

func (s *Symbol) ElfSym() *Sym {
	return &s.File.ElfSyms[s.SymIdx]
}

func (s *Symbol) GetAddr(ctx *Session) uint64 {
	if s.HasCopyRel {
		return s.GetCopyrelAddr(ctx)
	}

	if s.SectionFragment != nil {
		if !s.SectionFragment.IsAlive {
			return 0
		}
		return s.SectionFragment.GetAddr() + s.Value
	}

	if s.InputSection == nil {
		return s.Value
	}

	if !s.InputSection.IsAlive {
		return 0
	}

	return s.InputSection.GetAddr() + s.Value
}

func (s *Symbol) GetGotAddr(ctx *Session) uint64 {
	return ctx.Got.Shdr.Addr + uint64(s.GetGotIdx(ctx))*8
}

func (s *Symbol) GetGotTpAddr(ctx *Session) uint64 {
	return ctx.Got.Shdr.Addr + uint64(s.GetGotTpIdx(ctx))*8
}

func (s *Symbol) GetTlsGdAddr(ctx *Session) uint64 {
	return ctx.Got.Shdr.Addr + uint64(s.GetTlsGdIdx(ctx))*8
}

func (s *Symbol) GetPltAddr(ctx *Session) uint64 {
	idx := s.GetPltIdx(ctx)
	if idx == -1 {
		return 0
	}
	if s.AuxIdx != -1 && ctx.SymbolsAux[s.AuxIdx].PltGotIdx != -1 {
		return ctx.PltGot.Shdr.Addr + uint64(ctx.SymbolsAux[s.AuxIdx].PltGotIdx)*8
	}
	return ctx.Plt.Shdr.Addr + uint64(idx)*16
}

func (s *Symbol) Clear() {
	s.File = nil
	s.SectionFragment = nil
	s.OutputSection = nil
	s.InputSection = nil
	s.SymIdx = -1
	s.VerIdx = 0
	s.IsWeak = false
	s.IsExported = false
	s.Imported = false
}

func (s *Symbol) GetRank() uint64 {
	if s.File == nil {
		return 7 << 24
	}
	return GetRank(s.File, s.ElfSym(), !s.File.IsAlive)
}
