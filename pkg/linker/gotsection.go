package linker

import (
	"debug/elf"
	"sync"

	"github.com/xlink-project/xlink/pkg/utils"
)

// GotSection lays out four kinds of slot: plain GOT (NeedsGot),
// GOTTPOFF/IE TLS (NeedsGotTp) and TLSGD pairs (NeedsTlsGd, two slots
// each), in the order ScanRels assigns them, and one shared TLSLD pair
// that ScanRelocations allocates directly through AddTlsLd, once for
// the whole link.
// This mirrors the teacher's single-purpose .got (RISC-V has no
// GOT/PLT split at the ISA level) generalized to the four slot kinds
// x86-64's ABI actually needs.
type GotSection struct {
	Chunk
	GotSyms   []*Symbol
	GotTpSyms []*Symbol
	TlsGdSyms []*Symbol
	hasTlsLd  bool
	tlsLdIdx  int64
	tlsLdMu   sync.Mutex
}

func NewGotSection() *GotSection {
	g := &GotSection{Chunk: NewChunk()}
	g.Name = ".got"
	g.Shdr.Type = uint32(elf.SHT_PROGBITS)
	g.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	g.Shdr.AddrAlign = 8
	g.tlsLdIdx = -1
	return g
}

func (g *GotSection) AddGotSymbol(ctx *Session, sym *Symbol) {
	if sym.GetGotIdx(ctx) != -1 {
		return
	}
	sym.SetGotIdx(ctx, int32(g.Shdr.Size/8))
	g.Shdr.Size += 8
	g.GotSyms = append(g.GotSyms, sym)
}

func (g *GotSection) AddGotTpSymbol(ctx *Session, sym *Symbol) {
	if sym.GetGotTpIdx(ctx) != -1 {
		return
	}
	sym.SetGotTpIdx(ctx, int32(g.Shdr.Size/8))
	g.Shdr.Size += 8
	g.GotTpSyms = append(g.GotTpSyms, sym)
}

func (g *GotSection) AddTlsGdSymbol(ctx *Session, sym *Symbol) {
	if sym.GetTlsGdIdx(ctx) != -1 {
		return
	}
	sym.SetTlsGdIdx(ctx, int32(g.Shdr.Size/8))
	g.Shdr.Size += 16
	g.TlsGdSyms = append(g.TlsGdSyms, sym)
}

func (g *GotSection) AddTlsLd(ctx *Session) int64 {
	g.tlsLdMu.Lock()
	defer g.tlsLdMu.Unlock()
	if !g.hasTlsLd {
		g.hasTlsLd = true
		g.tlsLdIdx = int64(g.Shdr.Size / 8)
		g.Shdr.Size += 16
	}
	return g.tlsLdIdx
}

func (g *GotSection) GetTlsLdIdx() int64 {
	return g.tlsLdIdx
}

// pic reports whether the output image needs load-time relocations
// for absolute addresses (shared objects and -pic executables).
func pic(ctx *Session) bool {
	return ctx.Arg.Shared || ctx.Arg.Pic
}

func (g *GotSection) GetEntries(ctx *Session) []GotEntry {
	entries := make([]GotEntry, 0, len(g.GotSyms)+len(g.GotTpSyms)+2*len(g.TlsGdSyms)+2)

	for _, sym := range g.GotSyms {
		idx := int64(sym.GetGotIdx(ctx))
		switch {
		case sym.Imported:
			entries = append(entries, GotEntry{Idx: idx, Type: int64(elf.R_X86_64_GLOB_DAT), Sym: sym})
		case pic(ctx):
			entries = append(entries, GotEntry{Idx: idx, Val: sym.GetAddr(ctx), Type: int64(elf.R_X86_64_RELATIVE), Sym: sym})
		default:
			entries = append(entries, NewGotEntry(idx, sym.GetAddr(ctx), int64(elf.R_X86_64_NONE)))
		}
	}

	for _, sym := range g.GotTpSyms {
		idx := int64(sym.GetGotTpIdx(ctx))
		if sym.Imported || pic(ctx) {
			entries = append(entries, GotEntry{Idx: idx, Type: int64(elf.R_X86_64_TPOFF64), Sym: sym})
		} else {
			entries = append(entries, NewGotEntry(idx, sym.GetAddr(ctx)-ctx.TlsEnd, int64(elf.R_X86_64_NONE)))
		}
	}

	for _, sym := range g.TlsGdSyms {
		idx := int64(sym.GetTlsGdIdx(ctx))
		entries = append(entries, GotEntry{Idx: idx, Type: int64(elf.R_X86_64_DTPMOD64), Sym: sym})
		entries = append(entries, GotEntry{Idx: idx + 1, Type: int64(elf.R_X86_64_DTPOFF64), Sym: sym})
	}

	if g.hasTlsLd {
		entries = append(entries, GotEntry{Idx: g.tlsLdIdx, Val: 1, Type: int64(elf.R_X86_64_NONE)})
		entries = append(entries, GotEntry{Idx: g.tlsLdIdx + 1, Val: 0, Type: int64(elf.R_X86_64_NONE)})
	}

	return entries
}

func (g *GotSection) UpdateShdr(ctx *Session) {
	if g.Shdr.Size == 0 {
		g.Shdr.Size = 8
	}
}

func (g *GotSection) CopyBuf(ctx *Session) {
	buf := ctx.Buf[g.Shdr.Offset:]
	for i := uint64(0); i < g.Shdr.Size; i++ {
		buf[i] = 0
	}

	for _, ent := range g.GetEntries(ctx) {
		if !ent.IsRel() {
			utils.Write[uint64](buf[ent.Idx*8:], ent.Val)
			continue
		}
		ctx.RelDyn.Add(Rela{
			Offset: g.Shdr.Addr + uint64(ent.Idx)*8,
			Type:   uint32(ent.Type),
			Sym:    dynsymOf(ctx, ent.Sym),
			Addend: int64(ent.Val),
		})
	}
}

// dynsymOf returns the .dynsym index a dynamic relocation should
// carry: 0 (no symbol, addend-only, e.g. R_X86_64_RELATIVE) unless the
// relocation must be resolved against a specific dynamic symbol.
func dynsymOf(ctx *Session, sym *Symbol) uint32 {
	if sym == nil {
		return 0
	}
	idx := sym.GetDynsymIdx(ctx)
	if idx < 0 {
		return 0
	}
	return uint32(idx)
}
