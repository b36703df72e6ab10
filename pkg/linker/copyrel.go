package linker

import "debug/elf"

// CopyrelSection backs .bss (ordinary copy relocations) and
// .bss.rel.ro (copy relocations for symbols the source DSO marked
// read-only after relocation). A copy relocation reserves space in
// the executable for a DSO-defined object symbol referenced directly
// (not through the GOT) so the runtime loader can copy the DSO's
// initial value in at load time; xlink lays out the space and emits
// the R_X86_64_COPY entry in .rela.dyn but does not perform the load
// itself (dynamic loading is out of scope).
type CopyrelSection struct {
	Chunk
	Syms []*Symbol
}

func NewCopyrelSection(relro bool) *CopyrelSection {
	c := &CopyrelSection{Chunk: NewChunk()}
	if relro {
		c.Name = ".bss.rel.ro"
	} else {
		c.Name = ".bss"
	}
	c.Shdr.Type = uint32(elf.SHT_NOBITS)
	c.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	c.Shdr.AddrAlign = 8
	return c
}

// Add reserves space during RelocScanner, before the section has been
// assigned a base address. It records the byte offset within the
// section, not a final address; FixCopyrelAddrs turns that into an
// absolute address once layout has run.
func (c *CopyrelSection) Add(ctx *Session, sym *Symbol) {
	if sym.HasCopyRel {
		return
	}
	esym := sym.ElfSym()
	align := esym.Size
	if align == 0 || align > 32 {
		align = 8
	}
	if align > c.Shdr.AddrAlign {
		c.Shdr.AddrAlign = align
	}
	c.Shdr.Size = alignUp(c.Shdr.Size, align)
	sym.SetCopyrelAddr(ctx, c.Shdr.Size)
	c.Shdr.Size += esym.Size
	c.Syms = append(c.Syms, sym)
}

// FixCopyrelAddrs rewrites every recorded offset into an absolute
// address now that c.Shdr.Addr is final. Run once, after SetOsecOffsets.
func (c *CopyrelSection) FixCopyrelAddrs(ctx *Session) {
	for _, sym := range c.Syms {
		sym.SetCopyrelAddr(ctx, c.Shdr.Addr+sym.GetCopyrelAddr(ctx))
	}
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// CopyBuf writes nothing: SHT_NOBITS sections occupy no file space.
// The R_X86_64_COPY relocations go out through ctx.RelDyn; see
// EmitCopyRelocs.
func (c *CopyrelSection) CopyBuf(ctx *Session) {}

// EmitCopyRelocs appends the real R_X86_64_COPY entry for every
// symbol this section reserved a slot for. Run once, after
// FixCopyrelAddrs, so Offset is already an absolute address; the slot
// count itself was reserved into ctx.RelDyn back in ScanRels so
// sizing never depended on this running early.
func (c *CopyrelSection) EmitCopyRelocs(ctx *Session) {
	for _, sym := range c.Syms {
		ctx.RelDyn.Add(Rela{
			Offset: sym.GetCopyrelAddr(ctx),
			Type:   uint32(elf.R_X86_64_COPY),
			Sym:    uint32(sym.GetDynsymIdx(ctx)),
		})
	}
}
