package linker

import (
	"debug/elf"

	"github.com/xlink-project/xlink/pkg/utils"
)

// DynsymSection is .dynsym: ScanRels gives one entry here, in the
// order it assigns them, to every symbol flagged NeedsDynsym by
// RelocScanner (imported symbols a relocation references) and to every
// exported definition, plus a mandatory null entry at index 0.
type DynsymSection struct {
	Chunk
	Syms []*Symbol
}

func NewDynsymSection() *DynsymSection {
	d := &DynsymSection{Chunk: NewChunk()}
	d.Name = ".dynsym"
	d.Shdr.Type = uint32(elf.SHT_DYNSYM)
	d.Shdr.Flags = uint64(elf.SHF_ALLOC)
	d.Shdr.EntSize = 24
	d.Shdr.AddrAlign = 8
	d.Syms = append(d.Syms, nil)
	return d
}

func (d *DynsymSection) Add(ctx *Session, sym *Symbol) int32 {
	if idx := sym.GetDynsymIdx(ctx); idx != -1 {
		return idx
	}
	idx := int32(len(d.Syms))
	sym.SetDynsymIdx(ctx, idx)
	d.Syms = append(d.Syms, sym)
	return idx
}

func (d *DynsymSection) UpdateShdr(ctx *Session) {
	d.Shdr.Size = uint64(len(d.Syms)) * 24
	d.Shdr.Link = uint32(ctx.Dynstr.Shndx)
	d.Shdr.Info = 1
}

// RegisterNames must run before Dynstr's size is finalized, i.e.
// before ComputeSectionSizes/SetOsecOffsets, so that CopyBuf only ever
// reads offsets Dynstr already reserved space for.
func (d *DynsymSection) RegisterNames(ctx *Session) {
	for _, sym := range d.Syms {
		if sym != nil {
			ctx.Dynstr.Add(sym.Name)
		}
	}
}

func (d *DynsymSection) CopyBuf(ctx *Session) {
	buf := ctx.Buf[d.Shdr.Offset:]
	for i, sym := range d.Syms {
		if sym == nil {
			continue
		}
		esym := sym.ElfSym()
		var out Sym
		out.Name = ctx.Dynstr.offset[sym.Name]
		out.Info = esym.Info
		out.Other = esym.Other
		out.Val = sym.GetAddr(ctx)
		out.Size = esym.Size
		if sym.Imported {
			out.Shndx = 0
		} else {
			out.Shndx = uint16(elf.SHN_ABS)
		}
		utils.Write[Sym](buf[i*24:], out)
	}
}
