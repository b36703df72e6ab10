package linker

import (
	"debug/elf"

	"github.com/xlink-project/xlink/pkg/utils"
)

// DynamicSection is .dynamic: the tag/value list a dynamic loader
// reads to bootstrap a DSO or PIE (spec.md's DT_SONAME/DT_NEEDED
// requirements for S2). xlink builds the list once, in Entries, right
// before ComputeSectionSizes so its size is fixed like every other
// section.
type DynamicSection struct {
	Chunk
	Entries []Dyn
}

func NewDynamicSection() *DynamicSection {
	d := &DynamicSection{Chunk: NewChunk()}
	d.Name = ".dynamic"
	d.Shdr.Type = uint32(elf.SHT_DYNAMIC)
	d.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_WRITE)
	d.Shdr.EntSize = 16
	d.Shdr.AddrAlign = 8
	return d
}

// Build assembles Entries from the session's config and dynamic
// sections. Must run after every DT_NEEDED-worthy DSO and the soname
// string are known but before Dynstr's size is finalized, since it
// registers strings into Dynstr.
func (d *DynamicSection) Build(ctx *Session) {
	d.Entries = d.Entries[:0]
	add := func(tag int64, val uint64) {
		d.Entries = append(d.Entries, Dyn{Tag: tag, Val: val})
	}
	addStr := func(tag int64, s string) {
		if s != "" {
			add(tag, uint64(ctx.Dynstr.Add(s)))
		}
	}

	for _, dso := range ctx.DSOs {
		addStr(int64(elf.DT_NEEDED), dso.Soname)
	}

	addStr(int64(elf.DT_SONAME), ctx.Arg.Soname)
	addStr(int64(elf.DT_RPATH), ctx.Arg.Rpath)

	if ctx.Arg.BsymbolicFunctions {
		add(int64(elf.DT_FLAGS), uint64(elf.DF_SYMBOLIC))
	} else if ctx.Arg.Bsymbolic {
		add(int64(elf.DT_FLAGS), uint64(elf.DF_SYMBOLIC))
	}

	add(int64(elf.DT_SYMTAB), 0) // patched to Dynsym.Shdr.Addr in CopyBuf
	add(int64(elf.DT_STRTAB), 0)
	add(int64(elf.DT_STRSZ), 0)
	add(int64(elf.DT_SYMENT), 24)

	if ctx.RelDyn.PendingCount > 0 {
		add(int64(elf.DT_RELA), 0)
		add(int64(elf.DT_RELASZ), 0)
		add(int64(elf.DT_RELAENT), 24)
	}
	if ctx.RelPlt.PendingCount > 0 {
		add(int64(elf.DT_PLTRELSZ), 0)
		add(int64(elf.DT_PLTGOT), 0)
		add(int64(elf.DT_JMPREL), 0)
		add(int64(elf.DT_PLTREL), uint64(elf.DT_RELA))
	}
	if ctx.SysvHash != nil {
		add(int64(elf.DT_HASH), 0)
	}
	if ctx.GnuHash != nil {
		add(int64(elf.DT_GNU_HASH), 0)
	}

	add(int64(elf.DT_NULL), 0)
}

func (d *DynamicSection) UpdateShdr(ctx *Session) {
	d.Shdr.Size = uint64(len(d.Entries)) * 16
	d.Shdr.Link = uint32(ctx.Dynstr.Shndx)
}

func (d *DynamicSection) CopyBuf(ctx *Session) {
	patch := func(tag int64, addr uint64) {
		for i := range d.Entries {
			if d.Entries[i].Tag == tag {
				d.Entries[i].Val = addr
			}
		}
	}

	patch(int64(elf.DT_SYMTAB), ctx.Dynsym.Shdr.Addr)
	patch(int64(elf.DT_STRTAB), ctx.Dynstr.Shdr.Addr)
	patch(int64(elf.DT_STRSZ), ctx.Dynstr.Shdr.Size)
	patch(int64(elf.DT_RELA), ctx.RelDyn.Shdr.Addr)
	patch(int64(elf.DT_RELASZ), ctx.RelDyn.Shdr.Size)
	if ctx.Plt != nil {
		patch(int64(elf.DT_PLTGOT), ctx.Got.Shdr.Addr)
	}
	patch(int64(elf.DT_PLTRELSZ), ctx.RelPlt.Shdr.Size)
	patch(int64(elf.DT_JMPREL), ctx.RelPlt.Shdr.Addr)
	if ctx.SysvHash != nil {
		patch(int64(elf.DT_HASH), ctx.SysvHash.Shdr.Addr)
	}
	if ctx.GnuHash != nil {
		patch(int64(elf.DT_GNU_HASH), ctx.GnuHash.Shdr.Addr)
	}

	buf := ctx.Buf[d.Shdr.Offset:]
	for i, e := range d.Entries {
		utils.Write[Dyn](buf[i*16:], e)
	}
}
