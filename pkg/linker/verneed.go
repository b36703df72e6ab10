package linker

import (
	"debug/elf"
	"sort"

	"github.com/xlink-project/xlink/pkg/utils"
)

// VerneedSection is .gnu.version_r: one Verneed record per soname
// registered through AddNeed, chained to a Vernaux per distinct version
// string registered for it. No pass in this package calls AddNeed, so
// the section stays empty and main drops it with the other zero-size
// chunks.
type VerneedSection struct {
	Chunk
	needs map[string][]string // soname -> version strings
}

// shtGnuVerneed is SHT_GNU_verneed (0x6ffffffe); debug/elf does not
// export it since it never needs to interpret version sections itself.
const shtGnuVerneed = 0x6ffffffe

func NewVerneedSection() *VerneedSection {
	v := &VerneedSection{Chunk: NewChunk(), needs: make(map[string][]string)}
	v.Name = ".gnu.version_r"
	v.Shdr.Type = shtGnuVerneed
	v.Shdr.Flags = uint64(elf.SHF_ALLOC)
	v.Shdr.AddrAlign = 8
	return v
}

func (v *VerneedSection) AddNeed(soname, version string) {
	for _, s := range v.needs[soname] {
		if s == version {
			return
		}
	}
	v.needs[soname] = append(v.needs[soname], version)
}

func (v *VerneedSection) UpdateShdr(ctx *Session) {
	sonames := make([]string, 0, len(v.needs))
	for s := range v.needs {
		sonames = append(sonames, s)
	}
	sort.Strings(sonames)

	size := uint64(0)
	for _, soname := range sonames {
		size += 16 // Verneed
		size += uint64(len(v.needs[soname])) * 16 // Vernaux each
	}
	v.Shdr.Size = size
	v.Shdr.Info = uint32(len(sonames))
	v.Shdr.Link = uint32(ctx.Dynstr.Shndx)
}

func (v *VerneedSection) RegisterNames(ctx *Session) {
	for soname, versions := range v.needs {
		ctx.Dynstr.Add(soname)
		for _, ver := range versions {
			ctx.Dynstr.Add(ver)
		}
	}
}

func (v *VerneedSection) CopyBuf(ctx *Session) {
	sonames := make([]string, 0, len(v.needs))
	for s := range v.needs {
		sonames = append(sonames, s)
	}
	sort.Strings(sonames)

	buf := ctx.Buf[v.Shdr.Offset:]
	off := uint32(0)
	for si, soname := range sonames {
		versions := v.needs[soname]
		vnOff := off
		vn := Verneed{
			Version: 1,
			Cnt:     uint16(len(versions)),
			File:    ctx.Dynstr.offset[soname],
			Aux:     16,
		}
		if si < len(sonames)-1 {
			vn.Next = uint32(16 + len(versions)*16)
		}
		utils.Write[Verneed](buf[vnOff:], vn)
		off += 16

		for i, ver := range versions {
			va := Vernaux{
				Hash: elfHash(ver),
				Name: ctx.Dynstr.offset[ver],
			}
			if i < len(versions)-1 {
				va.Next = 16
			}
			utils.Write[Vernaux](buf[off:], va)
			off += 16
		}
	}
}
