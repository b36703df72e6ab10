package linker

import "debug/elf"

// DynstrSection is .dynstr: a string table for .dynsym names, DT_SONAME,
// DT_NEEDED and DT_RPATH. Byte 0 is always NUL per the ELF ABI, matching
// the fixed one-byte reservation the teacher's string tables use.
type DynstrSection struct {
	Chunk
	strs   []string
	offset map[string]uint32
}

func NewDynstrSection() *DynstrSection {
	d := &DynstrSection{Chunk: NewChunk(), offset: make(map[string]uint32)}
	d.Name = ".dynstr"
	d.Shdr.Type = uint32(elf.SHT_STRTAB)
	d.Shdr.Flags = uint64(elf.SHF_ALLOC)
	d.Shdr.AddrAlign = 1
	d.Shdr.Size = 1
	return d
}

func (d *DynstrSection) Add(s string) uint32 {
	if s == "" {
		return 0
	}
	if off, ok := d.offset[s]; ok {
		return off
	}
	off := uint32(d.Shdr.Size)
	d.offset[s] = off
	d.strs = append(d.strs, s)
	d.Shdr.Size += uint64(len(s)) + 1
	return off
}

func (d *DynstrSection) CopyBuf(ctx *Session) {
	buf := ctx.Buf[d.Shdr.Offset:]
	buf[0] = 0
	for _, s := range d.strs {
		off := d.offset[s]
		copy(buf[off:], s)
		buf[off+uint32(len(s))] = 0
	}
}
