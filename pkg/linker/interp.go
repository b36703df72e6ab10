package linker

import "debug/elf"

// InterpSection is .interp: the dynamic loader path, present only for
// a PT_INTERP-carrying executable (never for -static or -shared
// output without an explicit interpreter, matching the teacher's
// convention of only instantiating chunks a given link actually uses).
type InterpSection struct {
	Chunk
	Path string
}

const defaultInterp = "/lib64/ld-linux-x86-64.so.2"

func NewInterpSection() *InterpSection {
	i := &InterpSection{Chunk: NewChunk(), Path: defaultInterp}
	i.Name = ".interp"
	i.Shdr.Type = uint32(elf.SHT_PROGBITS)
	i.Shdr.Flags = uint64(elf.SHF_ALLOC)
	i.Shdr.AddrAlign = 1
	i.Shdr.Size = uint64(len(i.Path)) + 1
	return i
}

func (i *InterpSection) CopyBuf(ctx *Session) {
	buf := ctx.Buf[i.Shdr.Offset:]
	copy(buf, i.Path)
	buf[len(i.Path)] = 0
}
