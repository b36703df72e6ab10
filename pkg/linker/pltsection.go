package linker

import (
	"debug/elf"
)

// PltSection is .plt. Each entry is 16 bytes: a 6-byte
// `jmp *disp32(%rip)` through the slot pltGotSlotAddr names, padded
// with int3. Entry 0 is reserved and jumps through the first .got
// slot. No push/jmp lazy-binding pair is emitted, and CopyBuf does not
// fill the slots the stubs jump through; xlink never performs lazy
// runtime resolution (dynamic loading is out of scope).
type PltSection struct {
	Chunk
	Syms []*Symbol
}

const pltEntrySize = 16

func NewPltSection() *PltSection {
	p := &PltSection{Chunk: NewChunk()}
	p.Name = ".plt"
	p.Shdr.Type = uint32(elf.SHT_PROGBITS)
	p.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR)
	p.Shdr.AddrAlign = 16
	return p
}

func (p *PltSection) Add(ctx *Session, sym *Symbol) {
	if sym.GetPltIdx(ctx) != -1 {
		return
	}
	// Entry 0 is the resolver stub; real entries start at 1.
	if len(p.Syms) == 0 {
		p.Shdr.Size = pltEntrySize
	}
	idx := int32(p.Shdr.Size / pltEntrySize)
	sym.SetPltIdx(ctx, idx)
	p.Shdr.Size += pltEntrySize
	p.Syms = append(p.Syms, sym)
}

func (p *PltSection) CopyBuf(ctx *Session) {
	if p.Shdr.Size == 0 {
		return
	}
	buf := ctx.Buf[p.Shdr.Offset:]
	for i := uint64(0); i < p.Shdr.Size; i++ {
		buf[i] = 0xcc // int3 filler between stubs
	}

	writeStub := func(off uint64, gotAddr uint64) {
		pltAddr := p.Shdr.Addr + off
		// ff 25 disp32   ; jmp *disp32(%rip)  -> *gotAddr
		buf[off+0] = 0xff
		buf[off+1] = 0x25
		disp := int32(int64(gotAddr) - int64(pltAddr+6))
		buf[off+2] = byte(disp)
		buf[off+3] = byte(disp >> 8)
		buf[off+4] = byte(disp >> 16)
		buf[off+5] = byte(disp >> 24)
	}

	writeStub(0, ctx.Got.Shdr.Addr)

	for i, sym := range p.Syms {
		off := uint64(i+1) * pltEntrySize
		writeStub(off, ctx.pltGotSlotAddr(sym))
	}
}

// pltGotSlotAddr is the .got.plt slot a PLT stub jumps through.
func (ctx *Session) pltGotSlotAddr(sym *Symbol) uint64 {
	idx := sym.GetPltIdx(ctx)
	return ctx.Got.Shdr.Addr + uint64(idx)*8
}

// EmitPltRelocs appends the real R_X86_64_JMP_SLOT entry for every
// imported symbol this section carries a stub for. Run once, after
// SetOsecOffsets, once ctx.Got.Shdr.Addr is final; the slot count was
// reserved into ctx.RelPlt back in ScanRels.
func (p *PltSection) EmitPltRelocs(ctx *Session) {
	for _, sym := range p.Syms {
		if !sym.Imported {
			continue
		}
		ctx.RelPlt.Add(Rela{
			Offset: ctx.pltGotSlotAddr(sym),
			Type:   uint32(elf.R_X86_64_JMP_SLOT),
			Sym:    uint32(sym.GetDynsymIdx(ctx)),
		})
	}
}

// PltGotSection is .plt.got: a stub used for calls to a symbol that
// needs a GOT slot for other reasons but was resolved statically, so
// no .rela.plt entry is needed (spec.md's DSO call-through-GOT case
// without lazy binding).
type PltGotSection struct {
	Chunk
	Syms []*Symbol
}

func NewPltGotSection() *PltGotSection {
	p := &PltGotSection{Chunk: NewChunk()}
	p.Name = ".plt.got"
	p.Shdr.Type = uint32(elf.SHT_PROGBITS)
	p.Shdr.Flags = uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR)
	p.Shdr.AddrAlign = 8
	return p
}

func (p *PltGotSection) Add(ctx *Session, sym *Symbol) {
	idx := int32(p.Shdr.Size / 8)
	sym.SetPltGotIdx(ctx, idx)
	p.Shdr.Size += 8
	p.Syms = append(p.Syms, sym)
}

func (p *PltGotSection) CopyBuf(ctx *Session) {
	buf := ctx.Buf[p.Shdr.Offset:]
	for i, sym := range p.Syms {
		off := uint64(i) * 8
		gotAddr := sym.GetGotAddr(ctx)
		pltAddr := p.Shdr.Addr + off
		buf[off+0] = 0xff
		buf[off+1] = 0x25
		disp := int32(int64(gotAddr) - int64(pltAddr+6))
		buf[off+2] = byte(disp)
		buf[off+3] = byte(disp >> 8)
		buf[off+4] = byte(disp >> 16)
		buf[off+5] = byte(disp >> 24)
	}
}
