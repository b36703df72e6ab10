package linker

import (
	"debug/elf"
	"encoding/binary"

	"github.com/xlink-project/xlink/pkg/utils"
)

// ApplyRelocAlloc rewrites every relocation against an allocated
// section into base, which already holds a copy of the section's raw
// bytes (CopyContents ran first). It implements the S/A/P/L/G/GOT
// value algebra: S is the referenced symbol's address, A the addend,
// P the address of the relocation site itself, G the address of the
// symbol's GOT slot and GOT the address of the GOT itself.
func (s *InputSection) ApplyRelocAlloc(ctx *Session, base []byte) {
	rels := s.GetRels()

	for i := 0; i < len(rels); i++ {
		rel := &rels[i]
		if rel.Type == uint32(elf.R_X86_64_NONE) {
			continue
		}

		esym := &s.File.ElfSyms[rel.Sym]
		loc := base[rel.Offset:]
		P := s.GetAddr() + uint64(rel.Offset)
		A := uint64(rel.Addend)

		if esym.Type() == uint8(elf.STT_SECTION) {
			if frag, fragOffset := s.GetFragment(rel); frag != nil {
				applyStaticReloc(ctx, elf.R_X86_64(rel.Type), loc, P, frag.GetAddr()+uint64(fragOffset), A)
				continue
			}
		}

		sym := s.File.Symbols[rel.Sym]
		S := sym.GetAddr(ctx)

		switch elf.R_X86_64(rel.Type) {
		case elf.R_X86_64_NONE:

		case elf.R_X86_64_64:
			utils.Write[uint64](loc, S+A)

		case elf.R_X86_64_32:
			utils.Write[uint32](loc, uint32(S+A))

		case elf.R_X86_64_32S:
			utils.Write[uint32](loc, uint32(int32(S+A)))

		case elf.R_X86_64_16:
			binary.LittleEndian.PutUint16(loc, uint16(S+A))

		case elf.R_X86_64_8:
			loc[0] = byte(S + A)

		case elf.R_X86_64_PC64:
			utils.Write[uint64](loc, S+A-P)

		case elf.R_X86_64_PC32:
			utils.Write[uint32](loc, uint32(S+A-P))

		case elf.R_X86_64_PC16:
			binary.LittleEndian.PutUint16(loc, uint16(S+A-P))

		case elf.R_X86_64_PC8:
			loc[0] = byte(S + A - P)

		case elf.R_X86_64_PLT32:
			dest := S
			if sym.GetPltIdx(ctx) != -1 {
				dest = sym.GetPltAddr(ctx)
			}
			utils.Write[uint32](loc, uint32(dest+A-P))

		case elf.R_X86_64_GOT32:
			utils.Write[uint64](loc, sym.GetGotAddr(ctx)+A-ctx.Got.Shdr.Addr)

		case elf.R_X86_64_GOTPCREL, elf.R_X86_64_GOTPCRELX, elf.R_X86_64_REX_GOTPCRELX:
			utils.Write[uint32](loc, uint32(sym.GetGotAddr(ctx)+A-P))

		case elf.R_X86_64_GOTPC32:
			utils.Write[uint32](loc, uint32(ctx.Got.Shdr.Addr+A-P))

		case elf.R_X86_64_TPOFF32:
			utils.Write[uint32](loc, uint32(S+A-ctx.TlsEnd))

		case elf.R_X86_64_TPOFF64:
			utils.Write[uint64](loc, S+A-ctx.TlsEnd)

		case elf.R_X86_64_DTPOFF32:
			utils.Write[uint32](loc, uint32(S+A-ctx.TlsEnd))

		case elf.R_X86_64_DTPOFF64:
			utils.Write[uint64](loc, S+A-ctx.TlsEnd)

		case elf.R_X86_64_GOTTPOFF:
			utils.Write[uint32](loc, uint32(sym.GetGotTpAddr(ctx)+A-P))

		case elf.R_X86_64_TLSGD:
			if relaxTlsGdToLe(ctx, sym) {
				relaxTlsGdToLeAt(base, rel.Offset, S, A, ctx)
				rels[i+1].Type = uint32(elf.R_X86_64_NONE)
				i++
			} else {
				utils.Write[uint32](loc, uint32(sym.GetTlsGdAddr(ctx)+A-P))
			}

		case elf.R_X86_64_TLSLD:
			if !ctx.Arg.Shared {
				relaxTlsLdToLeAt(base, rel.Offset)
				rels[i+1].Type = uint32(elf.R_X86_64_NONE)
				i++
			} else {
				utils.Write[uint32](loc, uint32(uint64(ctx.Got.GetTlsLdIdx())*8+ctx.Got.Shdr.Addr+A-P))
			}

		case elf.R_X86_64_SIZE32:
			utils.Write[uint32](loc, uint32(sym.ElfSym().Size+A))

		case elf.R_X86_64_SIZE64:
			utils.Write[uint64](loc, sym.ElfSym().Size+A)

		default:
			ctx.Checkpoint.Record("%s: %s: unsupported relocation type %d", s.File.File.Name, s.Name(), rel.Type)
		}
	}
}

// applyStaticReloc handles a relocation against a mergeable-section
// fragment: the fragment's own address stands in for S, and there is
// no dynamic symbol involved, so the switch is a strict subset of the
// one in ApplyRelocAlloc.
func applyStaticReloc(ctx *Session, typ elf.R_X86_64, loc []byte, P, S, A uint64) {
	switch typ {
	case elf.R_X86_64_64:
		utils.Write[uint64](loc, S+A)
	case elf.R_X86_64_32:
		utils.Write[uint32](loc, uint32(S+A))
	case elf.R_X86_64_32S:
		utils.Write[uint32](loc, uint32(int32(S+A)))
	case elf.R_X86_64_PC32:
		utils.Write[uint32](loc, uint32(S+A-P))
	case elf.R_X86_64_PC64:
		utils.Write[uint64](loc, S+A-P)
	default:
		ctx.Checkpoint.Record("unsupported relocation %d against a mergeable-section fragment", typ)
	}
}

// relaxTlsGdToLeAt rewrites the 16-byte General-Dynamic call sequence
//
//	66 48 8d 3d xx xx xx xx   lea    x@tlsgd(%rip),%rdi
//	66 66 48 e8 xx xx xx xx   call   __tls_get_addr@plt
//
// into the equivalent Local-Exec sequence
//
//	64 48 8b 04 25 00 00 00 00   mov    %fs:0,%rax
//	48 8d 80 xx xx xx xx         lea    x@tpoff,%rax
//
// in place. Local-Exec needs no GOT slot: the trailing 4-byte immediate
// is the symbol's tp-relative offset itself, S - tls_end + A, the same
// value TPOFF32 writes directly, plus 4 to land past the disp32 field
// the way mold's relax_gd_to_le does it.
func relaxTlsGdToLeAt(base []byte, offset uint64, S, A uint64, ctx *Session) {
	loc := base[offset-4:]
	copy(loc, []byte{
		0x64, 0x48, 0x8b, 0x04, 0x25, 0x00, 0x00, 0x00, 0x00,
		0x48, 0x8d, 0x80, 0, 0, 0, 0,
	})
	val := uint32(int32(S + A - ctx.TlsEnd + 4))
	binary.LittleEndian.PutUint32(loc[12:], val)
}

// relaxTlsLdToLeAt rewrites the 12-byte Local-Dynamic call sequence
// into three 0x66 (data16) prefixes followed by the thread pointer
// load `mov %fs:0,%rax` used by the Local-Exec model; xlink only ever needs to neutralize the call, since every
// DTPOFF reference that follows is already rewritten independently by
// the DTPOFF32/DTPOFF64 case above.
func relaxTlsLdToLeAt(base []byte, offset uint64) {
	loc := base[offset-3:]
	copy(loc, []byte{
		0x66, 0x66, 0x66,
		0x64, 0x48, 0x8b, 0x04, 0x25, 0x00, 0x00, 0x00, 0x00,
	})
}
