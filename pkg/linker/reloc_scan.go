package linker

import "debug/elf"

// ScanRelocations walks a live, allocated section's relocations and
// records what dynamic-linking facility each referenced symbol needs
// (GOT slot, PLT stub, copy relocation, dynsym entry, ...). It runs
// once per section, concurrently across every live section in the
// link, so every symbol-side mutation goes through Symbol.AddFlags
// and the *Section.Add methods, which are themselves safe for
// concurrent callers.
func (s *InputSection) ScanRelocations(ctx *Session) {
	rels := s.GetRels()
	for i := 0; i < len(rels); i++ {
		rel := &rels[i]
		if rel.Type == uint32(elf.R_X86_64_NONE) {
			continue
		}

		esym := &s.File.ElfSyms[rel.Sym]
		if esym.Type() == uint8(elf.STT_SECTION) {
			continue
		}

		sym := s.File.Symbols[rel.Sym]

		switch elf.R_X86_64(rel.Type) {
		case elf.R_X86_64_64, elf.R_X86_64_32, elf.R_X86_64_32S, elf.R_X86_64_16, elf.R_X86_64_8:
			if sym.Imported && sym.ElfSym().Type() == uint8(elf.STT_OBJECT) {
				sym.AddFlags(NeedsCopyrel | NeedsDynsym)
			} else if sym.Imported {
				sym.AddFlags(NeedsDynsym | NeedsPlt)
			} else if pic(ctx) && rel.Type == uint32(elf.R_X86_64_64) {
				// An absolute reference to a locally defined symbol:
				// no flag and no dynamic relocation is recorded here.
				// ApplyRelocAlloc writes the link-time address S+A and
				// no R_X86_64_RELATIVE entry is emitted for it.
			}

		case elf.R_X86_64_PC32, elf.R_X86_64_PC64, elf.R_X86_64_PC16, elf.R_X86_64_PC8:
			if sym.Imported {
				sym.AddFlags(NeedsDynsym | NeedsPlt)
			}

		case elf.R_X86_64_PLT32:
			if sym.Imported || sym.ElfSym().IsIFunc() {
				sym.AddFlags(NeedsDynsym | NeedsPlt)
			}

		case elf.R_X86_64_GOT32, elf.R_X86_64_GOTPCREL, elf.R_X86_64_GOTPCRELX, elf.R_X86_64_REX_GOTPCRELX:
			sym.AddFlags(NeedsGot)
			if sym.Imported {
				sym.AddFlags(NeedsDynsym)
			}

		case elf.R_X86_64_TLSGD:
			validateTlsGdFollowedByPlt32(ctx, s, i)
			if !relaxTlsGdToLe(ctx, sym) {
				sym.AddFlags(NeedsTlsGd)
			} else {
				// Relaxed to Local-Exec: no GOT slot is needed, and the
				// paired call to __tls_get_addr is rewritten away, so
				// it is not scanned.
				i++
			}

		case elf.R_X86_64_TLSLD:
			if !ctx.Arg.Shared {
				// Relaxed to LE: the runtime addend sequence needs no
				// GOT entry at all.
			} else {
				ctx.Got.AddTlsLd(ctx)
			}
			validateTlsGdFollowedByPlt32(ctx, s, i)

		case elf.R_X86_64_GOTTPOFF:
			sym.AddFlags(NeedsGotTp)
			if sym.Imported {
				sym.AddFlags(NeedsDynsym)
			}

		case elf.R_X86_64_DTPOFF32, elf.R_X86_64_DTPOFF64, elf.R_X86_64_TPOFF32, elf.R_X86_64_TPOFF64:
			// Resolved directly against the TLS symbol's offset at
			// ApplyRelocAlloc time; no table entry required.

		case elf.R_X86_64_COPY:
			// Never present in a relocatable input; only xlink itself
			// emits R_X86_64_COPY, into .rela.dyn.

		case elf.R_X86_64_IRELATIVE:
			// GNU-IFUNC PLT indirection: same table needs as an
			// imported function reference.
			sym.AddFlags(NeedsDynsym | NeedsPlt)

		case elf.R_X86_64_SIZE32, elf.R_X86_64_SIZE64:
			// Resolved directly against the symbol's ElfSym().Size at
			// ApplyRelocAlloc time; no table entry required.

		default:
			ctx.Checkpoint.Record("%s: %s: unsupported relocation type %d", s.File.File.Name, s.Name(), rel.Type)
		}
	}
}

// relaxTlsGdToLe reports whether a TLSGD reference can be relaxed to
// the local-exec model: true whenever the referenced symbol is defined
// rather than imported, matching mold's scan_relocations, which gates
// the same decision on is_imported alone.
func relaxTlsGdToLe(ctx *Session, sym *Symbol) bool {
	return !sym.Imported
}

// validateTlsGdFollowedByPlt32 checks the ABI requirement that a
// TLSGD/TLSLD relocation is immediately followed, at the next
// relocation slot in the same section, by a PLT32 (or PC32) reference
// to __tls_get_addr; a malformed producer that omits it would corrupt
// the byte sequence ApplyRelocAlloc rewrites. Recorded as a diagnostic
// rather than a hard abort so a single malformed object doesn't take
// down an otherwise successful link.
func validateTlsGdFollowedByPlt32(ctx *Session, s *InputSection, relIdx int) {
	rels := s.Rels
	if relIdx+1 >= len(rels) {
		ctx.Checkpoint.Record("%s: %s: TLSGD/TLSLD relocation not followed by a call to __tls_get_addr", s.File.File.Name, s.Name())
		return
	}
	next := rels[relIdx+1]
	switch elf.R_X86_64(next.Type) {
	case elf.R_X86_64_PLT32, elf.R_X86_64_PC32:
	default:
		ctx.Checkpoint.Record("%s: %s: TLSGD/TLSLD relocation not followed by a call to __tls_get_addr", s.File.File.Name, s.Name())
	}
}
