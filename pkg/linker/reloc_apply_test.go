package linker

import (
	"debug/elf"
	"testing"

	"github.com/xlink-project/xlink/pkg/utils"
)

// TestApplyStaticReloc checks the pure S/A/P algebra applyStaticReloc
// uses against mergeable-section fragments, independent of any Symbol
// or Session machinery.
func TestApplyStaticReloc(t *testing.T) {
	ctx := NewSession()

	cases := []struct {
		name string
		typ  elf.R_X86_64
		p, s uint64
		a    uint64
		want func([]byte) bool
	}{
		{"64", elf.R_X86_64_64, 0, 0x1000, 5, func(b []byte) bool { return utils.Read[uint64](b) == 0x1005 }},
		{"32", elf.R_X86_64_32, 0, 0x2000, 1, func(b []byte) bool { return utils.Read[uint32](b) == 0x2001 }},
		{"PC32", elf.R_X86_64_PC32, 0x100, 0x180, 0, func(b []byte) bool { return utils.Read[uint32](b) == 0x80 }},
	}

	for _, c := range cases {
		buf := make([]byte, 8)
		applyStaticReloc(ctx, c.typ, buf, c.p, c.s, c.a)
		if !c.want(buf) {
			t.Fatalf("%s: unexpected bytes %x", c.name, buf)
		}
	}
}

// TestApplyStaticRelocUnsupportedRecordsDiagnostic checks that an
// unhandled relocation type against a fragment is a recorded
// diagnostic rather than a panic or a silent no-op.
func TestApplyStaticRelocUnsupportedRecordsDiagnostic(t *testing.T) {
	ctx := NewSession()
	buf := make([]byte, 8)

	applyStaticReloc(ctx, elf.R_X86_64_GOTPCREL, buf, 0, 0, 0)

	if !ctx.Checkpoint.HasErrors() {
		t.Fatalf("expected an unsupported fragment relocation to be recorded")
	}
}

// buildRelocFixture wires up the minimal InputSection/ObjectFile/Symbol
// graph ApplyRelocAlloc walks: a section being relocated (living inside
// an OutputSection at a known address) referencing a symbol defined at
// an absolute value.
func buildRelocFixture(symValue uint64, sectionAddr uint64) (*InputSection, *Symbol) {
	obj := &ObjectFile{}
	obj.File = &File{Name: "a.o"}

	osec := NewOutputSection(".text", uint32(elf.SHT_PROGBITS), uint64(elf.SHF_ALLOC|elf.SHF_EXECINSTR), 0)
	osec.Shdr.Addr = sectionAddr

	sec := &InputSection{File: obj, OutputSection: osec, Offset: 0}

	sym := NewSymbol("target")
	sym.Value = symValue

	obj.ElfSyms = []Sym{{}, {}}
	obj.ElfSyms[1].SetType(uint8(elf.STT_FUNC))
	obj.Symbols = []*Symbol{nil, sym}

	return sec, sym
}

func TestApplyRelocAllocAbsoluteAndPcRelative(t *testing.T) {
	ctx := NewSession()

	sec, _ := buildRelocFixture(0x5000, 0x400000)
	buf := make([]byte, 0x10)
	sec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_X86_64_64), Sym: 1, Addend: 4},
		{Offset: 8, Type: uint32(elf.R_X86_64_PC32), Sym: 1, Addend: 0},
	}

	sec.ApplyRelocAlloc(ctx, buf)

	if got := utils.Read[uint64](buf[0:]); got != 0x5004 {
		t.Fatalf("R_X86_64_64: expected 0x5004, got %#x", got)
	}

	pc32Diff := int64(0x5000 - (0x400000 + 8))
	wantPC32 := uint32(pc32Diff)
	if got := utils.Read[uint32](buf[8:]); got != wantPC32 {
		t.Fatalf("R_X86_64_PC32: expected %#x, got %#x", wantPC32, got)
	}
}

// TestApplyRelocAllocPlt32FallsBackToDirectAddress checks that a PLT32
// relocation against a symbol with no PLT slot (AuxIdx == -1, the
// NewSymbol default) resolves straight to the symbol's own address,
// matching a direct call to a definition that never needed a stub.
func TestApplyRelocAllocPlt32FallsBackToDirectAddress(t *testing.T) {
	ctx := NewSession()

	sec, _ := buildRelocFixture(0x401000, 0x400000)
	buf := make([]byte, 4)
	sec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_X86_64_PLT32), Sym: 1, Addend: -4},
	}

	sec.ApplyRelocAlloc(ctx, buf)

	want := uint32(0x401000 - 4 - 0x400000)
	if got := utils.Read[uint32](buf); got != want {
		t.Fatalf("expected %#x, got %#x", want, got)
	}
}

// TestApplyRelocAllocTpoffUsesTlsEnd checks TPOFF32's tp-relative
// algebra: S + A - tls_end, per outputphdr.go's x86-64 variant II layout.
func TestApplyRelocAllocTpoffUsesTlsEnd(t *testing.T) {
	ctx := NewSession()
	ctx.TlsBegin = 0x600000
	ctx.TlsEnd = 0x600020

	sec, _ := buildRelocFixture(0x600008, 0x400000)
	buf := make([]byte, 4)
	sec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_X86_64_TPOFF32), Sym: 1, Addend: 0},
	}

	sec.ApplyRelocAlloc(ctx, buf)

	tpDiff := int32(0x600008 - 0x600020)
	want := uint32(tpDiff)
	if got := utils.Read[uint32](buf); got != want {
		t.Fatalf("expected tp-relative offset %#x, got %#x", want, got)
	}
}

// TestApplyRelocAllocDtpoffUsesTlsEnd checks DTPOFF32's algebra:
// S + A - tls_end, the same tp-relative formula TPOFF32 uses.
func TestApplyRelocAllocDtpoffUsesTlsEnd(t *testing.T) {
	ctx := NewSession()
	ctx.TlsBegin = 0x600000
	ctx.TlsEnd = 0x600020

	sec, _ := buildRelocFixture(0x600008, 0x400000)
	buf := make([]byte, 4)
	sec.Rels = []Rela{
		{Offset: 0, Type: uint32(elf.R_X86_64_DTPOFF32), Sym: 1, Addend: 0},
	}

	sec.ApplyRelocAlloc(ctx, buf)

	tpDiff := int32(0x600008 - 0x600020)
	want := uint32(tpDiff)
	if got := utils.Read[uint32](buf); got != want {
		t.Fatalf("expected tp-relative offset %#x, got %#x", want, got)
	}
}
