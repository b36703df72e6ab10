package linker

import (
	"debug/elf"
	"testing"

	"github.com/xlink-project/xlink/pkg/utils"
)

// TestArchiveLivenessPullsInOnlyReferencedMembers covers spec.md §8
// scenario S3: main.o references a_fn, a.o (a dead archive member)
// defines a_fn and references b_fn, b.o defines b_fn, and c.o defines
// an unrelated, unreferenced symbol. Only main.o, a.o and b.o should
// end up alive; c.o must stay dead and get dropped from ctx.Objs.
func TestArchiveLivenessPullsInOnlyReferencedMembers(t *testing.T) {
	ctx := NewSession()

	symAFn := ctx.SymTab.Intern("a_fn")
	symBFn := ctx.SymTab.Intern("b_fn")
	symCFn := ctx.SymTab.Intern("c_fn")

	strtabMain, offMain := buildStrtab("a_fn")
	main := newTestObjectFile("main.o", 1, strtabMain,
		[]Sym{{}, newUndef(offMain["a_fn"])},
		[]*Symbol{nil, symAFn})
	main.IsAlive = true

	strtabA, offA := buildStrtab("a_fn", "b_fn")
	a := newTestObjectFile("a.o", 2, strtabA,
		[]Sym{{}, newStrongGlobal(offA["a_fn"], 0x1000), newUndef(offA["b_fn"])},
		[]*Symbol{nil, symAFn, symBFn})
	a.IsAlive = false

	strtabB, offB := buildStrtab("b_fn")
	b := newTestObjectFile("b.o", 3, strtabB,
		[]Sym{{}, newStrongGlobal(offB["b_fn"], 0x2000)},
		[]*Symbol{nil, symBFn})
	b.IsAlive = false

	strtabC, offC := buildStrtab("c_fn")
	c := newTestObjectFile("c.o", 4, strtabC,
		[]Sym{{}, newStrongGlobal(offC["c_fn"], 0x3000)},
		[]*Symbol{nil, symCFn})
	c.IsAlive = false

	ctx.Objs = []*ObjectFile{main, a, b, c}

	ResolveSymbols(ctx)

	if !a.IsAlive {
		t.Fatalf("expected a.o to be pulled in via main.o's reference to a_fn")
	}
	if !b.IsAlive {
		t.Fatalf("expected b.o to be pulled in transitively via a.o's reference to b_fn")
	}
	if c.IsAlive {
		t.Fatalf("expected c.o to stay dead: nothing references c_fn")
	}

	for _, file := range ctx.Objs {
		if file == c {
			t.Fatalf("expected the dead c.o to be dropped from ctx.Objs")
		}
	}
}

// TestArchiveLivenessWholeArchiveRetainsEveryMember checks the
// --whole-archive counterpart of S3: a member that starts out alive
// stays alive even though nothing else in the link references it.
func TestArchiveLivenessWholeArchiveRetainsEveryMember(t *testing.T) {
	ctx := NewSession()

	symAFn := ctx.SymTab.Intern("a2_fn")
	symCFn := ctx.SymTab.Intern("c2_fn")

	strtabA, offA := buildStrtab("a2_fn")
	a := newTestObjectFile("a.o", 1, strtabA,
		[]Sym{{}, newStrongGlobal(offA["a2_fn"], 0x1000)},
		[]*Symbol{nil, symAFn})
	a.IsAlive = true

	strtabC, offC := buildStrtab("c2_fn")
	c := newTestObjectFile("c.o", 2, strtabC,
		[]Sym{{}, newStrongGlobal(offC["c2_fn"], 0x3000)},
		[]*Symbol{nil, symCFn})
	c.IsAlive = true

	ctx.Objs = []*ObjectFile{a, c}

	ResolveSymbols(ctx)

	if !a.IsAlive || !c.IsAlive {
		t.Fatalf("expected every whole-archive member to stay alive")
	}
	if len(ctx.Objs) != 2 {
		t.Fatalf("expected both members to survive in ctx.Objs, got %d", len(ctx.Objs))
	}
}

// TestDuplicateSymbolIsRecordedUnlessAllowed covers spec.md §8 scenario
// S6: two live objects both strongly defining the same name is a
// recorded diagnostic, resolved in favor of the lower-priority file,
// unless AllowMultipleDefinition silences the check.
func TestDuplicateSymbolIsRecordedUnlessAllowed(t *testing.T) {
	build := func(allow bool) (*Session, *ObjectFile, *ObjectFile) {
		ctx := NewSession()
		ctx.Arg.AllowMultipleDefinition = allow

		sym := ctx.SymTab.Intern("dup_fn")
		strtab, off := buildStrtab("dup_fn")

		fileA := newTestObjectFile("a.o", 1, strtab, []Sym{{}, newStrongGlobal(off["dup_fn"], 0x1000)}, []*Symbol{nil, sym})
		fileA.IsAlive = true
		fileB := newTestObjectFile("b.o", 2, strtab, []Sym{{}, newStrongGlobal(off["dup_fn"], 0x2000)}, []*Symbol{nil, sym})
		fileB.IsAlive = true

		ctx.Objs = []*ObjectFile{fileA, fileB}
		return ctx, fileA, fileB
	}

	ctx, fileA, _ := build(false)
	ResolveSymbols(ctx)
	if !ctx.Checkpoint.HasErrors() {
		t.Fatalf("expected a duplicate-definition diagnostic without --allow-multiple-definition")
	}
	sym := ctx.SymTab.Intern("dup_fn")
	if sym.File != fileA {
		t.Fatalf("expected the lower-priority file to still win the definition, got %v", sym.File.File.Name)
	}

	ctx2, _, _ := build(true)
	ResolveSymbols(ctx2)
	if ctx2.Checkpoint.HasErrors() {
		t.Fatalf("expected no diagnostic once --allow-multiple-definition is set")
	}
}

// TestMergeableStringDedupCollapsesToSharedAddresses covers spec.md §8
// scenario S4: two object files each contribute their own "hello\0" and
// "world\0" string pieces (four references total); after registration
// and offset assignment, the four references collapse to just two
// distinct output addresses, one per distinct byte sequence.
func TestMergeableStringDedupCollapsesToSharedAddresses(t *testing.T) {
	ctx := NewSession()

	newFileWithStrings := func(name string, priority uint32, helloSym, worldSym *Symbol) *ObjectFile {
		o := &ObjectFile{}
		o.File = &File{Name: name}
		o.Priority = priority
		o.IsAlive = true
		o.FirstGlobal = 1

		parent := GetMergedSectionInstance(ctx, ".rodata.str1.1",
			uint32(elf.SHT_PROGBITS), uint64(elf.SHF_ALLOC|elf.SHF_MERGE|elf.SHF_STRINGS))

		m := &MergeableSection{
			Parent:      parent,
			Strs:        []string{"hello\x00", "world\x00"},
			FragOffsets: []uint32{0, 6},
		}

		o.MergeableSections = []*MergeableSection{nil, m}

		strtab, off := buildStrtab("sym_hello", "sym_world")
		o.SymbolStrtab = strtab

		// A section-relative (not SHN_ABS) global, unlike
		// newStrongGlobal: RegisterSectionPieces only assigns a
		// SectionFragment to a symbol whose esym still points at a real
		// section index.
		newSectionGlobal := func(name uint32, shndx uint16, val uint64) Sym {
			s := Sym{Name: name, Shndx: shndx, Val: val}
			s.SetBind(uint8(elf.STB_GLOBAL))
			s.SetType(uint8(elf.STT_OBJECT))
			return s
		}

		helloEsym := newSectionGlobal(off["sym_hello"], 1, 0)
		worldEsym := newSectionGlobal(off["sym_world"], 1, 6)

		o.ElfSyms = []Sym{{}, helloEsym, worldEsym}
		o.Symbols = []*Symbol{nil, helloSym, worldSym}

		o.RegisterSectionPieces()
		return o
	}

	hello1 := NewSymbol("hello1")
	world1 := NewSymbol("world1")
	hello2 := NewSymbol("hello2")
	world2 := NewSymbol("world2")

	file1 := newFileWithStrings("a.o", 1, hello1, world1)
	file2 := newFileWithStrings("b.o", 2, hello2, world2)
	ctx.Objs = []*ObjectFile{file1, file2}

	if hello1.SectionFragment != hello2.SectionFragment {
		t.Fatalf("expected both files' \"hello\\0\" reference to dedup to one fragment")
	}
	if world1.SectionFragment != world2.SectionFragment {
		t.Fatalf("expected both files' \"world\\0\" reference to dedup to one fragment")
	}
	if hello1.SectionFragment == world1.SectionFragment {
		t.Fatalf("expected \"hello\\0\" and \"world\\0\" to occupy distinct fragments")
	}

	hello1.SectionFragment.IsAlive = true
	world1.SectionFragment.IsAlive = true
	hello1.SectionFragment.OutputSection.AssignOffsets()

	if hello1.GetAddr(ctx) != hello2.GetAddr(ctx) {
		t.Fatalf("expected both files' \"hello\\0\" reference to resolve to the same address")
	}
	if world1.GetAddr(ctx) != world2.GetAddr(ctx) {
		t.Fatalf("expected both files' \"world\\0\" reference to resolve to the same address")
	}
	if hello1.GetAddr(ctx) == world1.GetAddr(ctx) {
		t.Fatalf("expected \"hello\\0\" and \"world\\0\" to land at distinct addresses")
	}
}

// TestTlsGdRelaxesToLocalExecSequence covers spec.md §8 scenario S5:
// linked without -shared, a local (non-imported) TLS variable's
// TLSGD/PLT32 call-pair site is rewritten in place into the
// Local-Exec mov+lea sequence, with the trailing immediate holding the
// symbol's tp-relative offset directly, no GOT slot involved.
func TestTlsGdRelaxesToLocalExecSequence(t *testing.T) {
	ctx := NewSession()
	ctx.TlsBegin = 0x600000
	ctx.TlsEnd = 0x600020

	sym := NewSymbol("tls_var")

	sec, _ := buildRelocFixture(0, 0x400000)
	buf := make([]byte, 0x18)
	sec.Rels = []Rela{
		{Offset: 4, Type: uint32(elf.R_X86_64_TLSGD), Sym: 1, Addend: 0},
		{Offset: 12, Type: uint32(elf.R_X86_64_PLT32), Sym: 1, Addend: -4},
	}
	sec.File.Symbols[1] = sym

	if relaxTlsGdToLe(ctx, sym) != true {
		t.Fatalf("expected a local TLS symbol linked without -shared to relax to Local-Exec")
	}

	sec.ApplyRelocAlloc(ctx, buf)

	wantPrefix := []byte{0x64, 0x48, 0x8b, 0x04, 0x25, 0x00, 0x00, 0x00, 0x00, 0x48, 0x8d, 0x80}
	got := buf[0:12]
	for i, b := range wantPrefix {
		if got[i] != b {
			t.Fatalf("relaxed instruction bytes differ at %d: got %#x, want %#x", i, got[i], b)
		}
	}

	S := sym.GetAddr(ctx)
	wantVal := uint32(int32(S + 0 - ctx.TlsEnd + 4))
	gotVal := utils.Read[uint32](buf[12:16])
	if gotVal != wantVal {
		t.Fatalf("expected trailing tp-offset immediate %#x, got %#x", wantVal, gotVal)
	}

	if sec.Rels[1].Type != uint32(elf.R_X86_64_NONE) {
		t.Fatalf("expected the paired PLT32 call relocation to be neutralized")
	}
}
