package linker

import (
	"debug/elf"
	"testing"
)

// buildStrtab lays out an ELF-style null-terminated string table (offset
// 0 reserved for the empty name, matching every real .strtab), and
// returns each name's offset alongside the buffer.
func buildStrtab(names ...string) ([]byte, map[string]uint32) {
	buf := []byte{0}
	offsets := make(map[string]uint32, len(names))
	for _, n := range names {
		offsets[n] = uint32(len(buf))
		buf = append(buf, []byte(n)...)
		buf = append(buf, 0)
	}
	return buf, offsets
}

func newTestObjectFile(name string, priority uint32, strtab []byte, esyms []Sym, syms []*Symbol) *ObjectFile {
	o := &ObjectFile{}
	o.File = &File{Name: name}
	o.Priority = priority
	o.IsAlive = true
	o.FirstGlobal = 1
	o.SymbolStrtab = strtab
	o.ElfSyms = esyms
	o.Symbols = syms
	return o
}

func newStrongGlobal(name uint32, val uint64) Sym {
	s := Sym{Name: name, Shndx: uint16(elf.SHN_ABS), Val: val}
	s.SetBind(uint8(elf.STB_GLOBAL))
	s.SetType(uint8(elf.STT_OBJECT))
	return s
}

func newUndef(name uint32) Sym {
	s := Sym{Name: name, Shndx: uint16(elf.SHN_UNDEF)}
	s.SetBind(uint8(elf.STB_GLOBAL))
	return s
}

// TestResolveSymbolsFilePrecedence checks spec.md's invariant 1's
// definedness half: after Phase A a defined name's Symbol.File is the
// lowest-priority object that defined it, regardless of resolution
// order, and a later, higher-priority definition never displaces it.
func TestResolveSymbolsFilePrecedence(t *testing.T) {
	ctx := NewSession()
	sym := ctx.SymTab.Intern("foo")
	strtab, off := buildStrtab("foo")

	fileA := newTestObjectFile("a.o", 2, strtab, []Sym{{}, newStrongGlobal(off["foo"], 0x1000)}, []*Symbol{nil, sym})
	fileB := newTestObjectFile("b.o", 3, strtab, []Sym{{}, newStrongGlobal(off["foo"], 0x2000)}, []*Symbol{nil, sym})

	fileB.ResolveSymbols(ctx)
	fileA.ResolveSymbols(ctx)

	if sym.File != fileA {
		t.Fatalf("expected lowest-priority definer a.o to win, got %v", sym.File.File.Name)
	}
	if sym.Value != 0x1000 {
		t.Fatalf("expected value from a.o's definition, got %#x", sym.Value)
	}

	// A later ResolveSymbols pass over the already-losing file must not
	// touch the winner's definition.
	fileB.ResolveSymbols(ctx)
	if sym.File != fileA || sym.Value != 0x1000 {
		t.Fatalf("higher-priority file displaced the existing definition")
	}
}

// TestResolveSymbolsUndefLeavesFileNil checks the other half of
// invariant 1: a name no live object ever defines keeps sym.File == nil.
func TestResolveSymbolsUndefLeavesFileNil(t *testing.T) {
	ctx := NewSession()
	sym := ctx.SymTab.Intern("bar")
	strtab, off := buildStrtab("bar")

	fileA := newTestObjectFile("a.o", 2, strtab, []Sym{{}, newUndef(off["bar"])}, []*Symbol{nil, sym})
	fileA.ResolveSymbols(ctx)

	if sym.File != nil {
		t.Fatalf("expected sym.File nil for a name no object defines, got %v", sym.File)
	}
}

// TestResolveDsoSymbolsNeverOutranksObjectDefinition checks spec.md
// §4.3's DSO interposition rule: an object definition wins even when a
// DSO exporting the same name would otherwise be free to claim it.
func TestResolveDsoSymbolsNeverOutranksObjectDefinition(t *testing.T) {
	ctx := NewSession()
	sym := ctx.SymTab.Intern("shared_fn")
	strtab, off := buildStrtab("shared_fn")

	fileA := newTestObjectFile("a.o", 2, strtab, []Sym{{}, newStrongGlobal(off["shared_fn"], 0x3000)}, []*Symbol{nil, sym})
	fileA.ResolveSymbols(ctx)
	ctx.Objs = append(ctx.Objs, fileA)

	// A second file still references the name, so it counts as
	// "needed" and the DSO would otherwise be free to claim it.
	fileB := newTestObjectFile("b.o", 3, strtab, []Sym{{}, newUndef(off["shared_fn"])}, []*Symbol{nil, sym})
	ctx.Objs = append(ctx.Objs, fileB)

	so := &SharedObject{Exports: []string{"shared_fn"}}
	ctx.DSOs = append(ctx.DSOs, so)

	ResolveDsoSymbols(ctx)

	if sym.File != fileA || sym.Imported {
		t.Fatalf("DSO export must not override an existing object definition")
	}
}

// TestResolveDsoSymbolsClaimsUnresolvedReference checks that a DSO does
// satisfy a name nothing else in the link defines, without ever setting
// Symbol.File (spec.md §4.3: Imported is the only signal for that case).
func TestResolveDsoSymbolsClaimsUnresolvedReference(t *testing.T) {
	ctx := NewSession()
	sym := ctx.SymTab.Intern("printf")
	strtab, off := buildStrtab("printf")

	fileA := newTestObjectFile("a.o", 2, strtab, []Sym{{}, newUndef(off["printf"])}, []*Symbol{nil, sym})
	ctx.Objs = append(ctx.Objs, fileA)

	so := &SharedObject{Exports: []string{"printf"}}
	ctx.DSOs = append(ctx.DSOs, so)

	ResolveDsoSymbols(ctx)

	if !sym.Imported {
		t.Fatalf("expected the DSO to claim an otherwise-undefined reference")
	}
	if sym.File != nil {
		t.Fatalf("a DSO-satisfied symbol must never get Symbol.File set, got %v", sym.File)
	}
	if !so.IsAlive {
		t.Fatalf("expected the claiming DSO to be marked alive")
	}
}
