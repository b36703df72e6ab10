package linker

import (
	"debug/elf"
	"unsafe"

	"github.com/xlink-project/xlink/pkg/utils"
)

// SharedObject is one -l-resolved or explicitly named .so input. Unlike
// an ObjectFile it never contributes sections or Symbol definitions of
// its own; ResolveDsoSymbols only ever sets Symbol.Imported, never
// Symbol.File, on the names it exports (spec.md §4.3's DSO
// interposition rule: a DSO definition never outranks a regular object
// definition, it only satisfies a reference nothing else defines).
type SharedObject struct {
	InputFile
	Soname   string
	AsNeeded bool
	Exports  []string
}

func NewSharedObject(ctx *Session, file *File, asNeeded bool) *SharedObject {
	so := &SharedObject{InputFile: *NewInputFile(file), AsNeeded: asNeeded, Soname: file.Name}
	so.Priority = ctx.NextPriority()
	// A DSO is alive as soon as it's on the command line unless
	// --as-needed says otherwise; ResolveDsoSymbols may still turn an
	// as-needed DSO alive later if one of its exports gets claimed.
	so.IsAlive = !asNeeded
	return so
}

func (so *SharedObject) parse() {
	dynsym := so.FindSection(uint32(elf.SHT_DYNSYM))
	if dynsym == nil {
		return
	}
	so.FillUpElfSyms(dynsym)
	strtab := so.GetBytesFromIdx(int64(dynsym.Link))

	if dynamic := so.FindSection(uint32(elf.SHT_DYNAMIC)); dynamic != nil {
		so.readSoname(dynamic)
	}

	for i := 1; i < len(so.ElfSyms); i++ {
		esym := &so.ElfSyms[i]
		if esym.IsUndef() {
			continue
		}
		switch esym.StVisibility() {
		case uint8(elf.STV_HIDDEN), uint8(elf.STV_INTERNAL):
			continue
		}
		name := getName(strtab, esym.Name)
		if name != "" {
			so.Exports = append(so.Exports, name)
		}
	}
}

// readSoname pulls DT_SONAME out of .dynamic, falling back to the
// path xlink found the file at (already stashed in so.Soname) when
// the DSO carries none, matching how a loader resolves DT_NEEDED
// against a library that was built without -soname.
func (so *SharedObject) readSoname(dynamic *Shdr) {
	dynstr := so.GetBytesFromIdx(int64(dynamic.Link))
	bs := so.GetBytesFromShdr(dynamic)
	entSize := int(unsafe.Sizeof(Dyn{}))
	for len(bs) >= entSize {
		d := utils.Read[Dyn](bs)
		bs = bs[entSize:]
		if d.Tag == int64(elf.DT_NULL) {
			break
		}
		if d.Tag == int64(elf.DT_SONAME) {
			so.Soname = getName(dynstr, uint32(d.Val))
		}
	}
}

// ResolveDsoSymbols lets every loaded SharedObject claim whichever
// still-undefined references its export list can satisfy, once every
// ObjectFile (including everything archive liveness pulled in) has
// already had its chance to define them. A DSO's own definitions never
// compete on rank; first DSO in link order wins a given name, the same
// left-to-right rule spec.md §4.1 gives -l search order.
func ResolveDsoSymbols(ctx *Session) {
	needed := make(map[string]bool)
	for _, file := range ctx.Objs {
		for i := file.FirstGlobal; i < int64(len(file.ElfSyms)); i++ {
			esym := &file.ElfSyms[i]
			if esym.IsUndef() {
				needed[getName(file.SymbolStrtab, esym.Name)] = true
			}
		}
	}

	for _, so := range ctx.DSOs {
		for _, name := range so.Exports {
			if !needed[name] {
				continue
			}
			sym := ctx.SymTab.Intern(name)
			if sym.File != nil || sym.Imported {
				continue
			}
			sym.Imported = true
			sym.VerIdx = ctx.DefaultVersion
			so.IsAlive = true
		}
	}

	ctx.DSOs = utils.RemoveIf[*SharedObject](ctx.DSOs, func(so *SharedObject) bool {
		return !so.IsAlive
	})
}
