package linker

import (
	"debug/elf"
	"math"
	"runtime"
	"sort"
	"strings"

	"github.com/xlink-project/xlink/pkg/sched"
	"github.com/xlink-project/xlink/pkg/utils"
)

func CreateInternalFile(ctx *Session) {
	obj := &ObjectFile{}
	ctx.InternalObj = obj
	ctx.Objs = append(ctx.Objs, obj)

	ctx.InternalEsyms = make([]Sym, 1)
	obj.Symbols = append(obj.Symbols, NewSymbol(""))
	obj.FirstGlobal = 1
	obj.IsAlive = true
	obj.Priority = 1

	obj.ElfSyms = ctx.InternalEsyms
}

// ResolveSymbols runs symbol resolution per-file with sched.ParallelFor,
// matching the ObjectFile::resolve_symbols fan-out in mold's driver:
// every file races to claim the global names it defines, and
// ObjectFile.ResolveSymbols's per-symbol mutex is what makes that race
// safe. MarkLiveObjects stays serial: it drains a work list one object
// at a time as marking one file alive can feed new roots back into the
// same list, the same reason mold keeps it on a work-stealing queue
// instead of a flat parallel_for.
func ResolveSymbols(ctx *Session) {
	sched.ParallelFor(len(ctx.Objs), func(i int) {
		ctx.Objs[i].ResolveSymbols(ctx)
	})

	MarkLiveObjects(ctx)

	sched.ParallelFor(len(ctx.Objs), func(i int) {
		if !ctx.Objs[i].IsAlive {
			ctx.Objs[i].ClearSymbols()
		}
	})

	sched.ParallelFor(len(ctx.Objs), func(i int) {
		if ctx.Objs[i].IsAlive {
			ctx.Objs[i].ResolveSymbols(ctx)
		}
	})

	ctx.Objs = utils.RemoveIf[*ObjectFile](ctx.Objs, func(file *ObjectFile) bool {
		return !file.IsAlive
	})

	if !ctx.Arg.AllowMultipleDefinition {
		checkDuplicateSymbols(ctx)
	}
}

// checkDuplicateSymbols runs once resolution has settled on a winner
// for every name (spec.md §8 scenario S6): a name two live objects both
// give a strong (non-weak, non-common) definition to is an error citing
// both files, even though GetRank's priority tiebreak already picked
// the lower-priority one as sym.File. --allow-multiple-definition
// disables this check entirely and keeps the first-wins result.
func checkDuplicateSymbols(ctx *Session) {
	isStrongDef := func(esym *Sym) bool {
		return esym.IsDefined() && !esym.IsCommon() && !esym.IsWeak()
	}

	for _, file := range ctx.Objs {
		for i := file.FirstGlobal; i < int64(len(file.ElfSyms)); i++ {
			esym := &file.ElfSyms[i]
			if !isStrongDef(esym) {
				continue
			}

			sym := file.Symbols[i]
			if sym.File == nil || sym.File == file {
				continue
			}

			if isStrongDef(&sym.File.ElfSyms[sym.SymIdx]) {
				ctx.Checkpoint.Record("duplicate symbol: %s: %s and %s",
					sym.Name, sym.File.File.Name, file.File.Name)
			}
		}
	}
}

func MarkLiveObjects(ctx *Session) {
	roots := make([]*ObjectFile, 0)
	for _, file := range ctx.Objs {
		if file.IsAlive {
			roots = append(roots, file)
		}
	}

	utils.Assert(len(roots) > 0)

	for len(roots) > 0 {
		file := roots[0]
		if !file.IsAlive {
			continue
		}
		file.MarkLiveObjects(ctx, func(o *ObjectFile) {
			roots = append(roots, o)
		})

		roots = roots[1:]
	}
}

// RegisterSectionPieces interns every file's mergeable-section strings
// into their shared MergedSection concurrently, one goroutine per file
// via sched.ParallelFor, mirroring the parallel fragment-ownership
// claim in mold's handle_mergeable_strings. MergedSection.Insert's own
// mutex is what makes concurrent callers safe here.
func RegisterSectionPieces(ctx *Session) {
	sched.ParallelFor(len(ctx.Objs), func(i int) {
		ctx.Objs[i].RegisterSectionPieces()
	})
}

func ComputeImportExport(ctx *Session) {
	for _, file := range ctx.Objs {
		file.ComputeImportExport()
	}
}

// ComputeMergedSectionSizes marks every fragment a live input section
// still references alive, then lays each MergedSection out. The
// marking pass is serial: fragments are deduplicated across files, so
// two files' MergeableSections can hold the same fragment. The layout
// pass runs per MergedSection via sched.ParallelFor, since sections
// never share a fragment map, the same disjoint-ownership shape mold's
// own parallel_for_each over the merged-section list relies on in
// handle_mergeable_strings.
func ComputeMergedSectionSizes(ctx *Session) {
	for _, file := range ctx.Objs {
		for _, m := range file.MergeableSections {
			if m == nil {
				continue
			}
			for _, frag := range m.Fragments {
				frag.IsAlive = true
			}
		}
	}

	sched.ParallelFor(len(ctx.MergedSections), func(i int) {
		ctx.MergedSections[i].AssignOffsets()
	})
}

// needsDynamicSection reports whether this link needs .dynsym,
// .dynstr, .rela.dyn and .dynamic at all: a PIE or shared object
// always does (their absolute addresses need runtime fixups), and so
// does any static executable that imports symbols from a DSO or was
// asked to export its own dynamic symbol table.
func needsDynamicSection(ctx *Session) bool {
	return pic(ctx) || len(ctx.DSOs) > 0 || ctx.Arg.ExportDynamic
}

func CreateSyntheticSections(ctx *Session) {
	push := func(chunk Chunker) Chunker {
		ctx.Chunks = append(ctx.Chunks, chunk)
		return chunk
	}

	ctx.Ehdr = push(NewOutputEhdr()).(*OutputEhdr)
	ctx.Phdr = push(NewOutputPhdr()).(*OutputPhdr)
	ctx.Shdr = push(NewOutputShdr()).(*OutputShdr)

	ctx.Got = push(NewGotSection()).(*GotSection)
	ctx.Plt = push(NewPltSection()).(*PltSection)
	ctx.PltGot = push(NewPltGotSection()).(*PltGotSection)
	ctx.Copyrel = push(NewCopyrelSection(false)).(*CopyrelSection)
	ctx.CopyrelRelro = push(NewCopyrelSection(true)).(*CopyrelSection)

	if needsDynamicSection(ctx) {
		ctx.Dynstr = push(NewDynstrSection()).(*DynstrSection)
		ctx.Dynsym = push(NewDynsymSection()).(*DynsymSection)
		ctx.RelDyn = push(NewRelDynSection()).(*RelSection)
		ctx.RelPlt = push(NewRelPltSection()).(*RelSection)

		switch ctx.Arg.HashStyle {
		case HashStyleSysV:
			ctx.SysvHash = push(NewHashSection()).(*HashSection)
		case HashStyleGnu:
			ctx.GnuHash = push(NewGnuHashSection()).(*GnuHashSection)
		case HashStyleBoth:
			ctx.SysvHash = push(NewHashSection()).(*HashSection)
			ctx.GnuHash = push(NewGnuHashSection()).(*GnuHashSection)
		}

		if len(ctx.DSOs) > 0 {
			ctx.Verneed = push(NewVerneedSection()).(*VerneedSection)
		}

		ctx.Dynamic = push(NewDynamicSection()).(*DynamicSection)

		if !ctx.Arg.Shared && !ctx.Arg.Static && (pic(ctx) || len(ctx.DSOs) > 0) {
			ctx.Interp = push(NewInterpSection()).(*InterpSection)
		}
	}

	if ctx.Arg.BuildID != BuildIDNone {
		ctx.BuildId = push(NewBuildIdSection(ctx.Arg.BuildID)).(*BuildIdSection)
	}
}

// BinSections buckets every live InputSection into its OutputSection's
// Members list using the same two-phase slicing mold's bin_sections
// does: ctx.Objs splits into disjoint slices, each slice builds its
// own private per-output-section bucket in a first parallel pass (no
// slice ever touches another slice's bucket, so there's nothing to
// lock), then a second parallel pass over output-section indices
// concatenates every slice's bucket for that index into the final
// Members list.
func BinSections(ctx *Session) {
	numSlices := runtime.GOMAXPROCS(0)
	if numSlices > len(ctx.Objs) {
		numSlices = len(ctx.Objs)
	}
	if numSlices < 1 {
		numSlices = 1
	}
	unit := (len(ctx.Objs) + numSlices - 1) / numSlices

	groups := make([][][]*InputSection, numSlices)

	sched.ParallelFor(numSlices, func(i int) {
		lo := i * unit
		hi := lo + unit
		if hi > len(ctx.Objs) {
			hi = len(ctx.Objs)
		}

		group := make([][]*InputSection, len(ctx.OutputSections))
		for _, file := range ctx.Objs[lo:hi] {
			for _, isec := range file.Sections {
				if isec == nil || !isec.IsAlive {
					continue
				}

				idx := isec.OutputSection.Idx
				group[idx] = append(group[idx], isec)
			}
		}
		groups[i] = group
	})

	sched.ParallelFor(len(ctx.OutputSections), func(j int) {
		total := 0
		for i := range groups {
			total += len(groups[i][j])
		}
		members := make([]*InputSection, 0, total)
		for i := range groups {
			members = append(members, groups[i][j]...)
		}
		ctx.OutputSections[j].Members = members
	})
}

func CollectOutputSections(ctx *Session) []Chunker {
	osecs := make([]Chunker, 0)
	for _, osec := range ctx.OutputSections {
		if len(osec.Members) != 0 {
			osecs = append(osecs, osec)
		}
	}
	for _, osec := range ctx.MergedSections {
		if osec.Shdr.Size > 0 {
			osecs = append(osecs, osec)
		}
	}

	sort.SliceStable(osecs, func(i, j int) bool {
		return osecs[i].GetName() < osecs[j].GetName()
	})
	return osecs
}

func AddSyntheticSymbols(ctx *Session) {
	obj := ctx.InternalObj

	add := func(name string) *Symbol {
		esym := Sym{
			Info:  uint8(elf.STT_NOTYPE)<<4 | uint8(elf.STB_GLOBAL)&0xf,
			Shndx: uint16(elf.SHN_ABS),
			Other: uint8(elf.STV_HIDDEN) << 6,
		}
		ctx.InternalEsyms = append(ctx.InternalEsyms, esym)
		sym := GetSymbolByName(ctx, name)
		sym.Value = 0xdeadbeef
		obj.Symbols = append(obj.Symbols, sym)
		return sym
	}

	ctx.__InitArrayStart = add("__init_array_start")
	ctx.__InitArrayEnd = add("__init_array_end")
	ctx.__FiniArrayStart = add("__fini_array_start")
	ctx.__FiniArrayEnd = add("__fini_array_end")
	ctx.__PreinitArrayStart = add("__preinit_array_start")
	ctx.__PreinitArrayEnd = add("__preinit_array_end")

	ctx.__BssStart = add("__bss_start")
	ctx.__EhdrStart = add("__ehdr_start")
	ctx.__Etext = add("_etext")
	ctx.__Edata = add("_edata")
	ctx.__End = add("_end")
	ctx.__Dynamic = add("_DYNAMIC")
	ctx.__GlobalOffsetTable = add("_GLOBAL_OFFSET_TABLE_")
	ctx.__RelaIpltStart = add("__rela_iplt_start")
	ctx.__RelaIpltEnd = add("__rela_iplt_end")

	obj.ElfSyms = ctx.InternalEsyms

	obj.ResolveSymbols(ctx)
}

// addSectionNameSymbols defines __start_<name>/__stop_<name> for every
// output section whose name is a valid C identifier (spec.md §4.8);
// linker scripts and hand-written asm rely on these to find e.g. an
// __attribute__((section(...))) array without an explicit symbol.
func AddSectionNameSymbols(ctx *Session) {
	obj := ctx.InternalObj

	isCIdent := func(name string) bool {
		if name == "" {
			return false
		}
		for i, r := range name {
			ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_' ||
				(i > 0 && r >= '0' && r <= '9')
			if !ok {
				return false
			}
		}
		return true
	}

	add := func(name string) *Symbol {
		esym := Sym{
			Info:  uint8(elf.STT_NOTYPE)<<4 | uint8(elf.STB_WEAK)&0xf,
			Shndx: uint16(elf.SHN_ABS),
			Other: uint8(elf.STV_DEFAULT),
		}
		ctx.InternalEsyms = append(ctx.InternalEsyms, esym)
		sym := GetSymbolByName(ctx, name)
		obj.Symbols = append(obj.Symbols, sym)
		return sym
	}

	starts := make(map[string]*Symbol)
	stops := make(map[string]*Symbol)

	for _, osec := range ctx.OutputSections {
		if len(osec.Members) == 0 || !isCIdent(osec.Name) {
			continue
		}
		starts[osec.Name] = add("__start_" + osec.Name)
		stops[osec.Name] = add("__stop_" + osec.Name)
	}

	obj.ElfSyms = ctx.InternalEsyms
	obj.ResolveSymbols(ctx)

	ctx.SectionStartSyms = starts
	ctx.SectionStopSyms = stops
}

func ClaimUnresolvedSymbols(ctx *Session) {
	for _, file := range ctx.Objs {
		file.ClaimUnresolvedSymbols(ctx)
	}
}

// CheckUndefinedSymbols runs after ResolveDsoSymbols and
// ClaimUnresolvedSymbols have both had their chance to attach a
// definition to every reference: a global, non-weak reference that
// still has neither sym.File nor sym.Imported set at this point has no
// definition anywhere in the link, on an object or a DSO, and is a
// fatal error rather than something a later pass can paper over.
func CheckUndefinedSymbols(ctx *Session) {
	for _, file := range ctx.Objs {
		if !file.IsAlive || file == ctx.InternalObj {
			continue
		}

		for i := file.FirstGlobal; i < int64(len(file.ElfSyms)); i++ {
			esym := &file.ElfSyms[i]
			if !esym.IsUndef() || esym.IsUndefWeak() {
				continue
			}

			sym := file.Symbols[i]
			if sym.File != nil || sym.Imported {
				continue
			}

			ctx.Checkpoint.Record("%s: undefined symbol: %s", file.File.Name, sym.Name)
		}
	}
}

// ScanRels runs RelocScanner over every live section (in parallel, via
// sched.ParallelFor, since scanning is read-mostly against the symbol
// table and every write goes through Symbol.AddFlags/the *Section.Add
// methods which are already safe for concurrent callers), then walks
// every Needs* flag exactly once per symbol and assigns it a slot in
// the table each flag names.
func ScanRels(ctx *Session) {
	sched.ParallelFor(len(ctx.Objs), func(i int) {
		ctx.Objs[i].ScanRelocations(ctx)
	})

	// Walk the intern table directly rather than attributing each
	// symbol to its defining ObjectFile: an imported symbol (its
	// definition lives in a SharedObject, not any ObjectFile in
	// ctx.Objs) never has sym.File set, so a per-file attribution loop
	// would silently drop every DSO-satisfied reference's Needs* flags.
	syms := make([]*Symbol, 0)
	ctx.SymTab.Each(func(sym *Symbol) {
		if sym.Flags != 0 || sym.IsExported {
			syms = append(syms, sym)
		}
	})

	dynsymNeeded := func(sym *Symbol) bool {
		return sym.HasFlag(NeedsDynsym) || sym.Imported ||
			(sym.IsExported && needsDynamicSection(ctx)) ||
			(ctx.Arg.ExportDynamic && sym.IsExported) || sym.Traced
	}

	for _, sym := range syms {
		if dynsymNeeded(sym) && ctx.Dynsym != nil {
			ctx.Dynsym.Add(ctx, sym)
		}

		if sym.HasFlag(NeedsGot) {
			ctx.Got.AddGotSymbol(ctx, sym)
			if sym.Imported || pic(ctx) {
				ctx.RelDyn.Reserve(1)
			}
		}
		if sym.HasFlag(NeedsGotTp) {
			ctx.Got.AddGotTpSymbol(ctx, sym)
			if sym.Imported || pic(ctx) {
				ctx.RelDyn.Reserve(1)
			}
		}
		if sym.HasFlag(NeedsTlsGd) {
			ctx.Got.AddTlsGdSymbol(ctx, sym)
			ctx.RelDyn.Reserve(2)
		}
		if sym.HasFlag(NeedsCopyrel) {
			relro := sym.Imported && sym.ElfSym().Type() == uint8(elf.STT_OBJECT)
			if relro {
				ctx.CopyrelRelro.Add(ctx, sym)
			} else {
				ctx.Copyrel.Add(ctx, sym)
			}
			ctx.RelDyn.Reserve(1)
		}
		if sym.HasFlag(NeedsPltGot) && !sym.HasFlag(NeedsPlt) {
			ctx.PltGot.Add(ctx, sym)
		}
		if sym.HasFlag(NeedsPlt) {
			ctx.Plt.Add(ctx, sym)
			if sym.Imported {
				ctx.RelPlt.Reserve(1)
			}
		}
	}

	if ctx.Dynsym != nil {
		ctx.Dynsym.RegisterNames(ctx)
	}
	if ctx.Verneed != nil {
		ctx.Verneed.RegisterNames(ctx)
	}
	if ctx.Dynamic != nil {
		ctx.Dynamic.Build(ctx)
	}
}

// isecOffsetSliceSize bounds how many input sections one worker's
// serial offset-accumulation loop covers in computeOsecOffsets, the
// same 10,000-member slice size mold's set_isec_offsets splits an
// output section's members into.
const isecOffsetSliceSize = 10000

func ComputeSectionSizes(ctx *Session) {
	sched.ParallelFor(len(ctx.OutputSections), func(i int) {
		computeOsecOffsets(ctx.OutputSections[i])
	})
}

// computeOsecOffsets assigns every member InputSection an offset
// within osec using mold's set_isec_offsets two-pass slice algorithm:
// an output section can hold millions of input sections, so laying
// them out one at a time serially would leave every other worker idle
// while it runs. Instead the member list splits into disjoint slices
// of up to isecOffsetSliceSize sections; a first parallel pass gives
// each slice its own zero-based running offset, size and max
// alignment, a short serial prefix sum turns each slice's size into
// its starting offset within the section, and a second parallel pass
// adds that starting offset onto every section the first pass already
// placed.
func computeOsecOffsets(osec *OutputSection) {
	members := osec.Members
	if len(members) == 0 {
		return
	}

	numSlices := (len(members) + isecOffsetSliceSize - 1) / isecOffsetSliceSize
	sizes := make([]uint64, numSlices)
	aligns := make([]uint64, numSlices)

	sched.ParallelFor(numSlices, func(i int) {
		lo := i * isecOffsetSliceSize
		hi := lo + isecOffsetSliceSize
		if hi > len(members) {
			hi = len(members)
		}

		offset := uint64(0)
		align := uint64(1)
		for _, isec := range members[lo:hi] {
			offset = utils.AlignTo(offset, 1<<isec.P2Align)
			isec.Offset = uint32(offset)
			offset += uint64(isec.ShSize)
			if a := uint64(1) << isec.P2Align; a > align {
				align = a
			}
		}
		sizes[i] = offset
		aligns[i] = align
	})

	align := uint64(1)
	for _, a := range aligns {
		if a > align {
			align = a
		}
	}

	starts := make([]uint64, numSlices)
	for i := 1; i < numSlices; i++ {
		starts[i] = utils.AlignTo(starts[i-1]+sizes[i-1], align)
	}

	sched.ParallelFor(numSlices, func(i int) {
		if i == 0 {
			return
		}
		lo := i * isecOffsetSliceSize
		hi := lo + isecOffsetSliceSize
		if hi > len(members) {
			hi = len(members)
		}
		for _, isec := range members[lo:hi] {
			isec.Offset += uint32(starts[i])
		}
	})

	osec.Shdr.Size = starts[numSlices-1] + sizes[numSlices-1]
	osec.Shdr.AddrAlign = align
}

func SortOutputSections(ctx *Session) {
	getRank1 := func(chunk Chunker) int32 {
		typ := chunk.GetShdr().Type
		flags := chunk.GetShdr().Flags

		if flags&uint64(elf.SHF_ALLOC) == 0 {
			return math.MaxInt32 - 1
		}
		if chunk == ctx.Shdr {
			return math.MaxInt32
		}

		if chunk == ctx.Ehdr {
			return 0
		}
		if chunk == ctx.Phdr {
			return 1
		}
		if typ == uint32(elf.SHT_NOTE) {
			return 3
		}

		b2i := func(b bool) int {
			if b {
				return 1
			}
			return 0
		}

		writeable := b2i(flags&uint64(elf.SHF_WRITE) != 0)
		exec := b2i(flags&uint64(elf.SHF_EXECINSTR) != 0)
		notTls := b2i(flags&uint64(elf.SHF_TLS) == 0)
		notRelro := b2i(!isRelro(ctx, chunk))
		isBss := b2i(typ == uint32(elf.SHT_NOBITS))

		return int32((1 << 10) | writeable<<9 | exec<<8 | notTls<<7 | notRelro<<6 | isBss<<5)
	}
	getRank2 := func(chunk Chunker) int32 {
		if chunk.GetShdr().Type == uint32(elf.SHT_NOTE) {
			return -int32(chunk.GetShdr().AddrAlign)
		}

		if chunk == ctx.Got {
			return 1
		}
		return 0
	}

	sort.SliceStable(ctx.Chunks, func(i, j int) bool {
		x := getRank1(ctx.Chunks[i])
		y := getRank1(ctx.Chunks[j])
		if x != y {
			return x < y
		}

		return getRank2(ctx.Chunks[i]) < getRank2(ctx.Chunks[j])
	})
}

func doSetOsecOffsets(ctx *Session) uint64 {
	alignment := func(chunk Chunker) uint64 {
		return uint64(math.Max(float64(chunk.GetExtraAddrAlign()),
			float64(chunk.GetShdr().AddrAlign)))
	}

	addr := ImageBase
	if pic(ctx) {
		addr = ImageBasePic
	}
	for _, chunk := range ctx.Chunks {
		if chunk.GetShdr().Flags&uint64(elf.SHF_ALLOC) == 0 {
			continue
		}

		if isTbss(chunk) {
			chunk.GetShdr().Addr = addr
			continue
		}

		addr = utils.AlignTo(addr, alignment(chunk))
		chunk.GetShdr().Addr = addr

		addr += chunk.GetShdr().Size
	}

	for i := 0; i < len(ctx.Chunks); {
		if isTbss(ctx.Chunks[i]) {
			addr := ctx.Chunks[i].GetShdr().Addr
			for ; i < len(ctx.Chunks) && isTbss(ctx.Chunks[i]); i++ {
				addr = utils.AlignTo(addr, alignment(ctx.Chunks[i]))
				ctx.Chunks[i].GetShdr().Addr = addr
				addr += ctx.Chunks[i].GetShdr().Size
			}
		} else {
			i++
		}
	}

	fileoff := uint64(0)
	i := 0
	for i < len(ctx.Chunks) && ctx.Chunks[i].GetShdr().Flags&uint64(elf.SHF_ALLOC) != 0 {
		first := ctx.Chunks[i]
		utils.Assert(first.GetShdr().Type != uint32(elf.SHT_NOBITS))

		fileoff = utils.AlignTo(fileoff, alignment(first))

		for {
			ctx.Chunks[i].GetShdr().Offset = fileoff + ctx.Chunks[i].GetShdr().Addr - first.GetShdr().Addr
			i++

			if i >= len(ctx.Chunks) ||
				ctx.Chunks[i].GetShdr().Flags&uint64(elf.SHF_ALLOC) == 0 ||
				ctx.Chunks[i].GetShdr().Type == uint32(elf.SHT_NOBITS) {
				break
			}

			if ctx.Chunks[i].GetShdr().Addr < first.GetShdr().Addr {
				break
			}

			gapSize := ctx.Chunks[i].GetShdr().Addr - ctx.Chunks[i-1].GetShdr().Addr - ctx.Chunks[i-1].GetShdr().Size

			if gapSize >= PageSize {
				break
			}
		}

		fileoff = ctx.Chunks[i-1].GetShdr().Offset + ctx.Chunks[i-1].GetShdr().Size

		for i < len(ctx.Chunks) &&
			ctx.Chunks[i].GetShdr().Flags&uint64(elf.SHF_ALLOC) != 0 &&
			ctx.Chunks[i].GetShdr().Type == uint32(elf.SHT_NOBITS) {
			i++
		}
	}

	for ; i < len(ctx.Chunks); i++ {
		fileoff = utils.AlignTo(fileoff, ctx.Chunks[i].GetShdr().AddrAlign)
		ctx.Chunks[i].GetShdr().Offset = fileoff
		fileoff += ctx.Chunks[i].GetShdr().Size
	}
	return fileoff
}

func SetOsecOffsets(ctx *Session) uint64 {
	for {
		fileoff := doSetOsecOffsets(ctx)

		if ctx.Phdr == nil {
			return fileoff
		}

		size := ctx.Phdr.Shdr.Size
		ctx.Phdr.UpdateShdr(ctx)

		if size == ctx.Phdr.Shdr.Size {
			return fileoff
		}
	}
}

// FixSyntheticSymbols resolves every synthetic absolute symbol
// AddSyntheticSymbols/AddSectionNameSymbols created with a placeholder
// value, now that every chunk has a final address. It also runs the
// two other passes that can only happen once layout is final:
// CopyrelSection.FixCopyrelAddrs (turn recorded offsets into absolute
// addresses) and the matching EmitCopyRelocs/EmitPltRelocs (append the
// dynamic relocations RelDyn/RelPlt already reserved space for).
func FixSyntheticSymbols(ctx *Session) {
	start := func(sym *Symbol, chunk Chunker) {
		if sym != nil && chunk != nil {
			sym.SetOutputSection(chunk)
			sym.Value = chunk.GetShdr().Addr
		}
	}

	stop := func(sym *Symbol, chunk Chunker) {
		if sym != nil && chunk != nil {
			sym.SetOutputSection(chunk)
			sym.Value = chunk.GetShdr().Addr + chunk.GetShdr().Size
		}
	}

	outputSections := make([]Chunker, 0)
	for _, chunk := range ctx.Chunks {
		if chunk.Kind() != ChunkKindHeader {
			outputSections = append(outputSections, chunk)
		}
	}

	var bssEnd, dataEnd, textEnd Chunker
	for _, chunk := range outputSections {
		flags := chunk.GetShdr().Flags
		typ := chunk.GetShdr().Type

		switch typ {
		case uint32(elf.SHT_INIT_ARRAY):
			start(ctx.__InitArrayStart, chunk)
			stop(ctx.__InitArrayEnd, chunk)
		case uint32(elf.SHT_PREINIT_ARRAY):
			start(ctx.__PreinitArrayStart, chunk)
			stop(ctx.__PreinitArrayEnd, chunk)
		case uint32(elf.SHT_FINI_ARRAY):
			start(ctx.__FiniArrayStart, chunk)
			stop(ctx.__FiniArrayEnd, chunk)
		}

		if flags&uint64(elf.SHF_ALLOC) != 0 {
			if flags&uint64(elf.SHF_EXECINSTR) != 0 {
				textEnd = chunk
			}
			if typ == uint32(elf.SHT_NOBITS) {
				bssEnd = chunk
			} else if flags&uint64(elf.SHF_WRITE) != 0 {
				dataEnd = chunk
			}
		}

		if start, ok := ctx.SectionStartSyms[chunk.GetName()]; ok {
			start.SetOutputSection(chunk)
			start.Value = chunk.GetShdr().Addr
		}
		if stop, ok := ctx.SectionStopSyms[chunk.GetName()]; ok {
			stop.SetOutputSection(chunk)
			stop.Value = chunk.GetShdr().Addr + chunk.GetShdr().Size
		}
	}

	if len(outputSections) > 0 {
		start(ctx.__EhdrStart, outputSections[0])
	}
	if textEnd != nil {
		stop(ctx.__Etext, textEnd)
	}
	if dataEnd != nil {
		stop(ctx.__Edata, dataEnd)
	}
	if bssEnd != nil {
		start(ctx.__BssStart, bssEnd)
		stop(ctx.__End, bssEnd)
	} else if dataEnd != nil {
		stop(ctx.__BssStart, dataEnd)
		stop(ctx.__End, dataEnd)
	}

	if ctx.Dynamic != nil {
		start(ctx.__Dynamic, ctx.Dynamic)
	}
	if ctx.Got != nil {
		start(ctx.__GlobalOffsetTable, ctx.Got)
	}
	if ctx.RelPlt != nil {
		start(ctx.__RelaIpltStart, ctx.RelPlt)
		stop(ctx.__RelaIpltEnd, ctx.RelPlt)
	}

	if ctx.CopyrelRelro != nil {
		ctx.CopyrelRelro.FixCopyrelAddrs(ctx)
	}
	if ctx.Copyrel != nil {
		ctx.Copyrel.FixCopyrelAddrs(ctx)
	}
	if ctx.RelDyn != nil {
		if ctx.CopyrelRelro != nil {
			ctx.CopyrelRelro.EmitCopyRelocs(ctx)
		}
		if ctx.Copyrel != nil {
			ctx.Copyrel.EmitCopyRelocs(ctx)
		}
	}
	if ctx.RelPlt != nil && ctx.Plt != nil {
		ctx.Plt.EmitPltRelocs(ctx)
	}
}

func isRelro(ctx *Session, chunk Chunker) bool {
	flags := chunk.GetShdr().Flags
	typ := chunk.GetShdr().Type

	if flags&uint64(elf.SHF_WRITE) != 0 {
		return (flags&uint64(elf.SHF_TLS) != 0) || typ == uint32(elf.SHT_INIT_ARRAY) ||
			typ == uint32(elf.SHT_FINI_ARRAY) || typ == uint32(elf.SHT_PREINIT_ARRAY) ||
			chunk == ctx.Got || chunk == ctx.Dynamic ||
			strings.HasSuffix(chunk.GetName(), "rel.ro")
	}
	return false
}

func isTbss(chunk Chunker) bool {
	return chunk.GetShdr().Type == uint32(elf.SHT_NOBITS) && chunk.GetShdr().Flags&uint64(elf.SHF_TLS) != 0
}
