package linker

import (
	"sync"
	"sync/atomic"

	"github.com/xlink-project/xlink/pkg/utils"
)

// HashStyle selects which symbol hash table(s) the OutputWriter emits.
type HashStyle int

const (
	HashStyleSysV HashStyle = iota
	HashStyleGnu
	HashStyleBoth
)

// BuildIDStyle selects the algorithm named for the optional build-id
// note. xlink does not compute the hash (it is outside the hard core,
// spec.md §1): it only reserves the note, with a zero digest, unless
// BuildIDStyle is BuildIDNone.
type BuildIDStyle int

const (
	BuildIDNone BuildIDStyle = iota
	BuildIDMd5
	BuildIDSha1
	BuildIDSha256
	BuildIDUuid
	BuildIDFast
)

// Config holds every command-line flag named in spec.md §6. Flags that
// do not affect the hard core (PrintMap, PrintStats, Fork, QuickExit)
// are stored but never consulted by the pipeline; they exist so
// ParseArgs accepts the full flag surface without falling into the
// "unknown flag is fatal" branch.
type Config struct {
	Output       string
	LibraryPaths []string
	Sysroot      string

	Static bool
	Shared bool
	Pic    bool

	Entry     string
	Undefined []string

	GCSections bool
	ICF        bool

	StripAll      bool
	ExportDynamic bool

	Bsymbolic          bool
	BsymbolicFunctions bool

	HashStyle HashStyle
	BuildID   BuildIDStyle

	EhFrameHdr bool
	Soname     string
	Rpath      string

	TraceSymbol []string
	PrintMap    bool
	PrintStats  bool

	Threads int

	AllowMultipleDefinition bool

	Preload   bool
	Fork      bool
	QuickExit bool
}

func NewConfig() Config {
	return Config{
		Output:    "a.out",
		HashStyle: HashStyleSysV,
	}
}

// Session is the single mutable value threaded through the link
// pipeline. The teacher's "out" global state (synthetic sections,
// vectors, buffer pointer) is re-architected here as fields on this
// value per spec.md §9's "Global mutable state" design note; no
// module-level variables carry link state anywhere in this package.
type Session struct {
	Arg Config

	SymTab *SymbolTable

	Objs []*ObjectFile
	DSOs []*SharedObject

	InternalObj   *ObjectFile
	InternalEsyms []Sym

	Chunks []Chunker

	MergedSections []*MergedSection
	OutputSections []*OutputSection

	Ehdr *OutputEhdr
	Phdr *OutputPhdr
	Shdr *OutputShdr

	Got     *GotSection
	Plt     *PltSection
	PltGot  *PltGotSection
	Dynsym  *DynsymSection
	Dynstr  *DynstrSection
	RelDyn  *RelSection
	RelPlt  *RelSection
	SysvHash *HashSection
	GnuHash  *GnuHashSection
	Verneed  *VerneedSection
	Dynamic  *DynamicSection
	Interp   *InterpSection
	BuildId  *BuildIdSection
	Copyrel  *CopyrelSection
	CopyrelRelro *CopyrelSection

	Buf []byte

	filePriority atomic.Uint32
	visitedMu    sync.Mutex
	visited      map[string]bool

	mergedSectionsMu sync.Mutex
	outputSectionsMu sync.Mutex

	// ReadContext tracks the as-needed/whole-archive flag-set the
	// FileReader carries across the argument stream (spec.md §4.1).
	ReadContext ReadContext

	SymbolsAux []SymbolAux
	symbolsAuxMu sync.Mutex

	DefaultVersion uint16

	TpAddr   uint64
	TlsBegin uint64
	TlsEnd   uint64

	// GCSectionsPass and ICFPass are optional pre-pass hooks, run after
	// ComputeImportExport and before ComputeMergedSectionSizes, with a
	// black-box contract per
	// spec.md §1/§6: given the live object set they may mark additional
	// sections/symbols dead. The identity default (nil) keeps every
	// live section alive, i.e. neither pass runs.
	GCSectionsPass func(*Session)
	ICFPass        func(*Session)

	Checkpoint *utils.Checkpoint

	__InitArrayStart    *Symbol
	__InitArrayEnd      *Symbol
	__FiniArrayStart    *Symbol
	__FiniArrayEnd      *Symbol
	__PreinitArrayStart *Symbol
	__PreinitArrayEnd   *Symbol
	__BssStart          *Symbol
	__EhdrStart         *Symbol
	__Etext             *Symbol
	__Edata             *Symbol
	__End               *Symbol
	__Dynamic           *Symbol
	__GlobalOffsetTable *Symbol
	__RelaIpltStart     *Symbol
	__RelaIpltEnd       *Symbol

	SectionStartSyms map[string]*Symbol
	SectionStopSyms  map[string]*Symbol
}

// SymbolAux holds the table-index fields spec.md §3 assigns to a
// Symbol once it is known to need a dynamic-linking facility. It is
// kept as a side table (indexed by Symbol.AuxIdx) instead of inline
// fields on Symbol so that ordinary, non-dynamic symbols pay no space
// for it, matching the teacher's SymbolAux/AuxIdx split.
type SymbolAux struct {
	GotIdx      int32
	GotTpIdx    int32
	PltIdx      int32
	PltGotIdx   int32
	DynsymIdx   int32
	TlsGdIdx    int32
	TlsLdIdx    int32
	CopyrelAddr uint64
}

func NewSymbolAux() SymbolAux {
	return SymbolAux{
		GotIdx: -1, GotTpIdx: -1, PltIdx: -1, PltGotIdx: -1,
		DynsymIdx: -1, TlsGdIdx: -1, TlsLdIdx: -1,
	}
}

// ReadContext is the flag-set FileReader carries across the argument
// stream (spec.md §4.1): whole-archive/as-needed state applies to every
// file read until the matching --no-* flag is seen.
type ReadContext struct {
	AsNeeded     bool
	WholeArchive bool
}

func NewSession() *Session {
	return &Session{
		Arg:            NewConfig(),
		SymTab:         NewSymbolTable(),
		visited:        make(map[string]bool),
		DefaultVersion: VER_NDX_GLOBAL,
		Checkpoint:     utils.NewCheckpoint(),
	}
}

func (s *Session) NextPriority() uint32 {
	// Priority 1 is reserved for the synthetic internal object
	// (CreateInternalFile); real input files are numbered from 2, so
	// within the same strength class GetRank lets the internal
	// object's definitions win ties against them (spec.md §4.3).
	if s.filePriority.Load() == 0 {
		s.filePriority.Store(1)
	}
	return s.filePriority.Add(1)
}

func (s *Session) MarkVisited(name string) bool {
	s.visitedMu.Lock()
	defer s.visitedMu.Unlock()
	if s.visited[name] {
		return true
	}
	s.visited[name] = true
	return false
}

func (s *Session) NewAux() int32 {
	s.symbolsAuxMu.Lock()
	defer s.symbolsAuxMu.Unlock()
	idx := int32(len(s.SymbolsAux))
	s.SymbolsAux = append(s.SymbolsAux, NewSymbolAux())
	return idx
}

func (s *Session) Aux(idx int32) *SymbolAux {
	return &s.SymbolsAux[idx]
}
