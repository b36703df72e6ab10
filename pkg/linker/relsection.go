package linker

import (
	"debug/elf"
	"sync"

	"github.com/xlink-project/xlink/pkg/utils"
)

// RelSection backs both .rela.dyn and .rela.plt: an append-only list of
// Rela entries collected while other chunks' CopyBuf run (GotSection
// and PltSection append into ctx.RelDyn/ctx.RelPlt as they emit their
// own contents), then written out and sized at the end of the pass.
// Splitting it out as its own chunk instead of writing relocations
// inline mirrors how .rela.dyn/.rela.plt are logically owned by the
// dynamic linker's consumer, not by any single input section.
//
// The entry count is known well before any entry's final value is:
// ScanRels can tell whether a GOT/PLT/copy slot will need a dynamic
// relocation as soon as the slot is allocated, but the relocation's
// Offset (a section address) isn't known until SetOsecOffsets runs.
// PendingCount lets UpdateShdr size the section from the prediction
// while CopyBuf-time Add calls fill in the real entries later, the
// same offset-now/value-later split CopyrelSection uses for addresses.
type RelSection struct {
	Chunk
	mu           sync.Mutex
	PendingCount int
	Relas        []Rela
}

func newRelSection(name string) *RelSection {
	r := &RelSection{Chunk: NewChunk()}
	r.Name = name
	r.Shdr.Type = uint32(elf.SHT_RELA)
	r.Shdr.Flags = uint64(elf.SHF_ALLOC)
	r.Shdr.EntSize = 24
	r.Shdr.AddrAlign = 8
	return r
}

func NewRelDynSection() *RelSection { return newRelSection(".rela.dyn") }
func NewRelPltSection() *RelSection { return newRelSection(".rela.plt") }

func (r *RelSection) Add(rel Rela) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Relas = append(r.Relas, rel)
}

// Reserve records that ScanRels found n more dynamic relocations that
// will be emitted later, so UpdateShdr can size the section correctly
// before any of them exist as concrete Rela values.
func (r *RelSection) Reserve(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PendingCount += n
}

func (r *RelSection) UpdateShdr(ctx *Session) {
	r.Shdr.Size = uint64(r.PendingCount) * 24
	r.Shdr.Link = uint32(ctx.Dynsym.Shndx)
}

func (r *RelSection) CopyBuf(ctx *Session) {
	buf := ctx.Buf[r.Shdr.Offset:]
	for i, rel := range r.Relas {
		utils.Write[Rela](buf[i*24:], rel)
	}
}
