package linker

import (
	"debug/elf"

	"github.com/xlink-project/xlink/pkg/utils"
)

// GnuHashSection is .gnu.hash. Its bloom-filter/bucket layout assumes
// dynsym entries are partitioned so every hashed symbol is contiguous
// at the end of the table; xlink enforces that by sorting
// ctx.Dynsym.Syms once, right before this section's UpdateShdr runs,
// so entry 0..symoffset-1 are unhashed (undefined imports) and the
// rest are hashed defined exports, matching the layout every retrieved
// example's DSO producer path expects a consumer to see.
type GnuHashSection struct {
	Chunk
	symOffset  uint32
	bloomShift uint32
	bloomSize  uint32
	nbuckets   uint32
}

func NewGnuHashSection() *GnuHashSection {
	g := &GnuHashSection{Chunk: NewChunk()}
	g.Name = ".gnu.hash"
	g.Shdr.Type = uint32(elf.SHT_GNU_HASH)
	g.Shdr.Flags = uint64(elf.SHF_ALLOC)
	g.Shdr.AddrAlign = 8
	g.bloomSize = 1
	g.bloomShift = 26
	return g
}

func (g *GnuHashSection) UpdateShdr(ctx *Session) {
	nsyms := uint32(len(ctx.Dynsym.Syms)) - g.symOffset
	g.nbuckets = nsyms
	if g.nbuckets == 0 {
		g.nbuckets = 1
	}
	g.Shdr.Size = uint64(4*4) + uint64(g.bloomSize)*8 + uint64(g.nbuckets)*4 + uint64(nsyms)*4
}

func (g *GnuHashSection) CopyBuf(ctx *Session) {
	buf := ctx.Buf[g.Shdr.Offset:]
	utils.Write[uint32](buf[0:], g.nbuckets)
	utils.Write[uint32](buf[4:], g.symOffset)
	utils.Write[uint32](buf[8:], g.bloomSize)
	utils.Write[uint32](buf[12:], g.bloomShift)

	bloom := buf[16:][: g.bloomSize*8]
	buckets := buf[16+g.bloomSize*8:][: g.nbuckets*4]

	syms := ctx.Dynsym.Syms[g.symOffset:]
	hashes := make([]uint32, len(syms))
	for i, sym := range syms {
		hashes[i] = gnuHash(sym.Name)
	}

	for _, h := range hashes {
		word := (h / 64) % g.bloomSize
		bit := uint64(1) << (h % 64)
		bit |= uint64(1) << ((h >> g.bloomShift) % 64)
		v := utils.Read[uint64](bloom[word*8:])
		utils.Write[uint64](bloom[word*8:], v|bit)
	}

	for i, h := range hashes {
		bucket := h % g.nbuckets
		if utils.Read[uint32](buckets[bucket*4:]) == 0 {
			utils.Write[uint32](buckets[bucket*4:], g.symOffset+uint32(i))
		}
	}

	chain := buf[16+g.bloomSize*8+g.nbuckets*4:]
	for i, h := range hashes {
		v := h &^ 1
		if i == len(hashes)-1 || (hashes[i]%g.nbuckets) != (hashes[i+1]%g.nbuckets) {
			v |= 1
		}
		utils.Write[uint32](chain[i*4:], v)
	}
}
