package linker

import (
	"debug/elf"

	"github.com/xlink-project/xlink/pkg/utils"
)

// HashSection is the classic SysV .hash: a bucket array plus a chain
// array over every .dynsym entry, using elfHash from elf.go. Emitted
// when --hash-style is sysv or both.
type HashSection struct {
	Chunk
}

func NewHashSection() *HashSection {
	h := &HashSection{Chunk: NewChunk()}
	h.Name = ".hash"
	h.Shdr.Type = uint32(elf.SHT_HASH)
	h.Shdr.Flags = uint64(elf.SHF_ALLOC)
	h.Shdr.EntSize = 4
	h.Shdr.AddrAlign = 4
	return h
}

func (h *HashSection) UpdateShdr(ctx *Session) {
	nsyms := len(ctx.Dynsym.Syms)
	nbuckets := uint32(nsyms)
	if nbuckets == 0 {
		nbuckets = 1
	}
	h.Shdr.Size = uint64(2+int(nbuckets)+nsyms) * 4
	h.Shdr.Link = uint32(ctx.Dynsym.Shndx)
}

func (h *HashSection) CopyBuf(ctx *Session) {
	nsyms := len(ctx.Dynsym.Syms)
	nbuckets := uint32(nsyms)
	if nbuckets == 0 {
		nbuckets = 1
	}

	buf := ctx.Buf[h.Shdr.Offset:]
	utils.Write[uint32](buf[0:], nbuckets)
	utils.Write[uint32](buf[4:], uint32(nsyms))

	buckets := buf[8:][: nbuckets*4]
	chains := buf[8+nbuckets*4:][: uint32(nsyms)*4]

	for i, sym := range ctx.Dynsym.Syms {
		if sym == nil || i == 0 {
			continue
		}
		bucket := elfHash(sym.Name) % nbuckets
		chainVal := utils.Read[uint32](buckets[bucket*4:])
		utils.Write[uint32](buckets[bucket*4:], uint32(i))
		utils.Write[uint32](chains[i*4:], chainVal)
	}
}
