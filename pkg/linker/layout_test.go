package linker

import (
	"debug/elf"
	"testing"
)

// testChunk is a minimal Chunker: embedding Chunk by value gives
// *testChunk every method the interface needs via method promotion, so
// a test only has to fill in the Shdr fields it cares about.
type testChunk struct {
	Chunk
}

func newTestAllocChunk(name string, size, align uint64, flags uint64) *testChunk {
	c := &testChunk{Chunk: NewChunk()}
	c.Name = name
	c.Shdr.Size = size
	c.Shdr.AddrAlign = align
	c.Shdr.Flags = flags | uint64(elf.SHF_ALLOC)
	return c
}

// TestDoSetOsecOffsetsAlignmentInvariants checks spec.md invariant 3:
// every chunk's file offset is a multiple of its own alignment, and
// every allocated chunk's address and offset agree modulo PAGE_SIZE.
func TestDoSetOsecOffsetsAlignmentInvariants(t *testing.T) {
	ctx := NewSession()
	ctx.Chunks = []Chunker{
		newTestAllocChunk(".text", 0x37, 16, uint64(elf.SHF_EXECINSTR)),
		newTestAllocChunk(".rodata", 0x101, 32, 0),
		newTestAllocChunk(".data", 0x9, 8, uint64(elf.SHF_WRITE)),
	}

	doSetOsecOffsets(ctx)

	for _, c := range ctx.Chunks {
		shdr := c.GetShdr()
		if shdr.Flags&uint64(elf.SHF_ALLOC) == 0 {
			continue
		}
		if shdr.Offset%shdr.AddrAlign != 0 {
			t.Fatalf("%s: offset %d not aligned to %d", c.GetName(), shdr.Offset, shdr.AddrAlign)
		}
		if shdr.Addr%PageSize != shdr.Offset%PageSize {
			t.Fatalf("%s: addr %#x and offset %#x disagree mod PAGE_SIZE", c.GetName(), shdr.Addr, shdr.Offset)
		}
	}
}

// TestDoSetOsecOffsetsDisjointRanges checks spec.md invariant 4 at the
// output-section level: two allocated chunks never claim overlapping
// byte ranges in the output file.
func TestDoSetOsecOffsetsDisjointRanges(t *testing.T) {
	ctx := NewSession()
	ctx.Chunks = []Chunker{
		newTestAllocChunk(".text", 0x40, 16, uint64(elf.SHF_EXECINSTR)),
		newTestAllocChunk(".rodata", 0x18, 8, 0),
	}

	doSetOsecOffsets(ctx)

	a := ctx.Chunks[0].GetShdr()
	b := ctx.Chunks[1].GetShdr()
	aEnd := a.Offset + a.Size
	bEnd := b.Offset + b.Size

	if a.Offset < bEnd && b.Offset < aEnd {
		t.Fatalf("chunk byte ranges overlap: [%d,%d) and [%d,%d)", a.Offset, aEnd, b.Offset, bEnd)
	}
}

// TestDoSetOsecOffsetsDeterministic checks spec.md invariant 5 at the
// layout level: running the same pass twice on freshly built, identical
// chunk sets produces byte-identical offsets and addresses.
func TestDoSetOsecOffsetsDeterministic(t *testing.T) {
	build := func() *Session {
		ctx := NewSession()
		ctx.Chunks = []Chunker{
			newTestAllocChunk(".text", 0x123, 16, uint64(elf.SHF_EXECINSTR)),
			newTestAllocChunk(".rodata", 0x45, 4, 0),
			newTestAllocChunk(".data", 0x9, 8, uint64(elf.SHF_WRITE)),
		}
		return ctx
	}

	ctx1 := build()
	ctx2 := build()

	fileoff1 := doSetOsecOffsets(ctx1)
	fileoff2 := doSetOsecOffsets(ctx2)

	if fileoff1 != fileoff2 {
		t.Fatalf("file size differs between identical runs: %d vs %d", fileoff1, fileoff2)
	}

	for i := range ctx1.Chunks {
		s1 := ctx1.Chunks[i].GetShdr()
		s2 := ctx2.Chunks[i].GetShdr()
		if s1.Addr != s2.Addr || s1.Offset != s2.Offset {
			t.Fatalf("chunk %d: addr/offset differ between runs: (%#x,%#x) vs (%#x,%#x)",
				i, s1.Addr, s1.Offset, s2.Addr, s2.Offset)
		}
	}
}

// TestDoSetOsecOffsetsPicBaseIsZero checks that a PIC/shared link places
// the first allocated chunk at ImageBasePic rather than the fixed
// ImageBase a non-PIC static executable uses.
func TestDoSetOsecOffsetsPicBaseIsZero(t *testing.T) {
	ctx := NewSession()
	ctx.Arg.Shared = true
	ctx.Chunks = []Chunker{
		newTestAllocChunk(".text", 0x10, 16, uint64(elf.SHF_EXECINSTR)),
	}

	doSetOsecOffsets(ctx)

	if ctx.Chunks[0].GetShdr().Addr != ImageBasePic {
		t.Fatalf("expected PIC base %#x, got %#x", ImageBasePic, ctx.Chunks[0].GetShdr().Addr)
	}
}
