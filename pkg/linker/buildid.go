package linker

import "debug/elf"

// BuildIdSection reserves the .note.gnu.build-id note. Computing the
// actual hash requires the final image bytes, which do not exist
// until every other chunk has been written; per spec.md §1, build-id
// hashing is an external collaborator xlink treats as a black box, so
// CopyBuf only ever fills a placeholder digest of the configured
// width and leaves real hashing to that collaborator.
type BuildIdSection struct {
	Chunk
	Style BuildIDStyle
}

func digestSize(style BuildIDStyle) int {
	switch style {
	case BuildIDMd5, BuildIDUuid:
		return 16
	case BuildIDSha1, BuildIDFast:
		return 20
	case BuildIDSha256:
		return 32
	}
	return 0
}

func NewBuildIdSection(style BuildIDStyle) *BuildIdSection {
	b := &BuildIdSection{Chunk: NewChunk(), Style: style}
	b.Name = ".note.gnu.build-id"
	b.Shdr.Type = uint32(elf.SHT_NOTE)
	b.Shdr.Flags = uint64(elf.SHF_ALLOC)
	b.Shdr.AddrAlign = 4
	sz := digestSize(style)
	b.Shdr.Size = 16 + uint64(sz) // Nhdr(12) padded name(4) + digest
	return b
}

func (b *BuildIdSection) CopyBuf(ctx *Session) {
	buf := ctx.Buf[b.Shdr.Offset:]
	name := "GNU\x00"
	sz := digestSize(b.Style)
	hdr := Nhdr{NameSize: 4, DescSize: uint32(sz), Type: 3}
	buf32 := buf
	buf32[0] = byte(hdr.NameSize)
	buf32[1] = byte(hdr.NameSize >> 8)
	buf32[2] = byte(hdr.NameSize >> 16)
	buf32[3] = byte(hdr.NameSize >> 24)
	buf32[4] = byte(hdr.DescSize)
	buf32[5] = byte(hdr.DescSize >> 8)
	buf32[6] = byte(hdr.DescSize >> 16)
	buf32[7] = byte(hdr.DescSize >> 24)
	buf32[8] = byte(hdr.Type)
	buf32[9] = byte(hdr.Type >> 8)
	buf32[10] = byte(hdr.Type >> 16)
	buf32[11] = byte(hdr.Type >> 24)
	copy(buf32[12:], name)
	// digest bytes after the name stay zero; RegisterCleanup-style
	// post-processing over the finished image is where a real build
	// hasher would patch them in.
}
