package linker

import (
	"debug/elf"
	"sort"
	"sync"

	"github.com/xlink-project/xlink/pkg/utils"
)

// MergedSection deduplicates fragments contributed by every live
// ObjectFile's mergeable sections. Insert is called concurrently by
// RegisterSectionPieces workers, one per file, so a bare map write
// isn't enough: whichever goroutine reaches a key first only creates
// the placeholder SectionFragment, it doesn't win it. Ownership -
// which file's P2Align the fragment ends up carrying - is elected
// separately by comparing OwnerPriority under the same lock, so the
// fragment always converges on the lowest-priority contributor
// regardless of goroutine scheduling order (spec.md §8 invariant 2).
type MergedSection struct {
	Chunk
	mu  sync.Mutex
	Map map[string]*SectionFragment
}

func NewMergedSection(name string, flags uint64, typ uint32) *MergedSection {
	r := &MergedSection{
		Chunk: NewChunk(),
		Map:   make(map[string]*SectionFragment),
	}
	r.Name = name
	r.Shdr.Flags = flags
	r.Shdr.Type = typ
	return r
}

func GetMergedSectionInstance(ctx *Session, name string, typ uint32, flags uint64) *MergedSection {
	name = GetOutputName(name, flags)
	flags = flags & ^uint64(elf.SHF_GROUP) & ^uint64(elf.SHF_MERGE) &
		^uint64(elf.SHF_STRINGS) & ^uint64(elf.SHF_COMPRESSED)

	ctx.mergedSectionsMu.Lock()
	defer ctx.mergedSectionsMu.Unlock()

	for _, osec := range ctx.MergedSections {
		if name == osec.Name && flags == osec.Shdr.Flags && typ == osec.Shdr.Type {
			return osec
		}
	}

	osec := NewMergedSection(name, flags, typ)
	ctx.MergedSections = append(ctx.MergedSections, osec)
	return osec
}

// Insert interns key into the map, creating its SectionFragment on the
// first sighting, then elects an owner for it: the fragment's P2Align
// is taken from whichever caller holds the lowest priority, established
// by comparing against OwnerPriority under m.mu on every call until a
// consistent owner is reached, the same compare-and-swap-to-consensus
// mold's own piece ownership uses, just serialized through this
// section's single mutex instead of a lock-free atomic.
func (m *MergedSection) Insert(key string, p2align uint32, priority uint32) *SectionFragment {
	m.mu.Lock()
	defer m.mu.Unlock()

	fragment, ok := m.Map[key]
	if !ok {
		fragment = NewSectionFragment(m)
		m.Map[key] = fragment
	}
	if priority < fragment.OwnerPriority {
		fragment.OwnerPriority = priority
		fragment.P2Align = p2align
	}
	return fragment
}

func (m *MergedSection) AssignOffsets() {
	var fragments []struct {
		Key string
		Val *SectionFragment
	}

	for key := range m.Map {
		fragments = append(fragments, struct {
			Key string
			Val *SectionFragment
		}{key, m.Map[key]})
	}

	sort.SliceStable(fragments, func(i, j int) bool {
		x := fragments[i]
		y := fragments[j]
		if x.Val.P2Align != y.Val.P2Align {
			return x.Val.P2Align < y.Val.P2Align
		}
		if len(x.Key) != len(y.Key) {
			return len(x.Key) < len(y.Key)
		}
		return x.Key < y.Key
	})

	offset := uint64(0)
	p2align := uint64(0)
	for _, frag := range fragments {
		if !frag.Val.IsAlive {
			continue
		}

		offset = utils.AlignTo(offset, 1<<frag.Val.P2Align)
		frag.Val.Offset = uint32(offset)
		offset += uint64(len(frag.Key))
		if p2align < uint64(frag.Val.P2Align) {
			p2align = uint64(frag.Val.P2Align)
		}
	}

	m.Shdr.Size = utils.AlignTo(offset, 1<<p2align)
	m.Shdr.AddrAlign = 1 << p2align
}

func (m *MergedSection) CopyBuf(ctx *Session) {
	buf := ctx.Buf[m.Shdr.Offset:]
	for key := range m.Map {
		if frag, ok := m.Map[key]; ok && frag.IsAlive {
			copy(buf[frag.Offset:], key)
		}
	}
}
