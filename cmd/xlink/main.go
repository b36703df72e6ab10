// Command xlink links ELF64 x86-64 object files, archives, and shared
// objects into an executable or shared object, following the System V
// ABI section and segment layout conventions.
package main

import (
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/xlink-project/xlink/pkg/linker"
	"github.com/xlink-project/xlink/pkg/sched"
	"github.com/xlink-project/xlink/pkg/utils"
)

func main() {
	ctx := linker.NewSession()
	remaining := linker.ParseArgs(ctx, os.Args[1:])

	if ctx.Arg.Threads > 0 {
		runtime.GOMAXPROCS(ctx.Arg.Threads)
	}

	if ctx.Arg.Output == "" {
		utils.Fatal("-o is mandatory")
	}

	utils.RegisterCleanup(func() {
		os.Remove(ctx.Arg.Output)
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		utils.Fatal("interrupted")
	}()

	linker.ReadInputFiles(ctx, remaining)
	linker.CreateInternalFile(ctx)
	linker.ResolveSymbols(ctx)
	linker.ResolveDsoSymbols(ctx)
	linker.RegisterSectionPieces(ctx)
	linker.ComputeImportExport(ctx)

	if ctx.GCSectionsPass != nil {
		ctx.GCSectionsPass(ctx)
	}
	if ctx.ICFPass != nil {
		ctx.ICFPass(ctx)
	}

	linker.ComputeMergedSectionSizes(ctx)
	linker.CreateSyntheticSections(ctx)
	linker.BinSections(ctx)
	ctx.Chunks = append(ctx.Chunks, linker.CollectOutputSections(ctx)...)
	linker.AddSyntheticSymbols(ctx)
	linker.AddSectionNameSymbols(ctx)
	linker.ClaimUnresolvedSymbols(ctx)
	linker.CheckUndefinedSymbols(ctx)
	linker.ScanRels(ctx)
	ctx.Checkpoint.Check()

	linker.ComputeSectionSizes(ctx)
	linker.SortOutputSections(ctx)

	for _, chunk := range ctx.Chunks {
		chunk.UpdateShdr(ctx)
	}

	ctx.Chunks = utils.RemoveIf[linker.Chunker](ctx.Chunks, func(chunk linker.Chunker) bool {
		return chunk.Kind() != linker.ChunkKindOutputSection && chunk.GetShdr().Size == 0
	})

	shndx := int64(1)
	for i := 0; i < len(ctx.Chunks); i++ {
		if ctx.Chunks[i].Kind() != linker.ChunkKindHeader {
			ctx.Chunks[i].SetShndx(shndx)
			shndx++
		}
	}

	for _, chunk := range ctx.Chunks {
		chunk.UpdateShdr(ctx)
	}

	fileSize := linker.SetOsecOffsets(ctx)
	linker.FixSyntheticSymbols(ctx)

	ctx.Buf = make([]byte, fileSize)

	// Every chunk writes to its own [Offset, Offset+Size) slice of
	// ctx.Buf, so the final copy/patch pass fans out across chunks
	// instead of writing the whole output file serially. .rela.dyn and
	// .rela.plt are written after that pass, because GotSection.CopyBuf
	// appends entries to ctx.RelDyn while it runs.
	chunks := ctx.Chunks
	sched.ParallelFor(len(chunks), func(i int) {
		if _, ok := chunks[i].(*linker.RelSection); !ok {
			chunks[i].CopyBuf(ctx)
		}
	})
	for _, chunk := range chunks {
		if _, ok := chunk.(*linker.RelSection); ok {
			chunk.CopyBuf(ctx)
		}
	}
	ctx.Checkpoint.Check()

	file, err := os.OpenFile(ctx.Arg.Output, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0777)
	utils.MustNo(err)

	_, err = file.Write(ctx.Buf)
	utils.MustNo(err)
	utils.MustNo(file.Close())
}
