package linker

import (
	"github.com/xlink-project/xlink/pkg/sched"
	"github.com/xlink-project/xlink/pkg/utils"
)

// ReadInputFiles walks the post-flag-parsing argument stream (spec.md
// §4.1's FileReader): plain paths, -lname library references, and the
// --as-needed/--whole-archive toggles that apply to every file read
// until their --no-* counterpart appears. ParseArgs has already peeled
// off every other flag, so only these four shapes remain.
//
// The walk itself, and the Priority each file is stamped with along
// the way, stay strictly sequential: link order is load-bearing for
// symbol resolution (rank.go's GetRank) and can't be handed to a
// worker pool. Once every file is known, though, parsing each one's
// own sections and symbol table is independent work, so that part
// fans out across a sched.Group the way the teacher's FileReader
// parses archive members concurrently.
func ReadInputFiles(ctx *Session, args []string) {
	for _, arg := range args {
		switch arg {
		case "--as-needed":
			ctx.ReadContext.AsNeeded = true
			continue
		case "--no-as-needed":
			ctx.ReadContext.AsNeeded = false
			continue
		case "--whole-archive":
			ctx.ReadContext.WholeArchive = true
			continue
		case "--no-whole-archive":
			ctx.ReadContext.WholeArchive = false
			continue
		}

		if name, ok := utils.RemovePrefix(arg, "-l"); ok {
			ReadFile(ctx, FindLibrary(ctx, name))
		} else {
			ReadFile(ctx, MustNewFile(arg))
		}
	}

	if len(ctx.Objs) == 0 {
		utils.Fatal("no input files")
	}

	var g sched.Group
	for _, obj := range ctx.Objs {
		obj := obj
		g.Go(func() error {
			obj.parse(ctx)
			return nil
		})
	}
	for _, so := range ctx.DSOs {
		so := so
		g.Go(func() error {
			so.parse()
			return nil
		})
	}
	utils.MustNo(g.Wait())
}

func ReadFile(ctx *Session, file *File) {
	if ctx.MarkVisited(file.Name) {
		return
	}

	switch GetFileType(file.Contents) {
	case FileTypeObject:
		ctx.Objs = append(ctx.Objs, CreateObjectFile(ctx, file, "", ctx.ReadContext.WholeArchive))
	case FileTypeDso:
		CheckFileCompatibility(file)
		ctx.DSOs = append(ctx.DSOs, NewSharedObject(ctx, file, ctx.ReadContext.AsNeeded))
	case FileTypeThinAr, FileTypeAr:
		wholeArchive := ctx.ReadContext.WholeArchive
		for _, child := range ReadArchiveMembers(file) {
			switch GetFileType(child.Contents) {
			case FileTypeObject:
				ctx.Objs = append(ctx.Objs, CreateObjectFile(ctx, child, file.Name, wholeArchive))
			default:
				utils.Fatal("unknown file type in archive: " + child.Name)
			}
		}
	default:
		utils.Fatal("unknown file type: " + file.Name)
	}
}

// CreateObjectFile stamps link-order priority onto a single relocatable
// object, whether it came in directly on the command line or as an
// archive member; the actual parse of its sections and symbol table
// happens later, once ReadInputFiles has finished walking every
// argument. wholeArchive forces the member alive up front instead of
// waiting for MarkLiveObjects to pull it in via an undefined-symbol
// reference (spec.md §4.1's --whole-archive).
func CreateObjectFile(ctx *Session, file *File, archiveName string, wholeArchive bool) *ObjectFile {
	CheckFileCompatibility(file)

	inLib := len(archiveName) > 0
	obj := NewObjectFile(file, inLib && !wholeArchive)
	obj.Priority = ctx.NextPriority()
	return obj
}
