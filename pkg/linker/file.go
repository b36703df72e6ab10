package linker

import (
	"github.com/xlink-project/xlink/pkg/utils"
	"os"
)

type File struct {
	Name     string
	Contents []byte

	Parent *File
}

func MustNewFile(filename string) *File {
	contents, err := os.ReadFile(filename)
	utils.MustNo(err)
	return &File{
		Name:     filename,
		Contents: contents,
	}
}

// openCandidate reads path and returns nil (not fatal) if it doesn't
// exist or isn't an x86-64 ELF object/DSO/archive, so FindLibrary can
// keep trying the next directory/extension in its search order.
func openCandidate(path string) *File {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	file := &File{Name: path, Contents: contents}
	switch GetFileType(contents) {
	case FileTypeAr, FileTypeThinAr:
		return file
	case FileTypeObject, FileTypeDso:
		if !IsX8664(contents) {
			return nil
		}
		return file
	default:
		return nil
	}
}

// FindLibrary resolves -lname the way the GNU linker's default (not
// -static) mode does: for each -L directory, in order, try libname.so
// before libname.a, so a shared object satisfies the reference unless
// static linking was requested or no .so is present.
func FindLibrary(ctx *Session, name string) *File {
	for _, dir := range ctx.Arg.LibraryPaths {
		stem := dir + "/lib" + name
		if !ctx.Arg.Static {
			if f := openCandidate(stem + ".so"); f != nil {
				return f
			}
		}
		if f := openCandidate(stem + ".a"); f != nil {
			return f
		}
	}

	utils.Fatal("library not found: -l" + name)
	return nil
}
