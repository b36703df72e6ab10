package linker

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"github.com/xlink-project/xlink/pkg/utils"
	"unicode"
)

type FileType = int8

const (
	FileTypeUnknown FileType = iota
	FileTypeEmpty   FileType = iota
	FileTypeObject  FileType = iota
	FileTypeDso     FileType = iota
	FileTypeAr      FileType = iota
	FileTypeThinAr  FileType = iota
	FileTypeText    FileType = iota
)

func GetFileType(contents []byte) FileType {
	if len(contents) == 0 {
		return FileTypeEmpty
	}

	if CheckMagic(contents) {
		if len(contents) < 18 {
			return FileTypeUnknown
		}
		et := elf.Type(binary.LittleEndian.Uint16(contents[16:]))
		switch et {
		case elf.ET_REL:
			return FileTypeObject
		case elf.ET_DYN:
			return FileTypeDso
		}
		return FileTypeUnknown
	}

	if bytes.HasPrefix(contents, []byte("!<arch>\n")) {
		return FileTypeAr
	}
	if bytes.HasPrefix(contents, []byte("!<thin>\n")) {
		return FileTypeThinAr
	}

	isTextFile := func() bool {
		return len(contents) >= 4 &&
			unicode.IsPrint(rune(contents[0])) &&
			unicode.IsPrint(rune(contents[1])) &&
			unicode.IsPrint(rune(contents[2])) &&
			unicode.IsPrint(rune(contents[3]))
	}

	if isTextFile() {
		return FileTypeText
	}

	return FileTypeUnknown
}

// IsX8664 reports whether contents describes an ELF64 little-endian
// x86-64 object or shared object. CheckFileCompatibility makes any
// other e_machine/class fatal per spec.md's non-goal on non-x86-64
// architectures.
func IsX8664(contents []byte) bool {
	ft := GetFileType(contents)
	if ft != FileTypeObject && ft != FileTypeDso {
		return false
	}
	if len(contents) < 20 {
		return false
	}
	if contents[elf.EI_CLASS] != byte(elf.ELFCLASS64) {
		return false
	}
	if contents[elf.EI_DATA] != byte(elf.ELFDATA2LSB) {
		return false
	}
	machine := binary.LittleEndian.Uint16(contents[18:])
	return machine == uint16(elf.EM_X86_64)
}

func CheckFileCompatibility(file *File) {
	ft := GetFileType(file.Contents)
	if ft != FileTypeObject && ft != FileTypeDso {
		return
	}
	if !IsX8664(file.Contents) {
		utils.Fatal(fmt.Sprintf("%s: unsupported architecture, xlink only links ELF64 x86-64", file.Name))
	}
}
