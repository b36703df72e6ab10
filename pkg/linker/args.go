package linker

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xlink-project/xlink/pkg/utils"
)

// ParseArgs walks os.Args[1:] with the teacher's dashes/readArg/readFlag
// closures (rvld's parseNonpositionalArgs), extended to the full flag
// surface spec.md §6 names plus a few extra driver flags (e.g. -m, -v,
// -pie). Any flag it does not recognize is fatal.
func ParseArgs(ctx *Session, args []string) []string {
	dashes := func(name string) []string {
		if len(name) == 1 {
			return []string{"-" + name}
		}
		return []string{"-" + name, "--" + name}
	}

	remaining := make([]string, 0)
	var arg string

	readArg := func(name string) bool {
		for _, opt := range dashes(name) {
			if len(args) == 0 {
				return false
			}
			if args[0] == opt {
				if len(args) == 1 {
					utils.Fatal(fmt.Sprintf("option -%s: argument missing", name))
					return false
				}
				arg = args[1]
				args = args[2:]
				return true
			}

			prefix := opt + "="
			if strings.HasPrefix(args[0], prefix) {
				arg = args[0][len(prefix):]
				args = args[1:]
				return true
			}
			if len(name) == 1 && strings.HasPrefix(args[0], opt) && len(args[0]) > len(opt) {
				arg = args[0][len(opt):]
				args = args[1:]
				return true
			}
		}
		return false
	}

	readFlag := func(name string) bool {
		for _, opt := range dashes(name) {
			if len(args) > 0 && args[0] == opt {
				args = args[1:]
				return true
			}
		}
		return false
	}

	for len(args) > 0 {
		switch {
		case readFlag("help"):
			fmt.Printf("Usage: xlink [options] file...\n")
			os.Exit(0)

		case readFlag("v") || readFlag("version"):
			fmt.Println("xlink")
			os.Exit(0)

		case readArg("o") || readArg("output"):
			ctx.Arg.Output = arg
		case readArg("sysroot"):
			ctx.Arg.Sysroot = arg
		case readArg("L") || readArg("library-path"):
			ctx.Arg.LibraryPaths = append(ctx.Arg.LibraryPaths, arg)
		case readArg("l"):
			remaining = append(remaining, "-l"+arg)

		case readFlag("static"):
			ctx.Arg.Static = true
		case readFlag("shared"):
			ctx.Arg.Shared = true
		case readFlag("pic") || readFlag("fPIC") || readFlag("pie"):
			ctx.Arg.Pic = true

		case readArg("e") || readArg("entry"):
			ctx.Arg.Entry = arg
		case readArg("u") || readArg("undefined"):
			ctx.Arg.Undefined = append(ctx.Arg.Undefined, arg)

		case readFlag("as-needed"):
			remaining = append(remaining, "--as-needed")
		case readFlag("no-as-needed"):
			remaining = append(remaining, "--no-as-needed")
		case readFlag("whole-archive"):
			remaining = append(remaining, "--whole-archive")
		case readFlag("no-whole-archive"):
			remaining = append(remaining, "--no-whole-archive")

		case readFlag("gc-sections"):
			ctx.Arg.GCSections = true
		case readFlag("icf") || readArg("icf"):
			ctx.Arg.ICF = true

		case readFlag("strip-all") || readFlag("s"):
			ctx.Arg.StripAll = true
		case readFlag("export-dynamic") || readFlag("E"):
			ctx.Arg.ExportDynamic = true

		case readFlag("Bsymbolic"):
			ctx.Arg.Bsymbolic = true
		case readFlag("Bsymbolic-functions"):
			ctx.Arg.BsymbolicFunctions = true

		case readArg("hash-style"):
			switch arg {
			case "sysv":
				ctx.Arg.HashStyle = HashStyleSysV
			case "gnu":
				ctx.Arg.HashStyle = HashStyleGnu
			case "both":
				ctx.Arg.HashStyle = HashStyleBoth
			default:
				utils.Fatal("unknown --hash-style argument: " + arg)
			}

		case readArg("build-id"):
			switch arg {
			case "none":
				ctx.Arg.BuildID = BuildIDNone
			case "md5":
				ctx.Arg.BuildID = BuildIDMd5
			case "sha1":
				ctx.Arg.BuildID = BuildIDSha1
			case "sha256":
				ctx.Arg.BuildID = BuildIDSha256
			case "uuid":
				ctx.Arg.BuildID = BuildIDUuid
			case "fast":
				ctx.Arg.BuildID = BuildIDFast
			default:
				utils.Fatal("unknown --build-id argument: " + arg)
			}
		case readFlag("build-id"):
			ctx.Arg.BuildID = BuildIDFast

		case readFlag("eh-frame-hdr"):
			ctx.Arg.EhFrameHdr = true
		case readArg("soname") || readArg("h"):
			ctx.Arg.Soname = arg
		case readArg("rpath"):
			ctx.Arg.Rpath = arg

		case readArg("trace-symbol") || readArg("y"):
			ctx.Arg.TraceSymbol = append(ctx.Arg.TraceSymbol, arg)
		case readFlag("print-map") || readFlag("M"):
			ctx.Arg.PrintMap = true
		case readFlag("print-stats"):
			ctx.Arg.PrintStats = true

		case readArg("threads"):
			n, err := strconv.Atoi(arg)
			if err != nil || n < 1 {
				utils.Fatal("invalid --threads argument: " + arg)
			}
			ctx.Arg.Threads = n

		case readFlag("allow-multiple-definition"):
			ctx.Arg.AllowMultipleDefinition = true
		case readFlag("preload"):
			ctx.Arg.Preload = true
		case readFlag("fork"):
			ctx.Arg.Fork = true
		case readFlag("no-fork"):
			ctx.Arg.Fork = false
		case readFlag("quick-exit"):
			ctx.Arg.QuickExit = true

		// -mNAME emulation selection: only the x86-64 target is
		// meaningful; accepted and validated, not stored.
		case readArg("m"):
			if arg != "elf_x86_64" {
				utils.Fatal("unsupported -m argument: " + arg)
			}

		default:
			if strings.HasPrefix(args[0], "-") {
				utils.Fatal("unknown command line option: " + args[0])
			}
			remaining = append(remaining, args[0])
			args = args[1:]
		}
	}

	for i, path := range ctx.Arg.LibraryPaths {
		ctx.Arg.LibraryPaths[i] = filepath.Clean(path)
	}
	if ctx.Arg.Sysroot != "" {
		ctx.Arg.Sysroot = filepath.Clean(ctx.Arg.Sysroot)
	}

	return remaining
}
