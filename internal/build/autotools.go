package build

import (
	"path/filepath"
	"strings"
)

// AutoTools drives the classic configure/make workflow. configure runs
// inside the build directory.
type AutoTools struct {
	// Path of the make executable. Defaults to "make".
	Make string
}

func (AutoTools) Name() string { return "autotools" }

// Configure runs <source>/configure with options mapped to flags:
// shared selects --enable-shared/--disable-static or the reverse, fPIC
// becomes --with-pic, other booleans --enable-X/--disable-X and anything
// else --with-X=value. Suppressed sub-builds are disabled.
func (AutoTools) Configure(req *Request) []Command {
	var flags []string
	for _, name := range req.Options.Names() {
		value, _ := req.Options.Get(name)
		b, isBool := boolValue(value)
		switch {
		case name == "shared" && isBool:
			if b {
				flags = append(flags, "--enable-shared", "--disable-static")
			} else {
				flags = append(flags, "--enable-static", "--disable-shared")
			}
		case name == "fPIC" && isBool:
			if b {
				flags = append(flags, "--with-pic")
			} else {
				flags = append(flags, "--without-pic")
			}
		case isBool && b:
			flags = append(flags, "--enable-"+flagName(name))
		case isBool:
			flags = append(flags, "--disable-"+flagName(name))
		default:
			flags = append(flags, "--with-"+flagName(name)+"="+value)
		}
	}
	for _, sub := range req.Config.SuppressSubBuilds {
		flags = append(flags, "--disable-"+flagName(sub))
	}
	flags = append(flags, req.Config.ExtraFlags...)
	return []Command{{
		Path: filepath.Join(req.SourceRoot(), "configure"),
		Args: flags,
		Dir:  req.BuildDir,
	}}
}

// Invoke runs "make -j<jobs>".
func (a AutoTools) Invoke(req *Request) []Command {
	exe := a.Make
	if exe == "" {
		exe = "make"
	}
	return []Command{{Path: exe, Args: []string{"-j" + req.jobs()}, Dir: req.BuildDir}}
}

func flagName(option string) string {
	return strings.ReplaceAll(strings.ToLower(option), "_", "-")
}
