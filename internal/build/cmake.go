package build

import (
	"sort"
	"strings"
)

// CMake drives CMake-based builds.
type CMake struct {
	// Path of the cmake executable. Defaults to "cmake".
	Path string
}

type defineValue struct {
	value    string
	typeName string
}

// optionDefines maps well-known options to CMake cache variables.
var optionDefines = map[string]string{
	"shared": "BUILD_SHARED_LIBS",
	"fPIC":   "CMAKE_POSITION_INDEPENDENT_CODE",
}

func (CMake) Name() string { return "cmake" }

func (c CMake) exe() string {
	if c.Path == "" {
		return "cmake"
	}
	return c.Path
}

// Configure runs "cmake -S <source> -B <build>" with all options defined.
// Every suppressed sub-build X is turned off in the same run with
// -DBUILD_X:BOOL=OFF.
func (c CMake) Configure(req *Request) []Command {
	defines := make(map[string]defineValue)
	for _, name := range req.Options.Names() {
		value, _ := req.Options.Get(name)
		key := name
		if k, ok := optionDefines[name]; ok {
			key = k
		}
		if b, ok := boolValue(value); ok {
			defines[key] = boolDefine(b)
		} else {
			defines[key] = defineValue{value: value, typeName: "STRING"}
		}
	}
	if req.Config.BuildType != "" {
		defines["CMAKE_BUILD_TYPE"] = defineValue{value: req.Config.BuildType, typeName: "STRING"}
	}

	for _, sub := range req.Config.SuppressSubBuilds {
		defines["BUILD_"+strings.ToUpper(sub)] = boolDefine(false)
	}

	args := []string{"-S", req.SourceRoot(), "-B", req.BuildDir}
	if req.Config.Generator != "" {
		args = append(args, "-G", req.Config.Generator)
	}
	args = append(args, definesArgs(defines)...)
	args = append(args, req.Config.ExtraFlags...)
	return []Command{{Path: c.exe(), Args: args, Dir: req.BuildDir}}
}

// Invoke runs "cmake --build <build>".
func (c CMake) Invoke(req *Request) []Command {
	args := []string{"--build", req.BuildDir}
	if req.Config.BuildType != "" {
		args = append(args, "--config", req.Config.BuildType)
	}
	args = append(args, "--parallel", req.jobs())
	return []Command{{Path: c.exe(), Args: args, Dir: req.BuildDir}}
}

func boolDefine(b bool) defineValue {
	v := "OFF"
	if b {
		v = "ON"
	}
	return defineValue{value: v, typeName: "BOOL"}
}

func definesArgs(defines map[string]defineValue) []string {
	if len(defines) == 0 {
		return nil
	}
	keys := make([]string, 0, len(defines))
	for k := range defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	args := make([]string, 0, len(keys))
	for _, k := range keys {
		d := defines[k]
		args = append(args, "-D"+k+":"+d.typeName+"="+d.value)
	}
	return args
}
