// Package buildinfo reports what binary is running.
package buildinfo

import (
	"fmt"
	"runtime/debug"
	"strings"
)

var readBuildInfo = debug.ReadBuildInfo

// Info is the subset of the embedded build information shown to users.
type Info struct {
	Version  string
	Revision string
	Dirty    bool
	Tags     string
}

// Read returns the build information of the running binary. Version is
// "dev" for local builds.
func Read() Info {
	info, ok := readBuildInfo()
	if !ok || info == nil {
		return Info{Version: "dev"}
	}
	out := Info{Version: info.Main.Version}
	if out.Version == "" || out.Version == "(devel)" {
		out.Version = "dev"
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "-tags":
			out.Tags = setting.Value
		case "vcs.revision":
			out.Revision = setting.Value
		case "vcs.modified":
			out.Dirty = setting.Value == "true"
		}
	}
	return out
}

// String formats i as "<version> (<revision>[-dirty], tags: <tags>)",
// leaving out whatever is unknown.
func (i Info) String() string {
	var extra []string
	if i.Revision != "" {
		rev := i.Revision
		if len(rev) > 12 {
			rev = rev[:12]
		}
		if i.Dirty {
			rev += "-dirty"
		}
		extra = append(extra, rev)
	}
	if i.Tags != "" {
		extra = append(extra, "tags: "+i.Tags)
	}
	if len(extra) == 0 {
		return i.Version
	}
	return fmt.Sprintf("%s (%s)", i.Version, strings.Join(extra, ", "))
}
