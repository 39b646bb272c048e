// Package version renders the version line printed by the wsmesh CLIs.
package version

import (
	"runtime/debug"
	"strings"
)

// Info carries the build identity, normally injected via -ldflags.
type Info struct {
	Version string
	Commit  string
	Date    string
}

// Resolve fills unset or placeholder fields from Go module build info, so
// plain `go install` builds still report something useful.
func (i Info) Resolve() Info {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return i
	}
	if placeholder(i.Version) {
		if mv := strings.TrimSpace(info.Main.Version); mv != "" && mv != "(devel)" {
			i.Version = mv
		}
	}
	if placeholder(i.Commit) {
		if rev := setting(info, "vcs.revision"); rev != "" {
			i.Commit = rev
		}
	}
	if placeholder(i.Date) {
		if ts := setting(info, "vcs.time"); ts != "" {
			i.Date = ts
		}
	}
	return i
}

// String formats the resolved identity as "VERSION (COMMIT) DATE", omitting
// parts that are unknown.
func (i Info) String() string {
	i = i.Resolve()
	out := strings.TrimSpace(i.Version)
	if out == "" {
		out = "dev"
	}
	if c := strings.TrimSpace(i.Commit); c != "" && c != "unknown" {
		out += " (" + c + ")"
	}
	if d := strings.TrimSpace(i.Date); d != "" && d != "unknown" {
		out += " " + d
	}
	return out
}

func placeholder(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "dev", "unknown", "(devel)":
		return true
	}
	return false
}

func setting(info *debug.BuildInfo, key string) string {
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}
