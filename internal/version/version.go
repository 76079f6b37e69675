// Package version carries build identification injected via -ldflags.
package version

import "runtime/debug"

var (
	// Version is the release version (set via -ldflags).
	Version = ""
	// Commit is the git commit hash (set via -ldflags).
	Commit = ""
)

// String resolves the build identity, falling back to module build info when
// no ldflags were provided.
func String() string {
	v, c := Version, Commit
	if v == "" || c == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if v == "" && info.Main.Version != "" {
				v = info.Main.Version
			}
			if c == "" {
				for _, s := range info.Settings {
					if s.Key == "vcs.revision" {
						c = s.Value
						break
					}
				}
			}
		}
	}
	if v == "" {
		v = "devel"
	}
	if c == "" {
		return v
	}
	if len(c) > 12 {
		c = c[:12]
	}
	return v + " (" + c + ")"
}
