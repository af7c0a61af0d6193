// Package version derives the running build's identity from VCS metadata.
package version

import "runtime/debug"

// AppName prefixes version strings and log lines.
const AppName = "anima"

// commitOverride can be set via -ldflags for builds without a .git checkout.
var commitOverride string

// GitCommit is the short commit hash, or "dev" when nothing is known.
var GitCommit = resolveCommit()

// Full returns "anima/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}

func resolveCommit() string {
	if commitOverride != "" {
		return short(commitOverride)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
