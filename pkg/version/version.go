// Package version derives the build version from VCS metadata.
//
// An -ldflags override wins, then debug.BuildInfo vcs.revision, then "dev".
package version

import "runtime/debug"

// AppName prefixes version strings in logs and the gateway User-Agent.
const AppName = "amelia"

// gitCommitOverride is set via -ldflags for builds without a .git directory.
var gitCommitOverride string

// GitCommit is the short commit hash, or "dev" when build info is
// unavailable (go test, non-git builds).
var GitCommit = initGitCommit()

func initGitCommit() string {
	if gitCommitOverride != "" {
		return short(gitCommitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return short(s.Value)
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

// Full returns "amelia/<commit>".
func Full() string {
	return AppName + "/" + GitCommit
}
