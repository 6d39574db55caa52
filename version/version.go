// Package version provides build version information for voicebridge.
// Version variables can be overridden at build time using ldflags:
//
//	go build -ldflags "-X github.com/AltairaLabs/voicebridge/version.version=1.0.0"
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

const (
	devVersion     = "dev"
	shortCommitLen = 7
	vcsRevisionKey = "vcs.revision"
	vcsModifiedKey = "vcs.modified"
)

// Build-time variables, overridable with -ldflags.
var (
	version   = devVersion
	gitCommit = ""
	buildDate = ""
)

// GetVersion returns the current version string, falling back to module
// build info when not set via ldflags.
func GetVersion() string {
	if version != devVersion {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return devVersion
}

func getCommitFromBuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == vcsRevisionKey && setting.Value != "" {
			return setting.Value[:min(shortCommitLen, len(setting.Value))]
		}
	}
	return ""
}

func isDirtyFromBuildInfo() bool {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return false
	}
	for _, setting := range info.Settings {
		if setting.Key == vcsModifiedKey && setting.Value == "true" {
			return true
		}
	}
	return false
}

// GetVersionInfo returns a human-readable version block.
func GetVersionInfo() string {
	var b strings.Builder

	fmt.Fprintf(&b, "voicebridge version %s", GetVersion())

	commit := gitCommit
	if commit == "" {
		commit = getCommitFromBuildInfo()
	}
	if commit != "" {
		fmt.Fprintf(&b, "\ncommit: %s", commit)
	}
	if buildDate != "" {
		fmt.Fprintf(&b, "\nbuilt: %s", buildDate)
	}
	return b.String()
}

// GetBuildInfo returns version details as structured slog attributes.
func GetBuildInfo() []any {
	attrs := []any{
		"version", GetVersion(),
	}

	commit := gitCommit
	if commit == "" {
		commit = getCommitFromBuildInfo()
	}
	if commit != "" {
		attrs = append(attrs, "commit", commit)
	}
	if gitCommit == "" && isDirtyFromBuildInfo() {
		attrs = append(attrs, "dirty", true)
	}
	if buildDate != "" {
		attrs = append(attrs, "built", buildDate)
	}
	return attrs
}
