// Package version reports build information for asyncpool binaries.
//
// Values are injected with ldflags:
//
//	go build -ldflags "-X github.com/go-i2p/asyncpool/version.Version=1.0.0 \
//	    -X github.com/go-i2p/asyncpool/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import "runtime"

// Version is the release version. Development builds report "dev".
var Version = "dev"

// GitCommit is the short commit hash the binary was built from.
var GitCommit = ""

// BuildTime is the UTC build timestamp.
var BuildTime = ""

// Info is build information in a form suited to JSON reports.
type Info struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
}

// Get returns the current build information.
func Get() Info {
	return Info{
		Version:   Version,
		GitCommit: GitCommit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// Full returns the version with the commit and build time appended when known.
func Full() string {
	v := Version
	if GitCommit != "" {
		v += "-" + GitCommit
	}
	if BuildTime != "" {
		v += " (" + BuildTime + ")"
	}
	return v
}
