// Package version reports how the nexus binary was built.
//
// Release builds stamp the variables with ldflags:
//
//	-X github.com/Aman-CERP/nexus/pkg/version.Version=1.2.3
//	-X github.com/Aman-CERP/nexus/pkg/version.Commit=$(git rev-parse --short HEAD)
//
// Without ldflags the module version and VCS settings embedded by the Go
// toolchain are used where available.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Stamped at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

var (
	infoOnce sync.Once
	info     BuildInfo
)

// GetInfo returns the build information, resolved once per process.
func GetInfo() BuildInfo {
	infoOnce.Do(func() {
		info = BuildInfo{
			Version:   Version,
			Commit:    Commit,
			Date:      Date,
			GoVersion: runtime.Version(),
			OS:        runtime.GOOS,
			Arch:      runtime.GOARCH,
		}
		if bi, ok := debug.ReadBuildInfo(); ok {
			info = merge(info, bi)
		}
	})
	return info
}

// merge fills fields still at their defaults from the toolchain's build
// information. Stamped values win.
func merge(base BuildInfo, bi *debug.BuildInfo) BuildInfo {
	if base.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		base.Version = bi.Main.Version
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if base.Commit == "unknown" {
				base.Commit = s.Value[:min(len(s.Value), 12)]
			}
		case "vcs.time":
			if base.Date == "unknown" {
				base.Date = s.Value
			}
		case "vcs.modified":
			base.Modified = s.Value == "true"
		}
	}
	if bi.GoVersion != "" {
		base.GoVersion = bi.GoVersion
	}
	return base
}

// String returns a one-line description of the build.
func String() string {
	i := GetInfo()
	commit := i.Commit
	if i.Modified {
		commit += "-dirty"
	}
	return fmt.Sprintf("nexus %s (commit: %s, built: %s, go: %s)", i.Version, commit, i.Date, i.GoVersion)
}

// Short returns just the version.
func Short() string {
	return GetInfo().Version
}

// UserAgent identifies nexus in outgoing HTTP requests.
func UserAgent() string {
	i := GetInfo()
	return fmt.Sprintf("nexus/%s (%s/%s)", i.Version, i.OS, i.Arch)
}
