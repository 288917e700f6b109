// Package version reports build information for matchline binaries.
//
// Release builds stamp the variables via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/matchline/internal/version.Version=1.2.0 \
//	                   -X github.com/rickgao/matchline/internal/version.Commit=$(git rev-parse --short HEAD)" ./cmd/realtime
//
// Without ldflags, Commit falls back to the VCS revision recorded by the Go toolchain.
package version

import (
	"runtime/debug"
	"sync"
)

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	Commit    = ""
	BuildTime = ""
)

var vcsOnce sync.Once

func fillFromBuildInfo() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == "" && len(s.Value) >= 7 {
				Commit = s.Value[:7]
			}
		case "vcs.time":
			if BuildTime == "" {
				BuildTime = s.Value
			}
		}
	}
}

// String returns "<version> (<commit>) built <time>", omitting unknown parts.
func String() string {
	vcsOnce.Do(fillFromBuildInfo)

	s := Version
	if Commit != "" {
		s += " (" + Commit + ")"
	}
	if BuildTime != "" {
		s += " built " + BuildTime
	}
	return s
}

// UserAgent is sent on the WebSocket handshake.
func UserAgent() string {
	return "matchline-realtime/" + Version
}
