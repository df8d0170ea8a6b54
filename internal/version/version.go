package version

import "runtime/debug"

// Version is the current version of warproom and warproom-server.
// This value can be overridden at build time using:
//
//	go build -ldflags="-X 'github.com/BioHazard786/warproom/internal/version.Version=v1.0.0'"
var Version = "dev"

// String returns Version, falling back to the module version recorded in
// the binary's build info for `go install` builds.
func String() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}
