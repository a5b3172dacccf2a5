package app

import "runtime"

// Build-time variables set via -ldflags. For example:
//
//	go build -ldflags "-X github.com/large-farva/compliance-console/internal/app.Version=v1.0.0"
var (
	Version = "dev"
	BuiltAt = "unknown"
)

// BuildInfo is the /api/version payload.
type BuildInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	BuiltAt   string `json:"built_at"`
}

// Build reports the running binary's version.
func Build() BuildInfo {
	return BuildInfo{Version: Version, GoVersion: runtime.Version(), BuiltAt: BuiltAt}
}
