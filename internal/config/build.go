package config

// Build metadata injected at link time. A release build sets these with:
//
//	go build -ldflags "\
//	  -X clinicbill/internal/config.version=$(git describe --tags) \
//	  -X clinicbill/internal/config.commit=$(git rev-parse --short HEAD) \
//	  -X clinicbill/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// Local builds fall back to the placeholders below; the /health endpoint
// reports whatever ends up in Version.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo snapshots the linker-injected values into a BuildInfo.
// Called once from LoadConfig so the rest of the service reads build
// metadata off the Config instead of package globals.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}
