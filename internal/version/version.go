// Package version holds build identification injected at link time via
// -ldflags "-X github.com/banshee-data/incident.report/internal/version.Version=...".
package version

var (
	// Version is the release tag or "dev" for local builds.
	Version = "dev"
	// GitSHA is the git commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String returns a single-line build identifier for logs and flags.
func String() string {
	return Version + " (" + GitSHA + ", built " + BuildTime + ")"
}
