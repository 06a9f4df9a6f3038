// Package version holds the build version, overridden at link time via
// -ldflags "-X github.com/wardenhq/warden/internal/version.Version=...".
package version

// Version is the warden build version.
var Version = "dev"
