// Package version holds the build version reported to the LiveKit server.
package version

// Version is overridable at build time with -ldflags.
var Version = "dev"
