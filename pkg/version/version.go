package version

// Version is overridden at build time via -ldflags "-X moviequiz/pkg/version.Version=...".
var Version = "v0.3.0"
