package version

// Version is overridden at build time with
// -ldflags "-X hxindex/internal/shared/version.Version=v1.2.3".
var Version = "dev"
