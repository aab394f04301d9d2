package constants

// Overridden at build time via -ldflags.
var (
	Version     = "dev"
	CompileTime = "unknown"
)
