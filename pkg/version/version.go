// Package version exposes build-time version metadata.
package version

// Set via -ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
)

// ServiceName is the stable identifier reported by the health endpoint
// and carried in webhook envelopes.
const ServiceName = "sentinel"
