// Package version provides build version information for the application.
// This is a separate package to avoid import cycles between cli and api packages.
package version

import "fmt"

// Version is the build version string, set by ldflags during build.
// Format: vX.Y.Z or vX.Y.Z-dev for development builds.
var Version = "v0.9.0-dev"

// BuildTime is the build timestamp, set by ldflags during build.
var BuildTime = "unknown"

// ProjectURL is advertised in the REST User-Agent header.
const ProjectURL = "https://github.com/guildwire/guildwire"

// UserAgent returns the User-Agent header value required by the REST API.
// The platform rejects requests whose agent does not follow the
// "DiscordBot (url, version)" form.
func UserAgent() string {
	return fmt.Sprintf("DiscordBot (%s, %s)", ProjectURL, Version)
}
